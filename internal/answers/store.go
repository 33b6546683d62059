// Package answers records one selected choice per question for a single session.
package answers

import (
	"assessment-engine/internal/domain"
)

// Store maps question id to the selected choice label. It is not safe for
// concurrent use; the owning session serializes access.
type Store struct {
	questions map[string]domain.Question
	selected  map[string]string
	frozen    bool
}

// NewStore builds an empty store for the given question set.
func NewStore(questions []domain.Question) *Store {
	index := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		index[q.ID] = q
	}
	return &Store{
		questions: index,
		selected:  make(map[string]string),
	}
}

// Record stores label as the answer to questionID, replacing any earlier answer.
func (s *Store) Record(questionID, label string) error {
	if s.frozen {
		return domain.ErrSessionClosed
	}
	q, ok := s.questions[questionID]
	if !ok {
		return domain.ErrUnknownQuestion
	}
	if !q.HasChoice(label) {
		return domain.ErrInvalidChoice
	}
	s.selected[questionID] = label
	return nil
}

// Get returns the recorded label for questionID, if any.
func (s *Store) Get(questionID string) (string, bool) {
	label, ok := s.selected[questionID]
	return label, ok
}

// Freeze makes every later Record fail with ErrSessionClosed.
func (s *Store) Freeze() {
	s.frozen = true
}

// Frozen reports whether Freeze was called.
func (s *Store) Frozen() bool {
	return s.frozen
}

// Len is the number of answered questions.
func (s *Store) Len() int {
	return len(s.selected)
}

// Snapshot returns a copy of the recorded answers.
func (s *Store) Snapshot() map[string]string {
	out := make(map[string]string, len(s.selected))
	for k, v := range s.selected {
		out[k] = v
	}
	return out
}
