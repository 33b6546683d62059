package app

import (
	"fmt"

	"assessment-engine/internal/domain"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type contentRules struct {
	Questions []domain.Question `validate:"min=1,dive"`
}

// ValidateAssessment checks a stored template with the same rules CreateSession applies.
func ValidateAssessment(a domain.Assessment) error {
	return validateInput(CreateSessionInput{
		AssessmentID:    a.ID,
		Questions:       a.Questions,
		AnswerKey:       a.AnswerKey,
		DurationSeconds: a.DurationSeconds,
	})
}

// validateInput rejects malformed content before a session exists.
func validateInput(in CreateSessionInput) error {
	if in.DurationSeconds <= 0 {
		return domain.ErrInvalidDuration
	}
	if int64(in.DurationSeconds) > domain.MaxDurationSeconds {
		return fmt.Errorf("%w: %d seconds exceeds %d", domain.ErrInvalidDuration, in.DurationSeconds, domain.MaxDurationSeconds)
	}
	if err := validate.Struct(contentRules{Questions: in.Questions}); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidAssessment, err)
	}
	if len(in.AnswerKey) != len(in.Questions) {
		return fmt.Errorf("%w: answer key has %d entries for %d questions",
			domain.ErrInvalidAssessment, len(in.AnswerKey), len(in.Questions))
	}

	seen := make(map[string]struct{}, len(in.Questions))
	for i, q := range in.Questions {
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", domain.ErrInvalidAssessment, q.ID)
		}
		seen[q.ID] = struct{}{}

		labels := make(map[string]struct{}, len(q.Choices))
		for _, c := range q.Choices {
			if _, dup := labels[c.Label]; dup {
				return fmt.Errorf("%w: question %q repeats choice %q", domain.ErrInvalidAssessment, q.ID, c.Label)
			}
			labels[c.Label] = struct{}{}
		}
		if !q.HasChoice(in.AnswerKey[i]) {
			return fmt.Errorf("%w: answer key %q is not a choice of question %q",
				domain.ErrInvalidAssessment, in.AnswerKey[i], q.ID)
		}
	}
	return nil
}

func cloneQuestions(in []domain.Question) []domain.Question {
	out := make([]domain.Question, len(in))
	for i, q := range in {
		q.Choices = append([]domain.Choice(nil), q.Choices...)
		out[i] = q
	}
	return out
}
