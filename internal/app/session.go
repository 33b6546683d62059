package app

import (
	"sync"
	"time"

	"assessment-engine/internal/answers"
	"assessment-engine/internal/clock"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/navigation"
	"assessment-engine/internal/scoring"
	"assessment-engine/internal/timer"
)

// Session is one participant's attempt. Participant actions and timer expiry
// are serialized by mu, so exactly one terminal transition can ever win.
type Session struct {
	id           string
	assessmentID string
	questions    []domain.Question
	key          domain.AnswerKey
	duration     time.Duration
	autoAdvance  bool

	clock      clock.Clock
	timers     *timer.Scheduler
	score      scoring.Func
	onTerminal func(domain.SessionRecord)

	mu          sync.Mutex
	state       domain.State
	answers     *answers.Store
	nav         *navigation.Controller
	review      bool
	handle      *timer.Handle
	startedAt   time.Time
	submittedAt time.Time
	endReason   domain.EndReason
	result      *domain.ScoreBreakdown
	subscribers map[chan domain.StateView]struct{}
	released    bool
}

type sessionParams struct {
	id           string
	assessmentID string
	questions    []domain.Question
	key          domain.AnswerKey
	duration     time.Duration
	autoAdvance  bool
	clock        clock.Clock
	timers       *timer.Scheduler
	score        scoring.Func
	onTerminal   func(domain.SessionRecord)
}

func newSession(p sessionParams) *Session {
	return &Session{
		id:           p.id,
		assessmentID: p.assessmentID,
		questions:    p.questions,
		key:          p.key,
		duration:     p.duration,
		autoAdvance:  p.autoAdvance,
		clock:        p.clock,
		timers:       p.timers,
		score:        p.score,
		onTerminal:   p.onTerminal,
		state:        domain.StateNotStarted,
		answers:      answers.NewStore(p.questions),
		nav:          navigation.NewController(len(p.questions)),
		subscribers:  make(map[chan domain.StateView]struct{}),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// IsTerminal reports whether the session was submitted or expired.
func (s *Session) IsTerminal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Terminal()
}

func (s *Session) start() (domain.StateView, error) {
	s.mu.Lock()
	if s.state != domain.StateNotStarted {
		view := s.snapshotLocked()
		s.mu.Unlock()
		return view, domain.ErrAlreadyStarted
	}
	handle, err := s.timers.Arm(s.duration, s.expire)
	if err != nil {
		view := s.snapshotLocked()
		s.mu.Unlock()
		return view, err
	}
	s.handle = handle
	s.startedAt = handle.Deadline().Add(-s.duration)
	s.state = domain.StateInProgress
	view := s.broadcastLocked()
	s.mu.Unlock()
	return view, nil
}

func (s *Session) answer(questionID, label string) (domain.StateView, error) {
	return s.mutate(func() error {
		if err := s.answers.Record(questionID, label); err != nil {
			return err
		}
		if s.autoAdvance && !s.review {
			s.nav.Next()
		}
		return nil
	})
}

func (s *Session) navigate(move func(*navigation.Controller) int) (domain.StateView, error) {
	return s.mutate(func() error {
		move(s.nav)
		return nil
	})
}

func (s *Session) setReview(enabled bool) (domain.StateView, error) {
	return s.mutate(func() error {
		s.review = enabled
		return nil
	})
}

func (s *Session) submit() (domain.ScoreBreakdown, error) {
	s.mu.Lock()
	rec := s.expireIfDueLocked()
	if err := s.activeLocked(); err != nil {
		s.mu.Unlock()
		s.handOff(rec)
		return domain.ScoreBreakdown{}, err
	}
	rec = s.finishLocked(domain.StateSubmitted, s.clock.Now())
	result := *s.result
	s.mu.Unlock()
	s.handOff(rec)
	return result, nil
}

// expire is the timer callback. It loses quietly if another transition got there first.
func (s *Session) expire(deadline time.Time) {
	s.mu.Lock()
	if s.state != domain.StateInProgress {
		s.mu.Unlock()
		return
	}
	rec := s.finishLocked(domain.StateExpired, deadline)
	s.mu.Unlock()
	s.handOff(rec)
}

func (s *Session) view() domain.StateView {
	s.mu.Lock()
	rec := s.expireIfDueLocked()
	view := s.snapshotLocked()
	s.mu.Unlock()
	s.handOff(rec)
	return view
}

func (s *Session) record() (domain.SessionRecord, error) {
	s.mu.Lock()
	rec := s.expireIfDueLocked()
	if !s.state.Terminal() {
		s.mu.Unlock()
		return domain.SessionRecord{}, domain.ErrRecordNotReady
	}
	out := s.recordLocked()
	s.mu.Unlock()
	s.handOff(rec)
	return out, nil
}

// mutate applies fn while the session is in progress. fn must be all-or-nothing.
func (s *Session) mutate(fn func() error) (domain.StateView, error) {
	s.mu.Lock()
	rec := s.expireIfDueLocked()
	err := s.activeLocked()
	if err == nil {
		err = fn()
	}
	var view domain.StateView
	if err == nil {
		view = s.broadcastLocked()
	} else {
		view = s.snapshotLocked()
	}
	s.mu.Unlock()
	s.handOff(rec)
	return view, err
}

func (s *Session) activeLocked() error {
	switch {
	case s.state == domain.StateInProgress:
		return nil
	case s.state.Terminal():
		return domain.ErrSessionClosed
	default:
		return domain.ErrSessionNotActive
	}
}

// expireIfDueLocked applies the expiry transition when the deadline has passed
// but the timer notification has not been processed yet.
func (s *Session) expireIfDueLocked() *domain.SessionRecord {
	if s.state != domain.StateInProgress {
		return nil
	}
	deadline := s.handle.Deadline()
	if s.clock.Now().Before(deadline) {
		return nil
	}
	return s.finishLocked(domain.StateExpired, deadline)
}

func (s *Session) finishLocked(state domain.State, at time.Time) *domain.SessionRecord {
	s.handle.Cancel()
	s.answers.Freeze()
	s.submittedAt = at
	result := s.score(s.questions, s.key, s.answers.Snapshot())
	s.result = &result
	s.state = state
	if state == domain.StateExpired {
		s.endReason = domain.EndReasonExpired
	} else {
		s.endReason = domain.EndReasonSubmitted
	}
	s.broadcastLocked()
	rec := s.recordLocked()
	return &rec
}

func (s *Session) handOff(rec *domain.SessionRecord) {
	if rec != nil && s.onTerminal != nil {
		s.onTerminal(*rec)
	}
}

func (s *Session) recordLocked() domain.SessionRecord {
	ids := make([]string, len(s.questions))
	for i, q := range s.questions {
		ids[i] = q.ID
	}
	return domain.SessionRecord{
		SessionID:       s.id,
		AssessmentID:    s.assessmentID,
		QuestionIDs:     ids,
		DurationSeconds: int(s.duration / time.Second),
		StartedAt:       s.startedAt,
		SubmittedAt:     s.submittedAt,
		State:           s.state,
		EndReason:       s.endReason,
		Answers:         s.answers.Snapshot(),
		Score:           cloneScore(*s.result),
	}
}

func (s *Session) snapshotLocked() domain.StateView {
	view := domain.StateView{
		SessionID:      s.id,
		State:          s.state,
		CurrentIndex:   s.nav.CurrentIndex(),
		TotalQuestions: len(s.questions),
		Answers:        s.answers.Snapshot(),
		Review:         s.review,
	}

	var remaining time.Duration
	switch {
	case s.state == domain.StateNotStarted:
		remaining = s.duration
	case s.state == domain.StateInProgress:
		remaining = s.handle.Deadline().Sub(s.clock.Now())
	default:
		remaining = s.handle.Deadline().Sub(s.submittedAt)
	}
	if remaining < 0 {
		remaining = 0
	}
	view.RemainingSeconds = remaining.Seconds()

	if s.handle != nil {
		deadline := s.handle.Deadline()
		view.Deadline = &deadline
	}
	if s.result != nil {
		score := cloneScore(*s.result)
		view.Score = &score
	}
	return view
}

func (s *Session) subscribe() (<-chan domain.StateView, func()) {
	ch := make(chan domain.StateView, 8)

	s.mu.Lock()
	ch <- s.snapshotLocked()
	if s.released {
		// Late subscriber of a released session: final snapshot only.
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// release closes every subscriber channel and refuses new subscriptions.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

func (s *Session) broadcastLocked() domain.StateView {
	view := s.snapshotLocked()
	for ch := range s.subscribers {
		select {
		case ch <- view:
		default:
			// Slow subscriber: drop the oldest snapshot instead of blocking the state machine.
			select {
			case <-ch:
			default:
			}
			ch <- view
		}
	}
	return view
}

func cloneScore(in domain.ScoreBreakdown) domain.ScoreBreakdown {
	out := in
	out.PerQuestion = append([]domain.QuestionScore(nil), in.PerQuestion...)
	return out
}
