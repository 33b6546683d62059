package app

import (
	"context"
	"time"

	"assessment-engine/internal/clock"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/navigation"
	"assessment-engine/internal/scoring"
	"assessment-engine/internal/timer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SessionRepository abstracts where live sessions are kept (in-memory, Redis-aware, etc).
type SessionRepository interface {
	Put(session *Session)
	Get(sessionID string) (*Session, bool)
	DeleteIfTerminal(sessionID string) bool
}

// AssessmentRepository loads assessment templates (from cache/backing store).
type AssessmentRepository interface {
	GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error)
}

// RecordSink receives the immutable record of every session that reached a terminal state.
type RecordSink interface {
	SaveRecord(ctx context.Context, record domain.SessionRecord) error
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	clock       clock.Clock
	tolerance   time.Duration
	autoAdvance bool
	scorer      scoring.Func
	records     RecordSink
	log         zerolog.Logger
	newID       func() string
	saveTimeout time.Duration
}

// WithClock replaces the host clock, typically with a clock.Fake in tests.
func WithClock(c clock.Clock) Option {
	return func(cfg *engineConfig) { cfg.clock = c }
}

// WithJitterTolerance sets how late a timer delivery may be before it is logged.
func WithJitterTolerance(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.tolerance = d }
}

// WithAutoAdvance moves the cursor to the next question after every accepted answer.
func WithAutoAdvance(enabled bool) Option {
	return func(cfg *engineConfig) { cfg.autoAdvance = enabled }
}

func WithScorer(f scoring.Func) Option {
	return func(cfg *engineConfig) { cfg.scorer = f }
}

func WithRecordSink(sink RecordSink) Option {
	return func(cfg *engineConfig) { cfg.records = sink }
}

func WithLogger(log zerolog.Logger) Option {
	return func(cfg *engineConfig) { cfg.log = log }
}

func WithIDGenerator(newID func() string) Option {
	return func(cfg *engineConfig) { cfg.newID = newID }
}

func WithRecordSaveTimeout(d time.Duration) Option {
	return func(cfg *engineConfig) { cfg.saveTimeout = d }
}

// Engine addresses sessions by id and exposes the participant-facing operations.
type Engine struct {
	sessions    SessionRepository
	assessments AssessmentRepository
	clock       clock.Clock
	timers      *timer.Scheduler
	autoAdvance bool
	scorer      scoring.Func
	records     RecordSink
	log         zerolog.Logger
	newID       func() string
	saveTimeout time.Duration
}

// NewEngine wires the engine. assessments may be nil when sessions are only created from inline content.
func NewEngine(sessions SessionRepository, assessments AssessmentRepository, opts ...Option) *Engine {
	cfg := &engineConfig{
		clock:       clock.Real(),
		tolerance:   time.Second,
		scorer:      scoring.Score,
		log:         zerolog.Nop(),
		newID:       uuid.NewString,
		saveTimeout: 5 * time.Second,
	}
	for _, o := range opts {
		o(cfg)
	}
	log := cfg.log.With().Str("component", "engine").Logger()
	return &Engine{
		sessions:    sessions,
		assessments: assessments,
		clock:       cfg.clock,
		timers:      timer.NewScheduler(cfg.clock, cfg.tolerance, cfg.log),
		autoAdvance: cfg.autoAdvance,
		scorer:      cfg.scorer,
		records:     cfg.records,
		log:         log,
		newID:       cfg.newID,
		saveTimeout: cfg.saveTimeout,
	}
}

// CreateSessionInput is the content a session is created from.
type CreateSessionInput struct {
	AssessmentID    string
	Questions       []domain.Question
	AnswerKey       domain.AnswerKey
	DurationSeconds int
}

// CreateSession validates the content and registers a NotStarted session.
func (e *Engine) CreateSession(_ context.Context, in CreateSessionInput) (string, error) {
	if err := validateInput(in); err != nil {
		return "", err
	}

	id := e.newID()
	session := newSession(sessionParams{
		id:           id,
		assessmentID: in.AssessmentID,
		questions:    cloneQuestions(in.Questions),
		key:          append(domain.AnswerKey(nil), in.AnswerKey...),
		duration:     time.Duration(in.DurationSeconds) * time.Second,
		autoAdvance:  e.autoAdvance,
		clock:        e.clock,
		timers:       e.timers,
		score:        e.scorer,
		onTerminal:   e.persist,
	})
	e.sessions.Put(session)

	e.log.Info().
		Str("session_id", id).
		Str("assessment_id", in.AssessmentID).
		Int("questions", len(in.Questions)).
		Int("duration_seconds", in.DurationSeconds).
		Msg("session created")
	return id, nil
}

// CreateFromAssessment creates a session from a stored assessment template.
func (e *Engine) CreateFromAssessment(ctx context.Context, assessmentID string) (string, error) {
	if e.assessments == nil {
		return "", domain.ErrAssessmentNotFound
	}
	a, err := e.assessments.GetAssessment(ctx, assessmentID)
	if err != nil {
		return "", err
	}
	return e.CreateSession(ctx, CreateSessionInput{
		AssessmentID:    a.ID,
		Questions:       a.Questions,
		AnswerKey:       a.AnswerKey,
		DurationSeconds: a.DurationSeconds,
	})
}

// Start moves the session to InProgress and arms its countdown.
func (e *Engine) Start(_ context.Context, sessionID string) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	view, err := session.start()
	if err == nil {
		e.log.Info().Str("session_id", sessionID).Time("deadline", *view.Deadline).Msg("session started")
	}
	return view, err
}

// Answer records label for questionID; last write wins.
func (e *Engine) Answer(_ context.Context, sessionID, questionID, label string) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	return session.answer(questionID, label)
}

// Navigate moves the cursor to index, saturating at the bounds.
func (e *Engine) Navigate(_ context.Context, sessionID string, index int) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	return session.navigate(func(c *navigation.Controller) int { return c.GoTo(index) })
}

// Next moves the cursor one question forward.
func (e *Engine) Next(_ context.Context, sessionID string) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	return session.navigate((*navigation.Controller).Next)
}

// Previous moves the cursor one question back.
func (e *Engine) Previous(_ context.Context, sessionID string) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	return session.navigate((*navigation.Controller).Previous)
}

// SetReview toggles review mode, which suppresses auto-advance.
func (e *Engine) SetReview(_ context.Context, sessionID string, enabled bool) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	return session.setReview(enabled)
}

// Submit ends the session manually and returns its score.
func (e *Engine) Submit(_ context.Context, sessionID string) (domain.ScoreBreakdown, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.ScoreBreakdown{}, err
	}
	return session.submit()
}

// GetState returns the current snapshot of a session.
func (e *Engine) GetState(_ context.Context, sessionID string) (domain.StateView, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.StateView{}, err
	}
	return session.view(), nil
}

// Record returns the immutable record of a terminal session.
func (e *Engine) Record(_ context.Context, sessionID string) (domain.SessionRecord, error) {
	session, err := e.session(sessionID)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	return session.record()
}

// Subscribe returns a channel that receives a snapshot after every transition.
// The caller must invoke the returned cancel function to avoid leaks.
func (e *Engine) Subscribe(_ context.Context, sessionID string) (<-chan domain.StateView, func(), error) {
	session, err := e.session(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := session.subscribe()
	return ch, cancel, nil
}

// Release drops a terminal session from the live store.
func (e *Engine) Release(_ context.Context, sessionID string) error {
	session, err := e.session(sessionID)
	if err != nil {
		return err
	}
	if !e.sessions.DeleteIfTerminal(sessionID) {
		return domain.ErrSessionNotActive
	}
	session.release()
	return nil
}

func (e *Engine) session(sessionID string) (*Session, error) {
	session, ok := e.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// persist runs outside the session lock, on whichever goroutine performed the terminal transition.
func (e *Engine) persist(rec domain.SessionRecord) {
	e.log.Info().
		Str("session_id", rec.SessionID).
		Str("end_reason", string(rec.EndReason)).
		Float64("earned", rec.Score.TotalEarned).
		Float64("possible", rec.Score.TotalPossible).
		Dur("elapsed", rec.SubmittedAt.Sub(rec.StartedAt)).
		Msg("session finished")

	if e.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.saveTimeout)
	defer cancel()
	if err := e.records.SaveRecord(ctx, rec); err != nil {
		e.log.Error().Err(err).Str("session_id", rec.SessionID).Msg("persist session record")
	}
}
