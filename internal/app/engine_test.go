package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/clock"
	"assessment-engine/internal/domain"
	"assessment-engine/internal/infra/memory"
	"assessment-engine/internal/scoring"
)

type harness struct {
	engine  *app.Engine
	clock   *clock.Fake
	records *memory.RecordStore
	store   *memory.SessionStore
	scored  *atomic.Int32
}

func newHarness(t *testing.T, opts ...app.Option) *harness {
	t.Helper()
	h := &harness{
		clock:   clock.NewFake(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)),
		records: memory.NewRecordStore(),
		store:   memory.NewSessionStore(),
		scored:  new(atomic.Int32),
	}
	counting := func(qs []domain.Question, key domain.AnswerKey, answers map[string]string) domain.ScoreBreakdown {
		h.scored.Add(1)
		return scoring.Score(qs, key, answers)
	}
	assessments := memory.NewAssessmentRepository(memory.NewStaticAssessmentLoader(map[string]domain.Assessment{
		"arith": {
			ID:              "arith",
			Title:           "Arithmetic",
			DurationSeconds: 120,
			Questions:       questions(3),
			AnswerKey:       domain.AnswerKey{"A", "B", "C"},
		},
	}), time.Minute)

	base := []app.Option{
		app.WithClock(h.clock),
		app.WithScorer(counting),
		app.WithRecordSink(h.records),
	}
	h.engine = app.NewEngine(h.store, assessments, append(base, opts...)...)
	return h
}

func questions(n int) []domain.Question {
	choices := []domain.Choice{{Label: "A"}, {Label: "B"}, {Label: "C"}, {Label: "D"}}
	out := make([]domain.Question, n)
	for i := range out {
		out[i] = domain.Question{
			ID:      fmt.Sprintf("q%d", i+1),
			Prompt:  fmt.Sprintf("question %d", i+1),
			Choices: choices,
			Points:  float64(i + 1),
		}
	}
	return out
}

func (h *harness) create(t *testing.T, n, durationSeconds int) string {
	t.Helper()
	key := make(domain.AnswerKey, n)
	for i := range key {
		key[i] = string(rune('A' + i%4))
	}
	id, err := h.engine.CreateSession(context.Background(), app.CreateSessionInput{
		Questions:       questions(n),
		AnswerKey:       key,
		DurationSeconds: durationSeconds,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return id
}

func (h *harness) startNew(t *testing.T, n, durationSeconds int) string {
	t.Helper()
	id := h.create(t, n, durationSeconds)
	if _, err := h.engine.Start(context.Background(), id); err != nil {
		t.Fatalf("start: %v", err)
	}
	return id
}

func TestManualSubmitScoresAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 3, 60)

	for q, label := range map[string]string{"q1": "A", "q2": "D", "q3": "C"} {
		if _, err := h.engine.Answer(ctx, id, q, label); err != nil {
			t.Fatalf("answer %s: %v", q, err)
		}
	}
	h.clock.Advance(20 * time.Second)

	score, err := h.engine.Submit(ctx, id)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if score.TotalEarned != 4 || score.TotalPossible != 6 || score.CorrectCount != 2 || score.IncorrectCount != 1 {
		t.Fatalf("unexpected score %+v", score)
	}

	view, _ := h.engine.GetState(ctx, id)
	if view.State != domain.StateSubmitted || view.Score == nil || view.RemainingSeconds != 40 {
		t.Fatalf("unexpected state %+v", view)
	}

	rec, ok := h.records.Get(id)
	if !ok {
		t.Fatalf("expected record handed to sink")
	}
	if rec.EndReason != domain.EndReasonSubmitted || rec.SubmittedAt.Sub(rec.StartedAt) != 20*time.Second {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestTimerExpiryWithNoAnswers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 3, 90)

	h.clock.Advance(90 * time.Second)

	view, err := h.engine.GetState(ctx, id)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if view.State != domain.StateExpired {
		t.Fatalf("expected expired, got %s", view.State)
	}
	if view.Score == nil || view.Score.TotalEarned != 0 || view.Score.UnattemptedCount != 3 {
		t.Fatalf("unexpected score %+v", view.Score)
	}

	rec, err := h.engine.Record(ctx, id)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := rec.SubmittedAt.Sub(rec.StartedAt); got != 90*time.Second {
		t.Fatalf("expected elapsed exactly 90s, got %v", got)
	}
	if rec.EndReason != domain.EndReasonExpired || h.scored.Load() != 1 {
		t.Fatalf("expected one expiry scoring, got reason=%s scored=%d", rec.EndReason, h.scored.Load())
	}
}

func TestSubmitBeforeDeadlineDisarmsTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 3, 30)

	h.clock.Advance(29 * time.Second)
	if _, err := h.engine.Submit(ctx, id); err != nil {
		t.Fatalf("submit: %v", err)
	}
	h.clock.Advance(5 * time.Second)

	view, _ := h.engine.GetState(ctx, id)
	if view.State != domain.StateSubmitted {
		t.Fatalf("expected submitted, got %s", view.State)
	}
	if h.scored.Load() != 1 {
		t.Fatalf("expected exactly one scoring invocation, got %d", h.scored.Load())
	}
	if h.clock.Pending() != 0 {
		t.Fatalf("expected timer disarmed")
	}
}

func TestAnswerLastWriteWins(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 2, 60)

	_, _ = h.engine.Answer(ctx, id, "q1", "A")
	view, err := h.engine.Answer(ctx, id, "q1", "B")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if view.Answers["q1"] != "B" {
		t.Fatalf("expected B in view, got %q", view.Answers["q1"])
	}
	if _, err := h.engine.Submit(ctx, id); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rec, _ := h.engine.Record(ctx, id)
	if rec.Answers["q1"] != "B" {
		t.Fatalf("expected recorded B, got %q", rec.Answers["q1"])
	}
}

func TestNavigateClamps(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 5, 60)

	view, err := h.engine.Navigate(ctx, id, -5)
	if err != nil || view.CurrentIndex != 0 {
		t.Fatalf("expected 0, got %d (%v)", view.CurrentIndex, err)
	}
	view, err = h.engine.Navigate(ctx, id, 9999)
	if err != nil || view.CurrentIndex != 4 {
		t.Fatalf("expected 4, got %d (%v)", view.CurrentIndex, err)
	}
	view, _ = h.engine.Next(ctx, id)
	if view.CurrentIndex != 4 {
		t.Fatalf("next on last question should be a no-op")
	}
	view, _ = h.engine.Previous(ctx, id)
	if view.CurrentIndex != 3 {
		t.Fatalf("expected 3 after previous, got %d", view.CurrentIndex)
	}
}

func TestGuardRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.create(t, 2, 60)

	if _, err := h.engine.Answer(ctx, id, "q1", "A"); !errors.Is(err, domain.ErrSessionNotActive) || errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionNotActive before start, got %v", err)
	}
	if _, err := h.engine.Submit(ctx, id); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected ErrSessionNotActive submit before start, got %v", err)
	}
	if _, err := h.engine.Record(ctx, id); !errors.Is(err, domain.ErrRecordNotReady) {
		t.Fatalf("expected ErrRecordNotReady, got %v", err)
	}

	if _, err := h.engine.Start(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.engine.Start(ctx, id); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	if _, err := h.engine.Answer(ctx, id, "q9", "A"); !errors.Is(err, domain.ErrUnknownQuestion) {
		t.Fatalf("expected ErrUnknownQuestion, got %v", err)
	}
	if _, err := h.engine.Answer(ctx, id, "q1", "Z"); !errors.Is(err, domain.ErrInvalidChoice) {
		t.Fatalf("expected ErrInvalidChoice, got %v", err)
	}

	if _, err := h.engine.Submit(ctx, id); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := h.engine.Submit(ctx, id); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed on retry, got %v", err)
	}
	if _, err := h.engine.Start(ctx, id); !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted on terminal, got %v", err)
	}
	if _, err := h.engine.GetState(ctx, "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestNoMutationAfterTerminal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 4, 60)

	_, _ = h.engine.Answer(ctx, id, "q2", "B")
	_, _ = h.engine.Navigate(ctx, id, 2)
	h.clock.Advance(time.Minute)

	before, _ := h.engine.GetState(ctx, id)

	if _, err := h.engine.Answer(ctx, id, "q2", "C"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := h.engine.Navigate(ctx, id, 0); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := h.engine.SetReview(ctx, id, true); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	after, _ := h.engine.GetState(ctx, id)
	if after.CurrentIndex != before.CurrentIndex || after.Answers["q2"] != "B" || len(after.Answers) != 1 {
		t.Fatalf("terminal session mutated: before %+v after %+v", before, after)
	}
}

func TestCreateSessionValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	dup := questions(2)
	dup[1].ID = dup[0].ID
	zeroPoints := questions(1)
	zeroPoints[0].Points = 0

	tests := []struct {
		name string
		in   app.CreateSessionInput
		want error
	}{
		{"zero duration", app.CreateSessionInput{Questions: questions(1), AnswerKey: domain.AnswerKey{"A"}}, domain.ErrInvalidDuration},
		{"negative duration", app.CreateSessionInput{Questions: questions(1), AnswerKey: domain.AnswerKey{"A"}, DurationSeconds: -3}, domain.ErrInvalidDuration},
		{"duration past time.Duration range", app.CreateSessionInput{Questions: questions(1), AnswerKey: domain.AnswerKey{"A"}, DurationSeconds: int(domain.MaxDurationSeconds + 1)}, domain.ErrInvalidDuration},
		{"duration wrapping to small value", app.CreateSessionInput{Questions: questions(1), AnswerKey: domain.AnswerKey{"A"}, DurationSeconds: 18446744074}, domain.ErrInvalidDuration},
		{"no questions", app.CreateSessionInput{DurationSeconds: 10}, domain.ErrInvalidAssessment},
		{"key length mismatch", app.CreateSessionInput{Questions: questions(2), AnswerKey: domain.AnswerKey{"A"}, DurationSeconds: 10}, domain.ErrInvalidAssessment},
		{"duplicate ids", app.CreateSessionInput{Questions: dup, AnswerKey: domain.AnswerKey{"A", "B"}, DurationSeconds: 10}, domain.ErrInvalidAssessment},
		{"non-positive points", app.CreateSessionInput{Questions: zeroPoints, AnswerKey: domain.AnswerKey{"A"}, DurationSeconds: 10}, domain.ErrInvalidAssessment},
		{"key not a choice", app.CreateSessionInput{Questions: questions(1), AnswerKey: domain.AnswerKey{"Q"}, DurationSeconds: 10}, domain.ErrInvalidAssessment},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := h.engine.CreateSession(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if h.store.Len() != 0 {
		t.Fatalf("rejected input must not register sessions")
	}
}

func TestLongestDurationKeepsExactDeadline(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.create(t, 1, int(domain.MaxDurationSeconds))

	view, err := h.engine.Start(ctx, id)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if view.RemainingSeconds != float64(domain.MaxDurationSeconds) {
		t.Fatalf("expected %d seconds remaining, got %v", domain.MaxDurationSeconds, view.RemainingSeconds)
	}

	h.clock.Advance(time.Hour)
	if view, _ := h.engine.GetState(ctx, id); view.State != domain.StateInProgress {
		t.Fatalf("long session expired early: %+v", view)
	}
}

func TestAutoAdvanceRespectsReview(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, app.WithAutoAdvance(true))
	id := h.startNew(t, 3, 60)

	view, _ := h.engine.Answer(ctx, id, "q1", "A")
	if view.CurrentIndex != 1 {
		t.Fatalf("expected auto-advance to 1, got %d", view.CurrentIndex)
	}

	if _, err := h.engine.SetReview(ctx, id, true); err != nil {
		t.Fatalf("review: %v", err)
	}
	view, _ = h.engine.Answer(ctx, id, "q2", "B")
	if view.CurrentIndex != 1 || !view.Review {
		t.Fatalf("review mode must suppress auto-advance, got %+v", view)
	}

	// Rejected answers never advance.
	_, _ = h.engine.SetReview(ctx, id, false)
	view, _ = h.engine.Answer(ctx, id, "q3", "nope")
	if view.CurrentIndex != 1 {
		t.Fatalf("rejected answer advanced the cursor to %d", view.CurrentIndex)
	}
}

func TestAutoAdvanceDisabledByDefault(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 3, 60)

	view, _ := h.engine.Answer(ctx, id, "q1", "A")
	if view.CurrentIndex != 0 {
		t.Fatalf("expected cursor unchanged, got %d", view.CurrentIndex)
	}
}

// lateClock never delivers timer callbacks, simulating a suspended scheduler.
type lateClock struct {
	*clock.Fake
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func (lateClock) AfterFunc(time.Duration, func()) clock.Timer { return noopTimer{} }

func TestActionAfterDeadlineExpiresFirst(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	records := memory.NewRecordStore()
	engine := app.NewEngine(memory.NewSessionStore(), nil, app.WithClock(lateClock{fake}), app.WithRecordSink(records))

	id, err := engine.CreateSession(ctx, app.CreateSessionInput{
		Questions:       questions(2),
		AnswerKey:       domain.AnswerKey{"A", "B"},
		DurationSeconds: 10,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Start(ctx, id); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, _ = engine.Answer(ctx, id, "q1", "A")

	fake.Advance(12 * time.Second)

	if _, err := engine.Answer(ctx, id, "q2", "B"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed past deadline, got %v", err)
	}
	rec, ok := records.Get(id)
	if !ok {
		t.Fatalf("expected expiry record")
	}
	if rec.State != domain.StateExpired || rec.SubmittedAt.Sub(rec.StartedAt) != 10*time.Second {
		t.Fatalf("expected expiry stamped at deadline, got %+v", rec)
	}
	if rec.Score.TotalEarned != 1 {
		t.Fatalf("expected answer before deadline counted, got %+v", rec.Score)
	}
}

func TestConcurrentSubmitAndExpiryResolveOnce(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		h := newHarness(t)
		id := h.startNew(t, 3, 5)
		h.clock.Advance(4 * time.Second)

		var wg sync.WaitGroup
		var accepted atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := h.engine.Submit(ctx, id); err == nil {
					accepted.Add(1)
				} else if !errors.Is(err, domain.ErrSessionClosed) {
					t.Errorf("unexpected submit error: %v", err)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.clock.Advance(time.Second)
		}()
		wg.Wait()

		view, _ := h.engine.GetState(ctx, id)
		switch view.State {
		case domain.StateSubmitted:
			if accepted.Load() != 1 {
				t.Fatalf("round %d: submitted with %d accepted submits", round, accepted.Load())
			}
		case domain.StateExpired:
			if accepted.Load() != 0 {
				t.Fatalf("round %d: expired but %d submits accepted", round, accepted.Load())
			}
		default:
			t.Fatalf("round %d: expected terminal state, got %s", round, view.State)
		}
		if h.scored.Load() != 1 {
			t.Fatalf("round %d: expected one scoring, got %d", round, h.scored.Load())
		}
		if h.records.Len() != 1 {
			t.Fatalf("round %d: expected one record, got %d", round, h.records.Len())
		}
	}
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.create(t, 2, 30)

	ch, cancel, err := h.engine.Subscribe(ctx, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if initial := <-ch; initial.State != domain.StateNotStarted || initial.RemainingSeconds != 30 {
		t.Fatalf("unexpected initial snapshot %+v", initial)
	}

	_, _ = h.engine.Start(ctx, id)
	if update := <-ch; update.State != domain.StateInProgress || update.Deadline == nil {
		t.Fatalf("expected in-progress update, got %+v", update)
	}

	h.clock.Advance(30 * time.Second)
	update := <-ch
	if update.State != domain.StateExpired || update.Score == nil {
		t.Fatalf("expected expiry broadcast, got %+v", update)
	}
}

func TestCreateFromAssessment(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	id, err := h.engine.CreateFromAssessment(ctx, "arith")
	if err != nil {
		t.Fatalf("create from assessment: %v", err)
	}
	view, _ := h.engine.GetState(ctx, id)
	if view.TotalQuestions != 3 || view.RemainingSeconds != 120 {
		t.Fatalf("unexpected view %+v", view)
	}

	if _, err := h.engine.CreateFromAssessment(ctx, "missing"); !errors.Is(err, domain.ErrAssessmentNotFound) {
		t.Fatalf("expected ErrAssessmentNotFound, got %v", err)
	}
}

func TestReleaseOnlyTerminalSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	id := h.startNew(t, 1, 30)

	if err := h.engine.Release(ctx, id); !errors.Is(err, domain.ErrSessionNotActive) {
		t.Fatalf("expected live session to be kept, got %v", err)
	}
	ch, _, _ := h.engine.Subscribe(ctx, id)
	<-ch

	_, _ = h.engine.Submit(ctx, id)
	if err := h.engine.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	for range ch {
	}
	if _, err := h.engine.GetState(ctx, id); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected released session gone, got %v", err)
	}
}

// staleStore keeps answering lookups for a session after it was deleted, the way a
// Subscribe that looked the session up just before Release would see it.
type staleStore struct {
	*memory.SessionStore
	mu   sync.Mutex
	last map[string]*app.Session
}

func (s *staleStore) Get(id string) (*app.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session, ok := s.SessionStore.Get(id); ok {
		s.last[id] = session
		return session, true
	}
	session, ok := s.last[id]
	return session, ok
}

func TestSubscribeAfterReleaseIsClosed(t *testing.T) {
	ctx := context.Background()
	store := &staleStore{SessionStore: memory.NewSessionStore(), last: map[string]*app.Session{}}
	engine := app.NewEngine(store, nil, app.WithClock(clock.NewFake(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))))

	id, err := engine.CreateSession(ctx, app.CreateSessionInput{
		Questions:       questions(1),
		AnswerKey:       domain.AnswerKey{"A"},
		DurationSeconds: 30,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, _ = engine.Start(ctx, id)
	_, _ = engine.Submit(ctx, id)
	if err := engine.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}

	ch, cancel, err := engine.Subscribe(ctx, id)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	final, ok := <-ch
	if !ok || final.State != domain.StateSubmitted {
		t.Fatalf("expected final snapshot, got %+v ok=%v", final, ok)
	}
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed after final snapshot")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription to released session left open")
	}
}
