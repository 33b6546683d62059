package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/domain"
	"golang.org/x/sync/singleflight"
)

// AssessmentLoader fetches assessment content from a backing store (e.g., Postgres).
type AssessmentLoader interface {
	LoadAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error)
}

// AssessmentRepository is a read-through cache of validated assessment templates.
// Content that fails validation is reported as ErrInvalidAssessment and never cached,
// so a fixed row is picked up on the next lookup.
type AssessmentRepository struct {
	loader AssessmentLoader
	ttl    time.Duration
	clock  func() time.Time
	loads  singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu      sync.RWMutex
	entries map[string]assessmentEntry
}

type assessmentEntry struct {
	assessment domain.Assessment
	expiresAt  time.Time
}

func NewAssessmentRepository(loader AssessmentLoader, ttl time.Duration) *AssessmentRepository {
	return &AssessmentRepository{
		loader:  loader,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		entries: make(map[string]assessmentEntry),
	}
}

func (r *AssessmentRepository) GetAssessment(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	if a, ok := r.lookup(assessmentID); ok {
		return a, nil
	}

	v, err, _ := r.loads.Do(assessmentID, func() (interface{}, error) {
		if a, ok := r.lookup(assessmentID); ok {
			return a, nil
		}
		return r.load(ctx, assessmentID)
	})
	if err != nil {
		return domain.Assessment{}, err
	}
	return v.(domain.Assessment), nil
}

// Invalidate drops the cached copy so the next lookup reloads it.
func (r *AssessmentRepository) Invalidate(assessmentID string) {
	r.mu.Lock()
	delete(r.entries, assessmentID)
	r.mu.Unlock()
}

func (r *AssessmentRepository) load(ctx context.Context, assessmentID string) (domain.Assessment, error) {
	a, err := r.loader.LoadAssessment(ctx, assessmentID)
	if err != nil {
		return domain.Assessment{}, err
	}
	if a.ID == "" {
		a.ID = assessmentID
	}
	if err := app.ValidateAssessment(a); err != nil {
		return domain.Assessment{}, fmt.Errorf("assessment %s: %w", assessmentID, err)
	}

	r.mu.Lock()
	r.entries[assessmentID] = assessmentEntry{assessment: a, expiresAt: r.clock().Add(r.expiry())}
	r.mu.Unlock()
	return a, nil
}

func (r *AssessmentRepository) lookup(assessmentID string) (domain.Assessment, bool) {
	r.mu.RLock()
	entry, ok := r.entries[assessmentID]
	r.mu.RUnlock()
	if !ok || !entry.expiresAt.After(r.clock()) {
		return domain.Assessment{}, false
	}
	return entry.assessment, true
}

// expiry is the ttl plus up to 10% jitter so templates loaded together do not expire together.
func (r *AssessmentRepository) expiry() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(int64(r.ttl)/10+1))
}

// StaticAssessmentLoader serves a fixed catalogue; used by tests and when no database is configured.
type StaticAssessmentLoader struct {
	assessments map[string]domain.Assessment
}

func NewStaticAssessmentLoader(assessments map[string]domain.Assessment) *StaticAssessmentLoader {
	return &StaticAssessmentLoader{assessments: assessments}
}

func (l *StaticAssessmentLoader) LoadAssessment(_ context.Context, assessmentID string) (domain.Assessment, error) {
	if a, ok := l.assessments[assessmentID]; ok {
		return a, nil
	}
	return domain.Assessment{}, fmt.Errorf("%w: %s", domain.ErrAssessmentNotFound, assessmentID)
}
