// Package timer owns session countdowns and delivers at-most-once expiry notifications.
package timer

import (
	"sync/atomic"
	"time"

	"assessment-engine/internal/clock"
	"assessment-engine/internal/domain"
	"github.com/rs/zerolog"
)

const (
	armed int32 = iota
	fired
	cancelled
)

// Scheduler arms one-shot countdowns against a Clock.
type Scheduler struct {
	clock     clock.Clock
	tolerance time.Duration
	log       zerolog.Logger
}

// NewScheduler builds a Scheduler. Deliveries later than tolerance past the
// deadline are logged as scheduling faults.
func NewScheduler(c clock.Clock, tolerance time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:     c,
		tolerance: tolerance,
		log:       log.With().Str("component", "timer").Logger(),
	}
}

// Handle is a cancellable armed countdown.
type Handle struct {
	deadline time.Time
	state    atomic.Int32
	stopper  clock.Timer
}

// Arm schedules onExpire to run once, asynchronously, at now+d.
// onExpire receives the scheduled deadline, not the delivery instant.
func (s *Scheduler) Arm(d time.Duration, onExpire func(deadline time.Time)) (*Handle, error) {
	if d <= 0 {
		return nil, domain.ErrInvalidDuration
	}
	h := &Handle{deadline: s.clock.Now().Add(d)}
	h.stopper = s.clock.AfterFunc(d, func() {
		if !h.state.CompareAndSwap(armed, fired) {
			return
		}
		if lag := s.clock.Now().Sub(h.deadline); lag > s.tolerance {
			s.log.Warn().
				Dur("lag", lag).
				Dur("tolerance", s.tolerance).
				Time("deadline", h.deadline).
				Msg("timer delivered after jitter tolerance")
		}
		onExpire(h.deadline)
	})
	return h, nil
}

// Cancel disarms the handle. It is a no-op once the handle fired or was cancelled.
func (h *Handle) Cancel() {
	if h == nil {
		return
	}
	if h.state.CompareAndSwap(armed, cancelled) {
		h.stopper.Stop()
	}
}

// Deadline is the scheduled expiry instant.
func (h *Handle) Deadline() time.Time {
	return h.deadline
}

// Armed reports whether the countdown can still fire.
func (h *Handle) Armed() bool {
	return h.state.Load() == armed
}
