// Package clock is the only source of "now" for the engine.
package clock

import "time"

// Timer is a scheduled callback that can be stopped before it runs.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call stopped it.
	Stop() bool
}

// Clock reads the current instant and schedules callbacks.
// Instants returned by the real clock carry Go's monotonic reading, so
// durations between them are immune to wall clock adjustments.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

// Real returns the host clock.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
