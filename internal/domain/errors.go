package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidDuration is returned when a session or timer duration is non-positive or
	// longer than MaxDurationSeconds.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrUnknownQuestion indicates an answer referenced a question outside the session.
	ErrUnknownQuestion = errors.New("unknown question")
	// ErrInvalidChoice indicates the label is not one of the question's choices.
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrInvalidAssessment is returned when questions, answer key or points are malformed.
	ErrInvalidAssessment = errors.New("invalid assessment")

	// ErrAlreadyStarted is returned by start on a session that has left NotStarted.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrSessionNotActive is returned when an action requires an in-progress session.
	ErrSessionNotActive = errors.New("session not active")
	// ErrSessionClosed is returned once the session reached a terminal state.
	// It wraps ErrSessionNotActive.
	ErrSessionClosed = fmt.Errorf("%w: session closed", ErrSessionNotActive)

	// ErrSessionNotFound is returned when no live session has the given id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAssessmentNotFound indicates the assessment content could not be loaded.
	ErrAssessmentNotFound = errors.New("assessment not found")
	// ErrRecordNotReady is returned when a record is requested before the session ended.
	ErrRecordNotReady = errors.New("session record not ready")
)
