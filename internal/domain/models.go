package domain

import (
	"math"
	"time"
)

// MaxDurationSeconds is the longest session duration that still fits a time.Duration.
const MaxDurationSeconds = math.MaxInt64 / int64(time.Second)

// State is the lifecycle position of a session.
type State string

const (
	StateNotStarted State = "not_started"
	StateInProgress State = "in_progress"
	StateSubmitted  State = "submitted"
	StateExpired    State = "expired"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == StateSubmitted || s == StateExpired
}

// Difficulty is informational only and never affects scoring.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Choice is one labeled option of a question.
type Choice struct {
	Label string `json:"label" validate:"required"`
	Text  string `json:"text"`
}

// Question models a single-answer multiple choice question.
type Question struct {
	ID         string     `json:"id" validate:"required"`
	Prompt     string     `json:"prompt"`
	Choices    []Choice   `json:"choices" validate:"min=1,dive"`
	Points     float64    `json:"points" validate:"gt=0"`
	Difficulty Difficulty `json:"difficulty,omitempty"`
}

// HasChoice reports whether label is one of the question's choice labels.
func (q Question) HasChoice(label string) bool {
	for _, c := range q.Choices {
		if c.Label == label {
			return true
		}
	}
	return false
}

// AnswerKey is index-aligned with the question list: position i holds the correct label of question i.
type AnswerKey []string

// Assessment is a stored template sessions can be created from.
type Assessment struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	DurationSeconds int        `json:"durationSeconds"`
	Questions       []Question `json:"questions"`
	AnswerKey       AnswerKey  `json:"answerKey"`
}

// Outcome classifies a single question in a score breakdown.
type Outcome string

const (
	OutcomeCorrect     Outcome = "correct"
	OutcomeIncorrect   Outcome = "incorrect"
	OutcomeUnattempted Outcome = "unattempted"
)

// QuestionScore is the per-question line of a ScoreBreakdown.
type QuestionScore struct {
	QuestionID string  `json:"questionId"`
	Selected   string  `json:"selected,omitempty"`
	Outcome    Outcome `json:"outcome"`
	Earned     float64 `json:"earned"`
	Possible   float64 `json:"possible"`
}

// ScoreBreakdown is the deterministic result of scoring a session.
type ScoreBreakdown struct {
	TotalEarned      float64         `json:"totalEarned"`
	TotalPossible    float64         `json:"totalPossible"`
	CorrectCount     int             `json:"correctCount"`
	IncorrectCount   int             `json:"incorrectCount"`
	UnattemptedCount int             `json:"unattemptedCount"`
	PerQuestion      []QuestionScore `json:"perQuestion"`
}

// EndReason records why a session reached its terminal state.
type EndReason string

const (
	EndReasonSubmitted EndReason = "submitted"
	EndReasonExpired   EndReason = "expired"
)

// StateView is the participant-facing snapshot of a session.
type StateView struct {
	SessionID        string            `json:"sessionId"`
	State            State             `json:"state"`
	CurrentIndex     int               `json:"currentIndex"`
	TotalQuestions   int               `json:"totalQuestions"`
	RemainingSeconds float64           `json:"remainingSeconds"`
	Deadline         *time.Time        `json:"deadline,omitempty"`
	Answers          map[string]string `json:"answers"`
	Review           bool              `json:"review"`
	Score            *ScoreBreakdown   `json:"score,omitempty"`
}

// SessionRecord is the immutable record handed to durable storage on terminal transition.
type SessionRecord struct {
	SessionID       string            `json:"sessionId"`
	AssessmentID    string            `json:"assessmentId,omitempty"`
	QuestionIDs     []string          `json:"questionIds"`
	DurationSeconds int               `json:"durationSeconds"`
	StartedAt       time.Time         `json:"startedAt"`
	SubmittedAt     time.Time         `json:"submittedAt"`
	State           State             `json:"state"`
	EndReason       EndReason         `json:"endReason"`
	Answers         map[string]string `json:"answers"`
	Score           ScoreBreakdown    `json:"score"`
}
