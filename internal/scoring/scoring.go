// Package scoring computes score breakdowns. Everything here is pure: the
// result depends only on the questions, the answer key and the answers.
package scoring

import (
	"assessment-engine/internal/domain"
)

// Func is the signature of a scoring engine.
type Func func(questions []domain.Question, key domain.AnswerKey, answers map[string]string) domain.ScoreBreakdown

// Score walks the questions in order and awards points[i] when the answer to
// question i equals key[i]. Unanswered questions are tallied as unattempted.
// Questions without a key entry can never be answered correctly.
func Score(questions []domain.Question, key domain.AnswerKey, answers map[string]string) domain.ScoreBreakdown {
	out := domain.ScoreBreakdown{
		PerQuestion: make([]domain.QuestionScore, 0, len(questions)),
	}
	for i, q := range questions {
		line := domain.QuestionScore{
			QuestionID: q.ID,
			Possible:   q.Points,
		}
		out.TotalPossible += q.Points

		selected, answered := answers[q.ID]
		switch {
		case !answered:
			line.Outcome = domain.OutcomeUnattempted
			out.UnattemptedCount++
		case i < len(key) && selected == key[i]:
			line.Selected = selected
			line.Outcome = domain.OutcomeCorrect
			line.Earned = q.Points
			out.TotalEarned += q.Points
			out.CorrectCount++
		default:
			line.Selected = selected
			line.Outcome = domain.OutcomeIncorrect
			out.IncorrectCount++
		}
		out.PerQuestion = append(out.PerQuestion, line)
	}
	return out
}
