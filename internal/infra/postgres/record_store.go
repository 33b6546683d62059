package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"assessment-engine/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// RecordStore persists terminal session records. The first record written for a
// session wins; replays from the queue are no-ops.
type RecordStore struct {
	pool *pgxpool.Pool
}

func NewRecordStore(pool *pgxpool.Pool) *RecordStore {
	return &RecordStore{pool: pool}
}

func (s *RecordStore) SaveRecord(ctx context.Context, rec domain.SessionRecord) error {
	questionIDs, err := json.Marshal(rec.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}
	answers, err := json.Marshal(rec.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	score, err := json.Marshal(rec.Score)
	if err != nil {
		return fmt.Errorf("marshal score: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO session_records
			(session_id, assessment_id, question_ids, duration_seconds, started_at,
			 submitted_at, state, end_reason, answers, score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.AssessmentID, questionIDs, rec.DurationSeconds, rec.StartedAt,
		rec.SubmittedAt, string(rec.State), string(rec.EndReason), answers, score)
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

func (s *RecordStore) GetRecord(ctx context.Context, sessionID string) (domain.SessionRecord, error) {
	var (
		rec                          domain.SessionRecord
		state, endReason             string
		questionIDs, answers, scores []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT session_id, assessment_id, question_ids, duration_seconds, started_at,
		       submitted_at, state, end_reason, answers, score
		FROM session_records WHERE session_id=$1`, sessionID).
		Scan(&rec.SessionID, &rec.AssessmentID, &questionIDs, &rec.DurationSeconds, &rec.StartedAt,
			&rec.SubmittedAt, &state, &endReason, &answers, &scores)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SessionRecord{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return domain.SessionRecord{}, fmt.Errorf("load session record: %w", err)
	}
	rec.State = domain.State(state)
	rec.EndReason = domain.EndReason(endReason)
	if err := json.Unmarshal(questionIDs, &rec.QuestionIDs); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("unmarshal question ids: %w", err)
	}
	if err := json.Unmarshal(answers, &rec.Answers); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("unmarshal answers: %w", err)
	}
	if err := json.Unmarshal(scores, &rec.Score); err != nil {
		return domain.SessionRecord{}, fmt.Errorf("unmarshal score: %w", err)
	}
	return rec, nil
}
