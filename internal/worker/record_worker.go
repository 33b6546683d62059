package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"assessment-engine/internal/app"
	"assessment-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RecordWorker consumes the record queue and writes each terminal session record to a durable sink.
type RecordWorker struct {
	rdb        *redis.Client
	sink       app.RecordSink
	queue      string
	log        zerolog.Logger
	pollWait   time.Duration
	retryDelay time.Duration
	lost       atomic.Int64
}

// NewRecordWorker creates a new RecordWorker.
func NewRecordWorker(rdb *redis.Client, queue string, sink app.RecordSink, log zerolog.Logger) *RecordWorker {
	return &RecordWorker{
		rdb:        rdb,
		sink:       sink,
		queue:      queue,
		log:        log.With().Str("component", "record_worker").Logger(),
		pollWait:   time.Second,
		retryDelay: 5 * time.Second,
	}
}

// Run loops until ctx is cancelled, then drains what is left in the queue.
func (w *RecordWorker) Run(ctx context.Context) error {
	w.log.Info().Str("queue", w.queue).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return nil
		default:
			w.processNext(ctx)
		}
	}
}

func (w *RecordWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, w.pollWait, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	rec, err := decodeRecord(result[1])
	if err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping item")
		return
	}

	if err := w.sink.SaveRecord(ctx, rec); err != nil {
		if !w.requeue(context.Background(), rec.SessionID, result[1], err) {
			return
		}
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
		return
	}
	w.log.Debug().Str("session_id", rec.SessionID).Msg("Record persisted")
}

// drain persists everything still queued before shutdown.
func (w *RecordWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		rec, err := decodeRecord(raw)
		if err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.sink.SaveRecord(ctx, rec); err != nil {
			w.requeue(ctx, rec.SessionID, raw, err)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}

// requeue pushes a record that failed to persist back onto the queue. When Redis rejects
// the push the record exists nowhere else, so the raw payload goes to the error log.
func (w *RecordWorker) requeue(ctx context.Context, sessionID, raw string, cause error) bool {
	if err := w.rdb.RPush(ctx, w.queue, raw).Err(); err != nil {
		w.log.Error().Err(err).
			AnErr("persist_error", cause).
			Str("session_id", sessionID).
			Str("record", raw).
			Msg("Requeue failed, record lost")
		w.lost.Add(1)
		return false
	}
	w.log.Error().Err(cause).
		Str("session_id", sessionID).
		Dur("retry_in", w.retryDelay).
		Msg("Persist error, requeued")
	return true
}

// Lost is the number of records that could neither be persisted nor requeued.
func (w *RecordWorker) Lost() int64 {
	return w.lost.Load()
}

func decodeRecord(raw string) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	err := json.Unmarshal([]byte(raw), &rec)
	return rec, err
}
