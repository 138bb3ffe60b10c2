package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
	"github.com/stemsi/exstem-attempt/internal/service"
)

// AnswerStore persists buffered answers of an open attempt.
type AnswerStore interface {
	DB() repository.Querier
	UpsertAnswers(ctx context.Context, q repository.Querier, attemptID int64, entries []model.AnswerEntry, reportedRemaining *int) (int, error)
}

// AutosaveWorker consumes the persist queue filled by autosaves and UPSERTs
// answers to PostgreSQL.
type AutosaveWorker struct {
	store AnswerStore
	rdb   *redis.Client
	queue string
	log   zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(store AnswerStore, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		store: store,
		rdb:   rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine. done is closed
// once the queue has been drained after ctx ends.
func (w *AutosaveWorker) Start(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	w.log.Info().Str("queue", w.queue).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.drain(drainCtx)
			cancel()
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *AutosaveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, w.queue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
			time.Sleep(time.Second)
		}
		return
	}

	if len(result) < 2 {
		return
	}

	job, ok := w.decode(result[1])
	if !ok {
		return
	}

	if err := w.persist(ctx, job); err != nil {
		w.log.Error().Err(err).
			Int64("attempt_id", job.AttemptID).
			Msg("Persist error, retrying in 5s")
		// Push back to the head so newer autosaves for the attempt stay behind it.
		w.rdb.LPush(context.Background(), w.queue, result[1])
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
	}
}

func (w *AutosaveWorker) decode(raw string) (*service.PersistAnswersJob, bool) {
	var job service.PersistAnswersJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping job")
		return nil, false
	}
	if job.AttemptID == 0 {
		w.log.Error().Msg("Job without attempt id, dropping")
		return nil, false
	}
	return &job, true
}

func (w *AutosaveWorker) persist(ctx context.Context, job *service.PersistAnswersJob) error {
	remaining := job.RemainingSeconds
	written, err := w.store.UpsertAnswers(ctx, w.store.DB(), job.AttemptID, job.Answers, &remaining)
	if err != nil {
		return err
	}
	if written < len(job.Answers) {
		// The attempt was submitted before this autosave reached PostgreSQL.
		w.log.Debug().
			Int64("attempt_id", job.AttemptID).
			Int("skipped", len(job.Answers)-written).
			Msg("Late autosave skipped")
	}
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, w.queue).Result()
		if err != nil {
			break
		}

		job, ok := w.decode(result)
		if !ok {
			continue
		}

		if err := w.persist(ctx, job); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.LPush(context.Background(), w.queue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
