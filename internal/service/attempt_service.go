package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/repository"
)

// Attempt errors surfaced to handlers.
var (
	ErrTestNotFound         = errors.New("test not found")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrNoOpenAttempt        = errors.New("no open attempt")
	ErrAttemptExpired       = errors.New("attempt expired")
)

// AnswerError rejects a set of answers. Every offending answer gets its own
// message. UnknownQuestion is set when an answer names a question outside
// the test.
type AnswerError struct {
	Messages        []string
	UnknownQuestion bool
}

func (e *AnswerError) Error() string {
	return fmt.Sprintf("%d invalid answers: %v", len(e.Messages), e.Messages)
}

const (
	testCacheTTL = 5 * time.Minute
	// autosaveGrace is how long past the deadline autosaves are still
	// accepted. Submission is accepted at any time.
	autosaveGrace = 2 * time.Minute
)

// PersistAnswersJob is queued by Autosave and consumed by the autosave worker.
type PersistAnswersJob struct {
	AttemptID        int64               `json:"attempt_id"`
	RemainingSeconds int                 `json:"remaining_seconds"`
	Answers          []model.AnswerEntry `json:"answers"`
	SavedAt          time.Time           `json:"saved_at"`
}

// AttemptService implements the student attempt lifecycle: detail, begin or
// resume, autosave and submit. Autosaves land in Redis first and reach
// PostgreSQL through the persist queue; submission writes PostgreSQL directly.
type AttemptService struct {
	repo *repository.AttemptRepository
	rdb  *redis.Client
	log  zerolog.Logger
	now  func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(repo *repository.AttemptRepository, rdb *redis.Client, log zerolog.Logger) *AttemptService {
	return &AttemptService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "attempt_service").Logger(),
		now:  time.Now,
	}
}

// logger prefers the request-scoped logger carried by ctx so service logs
// keep the request id.
func (s *AttemptService) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		scoped := l.With().Str("component", "attempt_service").Logger()
		return &scoped
	}
	return &s.log
}

// Detail returns the test as shown before the student starts. It carries no
// answers; RemainingSeconds reflects the open attempt if there is one.
func (s *AttemptService) Detail(ctx context.Context, testID uuid.UUID, studentID int) (*model.AttemptSnapshot, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	used, err := s.repo.CountAttempts(ctx, s.repo.DB(), testID, studentID)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}

	snap := newSnapshot(test, nil)
	snap.RemainingSeconds = test.DurationSeconds
	snap.AttemptNumber = used + 1

	open, err := s.repo.GetOpenAttempt(ctx, s.repo.DB(), testID, studentID)
	switch {
	case err == nil:
		snap.Status = model.AttemptStatusInProgress
		snap.AttemptNumber = open.AttemptNumber
		snap.RemainingSeconds = open.Remaining(test.DurationSeconds, s.now())
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("get open attempt: %w", err)
	}
	return snap, nil
}

// Begin starts a new attempt (fresh) or continues the open one (resume).
// Resume without an open attempt starts a new one. A fresh start while an
// attempt is open closes the open one with whatever it has stored.
func (s *AttemptService) Begin(ctx context.Context, testID uuid.UUID, studentID int, mode model.StartMode) (*model.AttemptSnapshot, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	var (
		attempt *model.Attempt
		resumed bool
	)
	err = s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.LockStudentTest(ctx, tx, testID, studentID); err != nil {
			return fmt.Errorf("lock: %w", err)
		}

		open, err := s.repo.GetOpenAttempt(ctx, tx, testID, studentID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("get open attempt: %w", err)
		}
		if open != nil && mode == model.StartModeResume {
			attempt, resumed = open, true
			return nil
		}

		used, err := s.repo.CountAttempts(ctx, tx, testID, studentID)
		if err != nil {
			return fmt.Errorf("count attempts: %w", err)
		}
		if test.AttemptsExhausted(used) {
			return ErrAttemptLimitExceeded
		}

		if open != nil {
			if err := s.abandon(ctx, tx, test, open); err != nil {
				return err
			}
		}

		attempt, err = s.repo.CreateAttempt(ctx, tx, testID, studentID, used+1)
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAttemptLimitExceeded) {
			s.logger(ctx).Info().Str("test_id", testID.String()).Int("student_id", studentID).Msg("Attempt limit reached")
		}
		return nil, err
	}

	var answers []model.AnswerEntry
	if resumed {
		answers, err = s.storedAnswers(ctx, test, attempt)
		if err != nil {
			return nil, err
		}
	} else {
		s.clearBuffer(ctx, testID, studentID)
	}

	snap := newSnapshot(test, answers)
	snap.Status = model.AttemptStatusInProgress
	snap.AttemptNumber = attempt.AttemptNumber
	snap.RemainingSeconds = attempt.Remaining(test.DurationSeconds, s.now())

	s.logger(ctx).Info().
		Str("test_id", testID.String()).
		Int("student_id", studentID).
		Int64("attempt_id", attempt.ID).
		Str("mode", string(mode)).
		Bool("resumed", resumed).
		Int("remaining", snap.RemainingSeconds).
		Msg("Attempt begun")
	return snap, nil
}

// abandon closes an open attempt after flushing its buffered answers.
func (s *AttemptService) abandon(ctx context.Context, tx pgx.Tx, test *model.Test, open *model.Attempt) error {
	buffered, err := s.bufferedAnswers(ctx, test.ID, open.StudentID)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Int64("attempt_id", open.ID).Msg("Buffered answers unavailable while abandoning attempt")
	}
	if len(buffered) > 0 {
		if _, err := s.repo.UpsertAnswers(ctx, tx, open.ID, buffered, nil); err != nil {
			return fmt.Errorf("flush abandoned answers: %w", err)
		}
	}
	if _, err := s.repo.CloseAttempt(ctx, tx, open.ID, s.now()); err != nil {
		return fmt.Errorf("close abandoned attempt: %w", err)
	}
	return nil
}

// Autosave buffers answers in Redis and queues them for persistence.
func (s *AttemptService) Autosave(ctx context.Context, testID uuid.UUID, studentID int, req model.AutosaveRequest) (*model.AutosaveAck, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}
	open, err := s.openAttempt(ctx, testID, studentID)
	if err != nil {
		return nil, err
	}
	if remaining := open.Remaining(test.DurationSeconds, s.now()); remaining < -int(autosaveGrace.Seconds()) {
		return nil, ErrAttemptExpired
	}
	if err := validateAnswers(test, req.Answers); err != nil {
		return nil, err
	}

	savedAt := s.now()
	job, err := json.Marshal(PersistAnswersJob{
		AttemptID:        open.ID,
		RemainingSeconds: req.RemainingSeconds,
		Answers:          req.Answers,
		SavedAt:          savedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal persist job: %w", err)
	}

	answersKey := config.CacheKey.AttemptAnswersKey(testID.String(), studentID)
	remainingKey := config.CacheKey.AttemptRemainingKey(testID.String(), studentID)
	ttl := time.Duration(test.DurationSeconds)*time.Second + time.Hour

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(req.Answers) > 0 {
			fields := make([]any, 0, 2*len(req.Answers))
			for _, e := range req.Answers {
				raw, err := json.Marshal(e)
				if err != nil {
					return err
				}
				fields = append(fields, strconv.FormatInt(int64(e.QuestionID), 10), raw)
			}
			pipe.HSet(ctx, answersKey, fields...)
			pipe.Expire(ctx, answersKey, ttl)
		}
		pipe.Set(ctx, remainingKey, req.RemainingSeconds, ttl)
		pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("buffer autosave: %w", err)
	}

	s.logger(ctx).Debug().
		Int64("attempt_id", open.ID).
		Int("answers", len(req.Answers)).
		Int("remaining", req.RemainingSeconds).
		Msg("Autosave buffered")
	return &model.AutosaveAck{SavedAt: savedAt}, nil
}

// Submit stores the final answers and closes the attempt. Submitting again
// after a successful submission returns the stored result.
func (s *AttemptService) Submit(ctx context.Context, testID uuid.UUID, studentID int, req model.SubmitRequest) (*model.SubmitResult, error) {
	test, err := s.loadTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	open, err := s.openAttempt(ctx, testID, studentID)
	if errors.Is(err, ErrNoOpenAttempt) {
		latest, lerr := s.repo.GetLatestAttempt(ctx, s.repo.DB(), testID, studentID)
		if lerr == nil && latest.Status == model.AttemptStatusSubmitted && latest.SubmittedAt != nil {
			s.logger(ctx).Info().Int64("attempt_id", latest.ID).Msg("Repeated submission answered from stored result")
			return &model.SubmitResult{Score: latest.Score, SubmittedAt: *latest.SubmittedAt}, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if err := validateAnswers(test, req.Answers); err != nil {
		return nil, err
	}

	// Answers buffered by autosave but absent from the submission are kept.
	buffered, err := s.bufferedAnswers(ctx, testID, studentID)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Int64("attempt_id", open.ID).Msg("Answer buffer unavailable at submit")
	}
	final := mergeAnswers(buffered, req.Answers)

	var closed *model.Attempt
	err = s.repo.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.repo.UpsertAnswers(ctx, tx, open.ID, final, nil); err != nil {
			return fmt.Errorf("store answers: %w", err)
		}
		closed, err = s.repo.CloseAttempt(ctx, tx, open.ID, s.now())
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNoOpenAttempt
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.clearBuffer(ctx, testID, studentID)

	res := &model.SubmitResult{Score: closed.Score, SubmittedAt: *closed.SubmittedAt}
	ev := s.logger(ctx).Info().
		Str("test_id", testID.String()).
		Int("student_id", studentID).
		Int64("attempt_id", closed.ID).
		Int("answers", len(req.Answers))
	if res.Score != nil {
		ev = ev.Float64("score", *res.Score)
	}
	ev.Msg("Attempt submitted")
	return res, nil
}

func (s *AttemptService) openAttempt(ctx context.Context, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	open, err := s.repo.GetOpenAttempt(ctx, s.repo.DB(), testID, studentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNoOpenAttempt
	}
	if err != nil {
		return nil, fmt.Errorf("get open attempt: %w", err)
	}
	return open, nil
}

// loadTest reads the cached test payload, falling back to PostgreSQL.
func (s *AttemptService) loadTest(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	key := config.CacheKey.TestPayloadKey(testID.String())

	raw, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var t model.Test
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			return &t, nil
		}
		s.logger(ctx).Warn().Str("key", key).Msg("Corrupt test payload in cache, reloading")
	} else if !errors.Is(err, redis.Nil) {
		s.logger(ctx).Warn().Err(err).Str("key", key).Msg("Test cache read failed")
	}

	t, err := s.repo.GetPublishedTest(ctx, testID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get test: %w", err)
	}

	if payload, err := json.Marshal(t); err == nil {
		if err := s.rdb.Set(ctx, key, payload, testCacheTTL).Err(); err != nil {
			s.logger(ctx).Warn().Err(err).Str("key", key).Msg("Test cache write failed")
		}
	}
	return t, nil
}

// storedAnswers returns the answers of an open attempt: the Redis buffer when
// it has anything, PostgreSQL otherwise.
func (s *AttemptService) storedAnswers(ctx context.Context, test *model.Test, attempt *model.Attempt) ([]model.AnswerEntry, error) {
	buffered, err := s.bufferedAnswers(ctx, test.ID, attempt.StudentID)
	if err != nil {
		s.logger(ctx).Warn().Err(err).Int64("attempt_id", attempt.ID).Msg("Answer buffer unavailable, reading PostgreSQL")
	}
	if len(buffered) > 0 {
		return buffered, nil
	}
	entries, err := s.repo.ListAnswers(ctx, s.repo.DB(), attempt.ID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return entries, nil
}

func (s *AttemptService) bufferedAnswers(ctx context.Context, testID uuid.UUID, studentID int) ([]model.AnswerEntry, error) {
	key := config.CacheKey.AttemptAnswersKey(testID.String(), studentID)
	fields, err := s.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]model.AnswerEntry, 0, len(fields))
	for qid, raw := range fields {
		var e model.AnswerEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			s.logger(ctx).Warn().Str("question_id", qid).Msg("Skipping corrupt buffered answer")
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *AttemptService) clearBuffer(ctx context.Context, testID uuid.UUID, studentID int) {
	err := s.rdb.Del(ctx,
		config.CacheKey.AttemptAnswersKey(testID.String(), studentID),
		config.CacheKey.AttemptRemainingKey(testID.String(), studentID),
	).Err()
	if err != nil {
		s.logger(ctx).Warn().Err(err).Str("test_id", testID.String()).Int("student_id", studentID).Msg("Clear answer buffer failed")
	}
}

// mergeAnswers overlays override onto base by question.
func mergeAnswers(base, override []model.AnswerEntry) []model.AnswerEntry {
	if len(base) == 0 {
		return override
	}
	out := make([]model.AnswerEntry, 0, len(base)+len(override))
	seen := make(map[model.QuestionID]struct{}, len(override))
	for _, e := range override {
		seen[e.QuestionID] = struct{}{}
	}
	for _, e := range base {
		if _, ok := seen[e.QuestionID]; !ok {
			out = append(out, e)
		}
	}
	return append(out, override...)
}

// newSnapshot builds the client view of test. Answers belonging to unknown
// questions are dropped.
func newSnapshot(test *model.Test, answers []model.AnswerEntry) *model.AttemptSnapshot {
	byQuestion := make(map[model.QuestionID]model.AnswerEntry, len(answers))
	for _, e := range answers {
		byQuestion[e.QuestionID] = e
	}

	snap := &model.AttemptSnapshot{
		TestID:               test.ID,
		Title:                test.Title,
		TotalDurationSeconds: test.DurationSeconds,
		MaxAttempts:          test.MaxAttempts,
		Questions:            make([]model.SnapshotQuestion, 0, len(test.Questions)),
	}
	for _, q := range test.Questions {
		sq := model.SnapshotQuestion{Question: q, SelectedChoiceIDs: []model.ChoiceID{}}
		if e, ok := byQuestion[q.ID]; ok {
			if len(e.SelectedChoiceIDs) > 0 {
				sq.SelectedChoiceIDs = e.SelectedChoiceIDs
			}
			sq.AnswerText = e.Text
		}
		snap.Questions = append(snap.Questions, sq)
	}
	return snap
}

// validateAnswers checks every entry against the test and reports all
// problems at once.
func validateAnswers(test *model.Test, entries []model.AnswerEntry) error {
	var (
		msgs    []string
		unknown bool
	)
	seen := make(map[model.QuestionID]struct{}, len(entries))
	for i, e := range entries {
		if _, dup := seen[e.QuestionID]; dup {
			msgs = append(msgs, fmt.Sprintf("answers[%d]: question %d answered twice", i, e.QuestionID))
			continue
		}
		seen[e.QuestionID] = struct{}{}

		q, ok := test.Question(e.QuestionID)
		if !ok {
			unknown = true
			msgs = append(msgs, fmt.Sprintf("answers[%d]: question %d is not part of this test", i, e.QuestionID))
			continue
		}
		if _, err := model.DecodeAnswer(*q, e); err != nil {
			msgs = append(msgs, fmt.Sprintf("answers[%d]: %v", i, err))
		}
	}
	if len(msgs) > 0 {
		return &AnswerError{Messages: msgs, UnknownQuestion: unknown}
	}
	return nil
}
