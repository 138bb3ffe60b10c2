package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Querier is satisfied by both the pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// AttemptRepository handles tests, attempts and stored answers.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// DB returns the pool as a Querier for reads outside a transaction.
func (r *AttemptRepository) DB() Querier {
	return r.pool
}

// InTx runs fn inside a transaction, committing when fn returns nil.
func (r *AttemptRepository) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, fn)
}

// GetPublishedTest loads a published test with its ordered questions and choices.
func (r *AttemptRepository) GetPublishedTest(ctx context.Context, testID uuid.UUID) (*model.Test, error) {
	t := &model.Test{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_seconds, max_attempts, status
		 FROM tests WHERE id = $1 AND status = $2`, testID, model.TestStatusPublished,
	).Scan(&t.ID, &t.Title, &t.DurationSeconds, &t.MaxAttempts, &t.Status)
	if err != nil {
		return nil, notFound(err)
	}

	questions, err := r.listQuestions(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	t.Questions = questions
	return t, nil
}

func (r *AttemptRepository) listQuestions(ctx context.Context, testID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, content, question_type, simulation
		 FROM questions WHERE test_id = $1
		 ORDER BY order_num`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	index := make(map[model.QuestionID]int)
	for rows.Next() {
		var q model.Question
		var sim []byte
		if err := rows.Scan(&q.ID, &q.Content, &q.Type, &sim); err != nil {
			return nil, err
		}
		if len(sim) > 0 {
			q.Simulation = &model.Simulation{}
			if err := json.Unmarshal(sim, q.Simulation); err != nil {
				return nil, fmt.Errorf("question %d simulation: %w", q.ID, err)
			}
		}
		index[q.ID] = len(questions)
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	choiceRows, err := r.pool.Query(ctx,
		`SELECT c.question_id, c.id, c.content
		 FROM choices c JOIN questions q ON q.id = c.question_id
		 WHERE q.test_id = $1
		 ORDER BY q.order_num, c.order_num`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer choiceRows.Close()

	for choiceRows.Next() {
		var qid model.QuestionID
		var c model.Choice
		if err := choiceRows.Scan(&qid, &c.ID, &c.Content); err != nil {
			return nil, err
		}
		if i, ok := index[qid]; ok {
			questions[i].Choices = append(questions[i].Choices, c)
		}
	}
	return questions, choiceRows.Err()
}

// LockStudentTest serializes attempt creation for one student and test until
// tx ends.
func (r *AttemptRepository) LockStudentTest(ctx context.Context, tx pgx.Tx, testID uuid.UUID, studentID int) error {
	_, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text, $2))`,
		testID.String(), int64(studentID))
	return err
}

// CountAttempts returns how many attempts the student has started.
func (r *AttemptRepository) CountAttempts(ctx context.Context, q Querier, testID uuid.UUID, studentID int) (int, error) {
	var n int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM attempts WHERE test_id = $1 AND student_id = $2`,
		testID, studentID,
	).Scan(&n)
	return n, err
}

const attemptColumns = `id, test_id, student_id, attempt_number, started_at, submitted_at, status, score`

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	if err := row.Scan(&a.ID, &a.TestID, &a.StudentID, &a.AttemptNumber, &a.StartedAt, &a.SubmittedAt, &a.Status, &a.Score); err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// GetOpenAttempt returns the student's IN_PROGRESS attempt.
func (r *AttemptRepository) GetOpenAttempt(ctx context.Context, q Querier, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(q.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE test_id = $1 AND student_id = $2 AND status = $3`,
		testID, studentID, model.AttemptStatusInProgress,
	))
}

// GetLatestAttempt returns the student's most recent attempt of any status.
func (r *AttemptRepository) GetLatestAttempt(ctx context.Context, q Querier, testID uuid.UUID, studentID int) (*model.Attempt, error) {
	return scanAttempt(q.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM attempts
		 WHERE test_id = $1 AND student_id = $2
		 ORDER BY attempt_number DESC
		 LIMIT 1`,
		testID, studentID,
	))
}

// CreateAttempt opens attempt number n for the student.
func (r *AttemptRepository) CreateAttempt(ctx context.Context, q Querier, testID uuid.UUID, studentID, n int) (*model.Attempt, error) {
	return scanAttempt(q.QueryRow(ctx,
		`INSERT INTO attempts (test_id, student_id, attempt_number, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+attemptColumns,
		testID, studentID, n, model.AttemptStatusInProgress,
	))
}

// CloseAttempt marks an attempt SUBMITTED and returns its stored score.
// Closing an already submitted attempt is a no-op that returns ErrNotFound.
func (r *AttemptRepository) CloseAttempt(ctx context.Context, q Querier, attemptID int64, at time.Time) (*model.Attempt, error) {
	return scanAttempt(q.QueryRow(ctx,
		`UPDATE attempts
		 SET status = $1, submitted_at = $2
		 WHERE id = $3 AND status = $4
		 RETURNING `+attemptColumns,
		model.AttemptStatusSubmitted, at, attemptID, model.AttemptStatusInProgress,
	))
}

// ListAnswers returns the stored answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, q Querier, attemptID int64) ([]model.AnswerEntry, error) {
	rows, err := q.Query(ctx,
		`SELECT question_id, selected_choice_ids, answer_text
		 FROM attempt_answers WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.AnswerEntry
	for rows.Next() {
		var e model.AnswerEntry
		var ids []int64
		if err := rows.Scan(&e.QuestionID, &ids, &e.Text); err != nil {
			return nil, err
		}
		e.SelectedChoiceIDs = make([]model.ChoiceID, len(ids))
		for i, id := range ids {
			e.SelectedChoiceIDs[i] = model.ChoiceID(id)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpsertAnswers writes answers for an attempt that is still open. Writes for
// a submitted attempt are silently skipped so a late autosave can never
// overwrite the final submission. It reports how many rows were written.
func (r *AttemptRepository) UpsertAnswers(ctx context.Context, q Querier, attemptID int64, entries []model.AnswerEntry, reportedRemaining *int) (int, error) {
	if len(entries) == 0 && reportedRemaining == nil {
		return 0, nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		ids := make([]int64, len(e.SelectedChoiceIDs))
		for i, id := range e.SelectedChoiceIDs {
			ids[i] = int64(id)
		}
		batch.Queue(
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_choice_ids, answer_text)
			 SELECT $1, $2, $3, $4
			 WHERE EXISTS (SELECT 1 FROM attempts WHERE id = $1 AND status = $5)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_choice_ids = EXCLUDED.selected_choice_ids,
			     answer_text = EXCLUDED.answer_text,
			     updated_at = NOW()`,
			attemptID, int64(e.QuestionID), ids, e.Text, model.AttemptStatusInProgress,
		)
	}
	if reportedRemaining != nil {
		batch.Queue(
			`UPDATE attempts SET reported_remaining = $1 WHERE id = $2 AND status = $3`,
			*reportedRemaining, attemptID, model.AttemptStatusInProgress,
		)
	}

	results := q.SendBatch(ctx, batch)
	defer results.Close()

	written := 0
	for range entries {
		tag, err := results.Exec()
		if err != nil {
			return written, err
		}
		written += int(tag.RowsAffected())
	}
	if reportedRemaining != nil {
		if _, err := results.Exec(); err != nil {
			return written, err
		}
	}
	return written, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
