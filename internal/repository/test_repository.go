package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// TestRepository writes test content. Students only ever read tests through
// AttemptRepository.
type TestRepository struct {
	pool *pgxpool.Pool
}

// NewTestRepository creates a new TestRepository.
func NewTestRepository(pool *pgxpool.Pool) *TestRepository {
	return &TestRepository{pool: pool}
}

// Create inserts t with its questions and choices in one transaction. The
// generated ids are written back into t.
func (r *TestRepository) Create(ctx context.Context, t *model.Test) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO tests (title, duration_seconds, max_attempts, status)
			 VALUES ($1, $2, $3, $4) RETURNING id`,
			t.Title, t.DurationSeconds, t.MaxAttempts, t.Status,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("insert test: %w", err)
		}

		for i := range t.Questions {
			q := &t.Questions[i]
			err := tx.QueryRow(ctx,
				`INSERT INTO questions (test_id, order_num, content, question_type, simulation)
				 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
				t.ID, i+1, q.Content, q.Type, q.Simulation,
			).Scan(&q.ID)
			if err != nil {
				return fmt.Errorf("insert question %d: %w", i+1, err)
			}

			for j := range q.Choices {
				c := &q.Choices[j]
				err := tx.QueryRow(ctx,
					`INSERT INTO choices (question_id, order_num, content)
					 VALUES ($1, $2, $3) RETURNING id`,
					q.ID, j+1, c.Content,
				).Scan(&c.ID)
				if err != nil {
					return fmt.Errorf("insert choice %d of question %d: %w", j+1, i+1, err)
				}
			}
		}
		return nil
	})
}
