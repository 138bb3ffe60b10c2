package model

import (
	"time"

	"github.com/google/uuid"
)

// TestStatus controls whether students can see a test.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "DRAFT"
	TestStatusPublished TestStatus = "PUBLISHED"
	TestStatusArchived  TestStatus = "ARCHIVED"
)

// Test is an assigned test as stored by the attempt API.
type Test struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration_seconds"`
	// MaxAttempts of 0 means unlimited.
	MaxAttempts int        `json:"max_attempts"`
	Status      TestStatus `json:"status"`
	Questions   []Question `json:"questions,omitempty"`
}

// Question returns the question with id.
func (t *Test) Question(id QuestionID) (*Question, bool) {
	for i := range t.Questions {
		if t.Questions[i].ID == id {
			return &t.Questions[i], true
		}
	}
	return nil, false
}

// AttemptsExhausted reports whether used attempts leave no room for another.
func (t *Test) AttemptsExhausted(used int) bool {
	return t.MaxAttempts > 0 && used >= t.MaxAttempts
}

// Attempt is one student's attempt at a test.
type Attempt struct {
	ID            int64         `json:"id"`
	TestID        uuid.UUID     `json:"test_id"`
	StudentID     int           `json:"student_id"`
	AttemptNumber int           `json:"attempt_number"`
	StartedAt     time.Time     `json:"started_at"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	Status        AttemptStatus `json:"status"`
	Score         *float64      `json:"score,omitempty"`
}

// Remaining returns the seconds left at now. The result is negative once the
// attempt has outlived the test duration.
func (a *Attempt) Remaining(durationSeconds int, now time.Time) int {
	end := a.StartedAt.Add(time.Duration(durationSeconds) * time.Second)
	return int(end.Sub(now).Seconds())
}
