package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates the server-side attempt states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// StartMode selects between a fresh attempt and resuming the open one.
type StartMode string

const (
	StartModeFresh  StartMode = "fresh"
	StartModeResume StartMode = "resume"
)

// Valid reports whether m is a known mode.
func (m StartMode) Valid() bool {
	return m == StartModeFresh || m == StartModeResume
}

// SnapshotQuestion is a question as reported by the server, with the
// student's stored selections for that question.
type SnapshotQuestion struct {
	Question
	SelectedChoiceIDs []ChoiceID `json:"selected_choice_ids"`
	AnswerText        *string    `json:"answer_text,omitempty"`
}

// AttemptSnapshot is what the server returns when an attempt is fetched or begun.
type AttemptSnapshot struct {
	TestID               uuid.UUID `json:"test_id"`
	Title                string    `json:"title"`
	TotalDurationSeconds int       `json:"total_duration_seconds"`
	// RemainingSeconds may be negative when the attempt outlived its duration.
	RemainingSeconds int                `json:"remaining_seconds"`
	MaxAttempts      int                `json:"max_attempts"`
	AttemptNumber    int                `json:"attempt_number"`
	Status           AttemptStatus      `json:"status,omitempty"`
	Questions        []SnapshotQuestion `json:"questions"`
}

// Entry returns the wire answer stored for q.
func (q SnapshotQuestion) Entry() AnswerEntry {
	return AnswerEntry{
		QuestionID:        q.ID,
		SelectedChoiceIDs: q.SelectedChoiceIDs,
		Text:              q.AnswerText,
	}
}

// Validate checks that the snapshot can back an attempt.
func (s *AttemptSnapshot) Validate() error {
	if s.TestID == uuid.Nil {
		return fmt.Errorf("snapshot has no test id")
	}
	if s.TotalDurationSeconds < 0 {
		return fmt.Errorf("snapshot duration %d is negative", s.TotalDurationSeconds)
	}
	seen := make(map[QuestionID]struct{}, len(s.Questions))
	for i := range s.Questions {
		q := &s.Questions[i].Question
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("duplicate question %d", q.ID)
		}
		seen[q.ID] = struct{}{}
		if err := q.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// AutosaveRequest is the payload persisted by an autosave.
type AutosaveRequest struct {
	RemainingSeconds int           `json:"remaining_seconds" binding:"min=0"`
	Answers          []AnswerEntry `json:"answers" binding:"dive"`
}

// AutosaveAck acknowledges a persisted autosave.
type AutosaveAck struct {
	SavedAt time.Time `json:"saved_at"`
}

// SubmitRequest is the payload of a final submission.
type SubmitRequest struct {
	Answers []AnswerEntry `json:"answers" binding:"dive"`
}

// SubmitResult carries the score when the server has one.
type SubmitResult struct {
	Score       *float64  `json:"score,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// BeginAttemptRequest is the payload for starting or resuming an attempt.
type BeginAttemptRequest struct {
	Mode StartMode `json:"mode" binding:"required,oneof=fresh resume"`
}
