package model

import (
	"encoding/json"
	"fmt"
)

// QuestionID identifies a question within a test.
type QuestionID int64

// ChoiceID identifies a choice within a question.
type ChoiceID int64

// QuestionType enumerates the supported question shapes.
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "SINGLE_CHOICE"
	QuestionTypeMultiChoice  QuestionType = "MULTI_CHOICE"
	QuestionTypeTrueFalse    QuestionType = "TRUE_FALSE"
	QuestionTypeFillIn       QuestionType = "FILL_IN"
	QuestionTypeSimulation   QuestionType = "SIMULATION"
	QuestionTypeEssay        QuestionType = "ESSAY"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	_, err := AnswerKindFor(t)
	return err == nil
}

// Choice is one selectable option. Correctness never reaches the client.
type Choice struct {
	ID      ChoiceID `json:"id"`
	Content string   `json:"content"`
}

// Simulation is the payload delivered to the embedded viewport when the
// question becomes active.
type Simulation struct {
	ToolName string          `json:"tool_name"`
	Payload  json.RawMessage `json:"payload"`
}

// Question represents a single item of an attempt.
type Question struct {
	ID         QuestionID   `json:"id"`
	Content    string       `json:"content"`
	Type       QuestionType `json:"type"`
	Choices    []Choice     `json:"choices"`
	Simulation *Simulation  `json:"simulation,omitempty"`
}

// HasSimulation reports whether the handshake activates for this question.
func (q *Question) HasSimulation() bool {
	return q.Simulation != nil && len(q.Simulation.Payload) > 0
}

// HasChoice reports whether id belongs to the question.
func (q *Question) HasChoice(id ChoiceID) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// Validate checks the structural invariants of a loaded question.
func (q *Question) Validate() error {
	kind, err := AnswerKindFor(q.Type)
	if err != nil {
		return fmt.Errorf("question %d: %w", q.ID, err)
	}
	seen := make(map[ChoiceID]struct{}, len(q.Choices))
	for _, c := range q.Choices {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("question %d: duplicate choice %d", q.ID, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	// A simulation may be observation only; its answer then stays empty.
	if kind != AnswerKindText && q.Type != QuestionTypeSimulation && len(q.Choices) == 0 {
		return fmt.Errorf("question %d: %s question has no choices", q.ID, q.Type)
	}
	return nil
}
