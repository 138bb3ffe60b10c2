package model

import (
	"fmt"
	"sort"
	"strings"
)

// AnswerKind is the shape of an answer, derived from the question type.
type AnswerKind int

const (
	// AnswerKindSingle holds at most one selected choice.
	AnswerKindSingle AnswerKind = iota + 1
	// AnswerKindMulti holds a set of selected choices.
	AnswerKindMulti
	// AnswerKindText holds free text.
	AnswerKindText
)

func (k AnswerKind) String() string {
	switch k {
	case AnswerKindSingle:
		return "single"
	case AnswerKindMulti:
		return "multi"
	case AnswerKindText:
		return "text"
	default:
		return fmt.Sprintf("AnswerKind(%d)", int(k))
	}
}

// AnswerKindFor maps every question type to its answer shape. Adding a
// question type without extending this switch fails every load.
func AnswerKindFor(t QuestionType) (AnswerKind, error) {
	switch t {
	case QuestionTypeSingleChoice, QuestionTypeTrueFalse, QuestionTypeSimulation:
		return AnswerKindSingle, nil
	case QuestionTypeMultiChoice:
		return AnswerKindMulti, nil
	case QuestionTypeFillIn, QuestionTypeEssay:
		return AnswerKindText, nil
	default:
		return 0, fmt.Errorf("unknown question type %q", t)
	}
}

// Answer is the tagged variant stored per question. The concrete types are
// SingleAnswer, MultiAnswer and TextAnswer.
type Answer interface {
	Kind() AnswerKind
	IsEmpty() bool
	// Clone returns a copy that shares no mutable state with the receiver.
	Clone() Answer
}

// SingleAnswer answers SingleChoice, TrueFalse and Simulation questions.
type SingleAnswer struct {
	Choice   ChoiceID
	Selected bool
}

// Select returns a SingleAnswer holding id.
func Select(id ChoiceID) SingleAnswer {
	return SingleAnswer{Choice: id, Selected: true}
}

func (a SingleAnswer) Kind() AnswerKind { return AnswerKindSingle }
func (a SingleAnswer) IsEmpty() bool    { return !a.Selected }
func (a SingleAnswer) Clone() Answer    { return a }

// MultiAnswer answers MultiChoice questions. Order is irrelevant.
type MultiAnswer struct {
	Choices map[ChoiceID]struct{}
}

// NewMultiAnswer builds a set from ids.
func NewMultiAnswer(ids ...ChoiceID) MultiAnswer {
	set := make(map[ChoiceID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return MultiAnswer{Choices: set}
}

func (a MultiAnswer) Kind() AnswerKind { return AnswerKindMulti }
func (a MultiAnswer) IsEmpty() bool    { return len(a.Choices) == 0 }

func (a MultiAnswer) Clone() Answer {
	return NewMultiAnswer(a.IDs()...)
}

// Has reports whether id is selected.
func (a MultiAnswer) Has(id ChoiceID) bool {
	_, ok := a.Choices[id]
	return ok
}

// IDs returns the selected ids in ascending order.
func (a MultiAnswer) IDs() []ChoiceID {
	ids := make([]ChoiceID, 0, len(a.Choices))
	for id := range a.Choices {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// TextAnswer answers FillIn and Essay questions.
type TextAnswer struct {
	Text string
}

func (a TextAnswer) Kind() AnswerKind { return AnswerKindText }
func (a TextAnswer) IsEmpty() bool    { return strings.TrimSpace(a.Text) == "" }
func (a TextAnswer) Clone() Answer    { return a }

// EmptyAnswer returns the explicit unanswered value for a question type.
func EmptyAnswer(t QuestionType) (Answer, error) {
	kind, err := AnswerKindFor(t)
	if err != nil {
		return nil, err
	}
	switch kind {
	case AnswerKindSingle:
		return SingleAnswer{}, nil
	case AnswerKindMulti:
		return NewMultiAnswer(), nil
	case AnswerKindText:
		return TextAnswer{}, nil
	default:
		return nil, fmt.Errorf("no empty answer for kind %s", kind)
	}
}

// AnswerEntry is the wire form of one answer, shared by autosave, submit and
// resume snapshots.
type AnswerEntry struct {
	QuestionID        QuestionID `json:"question_id" binding:"required"`
	SelectedChoiceIDs []ChoiceID `json:"selected_choice_ids"`
	Text              *string    `json:"text,omitempty"`
}

// IsEmpty reports whether the entry carries no selection and no text.
func (e AnswerEntry) IsEmpty() bool {
	return len(e.SelectedChoiceIDs) == 0 && (e.Text == nil || strings.TrimSpace(*e.Text) == "")
}

// EncodeAnswer converts an answer into its wire form.
func EncodeAnswer(id QuestionID, a Answer) AnswerEntry {
	entry := AnswerEntry{QuestionID: id, SelectedChoiceIDs: []ChoiceID{}}
	switch v := a.(type) {
	case SingleAnswer:
		if v.Selected {
			entry.SelectedChoiceIDs = []ChoiceID{v.Choice}
		}
	case MultiAnswer:
		entry.SelectedChoiceIDs = v.IDs()
	case TextAnswer:
		text := v.Text
		entry.Text = &text
	}
	return entry
}

// DecodeAnswer rebuilds an answer for q from its wire form, rejecting
// selections that are not choices of q.
func DecodeAnswer(q Question, e AnswerEntry) (Answer, error) {
	kind, err := AnswerKindFor(q.Type)
	if err != nil {
		return nil, err
	}
	for _, id := range e.SelectedChoiceIDs {
		if !q.HasChoice(id) {
			return nil, fmt.Errorf("question %d: unknown choice %d", q.ID, id)
		}
	}
	switch kind {
	case AnswerKindSingle:
		switch len(e.SelectedChoiceIDs) {
		case 0:
			return SingleAnswer{}, nil
		case 1:
			return Select(e.SelectedChoiceIDs[0]), nil
		default:
			return nil, fmt.Errorf("question %d: %d selections for a single-choice question", q.ID, len(e.SelectedChoiceIDs))
		}
	case AnswerKindMulti:
		return NewMultiAnswer(e.SelectedChoiceIDs...), nil
	case AnswerKindText:
		if len(e.SelectedChoiceIDs) > 0 {
			return nil, fmt.Errorf("question %d: choices given for a text question", q.ID)
		}
		if e.Text == nil {
			return TextAnswer{}, nil
		}
		return TextAnswer{Text: *e.Text}, nil
	default:
		return nil, fmt.Errorf("question %d: unhandled answer kind %s", q.ID, kind)
	}
}
