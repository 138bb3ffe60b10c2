package session

import (
	"fmt"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// AnswerBuffer holds one answer per question, always fully populated: an
// unanswered question maps to its explicit empty answer, never to a missing
// key. It is not safe for concurrent use; the Controller guards it.
type AnswerBuffer struct {
	order     []model.QuestionID
	questions map[model.QuestionID]*model.Question
	answers   map[model.QuestionID]model.Answer
}

// NewAnswerBuffer creates a buffer with every question unanswered.
func NewAnswerBuffer(questions []model.Question) (*AnswerBuffer, error) {
	b := &AnswerBuffer{
		order:     make([]model.QuestionID, 0, len(questions)),
		questions: make(map[model.QuestionID]*model.Question, len(questions)),
		answers:   make(map[model.QuestionID]model.Answer, len(questions)),
	}
	for i := range questions {
		q := &questions[i]
		if _, dup := b.questions[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question %d", q.ID)
		}
		empty, err := model.EmptyAnswer(q.Type)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", q.ID, err)
		}
		b.order = append(b.order, q.ID)
		b.questions[q.ID] = q
		b.answers[q.ID] = empty
	}
	return b, nil
}

// Set overwrites the answer for id wholesale.
func (b *AnswerBuffer) Set(id model.QuestionID, a model.Answer) error {
	q, ok := b.questions[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, id)
	}
	if a == nil {
		return fmt.Errorf("%w: nil answer for question %d", ErrTypeMismatch, id)
	}
	kind, err := model.AnswerKindFor(q.Type)
	if err != nil {
		return err
	}
	if a.Kind() != kind {
		return fmt.Errorf("%w: question %d is %s, got %s answer", ErrTypeMismatch, id, q.Type, a.Kind())
	}

	switch v := a.(type) {
	case model.SingleAnswer:
		if v.Selected && !q.HasChoice(v.Choice) {
			return fmt.Errorf("%w: choice %d on question %d", ErrUnknownChoice, v.Choice, id)
		}
	case model.MultiAnswer:
		for c := range v.Choices {
			if !q.HasChoice(c) {
				return fmt.Errorf("%w: choice %d on question %d", ErrUnknownChoice, c, id)
			}
		}
	case model.TextAnswer:
	default:
		return fmt.Errorf("%w: unsupported answer %T", ErrTypeMismatch, a)
	}

	b.answers[id] = a.Clone()
	return nil
}

// Toggle flips choice on a choice-based question. Multi-choice questions get
// set union/difference; single-choice questions select the choice, or clear
// it when it is already the selection.
func (b *AnswerBuffer) Toggle(id model.QuestionID, choice model.ChoiceID) error {
	q, ok := b.questions[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, id)
	}
	if !q.HasChoice(choice) {
		return fmt.Errorf("%w: choice %d on question %d", ErrUnknownChoice, choice, id)
	}

	switch cur := b.answers[id].(type) {
	case model.MultiAnswer:
		next := cur.Clone().(model.MultiAnswer)
		if next.Has(choice) {
			delete(next.Choices, choice)
		} else {
			next.Choices[choice] = struct{}{}
		}
		b.answers[id] = next
	case model.SingleAnswer:
		if cur.Selected && cur.Choice == choice {
			b.answers[id] = model.SingleAnswer{}
		} else {
			b.answers[id] = model.Select(choice)
		}
	default:
		return fmt.Errorf("%w: question %d (%s) has no choices to toggle", ErrTypeMismatch, id, q.Type)
	}
	return nil
}

// Clear resets id to its empty answer.
func (b *AnswerBuffer) Clear(id model.QuestionID) error {
	q, ok := b.questions[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownQuestion, id)
	}
	empty, err := model.EmptyAnswer(q.Type)
	if err != nil {
		return err
	}
	b.answers[id] = empty
	return nil
}

// Get returns a copy of the answer for id.
func (b *AnswerBuffer) Get(id model.QuestionID) (model.Answer, bool) {
	a, ok := b.answers[id]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Load replaces answers from server entries. Questions without an entry
// become unanswered; nothing from the previous content survives.
func (b *AnswerBuffer) Load(entries []model.AnswerEntry) error {
	next := make(map[model.QuestionID]model.Answer, len(b.order))
	for _, id := range b.order {
		empty, err := model.EmptyAnswer(b.questions[id].Type)
		if err != nil {
			return err
		}
		next[id] = empty
	}
	for _, e := range entries {
		q, ok := b.questions[e.QuestionID]
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownQuestion, e.QuestionID)
		}
		a, err := model.DecodeAnswer(*q, e)
		if err != nil {
			return err
		}
		next[e.QuestionID] = a
	}
	b.answers = next
	return nil
}

// Snapshot encodes every answer in question order.
func (b *AnswerBuffer) Snapshot() []model.AnswerEntry {
	out := make([]model.AnswerEntry, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, model.EncodeAnswer(id, b.answers[id]))
	}
	return out
}

// Answered counts questions with a non-empty answer.
func (b *AnswerBuffer) Answered() int {
	n := 0
	for _, a := range b.answers {
		if !a.IsEmpty() {
			n++
		}
	}
	return n
}

// HasAnswers reports whether any question is answered.
func (b *AnswerBuffer) HasAnswers() bool {
	return b.Answered() > 0
}

// Len returns the number of questions.
func (b *AnswerBuffer) Len() int {
	return len(b.order)
}
