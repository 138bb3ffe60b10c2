package session

import (
	"testing"

	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer(t *testing.T) *AnswerBuffer {
	t.Helper()
	b, err := NewAnswerBuffer(questionsOf(sampleSnapshot(600)))
	require.NoError(t, err)
	return b
}

func TestAnswerBuffer_StartsFullyPopulated(t *testing.T) {
	b := newTestBuffer(t)

	assert.Equal(t, 4, b.Len())
	assert.Equal(t, 0, b.Answered())
	for _, id := range []model.QuestionID{1, 2, 3, 4} {
		a, ok := b.Get(id)
		require.True(t, ok, "question %d", id)
		assert.True(t, a.IsEmpty())
	}
}

func TestAnswerBuffer_Toggle(t *testing.T) {
	b := newTestBuffer(t)

	require.NoError(t, b.Toggle(2, 10))
	require.NoError(t, b.Toggle(2, 12))
	require.NoError(t, b.Toggle(2, 10))
	multi, _ := b.Get(2)
	assert.Equal(t, []model.ChoiceID{12}, multi.(model.MultiAnswer).IDs())

	require.NoError(t, b.Toggle(1, 5))
	require.NoError(t, b.Toggle(1, 6))
	single, _ := b.Get(1)
	assert.Equal(t, model.Select(6), single)

	require.NoError(t, b.Toggle(1, 6))
	single, _ = b.Get(1)
	assert.True(t, single.IsEmpty())

	assert.ErrorIs(t, b.Toggle(3, 1), ErrUnknownChoice)
	assert.ErrorIs(t, b.Toggle(2, 5), ErrUnknownChoice)
	assert.ErrorIs(t, b.Toggle(42, 5), ErrUnknownQuestion)
}

func TestAnswerBuffer_GetReturnsCopy(t *testing.T) {
	b := newTestBuffer(t)
	require.NoError(t, b.Set(2, model.NewMultiAnswer(10)))

	a, _ := b.Get(2)
	a.(model.MultiAnswer).Choices[11] = struct{}{}

	again, _ := b.Get(2)
	assert.Equal(t, []model.ChoiceID{10}, again.(model.MultiAnswer).IDs())
}

func TestAnswerBuffer_LoadReplacesEverything(t *testing.T) {
	b := newTestBuffer(t)
	require.NoError(t, b.Set(1, model.Select(7)))
	require.NoError(t, b.Set(3, model.TextAnswer{Text: "nháp"}))

	require.NoError(t, b.Load([]model.AnswerEntry{
		{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{5}},
	}))

	a, _ := b.Get(1)
	assert.Equal(t, model.Select(5), a)
	text, _ := b.Get(3)
	assert.True(t, text.IsEmpty(), "answers absent from the server are cleared")
	assert.Equal(t, 1, b.Answered())
}

func TestAnswerBuffer_LoadRejectsForeignData(t *testing.T) {
	tests := []struct {
		name  string
		entry model.AnswerEntry
	}{
		{"unknown question", model.AnswerEntry{QuestionID: 99}},
		{"unknown choice", model.AnswerEntry{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{11}}},
		{"two selections on single choice", model.AnswerEntry{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{5, 6}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuffer(t)
			require.NoError(t, b.Set(1, model.Select(7)))

			assert.Error(t, b.Load([]model.AnswerEntry{tt.entry}))

			a, _ := b.Get(1)
			assert.Equal(t, model.Select(7), a, "a failed load leaves the buffer untouched")
		})
	}
}

func TestAnswerBuffer_SnapshotInQuestionOrder(t *testing.T) {
	b := newTestBuffer(t)
	require.NoError(t, b.Set(4, model.Select(20)))
	require.NoError(t, b.Set(3, model.TextAnswer{Text: "u + v"}))

	snap := b.Snapshot()

	require.Len(t, snap, 4)
	for i, id := range []model.QuestionID{1, 2, 3, 4} {
		assert.Equal(t, id, snap[i].QuestionID)
	}
	assert.Empty(t, snap[0].SelectedChoiceIDs)
	assert.NotNil(t, snap[0].SelectedChoiceIDs, "empty selections encode as [] not null")
	require.NotNil(t, snap[2].Text)
	assert.Equal(t, "u + v", *snap[2].Text)
	assert.Equal(t, []model.ChoiceID{20}, snap[3].SelectedChoiceIDs)
	assert.True(t, b.HasAnswers())
}

func TestAnswerBuffer_ClearAndDuplicates(t *testing.T) {
	b := newTestBuffer(t)
	require.NoError(t, b.Set(2, model.NewMultiAnswer(10, 11)))
	require.NoError(t, b.Clear(2))
	a, _ := b.Get(2)
	assert.True(t, a.IsEmpty())

	_, err := NewAnswerBuffer([]model.Question{
		{ID: 1, Type: model.QuestionTypeEssay},
		{ID: 1, Type: model.QuestionTypeEssay},
	})
	assert.Error(t, err)
}

func TestAnswerBuffer_SimulationWithoutChoices(t *testing.T) {
	b, err := NewAnswerBuffer([]model.Question{{
		ID:         7,
		Type:       model.QuestionTypeSimulation,
		Simulation: &model.Simulation{ToolName: "vector-lab", Payload: []byte(`{}`)},
	}})
	require.NoError(t, err)

	a, ok := b.Get(7)
	require.True(t, ok)
	assert.Equal(t, model.SingleAnswer{}, a)
	assert.ErrorIs(t, b.Toggle(7, 1), ErrUnknownChoice)
	assert.Equal(t, []model.AnswerEntry{{QuestionID: 7, SelectedChoiceIDs: []model.ChoiceID{}}}, b.Snapshot())
}
