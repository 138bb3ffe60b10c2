package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-attempt/internal/model"
)

func strPtr(s string) *string { return &s }

func sampleTest() *model.Test {
	return &model.Test{
		ID:              uuid.MustParse("6f1c7f5e-3a55-4a6f-9d8e-0a1b2c3d4e5f"),
		Title:           "Vektor",
		DurationSeconds: 600,
		MaxAttempts:     2,
		Status:          model.TestStatusPublished,
		Questions: []model.Question{
			{ID: 1, Type: model.QuestionTypeSingleChoice, Choices: []model.Choice{{ID: 5}, {ID: 6}}},
			{ID: 2, Type: model.QuestionTypeMultiChoice, Choices: []model.Choice{{ID: 10}, {ID: 11}}},
			{ID: 3, Type: model.QuestionTypeEssay},
		},
	}
}

func TestValidateAnswers_Accepts(t *testing.T) {
	err := validateAnswers(sampleTest(), []model.AnswerEntry{
		{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{6}},
		{QuestionID: 2, SelectedChoiceIDs: []model.ChoiceID{10, 11}},
		{QuestionID: 3, SelectedChoiceIDs: []model.ChoiceID{}, Text: strPtr("jawab")},
	})
	assert.NoError(t, err)
}

func TestValidateAnswers_ReportsEveryProblem(t *testing.T) {
	err := validateAnswers(sampleTest(), []model.AnswerEntry{
		{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{5, 6}},
		{QuestionID: 2, SelectedChoiceIDs: []model.ChoiceID{99}},
		{QuestionID: 3, SelectedChoiceIDs: []model.ChoiceID{5}},
		{QuestionID: 1},
	})

	var answerErr *AnswerError
	require.True(t, errors.As(err, &answerErr))
	assert.False(t, answerErr.UnknownQuestion)
	require.Len(t, answerErr.Messages, 4)
	assert.Contains(t, answerErr.Messages[0], "answers[0]")
	assert.Contains(t, answerErr.Messages[1], "answers[1]")
	assert.Contains(t, answerErr.Messages[2], "answers[2]")
	assert.Contains(t, answerErr.Messages[3], "answered twice")
}

func TestValidateAnswers_UnknownQuestion(t *testing.T) {
	err := validateAnswers(sampleTest(), []model.AnswerEntry{{QuestionID: 77}})

	var answerErr *AnswerError
	require.True(t, errors.As(err, &answerErr))
	assert.True(t, answerErr.UnknownQuestion)
}

func TestMergeAnswers(t *testing.T) {
	base := []model.AnswerEntry{
		{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{5}},
		{QuestionID: 3, Text: strPtr("draft")},
	}
	override := []model.AnswerEntry{
		{QuestionID: 1, SelectedChoiceIDs: []model.ChoiceID{6}},
	}

	got := mergeAnswers(base, override)

	require.Len(t, got, 2)
	byID := map[model.QuestionID]model.AnswerEntry{}
	for _, e := range got {
		byID[e.QuestionID] = e
	}
	assert.Equal(t, []model.ChoiceID{6}, byID[1].SelectedChoiceIDs)
	assert.Equal(t, "draft", *byID[3].Text)
}

func TestNewSnapshot_FillsStoredAnswers(t *testing.T) {
	snap := newSnapshot(sampleTest(), []model.AnswerEntry{
		{QuestionID: 2, SelectedChoiceIDs: []model.ChoiceID{11}},
		{QuestionID: 3, Text: strPtr("jarak")},
		{QuestionID: 99, SelectedChoiceIDs: []model.ChoiceID{1}},
	})

	require.Len(t, snap.Questions, 3)
	assert.Equal(t, []model.ChoiceID{}, snap.Questions[0].SelectedChoiceIDs)
	assert.Equal(t, []model.ChoiceID{11}, snap.Questions[1].SelectedChoiceIDs)
	require.NotNil(t, snap.Questions[2].AnswerText)
	assert.Equal(t, "jarak", *snap.Questions[2].AnswerText)
	assert.Equal(t, 600, snap.TotalDurationSeconds)
	assert.Equal(t, 2, snap.MaxAttempts)
	assert.NoError(t, snap.Validate())
}

func TestLogger_UsesRequestScopedLogger(t *testing.T) {
	var own, scoped bytes.Buffer
	svc := &AttemptService{log: zerolog.New(&own)}

	svc.logger(context.Background()).Info().Msg("no request")
	assert.Contains(t, own.String(), "no request")

	ctx := zerolog.New(&scoped).With().Str("request_id", "req-7").Logger().WithContext(context.Background())
	svc.logger(ctx).Info().Msg("submitted")

	var line map[string]any
	require.NoError(t, json.Unmarshal(scoped.Bytes(), &line))
	assert.Equal(t, "req-7", line["request_id"])
	assert.Equal(t, "attempt_service", line["component"])
	assert.NotContains(t, own.String(), "submitted")
}
