package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

type fakeAttemptService struct {
	beginErr   error
	autosaveFn func(req model.AutosaveRequest) (*model.AutosaveAck, error)
	submitErr  error

	gotStudent int
	gotTest    uuid.UUID
	gotMode    model.StartMode
}

func (f *fakeAttemptService) Detail(_ context.Context, testID uuid.UUID, studentID int) (*model.AttemptSnapshot, error) {
	f.gotTest, f.gotStudent = testID, studentID
	return &model.AttemptSnapshot{TestID: testID, Title: "Vektor", TotalDurationSeconds: 600, RemainingSeconds: 600, AttemptNumber: 1}, nil
}

func (f *fakeAttemptService) Begin(_ context.Context, testID uuid.UUID, studentID int, mode model.StartMode) (*model.AttemptSnapshot, error) {
	f.gotTest, f.gotStudent, f.gotMode = testID, studentID, mode
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &model.AttemptSnapshot{TestID: testID, Status: model.AttemptStatusInProgress, RemainingSeconds: 600}, nil
}

func (f *fakeAttemptService) Autosave(_ context.Context, _ uuid.UUID, _ int, req model.AutosaveRequest) (*model.AutosaveAck, error) {
	return f.autosaveFn(req)
}

func (f *fakeAttemptService) Submit(_ context.Context, _ uuid.UUID, _ int, _ model.SubmitRequest) (*model.SubmitResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	score := 80.0
	return &model.SubmitResult{Score: &score, SubmittedAt: time.Unix(1700000000, 0).UTC()}, nil
}

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

func newTestEngine(svc AttemptService, studentID int) *gin.Engine {
	h := NewAttemptHandler(svc, zerolog.Nop())
	r := gin.New()
	r.Use(response.RequestIDMiddleware(zerolog.Nop()))
	r.Use(func(c *gin.Context) {
		if studentID > 0 {
			c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: studentID, TokenType: service.TokenTypeStudent})
		}
		c.Next()
	})
	g := r.Group("/api/v1/student")
	g.GET("/tests/:test_id", h.GetTest)
	g.POST("/tests/:test_id/attempts", h.BeginAttempt)
	g.PUT("/tests/:test_id/autosave", h.Autosave)
	g.POST("/tests/:test_id/submit", h.Submit)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestGetTest(t *testing.T) {
	svc := &fakeAttemptService{}
	r := newTestEngine(svc, 42)
	id := uuid.New()

	rec, env := doJSON(t, r, http.MethodGet, "/api/v1/student/tests/"+id.String(), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, env.Error)
	assert.Equal(t, 42, svc.gotStudent)
	assert.Equal(t, id, svc.gotTest)
	assert.NotEmpty(t, env.Metadata.RequestID)
}

func TestGetTest_InvalidID(t *testing.T) {
	rec, env := doJSON(t, newTestEngine(&fakeAttemptService{}, 42), http.MethodGet, "/api/v1/student/tests/not-a-uuid", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrInvalidID, env.Error.Code)
}

func TestGetTest_NoClaims(t *testing.T) {
	rec, env := doJSON(t, newTestEngine(&fakeAttemptService{}, 0), http.MethodGet, "/api/v1/student/tests/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrTokenRequired, env.Error.Code)
}

func TestBeginAttempt_PassesMode(t *testing.T) {
	svc := &fakeAttemptService{}
	r := newTestEngine(svc, 7)

	rec, _ := doJSON(t, r, http.MethodPost, "/api/v1/student/tests/"+uuid.NewString()+"/attempts",
		map[string]string{"mode": "resume"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StartModeResume, svc.gotMode)
}

func TestBeginAttempt_RejectsUnknownMode(t *testing.T) {
	rec, env := doJSON(t, newTestEngine(&fakeAttemptService{}, 7), http.MethodPost,
		"/api/v1/student/tests/"+uuid.NewString()+"/attempts", map[string]string{"mode": "later"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrValidation, env.Error.Code)
	assert.Contains(t, env.Error.Fields, "mode")
}

func TestBeginAttempt_AttemptLimit(t *testing.T) {
	svc := &fakeAttemptService{beginErr: fmt.Errorf("begin: %w", service.ErrAttemptLimitExceeded)}

	rec, env := doJSON(t, newTestEngine(svc, 7), http.MethodPost,
		"/api/v1/student/tests/"+uuid.NewString()+"/attempts", map[string]string{"mode": "fresh"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrAttemptLimit, env.Error.Code)
	assert.Equal(t, "Bạn đã làm quá số lần cho phép", env.Error.Message)
	assert.Equal(t, []string{"Bạn đã làm quá số lần cho phép"}, env.Error.Messages)
}

func TestBeginAttempt_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   response.ErrCode
	}{
		{"test missing", service.ErrTestNotFound, http.StatusNotFound, response.ErrTestNotAvailable},
		{"no open attempt", service.ErrNoOpenAttempt, http.StatusConflict, response.ErrNoOpenAttempt},
		{"expired", service.ErrAttemptExpired, http.StatusConflict, response.ErrAlreadyExpired},
		{"unexpected", fmt.Errorf("pg down"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeAttemptService{beginErr: tt.err}
			rec, env := doJSON(t, newTestEngine(svc, 7), http.MethodPost,
				"/api/v1/student/tests/"+uuid.NewString()+"/attempts", map[string]string{"mode": "fresh"})

			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestAutosave_ReportsEveryAnswerError(t *testing.T) {
	svc := &fakeAttemptService{
		autosaveFn: func(model.AutosaveRequest) (*model.AutosaveAck, error) {
			return nil, &service.AnswerError{Messages: []string{
				"answers[0]: question 1: unknown choice 99",
				"answers[2]: question 3: choices given for a text question",
			}}
		},
	}

	rec, env := doJSON(t, newTestEngine(svc, 7), http.MethodPut,
		"/api/v1/student/tests/"+uuid.NewString()+"/autosave",
		map[string]any{"remaining_seconds": 300, "answers": []map[string]any{{"question_id": 1}}})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrAnswerShapeInvalid, env.Error.Code)
	assert.Len(t, env.Error.Messages, 2)
	assert.Equal(t, env.Error.Messages[0], env.Error.Message)
}

func TestAutosave_UnknownQuestion(t *testing.T) {
	svc := &fakeAttemptService{
		autosaveFn: func(model.AutosaveRequest) (*model.AutosaveAck, error) {
			return nil, &service.AnswerError{Messages: []string{"answers[0]: question 9 is not part of this test"}, UnknownQuestion: true}
		},
	}

	rec, env := doJSON(t, newTestEngine(svc, 7), http.MethodPut,
		"/api/v1/student/tests/"+uuid.NewString()+"/autosave",
		map[string]any{"remaining_seconds": 300, "answers": []map[string]any{{"question_id": 9}}})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrUnknownQuestion, env.Error.Code)
}

func TestAutosave_ValidationKeysEveryAnswer(t *testing.T) {
	called := false
	svc := &fakeAttemptService{
		autosaveFn: func(model.AutosaveRequest) (*model.AutosaveAck, error) {
			called = true
			return &model.AutosaveAck{}, nil
		},
	}

	rec, env := doJSON(t, newTestEngine(svc, 7), http.MethodPut,
		"/api/v1/student/tests/"+uuid.NewString()+"/autosave",
		map[string]any{"remaining_seconds": -1, "answers": []map[string]any{{"question_id": 0}, {"question_id": 0}}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
	require.NotNil(t, env.Error)
	assert.Contains(t, env.Error.Fields, "remaining_seconds")
	assert.Contains(t, env.Error.Fields, "answers[0].question_id")
	assert.Contains(t, env.Error.Fields, "answers[1].question_id")
	assert.Len(t, env.Error.Messages, 3)
}

func TestAutosave_Success(t *testing.T) {
	var got model.AutosaveRequest
	savedAt := time.Unix(1700000000, 0).UTC()
	svc := &fakeAttemptService{
		autosaveFn: func(req model.AutosaveRequest) (*model.AutosaveAck, error) {
			got = req
			return &model.AutosaveAck{SavedAt: savedAt}, nil
		},
	}

	rec, _ := doJSON(t, newTestEngine(svc, 7), http.MethodPut,
		"/api/v1/student/tests/"+uuid.NewString()+"/autosave",
		map[string]any{"remaining_seconds": 120, "answers": []map[string]any{
			{"question_id": 1, "selected_choice_ids": []int{5}},
			{"question_id": 3, "selected_choice_ids": []int{}, "text": "jarak skalar"},
		}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 120, got.RemainingSeconds)
	require.Len(t, got.Answers, 2)
	assert.Equal(t, []model.ChoiceID{5}, got.Answers[0].SelectedChoiceIDs)
	require.NotNil(t, got.Answers[1].Text)
	assert.Equal(t, "jarak skalar", *got.Answers[1].Text)
}

func TestSubmit_Success(t *testing.T) {
	rec, env := doJSON(t, newTestEngine(&fakeAttemptService{}, 7), http.MethodPost,
		"/api/v1/student/tests/"+uuid.NewString()+"/submit", map[string]any{"answers": []any{}})

	assert.Equal(t, http.StatusOK, rec.Code)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 80.0, data["score"], 0.001)
}

func TestSubmit_NoOpenAttempt(t *testing.T) {
	svc := &fakeAttemptService{submitErr: service.ErrNoOpenAttempt}

	rec, env := doJSON(t, newTestEngine(svc, 7), http.MethodPost,
		"/api/v1/student/tests/"+uuid.NewString()+"/submit", map[string]any{"answers": []any{}})

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrNoOpenAttempt, env.Error.Code)
}
