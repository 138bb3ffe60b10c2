package response

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func record(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	r := gin.New()
	r.Use(RequestIDMiddleware(zerolog.Nop()))
	r.GET("/x", h)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestFail_UsesCatalogMessage(t *testing.T) {
	rec, env := record(t, func(c *gin.Context) { Fail(c, http.StatusConflict, ErrAttemptLimit) })

	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "Bạn đã làm quá số lần cho phép", env.Error.Message)
	assert.Equal(t, []string{"Bạn đã làm quá số lần cho phép"}, env.Error.Messages)
	assert.Equal(t, "req-1", env.Metadata.RequestID)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestFailWithFields_ListsEveryFieldInOrder(t *testing.T) {
	_, env := record(t, func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrValidation, map[string]string{
			"answers[1].question_id": "question_id is a required field",
			"answers[0].question_id": "question_id is a required field",
		})
	})

	require.NotNil(t, env.Error)
	assert.Equal(t, []string{
		"answers[0].question_id: question_id is a required field",
		"answers[1].question_id: question_id is a required field",
	}, env.Error.Messages)
	assert.Equal(t, env.Error.Messages[0], env.Error.Message)
	assert.Len(t, env.Error.Fields, 2)
}

func TestFailWithFields_DetailIsBare(t *testing.T) {
	_, env := record(t, func(c *gin.Context) {
		FailWithFields(c, http.StatusBadRequest, ErrInvalidPayload, map[string]string{"detail": "unexpected EOF"})
	})

	assert.Equal(t, []string{"unexpected EOF"}, env.Error.Messages)
}

func TestEveryCodeHasMessage(t *testing.T) {
	for _, code := range []ErrCode{
		ErrTokenRequired, ErrTokenInvalid, ErrTokenExpired, ErrStudentAccessOnly,
		ErrValidation, ErrInvalidID, ErrInvalidPayload, ErrNotFound,
		ErrTestNotAvailable, ErrAttemptLimit, ErrNoOpenAttempt, ErrAlreadyExpired,
		ErrUnknownQuestion, ErrAnswerShapeInvalid, ErrRateLimitExceeded, ErrInternal,
	} {
		assert.NotEmpty(t, GetMessage(code), code)
	}
}

func TestRequestIDMiddleware_ScopesLogger(t *testing.T) {
	var buf bytes.Buffer
	r := gin.New()
	r.Use(RequestIDMiddleware(zerolog.New(&buf)))
	r.GET("/x", func(c *gin.Context) {
		zerolog.Ctx(c.Request.Context()).Info().Msg("autosave queued")
		c.String(http.StatusOK, RequestID(c))
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Body.String())
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-42", line["request_id"])
}

func TestRequestIDMiddleware_ReplacesOversizedID(t *testing.T) {
	r := gin.New()
	r.Use(RequestIDMiddleware(zerolog.Nop()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, strings.Repeat("a", maxRequestIDLen+1))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	got := rec.Header().Get(HeaderRequestID)
	assert.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), maxRequestIDLen)
}
