package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/middleware"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
	"github.com/stemsi/exstem-attempt/internal/service"
	"github.com/stemsi/exstem-attempt/internal/validator"
)

// AttemptService is the attempt lifecycle used by AttemptHandler.
type AttemptService interface {
	Detail(ctx context.Context, testID uuid.UUID, studentID int) (*model.AttemptSnapshot, error)
	Begin(ctx context.Context, testID uuid.UUID, studentID int, mode model.StartMode) (*model.AttemptSnapshot, error)
	Autosave(ctx context.Context, testID uuid.UUID, studentID int, req model.AutosaveRequest) (*model.AutosaveAck, error)
	Submit(ctx context.Context, testID uuid.UUID, studentID int, req model.SubmitRequest) (*model.SubmitResult, error)
}

// AttemptHandler serves the student attempt endpoints.
type AttemptHandler struct {
	attempts AttemptService
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// GetTest godoc
// GET /api/v1/student/tests/:test_id
// Returns the test detail shown before the student starts.
func (h *AttemptHandler) GetTest(c *gin.Context) {
	studentID, testID, ok := h.target(c)
	if !ok {
		return
	}

	snap, err := h.attempts.Detail(c.Request.Context(), testID, studentID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// BeginAttempt godoc
// POST /api/v1/student/tests/:test_id/attempts
// Starts a fresh attempt or resumes the open one.
func (h *AttemptHandler) BeginAttempt(c *gin.Context) {
	studentID, testID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.BeginAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.attempts.Begin(c.Request.Context(), testID, studentID, req.Mode)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Autosave godoc
// PUT /api/v1/student/tests/:test_id/autosave
// Stores the current answers of the open attempt.
func (h *AttemptHandler) Autosave(c *gin.Context) {
	studentID, testID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.AutosaveRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	ack, err := h.attempts.Autosave(c.Request.Context(), testID, studentID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

// Submit godoc
// POST /api/v1/student/tests/:test_id/submit
// Closes the open attempt with its final answers.
func (h *AttemptHandler) Submit(c *gin.Context) {
	studentID, testID, ok := h.target(c)
	if !ok {
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	res, err := h.attempts.Submit(c.Request.Context(), testID, studentID, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, res)
}

// target resolves the authenticated student and the test in the path. It
// writes the error response itself when either is missing.
func (h *AttemptHandler) target(c *gin.Context) (int, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return 0, uuid.Nil, false
	}

	testID, err := uuid.Parse(c.Param("test_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, uuid.Nil, false
	}
	return claims.UserID, testID, true
}

func (h *AttemptHandler) fail(c *gin.Context, err error) {
	var answerErr *service.AnswerError
	switch {
	case errors.Is(err, service.ErrTestNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrTestNotAvailable)
	case errors.Is(err, service.ErrAttemptLimitExceeded):
		response.Fail(c, http.StatusConflict, response.ErrAttemptLimit)
	case errors.Is(err, service.ErrNoOpenAttempt):
		response.Fail(c, http.StatusConflict, response.ErrNoOpenAttempt)
	case errors.Is(err, service.ErrAttemptExpired):
		response.Fail(c, http.StatusConflict, response.ErrAlreadyExpired)
	case errors.As(err, &answerErr):
		code := response.ErrAnswerShapeInvalid
		if answerErr.UnknownQuestion {
			code = response.ErrUnknownQuestion
		}
		response.FailWithMessages(c, http.StatusUnprocessableEntity, code, answerErr.Messages)
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to send.
		c.Status(499)
	default:
		h.log.Error().Err(err).Str("request_id", response.RequestID(c)).Str("path", c.FullPath()).Msg("Attempt request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
