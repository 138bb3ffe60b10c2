// Package client talks to the attempt API on behalf of the session controller.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/apperr"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/response"
)

// Client is an HTTP implementation of session.Backend.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// New creates a Client for the API rooted at baseURL (".../api/v1").
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// envelope mirrors response.Response with a typed data field.
type envelope[T any] struct {
	Data  *T                  `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (c *Client) FetchAttemptDetail(ctx context.Context, testID uuid.UUID) (*model.AttemptSnapshot, error) {
	return do[model.AttemptSnapshot](ctx, c, http.MethodGet, testPath(testID, ""), nil)
}

func (c *Client) BeginAttempt(ctx context.Context, testID uuid.UUID, mode model.StartMode) (*model.AttemptSnapshot, error) {
	return do[model.AttemptSnapshot](ctx, c, http.MethodPost, testPath(testID, "/attempts"), model.BeginAttemptRequest{Mode: mode})
}

func (c *Client) Autosave(ctx context.Context, testID uuid.UUID, req model.AutosaveRequest) (*model.AutosaveAck, error) {
	return do[model.AutosaveAck](ctx, c, http.MethodPut, testPath(testID, "/autosave"), req)
}

func (c *Client) SubmitAttempt(ctx context.Context, testID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error) {
	return do[model.SubmitResult](ctx, c, http.MethodPost, testPath(testID, "/submit"), req)
}

func testPath(testID uuid.UUID, suffix string) string {
	return "/student/tests/" + testID.String() + suffix
}

func do[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("Request failed")
		return nil, apperr.Network(err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Request completed")

	var payload io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "br") {
		payload = brotli.NewReader(resp.Body)
	}

	var env envelope[T]
	decodeErr := json.NewDecoder(payload).Decode(&env)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decodeErr != nil {
			return nil, &apperr.Error{Kind: apperr.KindServer, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", decodeErr)}
		}
		if env.Data == nil {
			return nil, &apperr.Error{Kind: apperr.KindServer, Status: resp.StatusCode, Err: errors.New("response has no data")}
		}
		return env.Data, nil
	}

	return nil, classify(resp.StatusCode, env.Error)
}

// classify maps a failed response to the shared failure taxonomy. Every
// message the server sent is kept.
func classify(status int, body *response.ErrorBody) *apperr.Error {
	e := &apperr.Error{Status: status}
	if body != nil {
		e.Code = string(body.Code)
		e.Messages = body.Messages
		if len(e.Messages) == 0 && body.Message != "" {
			e.Messages = []string{body.Message}
		}
	}
	if len(e.Messages) == 0 {
		e.Messages = []string{fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))}
	}

	switch {
	case e.Code == string(response.ErrAttemptLimit):
		e.Kind = apperr.KindAttemptLimit
	case e.Code == string(response.ErrAlreadyExpired):
		e.Kind = apperr.KindExpired
	case e.Code == string(response.ErrTestNotAvailable) || status == http.StatusNotFound:
		e.Kind = apperr.KindNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Kind = apperr.KindUnauthorized
	case status >= 500:
		e.Kind = apperr.KindServer
	default:
		e.Kind = apperr.KindValidation
	}
	return e
}
