package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func health(t *testing.T, deps map[string]Pinger) (int, map[string]any) {
	t.Helper()
	r := gin.New()
	r.GET("/health", NewHealthHandler(deps, zerolog.Nop()).Health)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body.Data
}

func TestHealth_AllUp(t *testing.T) {
	up := pingFunc(func(context.Context) error { return nil })

	code, data := health(t, map[string]Pinger{"postgres": up, "redis": up})

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", data["status"])
}

func TestHealth_Degraded(t *testing.T) {
	code, data := health(t, map[string]Pinger{
		"postgres": pingFunc(func(context.Context) error { return nil }),
		"redis":    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", data["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "down"}, data["checks"])
}
