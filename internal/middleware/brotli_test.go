package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func brotliEngine(body string) *gin.Engine {
	r := gin.New()
	r.Use(BrotliWithConfig(BrotliConfig{MinLength: 64}))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, body) })
	return r
}

func get(r http.Handler, acceptEncoding string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBrotli_CompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("vektor gaya ", 40)

	rec := get(brotliEngine(body), "gzip, br;q=0.9")

	assert.Equal(t, "br", rec.Header().Get("Content-Encoding"))
	out, err := io.ReadAll(brotli.NewReader(rec.Body))
	require.NoError(t, err)
	assert.Equal(t, body, string(out))
}

func TestBrotli_SmallBodiesPassThrough(t *testing.T) {
	rec := get(brotliEngine("ok"), "br")

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", rec.Body.String())
}

func TestBrotli_OnlyWhenAccepted(t *testing.T) {
	body := strings.Repeat("x", 200)

	rec := get(brotliEngine(body), "gzip")

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, body, rec.Body.String())
}

func TestAcceptsBrotli(t *testing.T) {
	for header, want := range map[string]bool{
		"":              false,
		"gzip, deflate": false,
		"BR":            true,
		"gzip;q=1, br":  true,
		"br;q=0.5":      true,
	} {
		h := http.Header{}
		h.Set("Accept-Encoding", header)
		assert.Equal(t, want, AcceptsBrotli(h), header)
	}
}
