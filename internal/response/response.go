package response

import (
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Response is the standardized API response envelope.
type Response struct {
	Data     interface{} `json:"data"`
	Error    *ErrorBody  `json:"error,omitempty"`
	Metadata Metadata    `json:"metadata"`
}

// ErrorBody represents a structured error response. Messages carries every
// human-readable message; Message is the first of them, kept for clients
// that only show one.
type ErrorBody struct {
	Code     ErrCode           `json:"code"`
	Message  string            `json:"message"`
	Messages []string          `json:"messages,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// Metadata includes request tracing and timing.
type Metadata struct {
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

// Success sends a successful JSON response with the given status code and data.
func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, Response{
		Data:     data,
		Metadata: buildMetadata(c),
	})
}

// Fail sends an error response with an error code and no field-level details.
func Fail(c *gin.Context, statusCode int, code ErrCode) {
	c.JSON(statusCode, Response{
		Error:    newBody(code, nil),
		Metadata: buildMetadata(c),
	})
}

// FailWithMessages sends an error response carrying several messages.
func FailWithMessages(c *gin.Context, statusCode int, code ErrCode, messages []string) {
	c.JSON(statusCode, Response{
		Error:    newBody(code, messages),
		Metadata: buildMetadata(c),
	})
}

// FailWithFields sends an error response with field-level validation details.
// Every field message is also listed in Messages, sorted by field.
func FailWithFields(c *gin.Context, statusCode int, code ErrCode, fields map[string]string) {
	body := newBody(code, sortedValues(fields))
	body.Fields = fields
	c.JSON(statusCode, Response{
		Error:    body,
		Metadata: buildMetadata(c),
	})
}

// AbortFail aborts the middleware chain and sends an error response.
func AbortFail(c *gin.Context, statusCode int, code ErrCode) {
	c.AbortWithStatusJSON(statusCode, Response{
		Error:    newBody(code, nil),
		Metadata: buildMetadata(c),
	})
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func newBody(code ErrCode, messages []string) *ErrorBody {
	if len(messages) == 0 {
		messages = []string{GetMessage(code)}
	}
	return &ErrorBody{Code: code, Message: messages[0], Messages: messages}
}

// sortedValues lists field messages in field order, prefixed with the field
// path unless the message is a bare detail.
func sortedValues(fields map[string]string) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "detail" {
			out = append(out, fields[k])
			continue
		}
		out = append(out, k+": "+fields[k])
	}
	return out
}

func buildMetadata(c *gin.Context) Metadata {
	reqID, _ := c.Get(ContextKeyRequestID)
	id, ok := reqID.(string)
	if !ok || id == "" {
		id = uuid.New().String() // Fallback if middleware not applied
	}
	return Metadata{
		RequestID: id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
