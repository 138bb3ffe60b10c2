// Package apperr defines the failure taxonomy shared by the attempt API
// client and the session controller.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure surfaced by a collaborator.
type Kind string

const (
	// KindNetwork covers transport failures: the request never produced a response.
	KindNetwork Kind = "NETWORK"
	// KindValidation covers 4xx responses rejecting the payload.
	KindValidation Kind = "VALIDATION"
	// KindAttemptLimit means the allowed attempt count is exhausted.
	KindAttemptLimit Kind = "ATTEMPT_LIMIT_EXCEEDED"
	// KindExpired means the attempt's time is already used up.
	KindExpired      Kind = "ALREADY_EXPIRED"
	KindNotFound     Kind = "NOT_FOUND"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindServer       Kind = "SERVER"
)

// Error is a collaborator failure carrying every message the server returned.
type Error struct {
	Kind Kind
	// Code is the server's error code, if any.
	Code string
	// Status is the HTTP status, 0 for transport failures.
	Status   int
	Messages []string
	Err      error
}

// Error joins every message; the server may return several validation
// messages and none of them may be dropped.
func (e *Error) Error() string {
	if msg := e.Message(); msg != "" {
		return msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", strings.ToLower(string(e.Kind)), e.Err)
	}
	return strings.ToLower(string(e.Kind))
}

// Message returns the human-readable text shown to the student.
func (e *Error) Message() string {
	parts := make([]string, 0, len(e.Messages))
	for _, m := range e.Messages {
		if m = strings.TrimSpace(m); m != "" {
			parts = append(parts, m)
		}
	}
	return strings.Join(parts, "; ")
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Code == "" && len(t.Messages) == 0 && t.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrNetwork      = &Error{Kind: KindNetwork}
	ErrValidation   = &Error{Kind: KindValidation}
	ErrAttemptLimit = &Error{Kind: KindAttemptLimit}
	ErrExpired      = &Error{Kind: KindExpired}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrServer       = &Error{Kind: KindServer}
)

// New builds an Error of the given kind with messages.
func New(kind Kind, messages ...string) *Error {
	return &Error{Kind: kind, Messages: messages}
}

// Network wraps a transport failure.
func Network(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Messages extracts the message list of err. Non-*Error values yield their Error() text.
func Messages(err error) []string {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) && len(e.Messages) > 0 {
		return append([]string(nil), e.Messages...)
	}
	return []string{err.Error()}
}
