package session

import (
	"errors"

	"github.com/stemsi/exstem-attempt/internal/apperr"
)

// Precondition violations. These are programming errors: the controller's
// gating should make them unreachable from a correctly wired view.
var (
	ErrInvalidState    = errors.New("session: operation not valid in current state")
	ErrTypeMismatch    = errors.New("session: answer does not match question type")
	ErrUnknownQuestion = errors.New("session: unknown question")
	ErrUnknownChoice   = errors.New("session: choice does not belong to question")
	ErrClosed          = errors.New("session: controller closed")
)

// errAlreadyExpired is returned by Start when the server reports an attempt
// whose remaining time is negative.
func errAlreadyExpired() error {
	return apperr.New(apperr.KindExpired, "Lượt làm bài này đã hết thời gian.")
}

// IsAttemptLimit reports whether err means the attempt limit is exhausted.
func IsAttemptLimit(err error) bool {
	return errors.Is(err, apperr.ErrAttemptLimit)
}

// IsExpired reports whether err means the attempt had already expired.
func IsExpired(err error) bool {
	return errors.Is(err, apperr.ErrExpired)
}
