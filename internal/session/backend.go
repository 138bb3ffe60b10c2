package session

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Backend is the attempt API as seen by the controller. Failures should be
// *apperr.Error values so the controller can tell business outcomes from
// transient ones.
type Backend interface {
	FetchAttemptDetail(ctx context.Context, testID uuid.UUID) (*model.AttemptSnapshot, error)
	BeginAttempt(ctx context.Context, testID uuid.UUID, mode model.StartMode) (*model.AttemptSnapshot, error)
	Autosave(ctx context.Context, testID uuid.UUID, req model.AutosaveRequest) (*model.AutosaveAck, error)
	SubmitAttempt(ctx context.Context, testID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error)
}

// Observer is told when the active question changes and when the attempt
// ends. The controller calls it with its lock held, so implementations must
// not call back into the controller.
type Observer interface {
	QuestionActivated(q model.Question)
	AttemptEnded()
}

type nopObserver struct{}

func (nopObserver) QuestionActivated(model.Question) {}
func (nopObserver) AttemptEnded()                    {}
