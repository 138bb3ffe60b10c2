package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Trigger is what caused an autosave.
type Trigger string

const (
	TriggerPeriodic Trigger = "periodic"
	TriggerManual   Trigger = "manual"
	TriggerHidden   Trigger = "hidden"
	TriggerUnload   Trigger = "unload"
)

// Automatic reports whether the trigger was not an explicit user request.
func (t Trigger) Automatic() bool {
	return t != TriggerManual
}

// Outcome is the result of one autosave ticket.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeSkipped marks an automatic save of an untouched attempt; no
	// sequence number is consumed and nothing is sent.
	OutcomeSkipped Outcome = "skipped"
)

// Ticket is one persistence attempt.
type Ticket struct {
	Seq              int64
	Trigger          Trigger
	RemainingSeconds int
	Answers          []model.AnswerEntry
	CreatedAt        time.Time
	CompletedAt      time.Time
	Outcome          Outcome
	Err              error
}

// SaveStatus is what the view displays about persistence.
type SaveStatus struct {
	LastSavedSeq int64
	LastSavedAt  time.Time
	LastErrorSeq int64
	LastError    string
}

// Failing reports whether the newest completed save failed.
func (s SaveStatus) Failing() bool {
	return s.LastErrorSeq > s.LastSavedSeq
}

// snapshot is the controller state captured for one autosave.
type snapshot struct {
	remaining  int
	answers    []model.AnswerEntry
	hasAnswers bool
}

// autosaver sends tickets and folds their responses into a SaveStatus that
// never regresses: a response for an older sequence number cannot overwrite
// what a newer one recorded.
type autosaver struct {
	backend Backend
	testID  uuid.UUID
	now     func() time.Time
	log     zerolog.Logger

	seq atomic.Int64

	mu     sync.Mutex
	status SaveStatus
}

func newAutosaver(backend Backend, testID uuid.UUID, now func() time.Time, log zerolog.Logger) *autosaver {
	return &autosaver{
		backend: backend,
		testID:  testID,
		now:     now,
		log:     log,
	}
}

// prepare builds the ticket for snap, or a skipped ticket when an automatic
// trigger finds nothing worth saving.
func (a *autosaver) prepare(trigger Trigger, snap snapshot) *Ticket {
	t := &Ticket{
		Trigger:          trigger,
		RemainingSeconds: snap.remaining,
		Answers:          snap.answers,
		CreatedAt:        a.now(),
		Outcome:          OutcomePending,
	}
	if trigger.Automatic() && !snap.hasAnswers {
		t.Outcome = OutcomeSkipped
		return t
	}
	t.Seq = a.seq.Add(1)
	return t
}

// send performs the network call for a prepared ticket. It never returns an
// error: failures are recorded on the ticket and in the status.
func (a *autosaver) send(ctx context.Context, t *Ticket) *Ticket {
	if t.Outcome == OutcomeSkipped {
		return t
	}

	_, err := a.backend.Autosave(ctx, a.testID, model.AutosaveRequest{
		RemainingSeconds: t.RemainingSeconds,
		Answers:          t.Answers,
	})
	t.CompletedAt = a.now()
	if err != nil {
		t.Outcome = OutcomeFailure
		t.Err = err
	} else {
		t.Outcome = OutcomeSuccess
	}
	a.record(t)
	return t
}

func (a *autosaver) record(t *Ticket) {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch t.Outcome {
	case OutcomeSuccess:
		if t.Seq <= a.status.LastSavedSeq {
			a.log.Debug().Int64("seq", t.Seq).Int64("last_saved_seq", a.status.LastSavedSeq).Msg("Stale autosave response ignored")
			return
		}
		a.status.LastSavedSeq = t.Seq
		a.status.LastSavedAt = t.CompletedAt
		a.log.Debug().Int64("seq", t.Seq).Str("trigger", string(t.Trigger)).Msg("Autosaved")
	case OutcomeFailure:
		a.log.Warn().Err(t.Err).Int64("seq", t.Seq).Str("trigger", string(t.Trigger)).Msg("Autosave failed")
		if t.Seq <= a.status.LastErrorSeq {
			return
		}
		a.status.LastErrorSeq = t.Seq
		a.status.LastError = t.Err.Error()
	}
}

// Status returns the current persistence status.
func (a *autosaver) Status() SaveStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
