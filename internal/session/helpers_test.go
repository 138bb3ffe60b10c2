package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/testutil"
	"github.com/stretchr/testify/require"
)

var testID = uuid.MustParse("7d1f3c2e-4b0a-4c56-9a1e-2f9b8c7d6e50")

func sampleSnapshot(remaining int) *model.AttemptSnapshot {
	return &model.AttemptSnapshot{
		TestID:               testID,
		Title:                "Hình học 10 - Vectơ",
		TotalDurationSeconds: 600,
		RemainingSeconds:     remaining,
		MaxAttempts:          2,
		AttemptNumber:        1,
		Questions: []model.SnapshotQuestion{
			{Question: model.Question{ID: 1, Content: "Chọn đáp án đúng", Type: model.QuestionTypeSingleChoice,
				Choices: []model.Choice{{ID: 5, Content: "A"}, {ID: 6, Content: "B"}, {ID: 7, Content: "C"}}}},
			{Question: model.Question{ID: 2, Content: "Chọn các đáp án đúng", Type: model.QuestionTypeMultiChoice,
				Choices: []model.Choice{{ID: 10, Content: "A"}, {ID: 11, Content: "B"}, {ID: 12, Content: "C"}}}},
			{Question: model.Question{ID: 3, Content: "Trình bày lời giải", Type: model.QuestionTypeEssay}},
			{Question: model.Question{ID: 4, Content: "Quan sát mô phỏng", Type: model.QuestionTypeSimulation,
				Choices:    []model.Choice{{ID: 20, Content: "Đúng"}, {ID: 21, Content: "Sai"}},
				Simulation: &model.Simulation{ToolName: "vector-lab", Payload: json.RawMessage(`{"scene":"parallelogram"}`)}}},
		},
	}
}

type fakeBackend struct {
	mu sync.Mutex

	detail     *model.AttemptSnapshot
	beginFn    func(mode model.StartMode) (*model.AttemptSnapshot, error)
	autosaveFn func(req model.AutosaveRequest) error
	submitFn   func(req model.SubmitRequest) (*model.SubmitResult, error)

	beginModes []model.StartMode
	autosaves  []model.AutosaveRequest
	submits    []model.SubmitRequest
}

func newFakeBackend(remaining int) *fakeBackend {
	return &fakeBackend{detail: sampleSnapshot(remaining)}
}

func (f *fakeBackend) FetchAttemptDetail(ctx context.Context, id uuid.UUID) (*model.AttemptSnapshot, error) {
	return f.detail, nil
}

func (f *fakeBackend) BeginAttempt(ctx context.Context, id uuid.UUID, mode model.StartMode) (*model.AttemptSnapshot, error) {
	f.mu.Lock()
	f.beginModes = append(f.beginModes, mode)
	fn := f.beginFn
	f.mu.Unlock()
	if fn != nil {
		return fn(mode)
	}
	return f.detail, nil
}

func (f *fakeBackend) Autosave(ctx context.Context, id uuid.UUID, req model.AutosaveRequest) (*model.AutosaveAck, error) {
	f.mu.Lock()
	f.autosaves = append(f.autosaves, req)
	fn := f.autosaveFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(req); err != nil {
			return nil, err
		}
	}
	return &model.AutosaveAck{SavedAt: time.Now()}, nil
}

func (f *fakeBackend) SubmitAttempt(ctx context.Context, id uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error) {
	f.mu.Lock()
	f.submits = append(f.submits, req)
	fn := f.submitFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &model.SubmitResult{SubmittedAt: time.Now()}, nil
}

func (f *fakeBackend) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeBackend) autosaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.autosaves)
}

type recordingObserver struct {
	mu        sync.Mutex
	activated []model.QuestionID
	ended     int
}

func (o *recordingObserver) QuestionActivated(q model.Question) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activated = append(o.activated, q.ID)
}

func (o *recordingObserver) AttemptEnded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ended++
}

func (o *recordingObserver) snapshot() ([]model.QuestionID, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.QuestionID(nil), o.activated...), o.ended
}

type harness struct {
	backend  *fakeBackend
	sched    *testutil.ManualScheduler
	observer *recordingObserver
	ctrl     *Controller
}

func newHarness(t *testing.T, remaining int) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(remaining),
		sched:    testutil.NewManualScheduler(),
		observer: &recordingObserver{},
	}
	ctrl, err := New(h.backend, h.backend.detail, Options{
		TickInterval:     time.Second,
		AutosaveInterval: 30 * time.Second,
		Scheduler:        h.sched,
		Observer:         h.observer,
		Logger:           zerolog.Nop(),
	})
	require.NoError(t, err)
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}

func (h *harness) start(t *testing.T, mode model.StartMode) {
	t.Helper()
	require.NoError(t, h.ctrl.Start(context.Background(), mode))
	require.Equal(t, StatusInProgress, h.ctrl.Status())
}
