package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/timer"
	"golang.org/x/sync/singleflight"
)

// Status is the lifecycle state of an attempt on the client.
type Status int

const (
	StatusNotStarted Status = iota
	StatusInProgress
	StatusSubmitted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "NOT_STARTED"
	case StatusInProgress:
		return "IN_PROGRESS"
	case StatusSubmitted:
		return "SUBMITTED"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// SubmitReason records why a submission happened.
type SubmitReason string

const (
	SubmitManual  SubmitReason = "manual"
	SubmitTimeout SubmitReason = "timeout"
)

const (
	timerTick     = "tick"
	timerAutosave = "autosave"
)

// Options configures a Controller. Zero values fall back to the defaults.
type Options struct {
	TickInterval     time.Duration
	AutosaveInterval time.Duration
	Scheduler        timer.Scheduler
	Observer         Observer
	Now              func() time.Time
	Logger           zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = 30 * time.Second
	}
	if o.Scheduler == nil {
		o.Scheduler = timer.NewSystem()
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// View is a consistent read of the controller for rendering.
type View struct {
	TestID           uuid.UUID
	Title            string
	Status           Status
	TotalSeconds     int
	RemainingSeconds int
	MaxAttempts      int
	AttemptNumber    int
	ActiveIndex      int
	QuestionCount    int
	Answered         int
	Submitting       bool
	// SubmitError is the last failed submission; SubmitPending means the
	// view must offer a retry.
	SubmitError   error
	SubmitPending bool
	Score         *float64
	Save          SaveStatus
}

// Controller owns one exam attempt: its lifecycle, countdown, answers,
// autosave timers and the submission.
//
// Every transition happens under mu. Network calls run with mu released, and
// in-flight guards (starting, submitting, the singleflight group) keep
// re-entrant calls from duplicating them.
type Controller struct {
	backend Backend
	opts    Options
	log     zerolog.Logger

	flight singleflight.Group
	timers *timer.Group

	mu         sync.Mutex
	testID     uuid.UUID
	detail     *model.AttemptSnapshot
	status     Status
	starting   bool
	closed     bool
	questions  []model.Question
	buffer     *AnswerBuffer
	active     int
	total      int
	remaining  int
	timedOut   bool
	submitting bool
	submitErr  error
	lastReason SubmitReason
	result     *model.SubmitResult
	saver      *autosaver
}

// New creates a NotStarted controller from a fetched attempt detail.
func New(backend Backend, detail *model.AttemptSnapshot, opts Options) (*Controller, error) {
	if detail == nil {
		return nil, errors.New("session: nil attempt detail")
	}
	if err := detail.Validate(); err != nil {
		return nil, fmt.Errorf("session: invalid attempt detail: %w", err)
	}
	opts.withDefaults()

	c := &Controller{
		backend:   backend,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "session").Str("test_id", detail.TestID.String()).Logger(),
		timers:    timer.NewGroup(),
		testID:    detail.TestID,
		detail:    detail,
		status:    StatusNotStarted,
		total:     detail.TotalDurationSeconds,
		remaining: max(detail.RemainingSeconds, 0),
	}
	c.questions = questionsOf(detail)
	return c, nil
}

// Open fetches the attempt detail and creates a controller for it.
func Open(ctx context.Context, backend Backend, testID uuid.UUID, opts Options) (*Controller, error) {
	detail, err := backend.FetchAttemptDetail(ctx, testID)
	if err != nil {
		return nil, fmt.Errorf("fetch attempt detail: %w", err)
	}
	return New(backend, detail, opts)
}

func questionsOf(s *model.AttemptSnapshot) []model.Question {
	qs := make([]model.Question, len(s.Questions))
	for i, sq := range s.Questions {
		qs[i] = sq.Question
	}
	return qs
}

// Start begins (Fresh) or resumes (Resume) the attempt. It is valid only
// from NotStarted. Attempt-limit and expiry outcomes leave the controller in
// NotStarted and are returned unchanged so their messages reach the student
// verbatim.
func (c *Controller) Start(ctx context.Context, mode model.StartMode) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown start mode %q", ErrInvalidState, mode)
	}

	c.mu.Lock()
	if err := c.usableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.status != StatusNotStarted || c.starting {
		c.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidState, c.status)
	}
	c.starting = true
	c.mu.Unlock()

	snap, err := c.backend.BeginAttempt(ctx, c.testID, mode)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.starting = false

	if err != nil {
		c.log.Warn().Err(err).Str("mode", string(mode)).Msg("Begin attempt failed")
		return err
	}
	if c.closed {
		return ErrClosed
	}
	if snap.RemainingSeconds < 0 {
		c.log.Warn().Int("remaining", snap.RemainingSeconds).Msg("Refusing to start an expired attempt")
		return errAlreadyExpired()
	}
	if snap.TestID != c.testID {
		return fmt.Errorf("begin attempt: snapshot is for test %s", snap.TestID)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("begin attempt: %w", err)
	}

	questions := questionsOf(snap)
	buffer, err := NewAnswerBuffer(questions)
	if err != nil {
		return fmt.Errorf("begin attempt: %w", err)
	}
	if mode == model.StartModeResume {
		entries := make([]model.AnswerEntry, 0, len(snap.Questions))
		for _, sq := range snap.Questions {
			entries = append(entries, sq.Entry())
		}
		if err := buffer.Load(entries); err != nil {
			return fmt.Errorf("resume answers: %w", err)
		}
	}

	c.detail = snap
	c.questions = questions
	c.buffer = buffer
	c.total = snap.TotalDurationSeconds
	c.remaining = snap.RemainingSeconds
	c.active = 0
	c.timedOut = false
	c.saver = newAutosaver(c.backend, c.testID, c.opts.Now, c.log)
	c.status = StatusInProgress

	c.timers.Set(timerTick, c.opts.Scheduler.Every(c.opts.TickInterval, c.onTick))
	c.timers.Set(timerAutosave, c.opts.Scheduler.Every(c.opts.AutosaveInterval, c.onAutosave))

	c.log.Info().
		Str("mode", string(mode)).
		Int("attempt", snap.AttemptNumber).
		Int("remaining", c.remaining).
		Int("answered", buffer.Answered()).
		Msg("Attempt started")

	if len(c.questions) > 0 {
		c.opts.Observer.QuestionActivated(c.questions[0])
	}
	return nil
}

// Navigate moves to index, clamped to the question range, and returns the
// resulting index. Changing question resets the viewport handshake before the
// new question is announced.
func (c *Controller) Navigate(index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.requireInProgressLocked(); err != nil {
		return c.active, err
	}
	if len(c.questions) == 0 {
		return 0, nil
	}
	index = min(max(index, 0), len(c.questions)-1)
	if index == c.active {
		return index, nil
	}
	c.active = index
	c.opts.Observer.QuestionActivated(c.questions[index])
	return index, nil
}

// Tick advances the countdown by one second. Reaching zero submits the
// attempt exactly once; later ticks are no-ops.
func (c *Controller) Tick(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || c.status != StatusInProgress {
		c.mu.Unlock()
		return nil
	}
	if c.remaining > 0 {
		c.remaining--
	}
	fire := c.remaining == 0 && !c.timedOut
	if fire {
		c.timedOut = true
	}
	c.mu.Unlock()

	if !fire {
		return nil
	}
	c.log.Info().Msg("Time is up, submitting")
	_, err := c.Submit(ctx, SubmitTimeout)
	return err
}

func (c *Controller) onTick() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AutosaveInterval)
	defer cancel()
	if err := c.Tick(ctx); err != nil {
		c.log.Error().Err(err).Msg("Timeout submission failed; waiting for retry")
	}
}

// Submit sends the current answers as the final submission. Concurrent
// callers share a single network call and observe the same outcome. On
// failure the attempt stays InProgress and SubmitPending reports true until
// a retry succeeds.
func (c *Controller) Submit(ctx context.Context, reason SubmitReason) (*model.SubmitResult, error) {
	c.mu.Lock()
	if err := c.requireInProgressLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	v, err, shared := c.flight.Do("submit", func() (any, error) {
		return c.doSubmit(ctx, reason)
	})
	if shared {
		c.log.Debug().Str("reason", string(reason)).Msg("Joined in-flight submission")
	}
	if err != nil {
		return nil, err
	}
	return v.(*model.SubmitResult), nil
}

// RetrySubmit repeats a failed submission with its original reason.
func (c *Controller) RetrySubmit(ctx context.Context) (*model.SubmitResult, error) {
	c.mu.Lock()
	reason := c.lastReason
	c.mu.Unlock()
	if reason == "" {
		reason = SubmitManual
	}
	return c.Submit(ctx, reason)
}

func (c *Controller) doSubmit(ctx context.Context, reason SubmitReason) (*model.SubmitResult, error) {
	c.mu.Lock()
	// A caller that lost the race with a completed submission lands here
	// after the state has moved on; it must not send again.
	if err := c.requireInProgressLocked(); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	answers := c.buffer.Snapshot()
	c.submitting = true
	c.lastReason = reason
	c.mu.Unlock()

	res, err := c.backend.SubmitAttempt(ctx, c.testID, model.SubmitRequest{Answers: answers})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitting = false

	if err != nil {
		c.submitErr = err
		c.log.Error().Err(err).Str("reason", string(reason)).Msg("Submission failed")
		return nil, err
	}
	if res == nil {
		res = &model.SubmitResult{}
	}

	c.status = StatusSubmitted
	c.submitErr = nil
	c.result = res
	c.timers.StopAll()
	c.opts.Observer.AttemptEnded()

	ev := c.log.Info().Str("reason", string(reason))
	if res.Score != nil {
		ev = ev.Float64("score", *res.Score)
	}
	ev.Msg("Attempt submitted")
	return res, nil
}

// SetAnswer overwrites the answer of a question.
func (c *Controller) SetAnswer(id model.QuestionID, a model.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return err
	}
	return c.buffer.Set(id, a)
}

// ToggleChoice flips a choice on a choice-based question.
func (c *Controller) ToggleChoice(id model.QuestionID, choice model.ChoiceID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return err
	}
	return c.buffer.Toggle(id, choice)
}

// ClearAnswer resets a question to unanswered.
func (c *Controller) ClearAnswer(id model.QuestionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return err
	}
	return c.buffer.Clear(id)
}

// Answer returns a copy of the buffered answer for id.
func (c *Controller) Answer(id model.QuestionID) (model.Answer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.buffer == nil {
		return nil, false
	}
	return c.buffer.Get(id)
}

// Autosave persists the current answers. Only precondition violations are
// returned as errors; network outcomes live on the ticket and in View.Save.
func (c *Controller) Autosave(ctx context.Context, trigger Trigger) (*Ticket, error) {
	t, saver, err := c.prepareAutosave(trigger)
	if err != nil {
		return nil, err
	}
	return saver.send(ctx, t), nil
}

// Hidden is the visibility-hidden lifecycle signal.
func (c *Controller) Hidden(ctx context.Context) (*Ticket, error) {
	return c.Autosave(ctx, TriggerHidden)
}

// Unload is the process-termination signal. The snapshot is taken before
// Unload returns; the send runs on its own goroutine and may outlive Close.
// The returned channel closes when the send finishes.
func (c *Controller) Unload(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	t, saver, err := c.prepareAutosave(TriggerUnload)
	if err != nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		saver.send(context.WithoutCancel(ctx), t)
	}()
	return done
}

func (c *Controller) prepareAutosave(trigger Trigger) (*Ticket, *autosaver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.requireInProgressLocked(); err != nil {
		return nil, nil, err
	}
	snap := snapshot{
		remaining:  c.remaining,
		answers:    c.buffer.Snapshot(),
		hasAnswers: c.buffer.HasAnswers(),
	}
	return c.saver.prepare(trigger, snap), c.saver, nil
}

func (c *Controller) onAutosave() {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.AutosaveInterval)
	defer cancel()
	if _, err := c.Autosave(ctx, TriggerPeriodic); err != nil && !errors.Is(err, ErrInvalidState) && !errors.Is(err, ErrClosed) {
		c.log.Warn().Err(err).Msg("Periodic autosave skipped")
	}
}

// Close tears the controller down: every timer stops and the observer is
// told the attempt is gone. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.timers.StopAll()
	if c.status != StatusSubmitted {
		c.opts.Observer.AttemptEnded()
	}
	c.log.Debug().Str("status", c.status.String()).Msg("Controller closed")
}

// Status returns the lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SubmitPending reports whether a failed submission is waiting for a retry.
func (c *Controller) SubmitPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status == StatusInProgress && !c.submitting && c.submitErr != nil
}

// Questions returns the ordered questions of the attempt.
func (c *Controller) Questions() []model.Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// ActiveQuestion returns the question at the active index.
func (c *Controller) ActiveQuestion() (model.Question, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.questions) == 0 {
		return model.Question{}, false
	}
	return c.questions[c.active], true
}

// View returns a consistent read of the controller.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{
		TestID:           c.testID,
		Title:            c.detail.Title,
		Status:           c.status,
		TotalSeconds:     c.total,
		RemainingSeconds: c.remaining,
		MaxAttempts:      c.detail.MaxAttempts,
		AttemptNumber:    c.detail.AttemptNumber,
		ActiveIndex:      c.active,
		QuestionCount:    len(c.questions),
		Submitting:       c.submitting,
		SubmitError:      c.submitErr,
		SubmitPending:    c.status == StatusInProgress && !c.submitting && c.submitErr != nil,
	}
	if c.buffer != nil {
		v.Answered = c.buffer.Answered()
	}
	if c.result != nil {
		v.Score = c.result.Score
	}
	if c.saver != nil {
		v.Save = c.saver.Status()
	}
	return v
}

func (c *Controller) usableLocked() error {
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *Controller) requireInProgressLocked() error {
	if err := c.usableLocked(); err != nil {
		return err
	}
	if c.status != StatusInProgress {
		return fmt.Errorf("%w: %s", ErrInvalidState, c.status)
	}
	return nil
}
