package handshake

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-attempt/internal/model"
	"github.com/stemsi/exstem-attempt/internal/timer"
)

const (
	timerRetry   = "retry"
	timerSpinner = "spinner"
)

// Viewport is the embedded simulation surface.
type Viewport interface {
	// Load starts a new viewport instance; the token must reach the instance
	// so its load-complete signal can be matched to this load.
	Load(cacheBust string) error
	// Post sends m, dropping it unless the viewport's origin is targetOrigin.
	Post(m Message, targetOrigin string) error
}

// Indicator renders the loading spinner. It may be nil.
type Indicator interface {
	SetLoading(loading bool)
}

// Coordinator drives Transition from real events: it owns the state, the
// retry and spinner timers, and executes effects against the viewport.
//
// It implements session.Observer. Effects run with the coordinator lock held
// so a reset is never interleaved with a send of the previous activation.
type Coordinator struct {
	policy    Policy
	viewport  Viewport
	indicator Indicator
	sched     timer.Scheduler
	timers    *timer.Group
	newToken  func() string
	log       zerolog.Logger

	mu    sync.Mutex
	state State
}

// Options configures a Coordinator.
type Options struct {
	Scheduler timer.Scheduler
	Indicator Indicator
	// NewToken generates cache-bust tokens; defaults to random UUIDs.
	NewToken func() string
	Logger   zerolog.Logger
}

// NewCoordinator creates an idle coordinator.
func NewCoordinator(viewport Viewport, policy Policy, opts Options) *Coordinator {
	if opts.Scheduler == nil {
		opts.Scheduler = timer.NewSystem()
	}
	if opts.NewToken == nil {
		opts.NewToken = func() string { return uuid.NewString() }
	}
	return &Coordinator{
		policy:    policy,
		viewport:  viewport,
		indicator: opts.Indicator,
		sched:     opts.Scheduler,
		timers:    timer.NewGroup(),
		newToken:  opts.NewToken,
		log:       opts.Logger.With().Str("component", "handshake").Logger(),
	}
}

// QuestionActivated resets the handshake for q.
func (c *Coordinator) QuestionActivated(q model.Question) {
	var sim *model.Simulation
	if q.HasSimulation() {
		sim = q.Simulation
	}
	c.Dispatch(Activate{Simulation: sim})
}

// AttemptEnded stops the handshake for good.
func (c *Coordinator) AttemptEnded() {
	c.Dispatch(End{})
}

// Open shows the viewport for the active question. The first load of an
// activation carries no cache-bust token.
func (c *Coordinator) Open() {
	c.Dispatch(Open{})
}

// Reload forces a fresh viewport instance.
func (c *Coordinator) Reload() {
	c.Dispatch(Reload{CacheBust: c.newToken()})
}

// Loaded forwards the viewport's load-complete signal.
func (c *Coordinator) Loaded(cacheBust string) {
	c.Dispatch(Loaded{CacheBust: cacheBust})
}

// Receive forwards one inbound message.
func (c *Coordinator) Receive(in Inbound) {
	c.Dispatch(Received{Inbound: in})
}

// Run feeds inbound messages to the state machine until ctx is done or in
// is closed.
func (c *Coordinator) Run(ctx context.Context, in <-chan Inbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			c.Receive(m)
		}
	}
}

// State returns a copy of the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.state
	if s.Session != nil {
		cp := *s.Session
		s.Session = &cp
	}
	return s
}

// Dispatch applies ev and executes the resulting effects.
func (c *Coordinator) Dispatch(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	next, effects := Transition(prev, ev, c.policy)
	c.state = next

	if in, ok := ev.(Received); ok && !SameOrigin(in.Inbound.Origin, c.policy.Origin) {
		c.log.Warn().
			Str("origin", in.Inbound.Origin).
			Str("type", string(in.Inbound.Message.Type)).
			Msg("Ignored message from foreign origin")
	} else if ok && in.Inbound.Token != prev.CacheBust {
		c.log.Debug().
			Str("token", in.Inbound.Token).
			Str("type", string(in.Inbound.Message.Type)).
			Msg("Ignored message from a discarded viewport load")
	}
	if prev.Phase != next.Phase || prev.Generation != next.Generation {
		c.log.Debug().
			Str("from", prev.Phase.String()).
			Str("to", next.Phase.String()).
			Uint64("generation", next.Generation).
			Msg("Handshake phase changed")
	}

	for _, eff := range effects {
		c.execute(eff)
	}
}

func (c *Coordinator) execute(eff Effect) {
	switch e := eff.(type) {
	case Load:
		if err := c.viewport.Load(e.CacheBust); err != nil {
			c.log.Warn().Err(err).Msg("Viewport load failed")
		}
	case Post:
		if err := c.viewport.Post(e.Message, e.TargetOrigin); err != nil {
			// Not an error for the attempt: the viewport is simply not ready.
			c.log.Debug().Err(err).Str("type", string(e.Message.Type)).Msg("Viewport post dropped")
			return
		}
		if e.Message.Type == TypeSimulationData && c.state.Session != nil {
			c.log.Debug().
				Str("tool", e.Message.Tool).
				Int("attempt", c.state.Session.AttemptsSent).
				Msg("Simulation payload sent")
		}
	case ScheduleRetry:
		gen := e.Generation
		c.timers.Set(timerRetry, c.sched.AfterFunc(e.After, func() {
			c.Dispatch(Retry{Generation: gen})
		}))
	case CancelRetry:
		c.timers.Cancel(timerRetry)
	case ShowSpinner:
		gen := e.Generation
		c.timers.Set(timerSpinner, c.sched.AfterFunc(e.Timeout, func() {
			c.Dispatch(SpinnerTimeout{Generation: gen})
		}))
		c.setLoading(true)
	case DismissSpinner:
		c.timers.Cancel(timerSpinner)
		c.setLoading(false)
	}
}

func (c *Coordinator) setLoading(loading bool) {
	if c.indicator != nil {
		c.indicator.SetLoading(loading)
	}
}

// Close ends the handshake and stops every timer.
func (c *Coordinator) Close() {
	c.Dispatch(End{})
	c.timers.StopAll()
}
