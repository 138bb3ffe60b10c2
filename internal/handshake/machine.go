package handshake

import (
	"fmt"
	"time"

	"github.com/stemsi/exstem-attempt/internal/model"
)

// Phase is the handshake state of the active question.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingViewportReady
	PhaseDelivering
	PhaseAcked
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingViewportReady:
		return "awaiting_viewport_ready"
	case PhaseDelivering:
		return "delivering"
	case PhaseAcked:
		return "acked"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Session is the delivery record of one activation.
type Session struct {
	ToolName     string
	Payload      []byte
	Acked        bool
	AttemptsSent int
}

// State is everything the transition function needs. It is a value: the
// transition never mutates its input.
type State struct {
	Phase Phase
	// Session is nil when the active question has no simulation.
	Session *Session
	// Visible is true once the student opened the viewport for this
	// activation.
	Visible bool
	// CacheBust is the token of the current viewport load.
	CacheBust string
	Spinner   bool
	// Generation changes on every reset; timers carry the generation they
	// were scheduled under and are ignored once it moves on.
	Generation uint64
}

func (s State) withSession(f func(*Session)) State {
	if s.Session == nil {
		return s
	}
	cp := *s.Session
	f(&cp)
	s.Session = &cp
	return s
}

// Policy holds the fixed parameters of the protocol.
type Policy struct {
	// Origin is the only origin messages are accepted from and posted to.
	Origin        string
	MaxRedelivery int
	RetryInterval time.Duration
	// SpinnerTimeout dismisses the loading indicator regardless of outcome.
	SpinnerTimeout time.Duration
}

// ─── Events ─────────────────────────────────────────────────────────

// Event is an input to Transition.
type Event interface{ event() }

// Activate announces a newly active question. Simulation is nil for
// questions without a viewport payload.
type Activate struct{ Simulation *model.Simulation }

// Open is the student's request to show the viewport.
type Open struct{ CacheBust string }

// Loaded is the viewport's load-complete signal for the load with CacheBust.
type Loaded struct{ CacheBust string }

// Received is an inbound channel message.
type Received struct{ Inbound Inbound }

// Retry is a redelivery timer firing.
type Retry struct{ Generation uint64 }

// SpinnerTimeout is the loading indicator fallback firing.
type SpinnerTimeout struct{ Generation uint64 }

// Reload is the manual "reload viewport" action.
type Reload struct{ CacheBust string }

// End tears the handshake down when the attempt is over.
type End struct{}

func (Activate) event()       {}
func (Open) event()           {}
func (Loaded) event()         {}
func (Received) event()       {}
func (Retry) event()          {}
func (SpinnerTimeout) event() {}
func (Reload) event()         {}
func (End) event()            {}

// ─── Effects ────────────────────────────────────────────────────────

// Effect is a side effect requested by Transition.
type Effect interface{ effect() }

// Load starts a fresh viewport load.
type Load struct{ CacheBust string }

// Post sends a message to TargetOrigin.
type Post struct {
	Message      Message
	TargetOrigin string
}

// ScheduleRetry arms the redelivery timer.
type ScheduleRetry struct {
	Generation uint64
	After      time.Duration
}

// CancelRetry disarms the redelivery timer.
type CancelRetry struct{}

// ShowSpinner shows the loading indicator and arms its fallback timer.
type ShowSpinner struct {
	Generation uint64
	Timeout    time.Duration
}

// DismissSpinner hides the loading indicator.
type DismissSpinner struct{}

func (Load) effect()           {}
func (Post) effect()           {}
func (ScheduleRetry) effect()  {}
func (CancelRetry) effect()    {}
func (ShowSpinner) effect()    {}
func (DismissSpinner) effect() {}

// Transition is the handshake state machine. It is pure: given the same
// state, event and policy it always returns the same result.
func Transition(s State, ev Event, p Policy) (State, []Effect) {
	switch e := ev.(type) {
	case Activate:
		next, effects := reset(s)
		next.Visible = false
		next.CacheBust = ""
		next.Session = nil
		if e.Simulation != nil && len(e.Simulation.Payload) > 0 {
			next.Session = &Session{
				ToolName: e.Simulation.ToolName,
				Payload:  append([]byte(nil), e.Simulation.Payload...),
			}
		}
		return next, effects

	case Open:
		if s.Session == nil || s.Phase != PhaseIdle {
			return s, nil
		}
		return beginLoad(s, e.CacheBust, p, nil)

	case Reload:
		if s.Session == nil {
			return s, nil
		}
		next, effects := reset(s)
		next = next.withSession(func(ss *Session) {
			ss.Acked = false
			ss.AttemptsSent = 0
		})
		return beginLoad(next, e.CacheBust, p, effects)

	case Loaded:
		if s.Session == nil || !s.Visible || s.Phase != PhaseAwaitingViewportReady || e.CacheBust != s.CacheBust {
			return s, nil
		}
		return s, []Effect{Post{Message: Message{Type: TypePing}, TargetOrigin: p.Origin}}

	case Received:
		if !SameOrigin(e.Inbound.Origin, p.Origin) {
			return s, nil
		}
		if e.Inbound.Token != s.CacheBust {
			// Sent by an instance a reload already discarded.
			return s, nil
		}
		return receive(s, e.Inbound.Message, p)

	case Retry:
		if e.Generation != s.Generation || s.Phase != PhaseDelivering || s.Session == nil {
			return s, nil
		}
		redelivered := s.Session.AttemptsSent - 1
		if redelivered >= p.MaxRedelivery {
			return s, nil
		}
		return deliver(s, p)

	case SpinnerTimeout:
		if e.Generation != s.Generation || !s.Spinner {
			return s, nil
		}
		s.Spinner = false
		return s, []Effect{DismissSpinner{}}

	case End:
		next, effects := reset(s)
		next.Visible = false
		next.CacheBust = ""
		next.Session = nil
		return next, effects
	}
	return s, nil
}

// reset returns to Idle under a new generation, cancelling whatever the
// previous generation had armed.
func reset(s State) (State, []Effect) {
	var effects []Effect
	if s.Phase == PhaseDelivering {
		effects = append(effects, CancelRetry{})
	}
	if s.Spinner {
		effects = append(effects, DismissSpinner{})
	}
	s.Phase = PhaseIdle
	s.Spinner = false
	s.Generation++
	return s, effects
}

func beginLoad(s State, token string, p Policy, effects []Effect) (State, []Effect) {
	s.Phase = PhaseAwaitingViewportReady
	s.Visible = true
	s.CacheBust = token
	s.Spinner = true
	effects = append(effects,
		Load{CacheBust: token},
		ShowSpinner{Generation: s.Generation, Timeout: p.SpinnerTimeout},
	)
	return s, effects
}

func receive(s State, m Message, p Policy) (State, []Effect) {
	switch {
	case m.Readiness():
		// Readiness only starts delivery; repeated signals while delivering
		// or after the ack are absorbed.
		if s.Phase != PhaseAwaitingViewportReady || s.Session == nil || !s.Visible {
			return s, nil
		}
		s.Phase = PhaseDelivering
		return deliver(s, p)

	case m.Type == TypeAck:
		if s.Phase != PhaseDelivering || s.Session == nil {
			return s, nil
		}
		s.Phase = PhaseAcked
		s = s.withSession(func(ss *Session) { ss.Acked = true })
		effects := []Effect{CancelRetry{}}
		if s.Spinner {
			s.Spinner = false
			effects = append(effects, DismissSpinner{})
		}
		return s, effects
	}
	return s, nil
}

// deliver posts the payload and arms the next redelivery while the bound
// allows one.
func deliver(s State, p Policy) (State, []Effect) {
	s = s.withSession(func(ss *Session) { ss.AttemptsSent++ })
	effects := []Effect{Post{
		Message: Message{
			Type:    TypeSimulationData,
			Tool:    s.Session.ToolName,
			Payload: s.Session.Payload,
		},
		TargetOrigin: p.Origin,
	}}
	if s.Spinner {
		s.Spinner = false
		effects = append(effects, DismissSpinner{})
	}
	if s.Session.AttemptsSent-1 < p.MaxRedelivery {
		effects = append(effects, ScheduleRetry{Generation: s.Generation, After: p.RetryInterval})
	}
	return s, effects
}
