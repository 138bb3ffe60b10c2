// Package handshake implements the readiness/delivery/acknowledgment protocol
// between an exam attempt and the embedded simulation viewport.
package handshake

import (
	"encoding/json"
	"strings"
)

// MessageType is the "type" field of a viewport message.
type MessageType string

// ─── Outbound (host → viewport) ─────────────────────────────────────

const (
	TypePing           MessageType = "PING"
	TypeSimulationData MessageType = "SIMULATION_DATA"
)

// ─── Inbound (viewport → host) ──────────────────────────────────────

const (
	TypeListenerReady MessageType = "UNITY_LISTENER_READY"
	TypeInstanceReady MessageType = "UNITY_INSTANCE_READY"
	TypeAck           MessageType = "SIMULATION_ACK"
)

// Message is one frame on the viewport channel.
type Message struct {
	Type    MessageType     `json:"type"`
	Tool    string          `json:"tool,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound is a message together with the origin it arrived from and the
// cache-bust token of the viewport load that sent it.
type Inbound struct {
	Origin  string
	Token   string
	Message Message
}

// Readiness reports whether m is either readiness signal.
func (m Message) Readiness() bool {
	return m.Type == TypeListenerReady || m.Type == TypeInstanceReady
}

// SameOrigin compares two origins the way browsers do: scheme and host are
// case-insensitive and a trailing slash is not significant.
func SameOrigin(a, b string) bool {
	a = strings.TrimSuffix(strings.TrimSpace(a), "/")
	b = strings.TrimSuffix(strings.TrimSpace(b), "/")
	return a != "" && strings.EqualFold(a, b)
}
