// Package session manages the lifecycle of connection attempts toward
// remote participants. Each Session is exclusively owned by the local
// client; the remote side runs its own Session for the same pair and the
// two are correlated only by userId.
package session

import (
	"context"
	"encoding/json"
	"time"
)

// State is the lifecycle position of one Session.
type State string

const (
	StatePending    State = "pending"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateClosed     State = "closed"
)

// Transport is the uniform surface over connection variants (a direct
// peer connection, a relayed call). The variant is chosen once at session
// creation via the registry's TransportFactory. Payloads are opaque JSON:
// session descriptions for offers/answers, connectivity candidates for
// AddCandidate.
type Transport interface {
	// Offer builds and applies the local session description for an
	// outgoing attempt and returns it for relaying.
	Offer(ctx context.Context) (json.RawMessage, error)

	// HandleOffer applies a remote offer and returns the local answer.
	HandleOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)

	// HandleAnswer applies the remote answer to an outgoing attempt.
	HandleAnswer(ctx context.Context, answer json.RawMessage) error

	// AddCandidate applies a remote connectivity candidate.
	AddCandidate(candidate json.RawMessage) error

	Close() error
}

// Callbacks are the transport-to-session event hooks, bound at transport
// creation.
type Callbacks struct {
	// OnStream fires when a remote media stream is attached. Repeated
	// invocations for the same session are tolerated (the session stays
	// connected, nothing duplicates).
	OnStream func()

	// OnCandidate fires for each local connectivity candidate that must be
	// relayed to the remote side.
	OnCandidate func(candidate json.RawMessage)

	// OnClose fires when the underlying connection ends.
	OnClose func()

	// OnError fires on a fatal transport error.
	OnError func(err error)
}

// TransportFactory builds the transport for a new session toward remoteID.
type TransportFactory func(remoteID string, cb Callbacks) (Transport, error)

// Signaler relays session descriptions and candidates to a remote
// participant. Implementations: the WebSocket signaling client, a test fake.
type Signaler interface {
	SendOffer(to string, payload json.RawMessage) error
	SendAnswer(to string, payload json.RawMessage) error
	SendCandidate(to string, payload json.RawMessage) error
}

// Session is the relationship between the local client and one remote
// participant. All fields are guarded by the owning registry's lock.
type Session struct {
	RemoteID  string
	state     State
	transport Transport
	timer     *time.Timer
	startedAt time.Time
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return s.state }
