package transport

import (
	"github.com/room4-2/ConverseLive/messages"
)

// State is the connection state reported to status listeners
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EventKind names the socket events listeners can subscribe to
type EventKind string

const (
	EventMessage EventKind = "message"
	EventOpen    EventKind = "open"
	EventClose   EventKind = "close"
)

// Event is delivered to listeners on the transport's event loop.
// Message is set for EventMessage; Code and Err describe an EventClose.
type Event struct {
	Kind    EventKind
	Message messages.WireMessage
	Code    int
	Err     error
}

// TokenPlacement selects where the auth token travels on the upgrade request
type TokenPlacement string

const (
	TokenInQuery       TokenPlacement = "query"
	TokenInSubprotocol TokenPlacement = "subprotocol"
)
