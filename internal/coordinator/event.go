package coordinator

import "time"

// State is the lifecycle state of the current session.
type State int

// Session states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventKind tags the Event variant.
type EventKind int

// Event kinds.
const (
	EventConnected EventKind = iota + 1
	EventDisconnected
	EventMessageReceived
	EventPublishAcked
	EventConnectError
)

// String returns the snake_case kind name used in logs and storage.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessageReceived:
		return "message_received"
	case EventPublishAcked:
		return "publish_acked"
	case EventConnectError:
		return "connect_error"
	default:
		return "unknown"
	}
}

// Event is one lifecycle change or message, in transport order.
//
// Topic and Payload are set for EventMessageReceived and EventPublishAcked.
// Reason is set for EventConnectError.
type Event struct {
	Kind    EventKind
	Session uint64
	Topic   string
	Payload []byte
	Reason  string
	Time    time.Time
}
