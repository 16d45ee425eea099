package mqtt

import (
	"context"
	"fmt"
)

// Protocol versions accepted by NewDialer.
const (
	ProtocolV5   = "5"
	ProtocolV311 = "3.1.1"
)

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Handlers receive asynchronous notifications from a Conn.
//
// Handlers are invoked from library goroutines and must not block.
// Any handler may be nil.
type Handlers struct {
	// OnConnectionUp is called each time the link is restored after a loss.
	// It is not called for the initial connection; a successful Dial is that signal.
	OnConnectionUp func()

	// OnConnectionLost is called when an established link drops.
	// It is never called after Disconnect.
	OnConnectionLost func(err error)

	// OnMessage is called for every inbound PUBLISH.
	OnMessage func(topic string, payload []byte)
}

// Conn is one logical broker session.
//
// The session survives link loss: the implementation reconnects on its own and
// reports the transitions through Handlers until Disconnect is called.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Conn interface {
	// Publish sends a message and blocks until the broker completes the
	// exchange for the QoS level (immediately after sending for QoS 0).
	Publish(ctx context.Context, topic string, payload []byte, qos byte) error

	// Subscribe sends a SUBSCRIBE for a single filter and waits for the SUBACK.
	Subscribe(ctx context.Context, filter string, qos byte) error

	// Disconnect closes the session gracefully and stops reconnecting.
	// Calling it more than once is safe.
	Disconnect(ctx context.Context) error

	// Done is closed once the network loop has fully exited.
	Done() <-chan struct{}
}

// Dialer opens broker sessions.
type Dialer interface {
	// Dial blocks until the first CONNACK is accepted, the attempt fails, or
	// ctx is done. A failed attempt is not retried.
	Dial(ctx context.Context, opts Options, h Handlers) (Conn, error)
}

// NewDialer returns a Dialer for the given protocol version.
// An empty protocol selects MQTT v5.
func NewDialer(protocol string, logger Logger) (Dialer, error) {
	if logger == nil {
		logger = noopLogger{}
	}
	switch protocol {
	case ProtocolV5, "":
		return &v5Dialer{logger: logger}, nil
	case ProtocolV311:
		return &v3Dialer{logger: logger}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, protocol)
	}
}

// safeHandlers wraps user handlers with panic recovery so a faulty callback
// cannot take down a library goroutine.
type safeHandlers struct {
	h      Handlers
	logger Logger
}

func (s safeHandlers) up() {
	if s.h.OnConnectionUp == nil {
		return
	}
	defer s.recoverPanic("connection up")
	s.h.OnConnectionUp()
}

func (s safeHandlers) lost(err error) {
	if s.h.OnConnectionLost == nil {
		return
	}
	defer s.recoverPanic("connection lost")
	s.h.OnConnectionLost(err)
}

func (s safeHandlers) message(topic string, payload []byte) {
	if s.h.OnMessage == nil {
		return
	}
	defer s.recoverPanic("message", "topic", topic)
	s.h.OnMessage(topic, payload)
}

func (s safeHandlers) recoverPanic(handler string, args ...any) {
	if r := recover(); r != nil {
		s.logger.Error("MQTT handler panic recovered",
			append([]any{"handler", handler, "panic", r}, args...)...,
		)
	}
}
