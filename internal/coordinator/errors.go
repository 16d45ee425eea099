package coordinator

import "errors"

// Domain-specific errors for the connection coordinator.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidConfig is returned by ConfigureAndConnect before any network
	// activity when the connection settings are unusable.
	ErrInvalidConfig = errors.New("coordinator: invalid connection config")

	// ErrNotConnected is returned by Publish and Subscribe when no session is
	// connected or connecting.
	ErrNotConnected = errors.New("coordinator: not connected")

	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("coordinator: closed")

	// ErrShutdownTimeout is returned when a session goroutine did not exit
	// within the shutdown timeout.
	ErrShutdownTimeout = errors.New("coordinator: session did not stop in time")
)
