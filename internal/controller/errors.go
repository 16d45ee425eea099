package controller

import "errors"

// Sentinel errors for controller operations.
var (
	// ErrAlreadyConnected is returned by Connect while a session is up.
	ErrAlreadyConnected = errors.New("controller: already connected")

	// ErrConnecting is returned by Connect while an attempt is in progress.
	ErrConnecting = errors.New("controller: connection attempt in progress")

	// ErrInvalidTopic is returned for an empty or malformed topic.
	ErrInvalidTopic = errors.New("controller: invalid topic")

	// ErrUnknownPreset is returned for a predefined publish that does not exist.
	ErrUnknownPreset = errors.New("controller: unknown predefined publish")

	// ErrHistoryDisabled is returned when no history store is attached.
	ErrHistoryDisabled = errors.New("controller: message history is disabled")
)
