package settings

import "errors"

var (
	// ErrInvalidPort is returned for a port that is not a number in 1-65535.
	ErrInvalidPort = errors.New("settings: invalid port")

	// ErrUnknownField is returned by Apply for an unrecognised key.
	ErrUnknownField = errors.New("settings: unknown field")
)
