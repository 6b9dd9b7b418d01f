package server

import "errors"

var (
	// ErrNotAccepting is returned when a connection arrives during shutdown
	ErrNotAccepting = errors.New("server not accepting connections")

	// ErrInvalidBroadcast is returned for malformed broadcast requests
	ErrInvalidBroadcast = errors.New("invalid broadcast request")
)
