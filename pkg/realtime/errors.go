package realtime

import "errors"

var (
	// ErrConnectionNotFound is returned when a connection is not registered
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrClientClosed is returned when sending to a closed client
	ErrClientClosed = errors.New("client closed")

	// ErrSendBufferFull is returned when a client's send buffer is full
	ErrSendBufferFull = errors.New("send buffer full")

	// ErrSessionDisconnected is returned for transitions on a terminal session
	ErrSessionDisconnected = errors.New("session disconnected")
)
