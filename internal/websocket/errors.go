package websocket

import "errors"

var (
	ErrNilCoordinator  = errors.New("handler requires a coordinator")
	ErrNilSockets      = errors.New("handler requires a socket table")
	ErrDuplicateSocket = errors.New("socket already registered")
	ErrInvalidEvent    = errors.New("invalid event")
)
