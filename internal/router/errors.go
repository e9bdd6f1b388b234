package router

import "errors"

var (
	ErrNilDirectory = errors.New("router requires a connection directory")
	ErrNilTransport = errors.New("router requires a transport")
)
