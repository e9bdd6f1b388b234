package database

import "errors"

var (
	ErrManagerClosed  = errors.New("database manager is closed")
	ErrWriteTimeout   = errors.New("write operation timeout")
	ErrAlreadyExists  = errors.New("record already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidMessage = errors.New("message must target a room or a user")
)
