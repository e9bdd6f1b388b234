package types

import "errors"

// Validation errors for the data model
var (
	ErrInvalidUserID   = errors.New("user ID must be 1-64 characters: letters, digits, _ . : -")
	ErrInvalidRoomID   = errors.New("room ID must be 1-64 characters: letters, digits, _ . : -")
	ErrMissingTarget   = errors.New("message must target a room or a user")
	ErrAmbiguousTarget = errors.New("message cannot target both a room and a user")
	ErrEmptyBody       = errors.New("message body cannot be empty")
	ErrInvalidBody     = errors.New("message body must be valid UTF-8")
	ErrBodyTooLarge    = errors.New("message body exceeds size limit")
)
