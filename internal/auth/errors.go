package auth

import "errors"

var (
	ErrMissingToken     = errors.New("authentication token is missing")
	ErrInvalidToken     = errors.New("invalid or expired token")
	ErrMissingUserID    = errors.New("user_id is missing")
	ErrUnknownUser      = errors.New("unknown user")
	ErrEmptySecret      = errors.New("jwt secret must not be empty")
	ErrNilUserDirectory = errors.New("query resolver requires a user directory")
)
