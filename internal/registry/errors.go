package registry

import "errors"

// Registry-specific errors. Taxonomy errors (unknown/duplicate connection)
// come from pkg/interfaces.
var (
	ErrEmptyConnectionID = errors.New("connection ID cannot be empty")
	ErrEmptyUserID       = errors.New("connection must carry an authenticated user ID")
)
