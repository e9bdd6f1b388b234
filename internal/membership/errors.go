package membership

import "errors"

var (
	ErrNilRoomStore     = errors.New("room store cannot be nil")
	ErrInvalidCacheSize = errors.New("room cache size must be positive")
)
