package interfaces

import "errors"

// Error taxonomy shared by the registry, membership, routing and presence layers
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnknownConnection    = errors.New("unknown connection")
	ErrRoomNotFound         = errors.New("room not found")
	ErrForbidden            = errors.New("forbidden")
	ErrDuplicateConnection  = errors.New("duplicate connection")
	ErrStore                = errors.New("message store error")
	ErrTransport            = errors.New("transport error")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrRateLimited          = errors.New("rate limit exceeded")
)

// Error codes sent to clients in acknowledgements
const (
	CodeAuthenticationFailure = "authentication_failure"
	CodeUnknownConnection     = "unknown_connection"
	CodeRoomNotFound          = "room_not_found"
	CodeForbidden             = "forbidden"
	CodeDuplicateConnection   = "duplicate_connection"
	CodeStoreError            = "store_error"
	CodeTransportError        = "transport_error"
	CodeInvalidArgument       = "invalid_argument"
	CodeRateLimited           = "rate_limited"
	CodeInternal              = "internal_error"
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrAuthenticationFailed, CodeAuthenticationFailure},
	{ErrUnknownConnection, CodeUnknownConnection},
	{ErrRoomNotFound, CodeRoomNotFound},
	{ErrForbidden, CodeForbidden},
	{ErrDuplicateConnection, CodeDuplicateConnection},
	{ErrStore, CodeStoreError},
	{ErrConnectionClosed, CodeTransportError},
	{ErrTransport, CodeTransportError},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrRateLimited, CodeRateLimited},
}

// ErrorCode maps an error, possibly wrapped, to its stable client-facing code.
// It returns "" for a nil error.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return CodeInternal
}
