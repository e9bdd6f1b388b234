//go:generate go run go.uber.org/mock/mockgen -source=identity.go -destination=../../internal/mocks/mock_identity.go -package=mocks
package interfaces

import "net/http"

// IdentityResolver turns the transport-level connect request into a verified
// user identifier
type IdentityResolver interface {
	// Resolve returns the authenticated user ID for the request, or an error
	// wrapping ErrAuthenticationFailed
	Resolve(r *http.Request) (string, error)
}
