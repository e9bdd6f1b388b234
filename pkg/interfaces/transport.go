//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../../internal/mocks/mock_transport.go -package=mocks
package interfaces

import "context"

// Transport is the per-connection send primitive of the transport layer
type Transport interface {
	// Send writes payload to a single connection. It returns an error wrapping
	// ErrConnectionClosed when the connection is gone and ErrTransport for any
	// other write failure. Implementations must honor ctx cancellation.
	Send(ctx context.Context, connectionID string, payload []byte) error
}
