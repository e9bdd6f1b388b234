package auth

import (
	"fmt"
	"net/http"

	"roomcast/pkg/interfaces"
	"roomcast/pkg/types"
)

// UserIDQueryParam names the connect request parameter read by QueryResolver
const UserIDQueryParam = "user_id"

// QueryResolver trusts the user_id query parameter as long as the user
// exists in the directory. Meant for trusted networks and local development.
type QueryResolver struct {
	users interfaces.UserDirectory
}

// NewQueryResolver creates a resolver backed by users
func NewQueryResolver(users interfaces.UserDirectory) (*QueryResolver, error) {
	if users == nil {
		return nil, ErrNilUserDirectory
	}
	return &QueryResolver{users: users}, nil
}

// Resolve implements interfaces.IdentityResolver
func (qr *QueryResolver) Resolve(r *http.Request) (string, error) {
	userID := r.URL.Query().Get(UserIDQueryParam)
	if userID == "" {
		return "", fmt.Errorf("%w: %w", interfaces.ErrAuthenticationFailed, ErrMissingUserID)
	}
	if !types.IsValidID(userID) {
		return "", fmt.Errorf("%w: %w", interfaces.ErrAuthenticationFailed, types.ErrInvalidUserID)
	}

	exists, err := qr.users.UserExists(r.Context(), userID)
	if err != nil {
		return "", fmt.Errorf("%w: failed to look up user %s: %w", interfaces.ErrAuthenticationFailed, userID, err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %w: %s", interfaces.ErrAuthenticationFailed, ErrUnknownUser, userID)
	}
	return userID, nil
}
