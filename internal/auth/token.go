package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"roomcast/pkg/interfaces"
)

// TokenQueryParam carries the token for clients that cannot set headers on
// the websocket handshake
const TokenQueryParam = "token"

// Claims is the payload of a roomcast access token
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenResolver authenticates connect requests with an HS256 JWT
type TokenResolver struct {
	secret []byte
	issuer string
}

// NewTokenResolver creates a resolver verifying tokens signed with secret.
// An empty issuer disables the issuer check.
func NewTokenResolver(secret, issuer string) (*TokenResolver, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &TokenResolver{secret: []byte(secret), issuer: issuer}, nil
}

// Resolve implements interfaces.IdentityResolver
func (tr *TokenResolver) Resolve(r *http.Request) (string, error) {
	raw := bearerToken(r)
	if raw == "" {
		return "", fmt.Errorf("%w: %w", interfaces.ErrAuthenticationFailed, ErrMissingToken)
	}

	claims, err := tr.Validate(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", interfaces.ErrAuthenticationFailed, err)
	}
	return claims.UserID, nil
}

// Validate parses the token and checks its signature, expiry and issuer
func (tr *TokenResolver) Validate(raw string) (*Claims, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tr.issuer != "" {
		options = append(options, jwt.WithIssuer(tr.issuer))
	}

	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (any, error) {
		return tr.secret, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrMissingUserID
	}
	return claims, nil
}

// GenerateToken signs a token for userID valid for ttl
func GenerateToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// bearerToken reads "Authorization: Bearer <token>", falling back to the
// token query parameter
func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}
