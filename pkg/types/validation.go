package types

import (
	"regexp"
	"unicode/utf8"
)

// Regex compiled once at package initialization
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

// MaxIDLength bounds user, room and connection identifiers
const MaxIDLength = 64

// IsValidID checks that an identifier is 1-64 characters of letters, digits
// and the separators _ . : -
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > MaxIDLength {
		return false
	}
	return idRegex.MatchString(id)
}

// ValidateBody checks a message body against the configured byte limit
func ValidateBody(body string, maxBytes int) error {
	if body == "" {
		return ErrEmptyBody
	}
	if !utf8.ValidString(body) {
		return ErrInvalidBody
	}
	if maxBytes > 0 && len(body) > maxBytes {
		return ErrBodyTooLarge
	}
	return nil
}

// Validate ensures the message is addressed to exactly one target
func (m *Message) Validate(maxBodyBytes int) error {
	if !IsValidID(m.FromUser) {
		return ErrInvalidUserID
	}
	switch {
	case m.RoomID != "" && m.ToUser != "":
		return ErrAmbiguousTarget
	case m.RoomID != "":
		if !IsValidID(m.RoomID) {
			return ErrInvalidRoomID
		}
	case m.ToUser != "":
		if !IsValidID(m.ToUser) {
			return ErrInvalidUserID
		}
	default:
		return ErrMissingTarget
	}
	return ValidateBody(m.Body, maxBodyBytes)
}
