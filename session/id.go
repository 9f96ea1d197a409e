package session

import (
	"crypto/rand"
	"encoding/base64"
)

const (
	idRawSize = 32

	// MinIDLength and MaxIDLength bound the accepted session id length.
	MinIDLength = 20
	MaxIDLength = 50
)

// NewID returns a fresh session id: 32 bytes from crypto/rand encoded as
// unpadded base64url (43 printable characters).
func NewID() (string, error) {
	var raw [idRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// ValidID reports whether id has the shape of a session id. It is used to
// reject garbage cookie values before they reach the store.
func ValidID(id string) bool {
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
