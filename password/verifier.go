package password

import (
	"errors"
	"strings"
)

// MaxPasswordBytes bounds any password accepted for hashing or verification.
const MaxPasswordBytes = 1024

// Scheme names reported by [Hasher.Scheme].
const (
	SchemeBcrypt   = "bcrypt"
	SchemeArgon2id = "argon2id"
)

var (
	ErrMalformedHash = errors.New("malformed password hash")
	ErrUnknownScheme = errors.New("unknown password hash scheme")
	ErrTooLong       = errors.New("password too long")
	ErrEmpty         = errors.New("password is empty")
)

// Hasher produces and checks hashes of one scheme.
type Hasher interface {
	Scheme() string
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	NeedsUpgrade(encoded string) (bool, error)
}

// Verifier hashes with a primary [Hasher] and verifies bcrypt and Argon2id
// hashes alike.
type Verifier struct {
	primary Hasher
}

// NewVerifier returns a Verifier hashing with primary. A nil primary selects
// bcrypt at the default cost.
func NewVerifier(primary Hasher) *Verifier {
	if primary == nil {
		primary, _ = NewBcrypt(0)
	}
	return &Verifier{primary: primary}
}

// Hash hashes password with the primary scheme.
func (v *Verifier) Hash(password string) (string, error) {
	return v.primary.Hash(password)
}

// Verify checks password against encoded, whatever its scheme. A mismatch is
// (false, nil); an unreadable hash is an error.
func (v *Verifier) Verify(password, encoded string) (bool, error) {
	if len(password) > MaxPasswordBytes {
		return false, nil
	}
	switch schemeOf(encoded) {
	case SchemeBcrypt:
		return verifyBcrypt(password, encoded)
	case SchemeArgon2id:
		return verifyArgon2(password, encoded)
	default:
		return false, ErrUnknownScheme
	}
}

// NeedsUpgrade reports whether encoded should be replaced by a fresh hash
// from the primary scheme.
func (v *Verifier) NeedsUpgrade(encoded string) (bool, error) {
	scheme := schemeOf(encoded)
	if scheme == "" {
		return false, ErrUnknownScheme
	}
	if scheme != v.primary.Scheme() {
		return true, nil
	}
	return v.primary.NeedsUpgrade(encoded)
}

func schemeOf(encoded string) string {
	switch {
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		return SchemeBcrypt
	case strings.HasPrefix(encoded, argon2Prefix):
		return SchemeArgon2id
	}
	return ""
}

func checkLength(password string) error {
	if password == "" {
		return ErrEmpty
	}
	if len(password) > MaxPasswordBytes {
		return ErrTooLong
	}
	return nil
}
