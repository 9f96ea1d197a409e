package federation

import (
	"context"
	"errors"
)

var (
	// ErrInvalidAssertion is returned when the provider evidence does not
	// verify.
	ErrInvalidAssertion = errors.New("invalid external identity assertion")
	// ErrProviderUnavailable is returned when the provider cannot be reached.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
)

// Identity is a verified external identity.
type Identity struct {
	Provider string
	Subject  string
	Email    string
}

// Stage turns provider evidence (a code or a token) into a verified
// [Identity].
type Stage interface {
	Provider() string
	Verify(ctx context.Context, evidence string) (Identity, error)
}
