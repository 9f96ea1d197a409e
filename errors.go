package sessionauth

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("invalid input")
	// ErrLoginValidation is matched by every *LoginValidationError.
	ErrLoginValidation = errors.New("login rejected")
	// ErrSessionValidation is matched by every *SessionValidationError.
	ErrSessionValidation = errors.New("invalid session write")
	// ErrUserInactive is matched by *UserInactiveError.
	ErrUserInactive = errors.New("user inactive")
	// ErrUserBanned is matched by *UserBannedError.
	ErrUserBanned = errors.New("user banned")
	// ErrUserPasswordChange is matched by *UserPasswordChangeError.
	ErrUserPasswordChange = errors.New("password change required")
	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage failure")

	// ErrNotStarted is returned by UserSession operations that need Start.
	ErrNotStarted = errors.New("user session not started")
	// ErrSessionEnded is returned by session writes when another request
	// destroyed the session first. The UserSession has already switched to
	// a fresh anonymous session; the write was not applied.
	ErrSessionEnded = errors.New("session ended by another request")
	// ErrNoFederation is returned by LoginFederated when the credential
	// store cannot resolve external identities.
	ErrNoFederation = errors.New("credential store does not support external identities")
)

// ValidationError reports unusable input, such as login data that failed
// field validation or a strategy that does not accept manual login.
type ValidationError struct {
	Message string
	// Fields maps field names to the failed validation tag.
	Fields map[string]string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LoginValidationError is returned for every rejected login: unknown
// identity, wrong password and lockout look alike to the caller.
type LoginValidationError struct {
	Identity string
	Message  string
	// RetryAfter is non-zero when the rejection was a lockout.
	RetryAfter time.Duration
}

func (e *LoginValidationError) Error() string {
	if e.RetryAfter > 0 {
		return e.Message + " (retry in " + strconv.Itoa(int(e.RetryAfter/time.Second)) + "s)"
	}
	return e.Message
}

func (e *LoginValidationError) Is(target error) bool { return target == ErrLoginValidation }

// SessionValidationError is returned when callers try to write a reserved
// session key.
type SessionValidationError struct {
	Key string
}

func (e *SessionValidationError) Error() string {
	return fmt.Sprintf("session key %q is reserved", e.Key)
}

func (e *SessionValidationError) Is(target error) bool { return target == ErrSessionValidation }

// UserInactiveError is returned after the user was logged out because the
// account is not active.
type UserInactiveError struct {
	UserID int64
}

func (e *UserInactiveError) Error() string { return "user account is not active" }

func (e *UserInactiveError) Is(target error) bool { return target == ErrUserInactive }

// UserBannedError is returned after the user was logged out because the
// account is banned.
type UserBannedError struct {
	UserID int64
}

func (e *UserBannedError) Error() string { return "user account is banned" }

func (e *UserBannedError) Is(target error) bool { return target == ErrUserBanned }

// UserPasswordChangeError is returned while the user stays logged in; the
// caller is expected to redirect to a password change flow.
type UserPasswordChangeError struct {
	UserID int64
}

func (e *UserPasswordChangeError) Error() string { return "user must change password" }

func (e *UserPasswordChangeError) Is(target error) bool { return target == ErrUserPasswordChange }

// StorageError wraps a failure of the session or credential store. It is
// never retried by the package.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
