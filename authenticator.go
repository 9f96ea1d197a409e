package sessionauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/sessionauth/federation"
	internalaudit "github.com/MrEthical07/sessionauth/internal/audit"
	"github.com/MrEthical07/sessionauth/internal/limiters"
	"github.com/MrEthical07/sessionauth/password"
	"github.com/MrEthical07/sessionauth/session"
	"github.com/MrEthical07/sessionauth/strategy"
)

// PasswordHashWriter is implemented by credential stores that can replace a
// stored hash. It enables rehash-on-login.
type PasswordHashWriter interface {
	SetPasswordHash(ctx context.Context, id int64, hash string) error
}

// Authenticator holds everything shared between requests. It is safe for
// concurrent use; per-request state lives in [UserSession].
type Authenticator struct {
	config   Config
	logger   *slog.Logger
	clock    Clock
	store    CredentialStore
	sessions session.Store
	strategy strategy.Strategy
	oracle   PermissionOracle
	stages   map[string]federation.Stage

	attempts *limiters.LoginAttempts
	verifier *password.Verifier
	validate *validator.Validate
	metrics  *Metrics
	audit    *internalaudit.Dispatcher
}

// NewUserSession binds a coordinator to one request exchange. ex may be
// nil for non-HTTP callers; cookies are then neither read nor written.
func (a *Authenticator) NewUserSession(ex *strategy.Exchange) *UserSession {
	if ex == nil {
		ex = &strategy.Exchange{}
	}
	return &UserSession{auth: a, ex: ex}
}

// Strategy returns the configured authentication strategy.
func (a *Authenticator) Strategy() strategy.Strategy {
	return a.strategy
}

// Config returns a copy of the active configuration.
func (a *Authenticator) Config() Config {
	return cloneConfig(a.config)
}

// CheckPassword verifies identity/password against the credential store
// without touching sessions or throttling. It backs header strategies such
// as HTTP Basic.
func (a *Authenticator) CheckPassword(ctx context.Context, identity, pw string) (int64, bool, error) {
	if identity == "" || pw == "" {
		return 0, false, nil
	}
	check, found, err := a.store.GetLoginCheck(ctx, identity)
	if err != nil {
		return 0, false, storageErr("get login check", err)
	}
	if !found {
		return 0, false, nil
	}
	ok, err := a.verifier.Verify(pw, check.PasswordHash)
	if err != nil {
		a.logger.Error("unreadable password hash", "user_id", check.ID, "error", err)
		return 0, false, nil
	}
	if !ok {
		return 0, false, nil
	}
	return check.ID, true, nil
}

// HashPassword hashes pw with the configured scheme.
func (a *Authenticator) HashPassword(pw string) (string, error) {
	return a.verifier.Hash(pw)
}

// ClearLockout forgives every attempt record matching identity or ip. It is
// meant for a completed forgotten-password cycle, where the user may have
// changed network since the failures.
func (a *Authenticator) ClearLockout(ctx context.Context, identity, ip string) (bool, error) {
	cleared, err := a.attempts.Clear(ctx, identity, ip, true)
	if err != nil {
		return false, storageErr("clear login attempts", err)
	}
	if cleared {
		a.metrics.Inc(MetricLockoutCleared)
		a.emit(ctx, AuditEvent{EventType: AuditLockoutCleared, Identity: identity, IP: ip, Success: true})
		a.logger.Info("lockout cleared", "identity", identity, "ip", ip)
	}
	return cleared, nil
}

// LockedOut reports the remaining lockout for identity/ip, if any.
func (a *Authenticator) LockedOut(ctx context.Context, identity, ip string) (bool, int, error) {
	remaining, locked, err := a.attempts.LockedOut(ctx, identity, ip)
	if err != nil {
		return false, 0, storageErr("check lockout", err)
	}
	return locked, int(remaining.Seconds()), nil
}

// MetricsSnapshot returns the current counters.
func (a *Authenticator) MetricsSnapshot() MetricsSnapshot {
	return a.metrics.Snapshot()
}

// AuditDropped returns how many audit events were discarded under
// backpressure.
func (a *Authenticator) AuditDropped() uint64 {
	return a.audit.Dropped()
}

// Close flushes pending audit events.
func (a *Authenticator) Close() {
	a.audit.Close()
}

func (a *Authenticator) emit(ctx context.Context, event AuditEvent) {
	if a.audit == nil {
		return
	}
	if event.Strategy == "" {
		event.Strategy = a.strategy.Name()
	}
	a.audit.Emit(ctx, event)
}

func (a *Authenticator) validateLogin(data LoginData) error {
	err := a.validate.Struct(data)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Message: err.Error()}
	}
	fields := make(map[string]string, len(fieldErrs))
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := strings.ToLower(fe.Field())
		fields[name] = fe.Tag()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, name+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters long", name, fe.Param()))
		default:
			msgs = append(msgs, name+" is invalid")
		}
	}
	return &ValidationError{Message: strings.Join(msgs, "; "), Fields: fields}
}

func (a *Authenticator) sessionConfig() session.Config {
	return session.Config{
		Expiration:    a.config.Session.Expiration,
		GCProbability: a.config.Session.GCProbability,
		LockTTL:       a.config.Session.LockTTL,
		Logger:        a.logger,
	}
}

func (a *Authenticator) sessionCookie(id string) *http.Cookie {
	c := a.config.Session
	ck := &http.Cookie{
		Name:     c.CookieName,
		Value:    id,
		Path:     c.CookiePath,
		Domain:   c.CookieDomain,
		Secure:   c.CookieSecure,
		HttpOnly: true,
		SameSite: c.SameSite,
	}
	if c.Expiration > 0 {
		ck.MaxAge = int(c.Expiration.Seconds())
		ck.Expires = a.clock.Now().Add(c.Expiration)
	}
	return ck
}
