package strategy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/sessionauth/internal"
)

// cookieMaxAgeCeiling is used for the browser cookie when the server-side
// autologin lifetime is unlimited.
const cookieMaxAgeCeiling = 400 * 24 * time.Hour

// AutologinStore persists one autologin code per user.
type AutologinStore interface {
	CheckAutologin(ctx context.Context, id int64, code string, validSince time.Time) (bool, error)
	SetAutologin(ctx context.Context, id int64, code string, at time.Time) error
	ClearAutologin(ctx context.Context, id int64) error
}

// CookieConfig controls the autologin cookie.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
	// Expiration is how long an autologin code stays valid. Zero means
	// codes never expire server-side.
	Expiration time.Duration
	// Extend rotates the code on every successful autologin.
	Extend bool
}

type autologinToken struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// Cookie authenticates with a rotating autologin code carried in a cookie.
type Cookie struct {
	store  AutologinStore
	config CookieConfig
	now    func() time.Time
	logger *slog.Logger
}

var _ Strategy = (*Cookie)(nil)

// NewCookie creates a cookie strategy. now and logger may be nil.
func NewCookie(store AutologinStore, cfg CookieConfig, now func() time.Time, logger *slog.Logger) *Cookie {
	if cfg.Name == "" {
		cfg.Name = "autologin"
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if cfg.SameSite == 0 {
		cfg.SameSite = http.SameSiteLaxMode
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cookie{store: store, config: cfg, now: now, logger: logger}
}

func (c *Cookie) Name() string { return "cookie" }

// Autologin validates the autologin cookie. An invalid token clears both the
// cookie and the stored code so it is not retried.
func (c *Cookie) Autologin(ctx context.Context, ex *Exchange) (int64, bool, error) {
	raw, ok := c.readCookie(ex)
	if !ok {
		return 0, false, nil
	}
	tok, ok := decodeToken(raw)
	if !ok {
		c.logger.Debug("malformed autologin cookie")
		c.expireCookie(ex)
		return 0, false, nil
	}

	now := c.now()
	var validSince time.Time
	if c.config.Expiration > 0 {
		validSince = now.Add(-c.config.Expiration)
	}
	valid, err := c.store.CheckAutologin(ctx, tok.ID, tok.Code, validSince)
	if err != nil {
		return 0, false, err
	}
	if !valid {
		c.logger.Debug("invalid autologin code", "user_id", tok.ID)
		c.expireCookie(ex)
		if err := c.store.ClearAutologin(ctx, tok.ID); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}

	if c.config.Extend {
		if err := c.issue(ctx, ex, tok.ID, now); err != nil {
			return 0, false, err
		}
	}
	return tok.ID, true, nil
}

// SetAutologin stores a fresh code for userID and sets the cookie.
func (c *Cookie) SetAutologin(ctx context.Context, ex *Exchange, userID int64) error {
	return c.issue(ctx, ex, userID, c.now())
}

func (c *Cookie) issue(ctx context.Context, ex *Exchange, userID int64, now time.Time) error {
	code, err := internal.NewAutologinCode()
	if err != nil {
		return err
	}
	if err := c.store.SetAutologin(ctx, userID, code, now); err != nil {
		return err
	}
	return c.writeCookie(ex, encodeToken(autologinToken{ID: userID, Code: code}), now)
}

// LoginHook passes credentials through unchanged.
func (c *Cookie) LoginHook(_ context.Context, _ *Exchange, creds Credentials) (Credentials, bool) {
	return creds, true
}

// LogoutHook revokes the stored code named by the cookie and expires it.
func (c *Cookie) LogoutHook(ctx context.Context, ex *Exchange) error {
	raw, ok := c.readCookie(ex)
	if !ok {
		return nil
	}
	c.expireCookie(ex)
	if tok, ok := decodeToken(raw); ok {
		return c.store.ClearAutologin(ctx, tok.ID)
	}
	return nil
}

func (c *Cookie) readCookie(ex *Exchange) (string, bool) {
	if ex == nil || ex.Request == nil {
		return "", false
	}
	ck, err := ex.Request.Cookie(c.config.Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}

func (c *Cookie) writeCookie(ex *Exchange, value string, now time.Time) error {
	if ex == nil || ex.Writer == nil {
		return ErrNoWriter
	}
	ttl := c.config.Expiration
	if ttl <= 0 {
		ttl = cookieMaxAgeCeiling
	}
	http.SetCookie(ex.Writer, &http.Cookie{
		Name:     c.config.Name,
		Value:    value,
		Path:     c.config.Path,
		Domain:   c.config.Domain,
		Expires:  now.Add(ttl),
		MaxAge:   int(ttl / time.Second),
		Secure:   c.config.Secure,
		HttpOnly: true,
		SameSite: c.config.SameSite,
	})
	return nil
}

func (c *Cookie) expireCookie(ex *Exchange) {
	if ex == nil || ex.Writer == nil {
		return
	}
	http.SetCookie(ex.Writer, &http.Cookie{
		Name:     c.config.Name,
		Value:    "",
		Path:     c.config.Path,
		Domain:   c.config.Domain,
		MaxAge:   -1,
		Secure:   c.config.Secure,
		HttpOnly: true,
		SameSite: c.config.SameSite,
	})
}

func encodeToken(tok autologinToken) string {
	raw, _ := json.Marshal(tok)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeToken(value string) (autologinToken, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return autologinToken{}, false
	}
	var tok autologinToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return autologinToken{}, false
	}
	if tok.ID <= 0 || len(tok.Code) != internal.AutologinCodeLength {
		return autologinToken{}, false
	}
	return tok, true
}
