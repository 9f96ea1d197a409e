package sessionauth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/sessionauth/password"
)

// Lockout tracking dimensions.
const (
	TrackIPAddress = "ipaddress"
	TrackIdentity  = "identity"
)

// Config groups every recognized option by concern. Zero values are not
// defaults; start from [DefaultConfig] or let the [Builder] do it.
type Config struct {
	Session   SessionConfig
	Lockout   LockoutConfig
	Autologin AutologinConfig
	Identity  IdentityConfig
	Password  PasswordConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls session lifetime and the session id cookie.
type SessionConfig struct {
	// Expiration is both the store TTL and the idle timeout. Zero means
	// sessions never expire.
	Expiration time.Duration
	// GCProbability is the percent chance (0-100) that Start purges stale
	// sessions.
	GCProbability float64
	LockTTL       time.Duration

	CookieName   string
	CookiePath   string
	CookieDomain string
	CookieSecure bool
	SameSite     http.SameSite

	RedisPrefix string
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls exponential login throttling.
type LockoutConfig struct {
	// Track lists the tracked dimensions: "ipaddress", "identity", both or
	// none. Empty disables throttling.
	Track []string
	// Cap bounds a single lockout window. Zero means uncapped.
	Cap time.Duration
}

// AutologinConfig controls the cookie autologin strategy.
type AutologinConfig struct {
	// Expiration is how long an autologin code stays valid; zero means
	// forever.
	Expiration time.Duration
	// Extend rotates the code on each successful autologin.
	Extend     bool
	CookieName string
}

// IdentityConfig selects which user column identifies a login.
type IdentityConfig struct {
	Field string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing scheme for new hashes. Verification
// accepts every supported scheme regardless.
type PasswordConfig struct {
	Scheme     string // "bcrypt" (default) or "argon2id"
	BcryptCost int
	// UpgradeOnLogin rehashes a verified password whose hash uses another
	// scheme or weaker parameters, when the store supports it.
	UpgradeOnLogin bool

	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// AuditConfig controls asynchronous audit delivery.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration the Builder starts from.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Expiration:    2 * time.Hour,
			GCProbability: 1,
			LockTTL:       30 * time.Second,
			CookieName:    "sid",
			CookiePath:    "/",
			CookieSecure:  true,
			SameSite:      http.SameSiteLaxMode,
			RedisPrefix:   "sess",
		},
		Lockout: LockoutConfig{
			Track: []string{TrackIPAddress, TrackIdentity},
			Cap:   15 * time.Minute,
		},
		Autologin: AutologinConfig{
			Expiration: 30 * 24 * time.Hour,
			Extend:     true,
			CookieName: "autologin",
		},
		Identity: IdentityConfig{
			Field: "username",
		},
		Password: PasswordConfig{
			Scheme:         password.SchemeBcrypt,
			BcryptCost:     12,
			UpgradeOnLogin: true,
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Lockout.Track != nil {
		out.Lockout.Track = append([]string(nil), cfg.Lockout.Track...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Session
	if c.Session.Expiration < 0 {
		return errors.New("Session Expiration must be >= 0")
	}
	if c.Session.GCProbability < 0 || c.Session.GCProbability > 100 {
		return errors.New("Session GCProbability must be between 0 and 100")
	}
	if c.Session.LockTTL <= 0 {
		return errors.New("Session LockTTL must be > 0")
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		return errors.New("Session CookieName is required")
	}
	switch c.Session.SameSite {
	case http.SameSiteDefaultMode, http.SameSiteLaxMode, http.SameSiteStrictMode:
	case http.SameSiteNoneMode:
		if !c.Session.CookieSecure {
			return errors.New("Session SameSite=None requires CookieSecure")
		}
	default:
		return errors.New("Session SameSite is invalid")
	}

	// Lockout
	seen := map[string]bool{}
	for _, dim := range c.Lockout.Track {
		switch dim {
		case TrackIPAddress, TrackIdentity:
		default:
			return errors.New("Lockout Track entries must be 'ipaddress' or 'identity'")
		}
		if seen[dim] {
			return errors.New("Lockout Track contains duplicates")
		}
		seen[dim] = true
	}
	if c.Lockout.Cap < 0 {
		return errors.New("Lockout Cap must be >= 0")
	}
	if c.Lockout.Cap > 0 && c.Lockout.Cap < time.Second {
		return errors.New("Lockout Cap must be at least one second")
	}

	// Autologin
	if c.Autologin.Expiration < 0 {
		return errors.New("Autologin Expiration must be >= 0")
	}
	if strings.TrimSpace(c.Autologin.CookieName) == "" {
		return errors.New("Autologin CookieName is required")
	}
	if c.Autologin.CookieName == c.Session.CookieName {
		return errors.New("Autologin CookieName must differ from Session CookieName")
	}

	// Identity
	switch c.Identity.Field {
	case "username", "email":
	default:
		return errors.New("Identity Field must be 'username' or 'email'")
	}

	// Password
	switch c.Password.Scheme {
	case password.SchemeBcrypt:
		if c.Password.BcryptCost != 0 && (c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31) {
			return errors.New("Password BcryptCost must be between 10 and 31")
		}
	case password.SchemeArgon2id:
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 {
			return errors.New("Password Time must be >= 1")
		}
		if c.Password.Parallelism < 1 {
			return errors.New("Password Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 {
			return errors.New("Password SaltLength must be >= 16")
		}
		if c.Password.KeyLength < 16 {
			return errors.New("Password KeyLength must be >= 16")
		}
	default:
		return errors.New("Password Scheme must be 'bcrypt' or 'argon2id'")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func (c *Config) tracks(dim string) bool {
	for _, d := range c.Lockout.Track {
		if d == dim {
			return true
		}
	}
	return false
}

func (c *Config) hasher() (password.Hasher, error) {
	if c.Password.Scheme == password.SchemeArgon2id {
		return password.NewArgon2(password.Argon2Config{
			Memory:      c.Password.Memory,
			Time:        c.Password.Time,
			Parallelism: c.Password.Parallelism,
			SaltLength:  c.Password.SaltLength,
			KeyLength:   c.Password.KeyLength,
		})
	}
	return password.NewBcrypt(c.Password.BcryptCost)
}
