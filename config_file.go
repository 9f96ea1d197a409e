package sessionauth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig is the on-disk TOML shape. Durations are whole seconds, the
// unit the option names have always used. Absent keys keep their defaults.
type fileConfig struct {
	SessionExpiration    *int64   `toml:"session_expiration"`
	SessionGCProbability *float64 `toml:"session_gc_probability"`
	SessionCookie        *string  `toml:"session_cookie"`
	SessionCookieDomain  *string  `toml:"session_cookie_domain"`
	SessionCookieSecure  *bool    `toml:"session_cookie_secure"`
	SessionSameSite      *string  `toml:"session_samesite"`
	SessionRedisPrefix   *string  `toml:"session_redis_prefix"`

	LoginLockout    *[]string `toml:"login_lockout"`
	LoginLockoutCap *int64    `toml:"login_lockout_cap"`

	LoginExpiration       *int64  `toml:"login_expiration"`
	LoginExpirationExtend *bool   `toml:"login_expiration_extend"`
	LoginCookie           *string `toml:"login_cookie"`
	LoginIdentity         *string `toml:"login_identity"`

	Password *struct {
		Scheme         *string `toml:"scheme"`
		BcryptCost     *int    `toml:"bcrypt_cost"`
		UpgradeOnLogin *bool   `toml:"upgrade_on_login"`
		Memory         *uint32 `toml:"memory_kb"`
		Time           *uint32 `toml:"time"`
		Parallelism    *uint8  `toml:"parallelism"`
	} `toml:"password"`

	Audit *struct {
		Enabled    *bool `toml:"enabled"`
		BufferSize *int  `toml:"buffer_size"`
		DropIfFull *bool `toml:"drop_if_full"`
	} `toml:"audit"`

	Metrics *struct {
		Enabled           *bool `toml:"enabled"`
		LatencyHistograms *bool `toml:"latency_histograms"`
	} `toml:"metrics"`
}

// LoadConfigFile reads a TOML file over [DefaultConfig] and validates the
// result. Unknown keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return Config{}, fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	cfg := defaultConfig()
	if err := fc.apply(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func seconds(v int64) time.Duration {
	return time.Duration(v) * time.Second
}

func (fc *fileConfig) apply(cfg *Config) error {
	if fc.SessionExpiration != nil {
		cfg.Session.Expiration = seconds(*fc.SessionExpiration)
	}
	if fc.SessionGCProbability != nil {
		cfg.Session.GCProbability = *fc.SessionGCProbability
	}
	if fc.SessionCookie != nil {
		cfg.Session.CookieName = *fc.SessionCookie
	}
	if fc.SessionCookieDomain != nil {
		cfg.Session.CookieDomain = *fc.SessionCookieDomain
	}
	if fc.SessionCookieSecure != nil {
		cfg.Session.CookieSecure = *fc.SessionCookieSecure
	}
	if fc.SessionSameSite != nil {
		mode, err := parseSameSite(*fc.SessionSameSite)
		if err != nil {
			return err
		}
		cfg.Session.SameSite = mode
	}
	if fc.SessionRedisPrefix != nil {
		cfg.Session.RedisPrefix = *fc.SessionRedisPrefix
	}

	if fc.LoginLockout != nil {
		cfg.Lockout.Track = append([]string(nil), (*fc.LoginLockout)...)
	}
	if fc.LoginLockoutCap != nil {
		cfg.Lockout.Cap = seconds(*fc.LoginLockoutCap)
	}

	if fc.LoginExpiration != nil {
		cfg.Autologin.Expiration = seconds(*fc.LoginExpiration)
	}
	if fc.LoginExpirationExtend != nil {
		cfg.Autologin.Extend = *fc.LoginExpirationExtend
	}
	if fc.LoginCookie != nil {
		cfg.Autologin.CookieName = *fc.LoginCookie
	}
	if fc.LoginIdentity != nil {
		cfg.Identity.Field = *fc.LoginIdentity
	}

	if p := fc.Password; p != nil {
		if p.Scheme != nil {
			cfg.Password.Scheme = *p.Scheme
		}
		if p.BcryptCost != nil {
			cfg.Password.BcryptCost = *p.BcryptCost
		}
		if p.UpgradeOnLogin != nil {
			cfg.Password.UpgradeOnLogin = *p.UpgradeOnLogin
		}
		if p.Memory != nil {
			cfg.Password.Memory = *p.Memory
		}
		if p.Time != nil {
			cfg.Password.Time = *p.Time
		}
		if p.Parallelism != nil {
			cfg.Password.Parallelism = *p.Parallelism
		}
	}
	if a := fc.Audit; a != nil {
		if a.Enabled != nil {
			cfg.Audit.Enabled = *a.Enabled
		}
		if a.BufferSize != nil {
			cfg.Audit.BufferSize = *a.BufferSize
		}
		if a.DropIfFull != nil {
			cfg.Audit.DropIfFull = *a.DropIfFull
		}
	}
	if m := fc.Metrics; m != nil {
		if m.Enabled != nil {
			cfg.Metrics.Enabled = *m.Enabled
		}
		if m.LatencyHistograms != nil {
			cfg.Metrics.EnableLatencyHistograms = *m.LatencyHistograms
		}
	}
	return nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "default":
		return http.SameSiteDefaultMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("unknown session_samesite %q", v)
}
