package sessionauth

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/sessionauth/federation"
	internalaudit "github.com/MrEthical07/sessionauth/internal/audit"
	"github.com/MrEthical07/sessionauth/internal/limiters"
	"github.com/MrEthical07/sessionauth/password"
	"github.com/MrEthical07/sessionauth/permission"
	"github.com/MrEthical07/sessionauth/session"
	"github.com/MrEthical07/sessionauth/strategy"
)

// Builder assembles an [Authenticator]. Configure it during initialization;
// a Builder can be built once.
type Builder struct {
	config Config
	logger *slog.Logger
	clock  Clock

	store    CredentialStore
	sessions session.Store
	redis    redis.UniversalClient
	strategy strategy.Strategy

	oracle      PermissionOracle
	permissions *permission.Definition

	auditSink AuditSink
	stages    []federation.Stage

	built bool
}

// New returns a Builder starting from [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the structured logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for sessions, lockouts and autologin.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// WithCredentialStore sets the required credential store.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithSessionStore sets the session backend. Without it, sessions live in
// process memory.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessions = store
	return b
}

// WithRedis stores sessions in Redis under Session.RedisPrefix. It is
// ignored when WithSessionStore is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStrategy sets the authentication strategy. The default is the
// autologin cookie strategy.
func (b *Builder) WithStrategy(s strategy.Strategy) *Builder {
	b.strategy = s
	return b
}

// WithPermissionOracle sets the oracle used by Authorized for permission
// and role filters.
func (b *Builder) WithPermissionOracle(oracle PermissionOracle) *Builder {
	b.oracle = oracle
	return b
}

// WithPermissions builds a [permission.Oracle] from def over the
// credential store's role assignments. The store must implement
// [permission.RoleSource].
func (b *Builder) WithPermissions(def permission.Definition) *Builder {
	b.permissions = &def
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithFederation registers identity provider stages for LoginFederated.
func (b *Builder) WithFederation(stages ...federation.Stage) *Builder {
	b.stages = append(b.stages, stages...)
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns the Authenticator.
func (b *Builder) Build() (*Authenticator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := b.clock
	if clock == nil {
		clock = systemClock{}
	}

	// -------- SESSION STORE --------
	sessions := b.sessions
	switch {
	case sessions != nil:
	case b.redis != nil:
		sessions = session.NewRedisStore(b.redis, cfg.Session.RedisPrefix)
	default:
		sessions = session.NewMemoryStore(clock.Now)
	}

	// -------- STRATEGY --------
	strat := b.strategy
	if strat == nil {
		strat = strategy.NewCookie(b.store, strategy.CookieConfig{
			Name:       cfg.Autologin.CookieName,
			Path:       cfg.Session.CookiePath,
			Domain:     cfg.Session.CookieDomain,
			Secure:     cfg.Session.CookieSecure,
			SameSite:   cfg.Session.SameSite,
			Expiration: cfg.Autologin.Expiration,
			Extend:     cfg.Autologin.Extend,
		}, clock.Now, logger)
	}

	// -------- PERMISSIONS --------
	oracle := b.oracle
	if oracle == nil && b.permissions != nil {
		source, ok := b.store.(permission.RoleSource)
		if !ok {
			return nil, errors.New("WithPermissions requires a credential store that lists user roles")
		}
		o, err := permission.NewOracle(source, *b.permissions)
		if err != nil {
			return nil, err
		}
		oracle = o
	}

	// -------- FEDERATION --------
	stages := make(map[string]federation.Stage, len(b.stages))
	for _, s := range b.stages {
		name := s.Provider()
		if name == "" {
			return nil, errors.New("federation stage has no provider name")
		}
		if _, dup := stages[name]; dup {
			return nil, errors.New("duplicate federation provider: " + name)
		}
		stages[name] = s
	}

	// -------- PASSWORDS --------
	hasher, err := cfg.hasher()
	if err != nil {
		return nil, err
	}

	auth := &Authenticator{
		config:   cfg,
		logger:   logger,
		clock:    clock,
		store:    b.store,
		sessions: sessions,
		strategy: strat,
		oracle:   oracle,
		stages:   stages,
		verifier: password.NewVerifier(hasher),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  NewMetrics(cfg.Metrics),
	}
	auth.attempts = limiters.NewLoginAttempts(b.store, limiters.AttemptsConfig{
		Track: limiters.Track{
			IPAddress: cfg.tracks(TrackIPAddress),
			Identity:  cfg.tracks(TrackIdentity),
		},
		Cap: cfg.Lockout.Cap,
	}, clock.Now)

	sink := b.auditSink
	if sink == nil {
		sink = NewSlogSink(logger)
	}
	auth.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink, clock.Now)

	b.built = true
	return auth, nil
}
