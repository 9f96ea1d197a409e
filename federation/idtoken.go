package federation

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenConfig configures an [IDTokenStage].
type IDTokenConfig struct {
	Provider string
	Issuer   string
	Audience string
	// Methods lists the accepted JWS algorithms, e.g. "RS256", "EdDSA".
	Methods []string
	// Keys maps a kid to its verification key (*rsa.PublicKey,
	// ed25519.PublicKey, *ecdsa.PublicKey or []byte for HMAC). The "" entry
	// is used when the token carries no kid.
	Keys   map[string]any
	Leeway time.Duration
	Now    func() time.Time
}

type idTokenClaims struct {
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenStage verifies an OpenID Connect ID token.
type IDTokenStage struct {
	cfg IDTokenConfig
}

var _ Stage = (*IDTokenStage)(nil)

// NewIDTokenStage validates cfg.
func NewIDTokenStage(cfg IDTokenConfig) (*IDTokenStage, error) {
	cfg.Provider = strings.TrimSpace(cfg.Provider)
	if cfg.Provider == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if len(cfg.Methods) == 0 {
		return nil, errors.New("at least one signing method is required")
	}
	if len(cfg.Keys) == 0 {
		return nil, errors.New("at least one verification key is required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &IDTokenStage{cfg: cfg}, nil
}

func (s *IDTokenStage) Provider() string { return s.cfg.Provider }

// Verify checks signature, issuer, audience and expiry, and returns the
// token subject.
func (s *IDTokenStage) Verify(_ context.Context, token string) (Identity, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods(s.cfg.Methods),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.cfg.Now),
	}
	if s.cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(s.cfg.Leeway))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(token, &idTokenClaims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := s.cfg.Keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		if _, isEd := key.(ed25519.PublicKey); isEd && t.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
	}

	claims, ok := parsed.Claims.(*idTokenClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidAssertion
	}
	id := Identity{Provider: s.cfg.Provider, Subject: claims.Subject}
	if claims.EmailVerified {
		id.Email = claims.Email
	}
	return id, nil
}
