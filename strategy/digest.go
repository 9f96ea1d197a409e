package strategy

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const digestNonceMACSize = 16

// DigestSecrets resolves the stored HA1 = MD5(username:realm:password) for
// a user.
type DigestSecrets interface {
	DigestHA1(ctx context.Context, username, realm string) (userID int64, ha1 string, ok bool, err error)
}

// DigestConfig configures the Digest strategy.
type DigestConfig struct {
	Realm string
	// Secret signs server nonces. It must be at least 16 bytes.
	Secret []byte
	// NonceTTL bounds nonce age; defaults to five minutes.
	NonceTTL time.Duration
	// Nonces records used (nonce, cnonce, nc) triples; defaults to an
	// in-memory cache. Share a RedisNonceCache across instances.
	Nonces NonceCache
	Now    func() time.Time
}

// Digest authenticates with an RFC 7616 MD5 Digest Authorization header
// using qop=auth. Nonces are a timestamp signed with HMAC-SHA256; each
// nonce count is accepted once, and a nonce without qop is single use.
type Digest struct {
	cfg     DigestConfig
	secrets DigestSecrets
	opaque  string
}

var (
	_ Strategy   = (*Digest)(nil)
	_ Challenger = (*Digest)(nil)
	_ Stateless  = (*Digest)(nil)
)

// NewDigest validates cfg and returns the strategy.
func NewDigest(cfg DigestConfig, secrets DigestSecrets) (*Digest, error) {
	if len(cfg.Secret) < 16 {
		return nil, errors.New("digest nonce secret must be at least 16 bytes")
	}
	if cfg.Realm == "" {
		cfg.Realm = "Restricted"
	}
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nonces == nil {
		cfg.Nonces = NewMemoryNonceCache(cfg.Now)
	}
	op := hmac.New(sha256.New, cfg.Secret)
	op.Write([]byte("opaque:" + cfg.Realm))
	return &Digest{
		cfg:     cfg,
		secrets: secrets,
		opaque:  hex.EncodeToString(op.Sum(nil)[:16]),
	}, nil
}

// DigestHA1 computes the value a credential store keeps for Digest auth.
func DigestHA1(username, realm, password string) string {
	return md5hex(username + ":" + realm + ":" + password)
}

func (d *Digest) Name() string { return "digest" }

func (d *Digest) Autologin(ctx context.Context, ex *Exchange) (int64, bool, error) {
	params, ok := parseAuthParams(ex.header("Authorization"), "Digest")
	if !ok {
		return 0, false, nil
	}
	username := params["username"]
	if username == "" || params["realm"] != d.cfg.Realm || params["opaque"] != d.opaque {
		return 0, false, nil
	}
	if !d.validNonce(params["nonce"]) {
		return 0, false, nil
	}
	if alg := params["algorithm"]; alg != "" && !strings.EqualFold(alg, "MD5") {
		return 0, false, nil
	}
	if uri := params["uri"]; ex.Request == nil || uri != ex.Request.URL.RequestURI() {
		return 0, false, nil
	}

	userID, ha1, found, err := d.secrets.DigestHA1(ctx, username, d.cfg.Realm)
	if err != nil || !found {
		return 0, false, err
	}

	ha2 := md5hex(ex.Request.Method + ":" + params["uri"])
	var expected, replayKey string
	switch params["qop"] {
	case "auth":
		if !validNonceCount(params["nc"]) || params["cnonce"] == "" {
			return 0, false, nil
		}
		expected = md5hex(strings.Join([]string{ha1, params["nonce"], params["nc"], params["cnonce"], "auth", ha2}, ":"))
		replayKey = "digest:" + params["nonce"] + ":" + params["cnonce"] + ":" + strings.ToLower(params["nc"])
	case "":
		expected = md5hex(ha1 + ":" + params["nonce"] + ":" + ha2)
		replayKey = "digest:" + params["nonce"]
	default:
		return 0, false, nil
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToLower(params["response"]))) != 1 {
		return 0, false, nil
	}

	seen, err := d.cfg.Nonces.Seen(ctx, replayKey, d.cfg.NonceTTL+time.Minute)
	if err != nil {
		return 0, false, err
	}
	if seen {
		return 0, false, nil
	}
	return userID, true, nil
}

// validNonceCount accepts the eight hex digit nc value, which starts at 1.
func validNonceCount(nc string) bool {
	if len(nc) != 8 {
		return false
	}
	n, err := strconv.ParseUint(nc, 16, 32)
	return err == nil && n > 0
}

func (d *Digest) Stateless() bool { return true }

func (d *Digest) SetAutologin(context.Context, *Exchange, int64) error { return nil }

func (d *Digest) LoginHook(_ context.Context, _ *Exchange, creds Credentials) (Credentials, bool) {
	return creds, false
}

func (d *Digest) LogoutHook(_ context.Context, ex *Exchange) error {
	d.Challenge(ex)
	return nil
}

// Challenge issues a fresh nonce. stale=true is added when the request
// carried a correctly signed but expired nonce.
func (d *Digest) Challenge(ex *Exchange) {
	stale := false
	if params, ok := parseAuthParams(ex.header("Authorization"), "Digest"); ok {
		stale = d.signedNonce(params["nonce"]) && !d.validNonce(params["nonce"])
	}
	value := "Digest realm=" + strconv.Quote(d.cfg.Realm) +
		`, qop="auth", algorithm=MD5, nonce="` + d.newNonce() + `", opaque="` + d.opaque + `"`
	if stale {
		value += ", stale=true"
	}
	ex.addChallenge(value)
}

func (d *Digest) newNonce() string {
	var buf [8 + digestNonceMACSize]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(d.cfg.Now().Unix()))
	copy(buf[8:], d.nonceMAC(buf[:8]))
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

func (d *Digest) nonceMAC(ts []byte) []byte {
	m := hmac.New(sha256.New, d.cfg.Secret)
	m.Write(ts)
	return m.Sum(nil)[:digestNonceMACSize]
}

func (d *Digest) signedNonce(nonce string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	if err != nil || len(raw) != 8+digestNonceMACSize {
		return false
	}
	return hmac.Equal(raw[8:], d.nonceMAC(raw[:8]))
}

func (d *Digest) validNonce(nonce string) bool {
	if !d.signedNonce(nonce) {
		return false
	}
	raw, _ := base64.RawURLEncoding.DecodeString(nonce)
	issued := time.Unix(int64(binary.BigEndian.Uint64(raw[:8])), 0)
	age := d.cfg.Now().Sub(issued)
	return age >= -time.Minute && age <= d.cfg.NonceTTL
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
