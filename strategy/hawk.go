package strategy

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultHawkSkew is the accepted clock difference between client and server.
const DefaultHawkSkew = 60 * time.Second

// DefaultHawkMaxPayload caps the body read to verify a payload hash.
const DefaultHawkMaxPayload = 1 << 20

// HawkCredentials resolves a Hawk key id to its owner and shared key.
type HawkCredentials interface {
	HawkKey(ctx context.Context, keyID string) (userID int64, key []byte, ok bool, err error)
}

// HawkConfig configures the Hawk strategy.
type HawkConfig struct {
	Skew   time.Duration
	Nonces NonceCache
	Now    func() time.Time
	// RequirePayloadHash rejects requests with a body but no hash attribute.
	RequirePayloadHash bool
	// MaxPayload bounds the body hashed for verification; defaults to
	// DefaultHawkMaxPayload.
	MaxPayload int64
}

// Hawk authenticates with a Hawk request MAC (HMAC-SHA256). When the
// header carries a payload hash, the request body is rehashed and must
// match; the body is restored for the handler.
type Hawk struct {
	creds       HawkCredentials
	skew        time.Duration
	nonces      NonceCache
	now         func() time.Time
	needPayload bool
	maxPayload  int64
}

var (
	_ Strategy   = (*Hawk)(nil)
	_ Challenger = (*Hawk)(nil)
	_ Stateless  = (*Hawk)(nil)
)

// NewHawk creates a Hawk strategy. A nil nonce cache gets an in-memory one.
func NewHawk(creds HawkCredentials, cfg HawkConfig) *Hawk {
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultHawkSkew
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Nonces == nil {
		cfg.Nonces = NewMemoryNonceCache(cfg.Now)
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultHawkMaxPayload
	}
	return &Hawk{
		creds:       creds,
		skew:        cfg.Skew,
		nonces:      cfg.Nonces,
		now:         cfg.Now,
		needPayload: cfg.RequirePayloadHash,
		maxPayload:  cfg.MaxPayload,
	}
}

// HawkArtifacts are the request values covered by a Hawk MAC.
type HawkArtifacts struct {
	Timestamp int64
	Nonce     string
	Method    string
	URI       string
	Host      string
	Port      string
	Hash      string
	Ext       string
}

// HawkMAC computes the base64 request MAC for artifacts under key.
func HawkMAC(key []byte, a HawkArtifacts) string {
	normalized := "hawk.1.header\n" +
		strconv.FormatInt(a.Timestamp, 10) + "\n" +
		a.Nonce + "\n" +
		strings.ToUpper(a.Method) + "\n" +
		a.URI + "\n" +
		strings.ToLower(a.Host) + "\n" +
		a.Port + "\n" +
		a.Hash + "\n" +
		strings.ReplaceAll(strings.ReplaceAll(a.Ext, `\`, `\\`), "\n", `\n`) + "\n"
	m := hmac.New(sha256.New, key)
	m.Write([]byte(normalized))
	return base64.StdEncoding.EncodeToString(m.Sum(nil))
}

// HawkPayloadHash computes the base64 payload hash of body sent with
// contentType. Media type parameters are ignored.
func HawkPayloadHash(contentType string, body []byte) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	sum := sha256.New()
	sum.Write([]byte("hawk.1.payload\n" + strings.ToLower(strings.TrimSpace(mediaType)) + "\n"))
	sum.Write(body)
	sum.Write([]byte("\n"))
	return base64.StdEncoding.EncodeToString(sum.Sum(nil))
}

func (h *Hawk) Name() string { return "hawk" }

func (h *Hawk) Autologin(ctx context.Context, ex *Exchange) (int64, bool, error) {
	params, ok := parseAuthParams(ex.header("Authorization"), "Hawk")
	if !ok || ex.Request == nil {
		return 0, false, nil
	}
	id, mac, nonce := params["id"], params["mac"], params["nonce"]
	ts, err := strconv.ParseInt(params["ts"], 10, 64)
	if id == "" || mac == "" || nonce == "" || err != nil {
		return 0, false, nil
	}

	userID, key, found, err := h.creds.HawkKey(ctx, id)
	if err != nil || !found {
		return 0, false, err
	}

	host, port := hawkHostPort(ex)
	expected := HawkMAC(key, HawkArtifacts{
		Timestamp: ts,
		Nonce:     nonce,
		Method:    ex.Request.Method,
		URI:       ex.Request.URL.RequestURI(),
		Host:      host,
		Port:      port,
		Hash:      params["hash"],
		Ext:       params["ext"],
	})
	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return 0, false, nil
	}

	skew := h.now().Sub(time.Unix(ts, 0))
	if skew < -h.skew || skew > h.skew {
		return 0, false, nil
	}
	if hash := params["hash"]; hash != "" {
		if !h.payloadMatches(ex.Request, hash) {
			return 0, false, nil
		}
	} else if h.needPayload && hasBody(ex.Request) {
		return 0, false, nil
	}
	seen, err := h.nonces.Seen(ctx, id+":"+nonce, 2*h.skew)
	if err != nil {
		return 0, false, err
	}
	if seen {
		return 0, false, nil
	}
	return userID, true, nil
}

func (h *Hawk) Stateless() bool { return true }

func (h *Hawk) SetAutologin(context.Context, *Exchange, int64) error { return nil }

func (h *Hawk) LoginHook(_ context.Context, _ *Exchange, creds Credentials) (Credentials, bool) {
	return creds, false
}

func (h *Hawk) LogoutHook(_ context.Context, ex *Exchange) error {
	h.Challenge(ex)
	return nil
}

// Challenge advertises the server time so clients can correct their skew.
func (h *Hawk) Challenge(ex *Exchange) {
	ex.addChallenge(`Hawk ts="` + strconv.FormatInt(h.now().Unix(), 10) + `"`)
}

// payloadMatches rehashes the request body against want and puts the body
// back for later readers.
func (h *Hawk) payloadMatches(r *http.Request, want string) bool {
	var body []byte
	if hasBody(r) {
		orig := r.Body
		raw, err := io.ReadAll(io.LimitReader(orig, h.maxPayload+1))
		r.Body = readCloser{io.MultiReader(bytes.NewReader(raw), orig), orig}
		if err != nil || int64(len(raw)) > h.maxPayload {
			return false
		}
		body = raw
	}
	got := HawkPayloadHash(r.Header.Get("Content-Type"), body)
	return hmac.Equal([]byte(got), []byte(want))
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

type readCloser struct {
	io.Reader
	io.Closer
}

func hawkHostPort(ex *Exchange) (string, string) {
	hostport := ex.Request.Host
	if hostport == "" {
		hostport = ex.Request.URL.Host
	}
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		port = "80"
		if ex.Request.TLS != nil {
			port = "443"
		}
	}
	return host, port
}
