package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
)

// maxUserInfoBytes caps the userinfo response body.
const maxUserInfoBytes = 1 << 20

// OAuth2Config configures an [OAuth2Stage].
type OAuth2Config struct {
	Provider    string
	OAuth       *oauth2.Config
	UserInfoURL string
	// SubjectField names the userinfo JSON field holding the stable user
	// id. Defaults to "sub"; GitHub uses "id".
	SubjectField string
	// HTTPClient is used for the token exchange and userinfo call.
	HTTPClient *http.Client
}

// OAuth2Stage exchanges an authorization code and resolves the subject
// through the provider's userinfo endpoint.
type OAuth2Stage struct {
	cfg OAuth2Config
}

var _ Stage = (*OAuth2Stage)(nil)

// NewOAuth2Stage validates cfg.
func NewOAuth2Stage(cfg OAuth2Config) (*OAuth2Stage, error) {
	cfg.Provider = strings.TrimSpace(cfg.Provider)
	if cfg.Provider == "" {
		return nil, errors.New("provider name is required")
	}
	if cfg.OAuth == nil {
		return nil, errors.New("oauth2 config is required")
	}
	if cfg.UserInfoURL == "" {
		return nil, errors.New("userinfo url is required")
	}
	if cfg.SubjectField == "" {
		cfg.SubjectField = "sub"
	}
	return &OAuth2Stage{cfg: cfg}, nil
}

func (s *OAuth2Stage) Provider() string { return s.cfg.Provider }

// Verify exchanges code for a token and fetches the subject.
func (s *OAuth2Stage) Verify(ctx context.Context, code string) (Identity, error) {
	if code == "" {
		return Identity{}, ErrInvalidAssertion
	}
	if s.cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.cfg.HTTPClient)
	}

	token, err := s.cfg.OAuth.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidAssertion, err)
		}
		return Identity{}, fmt.Errorf("%w: oauth exchange failed: %v", ErrProviderUnavailable, err)
	}

	client := s.cfg.OAuth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.UserInfoURL, nil)
	if err != nil {
		return Identity{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: failed to get user info: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Identity{}, fmt.Errorf("%w: userinfo status %d", ErrInvalidAssertion, resp.StatusCode)
	}

	var info map[string]any
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxUserInfoBytes))
	dec.UseNumber()
	if err := dec.Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("%w: failed to decode user info: %v", ErrInvalidAssertion, err)
	}

	subject := stringField(info[s.cfg.SubjectField])
	if subject == "" {
		return Identity{}, fmt.Errorf("%w: userinfo has no %q", ErrInvalidAssertion, s.cfg.SubjectField)
	}
	return Identity{
		Provider: s.cfg.Provider,
		Subject:  subject,
		Email:    stringField(info["email"]),
	}, nil
}

func stringField(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
