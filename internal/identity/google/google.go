// Package google signs users in with Google using the OAuth2 authorization
// code flow with PKCE.
package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/vbonduro/invtrack/internal/identity"
)

const (
	userInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	pendingTTL  = 10 * time.Minute
	maxPending  = 1024
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	// pending maps an attempt's state to its PKCE verifier.
	pending *expirable.LRU[string, string]
}

func NewGoogleProvider(cfg Config) *GoogleProvider {
	return newProvider(cfg, googleoauth.Endpoint, userInfoURL)
}

func newProvider(cfg Config, endpoint oauth2.Endpoint, userInfo string) *GoogleProvider {
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoint,
		},
		userInfoURL: userInfo,
		pending:     expirable.NewLRU[string, string](maxPending, nil, pendingTTL),
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) LoginURL(state string) string {
	verifier := oauth2.GenerateVerifier()
	p.pending.Add(state, verifier)
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (p *GoogleProvider) SignIn(ctx context.Context, params url.Values) (identity.Identity, error) {
	if err := identity.CallbackError(params); err != nil {
		return identity.Identity{}, err
	}

	state := params.Get("state")
	verifier, ok := p.pending.Get(state)
	if !ok {
		return identity.Identity{}, fmt.Errorf("%w: unknown or expired state", identity.ErrAuthFailed)
	}
	p.pending.Remove(state)

	code := params.Get("code")
	if code == "" {
		return identity.Identity{}, fmt.Errorf("%w: missing authorization code", identity.ErrAuthFailed)
	}

	tok, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return identity.Identity{}, fmt.Errorf("%w: token exchange refused: %s", identity.ErrAuthFailed, re.ErrorCode)
		}
		return identity.Identity{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	return p.fetchIdentity(ctx, tok)
}

type userInfo struct {
	Sub   string `json:"sub"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (p *GoogleProvider) fetchIdentity(ctx context.Context, tok *oauth2.Token) (identity.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return identity.Identity{}, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close user info body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return identity.Identity{}, fmt.Errorf("%w: user info returned status %d", identity.ErrAuthFailed, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return identity.Identity{}, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.Sub == "" {
		return identity.Identity{}, fmt.Errorf("%w: user info has no subject", identity.ErrAuthFailed)
	}

	name := info.Name
	if name == "" {
		name = info.Email
	}
	return identity.Identity{DisplayName: name, Handle: "google:" + info.Sub}, nil
}

// SignOut forgets nothing server-side: tokens are not kept past SignIn.
func (p *GoogleProvider) SignOut(context.Context, identity.Identity) error {
	return nil
}
