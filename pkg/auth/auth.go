// Package auth turns configured credentials into an access token for the
// Photos Library API. Nothing here is global: callers build a TokenProvider
// from an explicit Credentials value and ask it for a token once per run.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/paulschiretz/pgl-photosync/pkg/syncerr"
)

// ReadOnlyScope grants read access to the user's library.
const ReadOnlyScope = "https://www.googleapis.com/auth/photoslibrary.readonly"

// Google's OAuth 2.0 endpoints.
const (
	DefaultAuthURL  = "https://accounts.google.com/o/oauth2/auth"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// ErrNoCredentials is returned when neither an access token nor a refresh
// token configuration is present.
var ErrNoCredentials = errors.New("no credentials configured: set an access token or client id, client secret and refresh token")

// Credentials holds everything needed to obtain an access token.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// AccessToken, when set, is used as is and no refresh takes place.
	AccessToken string
}

// HasRefreshGrant reports whether the refresh-token fields are all present.
func (c Credentials) HasRefreshGrant() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// TokenProvider yields a bearer token for API requests.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenProvider returns a fixed, pre-issued access token.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(_ context.Context) (string, error) {
	if strings.TrimSpace(p.token) == "" {
		return "", syncerr.Auth("use static access token", errors.New("token is empty"))
	}
	return p.token, nil
}

// RefreshTokenProvider exchanges a long-lived refresh token for a fresh
// access token.
type RefreshTokenProvider struct {
	config       *oauth2.Config
	refreshToken string
}

// Option customizes a RefreshTokenProvider.
type Option func(*oauth2.Config)

// WithEndpoint overrides the OAuth endpoints, mainly for tests.
func WithEndpoint(authURL, tokenURL string) Option {
	return func(c *oauth2.Config) {
		c.Endpoint = oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL}
	}
}

func oauthConfig(creds Credentials, redirectURL string, opts ...Option) *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{ReadOnlyScope},
		Endpoint:     oauth2.Endpoint{AuthURL: DefaultAuthURL, TokenURL: DefaultTokenURL},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func NewRefreshTokenProvider(creds Credentials, opts ...Option) *RefreshTokenProvider {
	return &RefreshTokenProvider{
		config:       oauthConfig(creds, "", opts...),
		refreshToken: creds.RefreshToken,
	}
}

func (p *RefreshTokenProvider) Token(ctx context.Context) (string, error) {
	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: p.refreshToken}).Token()
	if err != nil {
		return "", syncerr.Auth("refresh access token", err)
	}
	if tok.AccessToken == "" {
		return "", syncerr.Auth("refresh access token", errors.New("token endpoint returned an empty access token"))
	}
	return tok.AccessToken, nil
}

// NewProvider picks the provider matching the given credentials. A static
// access token takes precedence over the refresh grant.
func NewProvider(creds Credentials, opts ...Option) (TokenProvider, error) {
	switch {
	case creds.AccessToken != "":
		return NewStaticTokenProvider(creds.AccessToken), nil
	case creds.HasRefreshGrant():
		return NewRefreshTokenProvider(creds, opts...), nil
	default:
		return nil, syncerr.Auth("select token provider", ErrNoCredentials)
	}
}

// AuthorizationURL builds the consent URL a user opens once to obtain a
// refresh token. The returned state must be checked by whoever receives
// the redirect.
func AuthorizationURL(creds Credentials, redirectURL string, opts ...Option) (authURL, state string, err error) {
	if creds.ClientID == "" {
		return "", "", errors.New("a client id is required to build the authorization url")
	}
	state = uuid.NewString()
	cfg := oauthConfig(creds, redirectURL, opts...)
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), state, nil
}
