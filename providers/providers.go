// Package providers holds the external OpenID Connect identity providers the
// console backend can hand a sign-in off to.
package providers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/go-console-session/auth"
	"github.com/jrsteele09/go-console-session/internal/config"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"golang.org/x/oauth2"
)

// Provider runs the authorization code flow against one identity provider
type Provider interface {
	Name() string

	// AuthCodeURL is where the browser is sent to sign in. verifier is the
	// PKCE code verifier and nonce is bound into the ID token.
	AuthCodeURL(ctx context.Context, state, nonce, verifier string) (string, error)

	// Exchange redeems code and returns the verified identity
	Exchange(ctx context.Context, code, nonce, verifier string) (auth.ExternalIdentity, error)
}

// Registry maps provider names to providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// FromConfig builds an OIDC provider for each configured entry. callbackURL
// returns the redirect URL registered with the provider.
func FromConfig(cfg config.ProvidersConfig, callbackURL func(name string) string, options ...OIDCOption) *Registry {
	r := NewRegistry()
	for _, settings := range cfg.GetProviders() {
		r.Register(NewOIDC(settings, callbackURL(settings.Name), options...))
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", autherrors.ErrUnknownProvider, name)
	}
	return p, nil
}

// Names returns the registered provider names in order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OIDCProvider discovers the issuer on first use and caches the result
type OIDCProvider struct {
	settings    config.ProviderSettings
	redirectURL string
	httpClient  *http.Client

	mu       sync.Mutex
	oauth2   *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ Provider = (*OIDCProvider)(nil)

type OIDCOption func(*OIDCProvider)

// WithHTTPClient sets the client used for discovery, key fetching and code
// exchange
func WithHTTPClient(c *http.Client) OIDCOption {
	return func(p *OIDCProvider) {
		p.httpClient = c
	}
}

func NewOIDC(settings config.ProviderSettings, redirectURL string, options ...OIDCOption) *OIDCProvider {
	p := &OIDCProvider{
		settings:    settings,
		redirectURL: redirectURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range options {
		opt(p)
	}
	return p
}

func (p *OIDCProvider) Name() string {
	return p.settings.Name
}

// clientContext carries the http client. It is never cancelled because the
// key set fetched during discovery keeps it for later refreshes.
func (p *OIDCProvider) clientContext() context.Context {
	ctx := oidc.ClientContext(context.Background(), p.httpClient)
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *OIDCProvider) discover() (*oauth2.Config, *oidc.IDTokenVerifier, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.oauth2 != nil {
		return p.oauth2, p.verifier, nil
	}

	provider, err := oidc.NewProvider(p.clientContext(), p.settings.Issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OIDC provider %s: %w", p.settings.Name, err)
	}

	scopes := p.settings.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	p.oauth2 = &oauth2.Config{
		ClientID:     p.settings.ClientID,
		ClientSecret: p.settings.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  p.redirectURL,
		Scopes:       scopes,
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: p.settings.ClientID})
	return p.oauth2, p.verifier, nil
}

func (p *OIDCProvider) AuthCodeURL(_ context.Context, state, nonce, verifier string) (string, error) {
	cfg, _, err := p.discover()
	if err != nil {
		return "", err
	}
	return cfg.AuthCodeURL(state, oidc.Nonce(nonce), oauth2.S256ChallengeOption(verifier)), nil
}

func (p *OIDCProvider) Exchange(ctx context.Context, code, nonce, verifier string) (auth.ExternalIdentity, error) {
	cfg, idVerifier, err := p.discover()
	if err != nil {
		return auth.ExternalIdentity{}, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("token exchange failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return auth.ExternalIdentity{}, fmt.Errorf("no id_token in token response")
	}
	idToken, err := idVerifier.Verify(oidc.ClientContext(ctx, p.httpClient), rawIDToken)
	if err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("ID token verification failed: %w", err)
	}

	var claims struct {
		Nonce         string `json:"nonce"`
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return auth.ExternalIdentity{}, fmt.Errorf("failed to extract claims: %w", err)
	}
	if claims.Nonce != nonce {
		return auth.ExternalIdentity{}, fmt.Errorf("%w: nonce mismatch", autherrors.ErrInvalidState)
	}

	return auth.ExternalIdentity{
		Provider: p.settings.Name,
		Subject:  idToken.Subject,
		Email:    claims.Email,
		// A missing claim counts as verified
		EmailVerified: claims.EmailVerified == nil || *claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
