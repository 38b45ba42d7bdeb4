package providers_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-console-session/internal/config"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/providers"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	testClientID = "console-backend"
	testKeyID    = "test-key"
	goodCode     = "good-code"
)

// fakeIssuer is a minimal OpenID Connect provider
type fakeIssuer struct {
	*httptest.Server
	key *rsa.PrivateKey

	mu           sync.Mutex
	nonce        string
	email        string
	verified     bool
	lastVerifier string
}

func newFakeIssuer(t *testing.T) *fakeIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeIssuer{key: key, email: "sso@example.com", verified: true}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"issuer":                                f.URL,
			"authorization_endpoint":                f.URL + "/authorize",
			"token_endpoint":                        f.URL + "/token",
			"jwks_uri":                              f.URL + "/jwks",
			"id_token_signing_alg_values_supported": []string{"RS256"},
		})
	})
	mux.HandleFunc("GET /jwks", func(w http.ResponseWriter, r *http.Request) {
		enc := base64.RawURLEncoding
		writeJSON(w, map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": testKeyID,
			"alg": "RS256",
			"use": "sig",
			"n":   enc.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   enc.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		}}})
	})
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != goodCode {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		f.mu.Lock()
		f.lastVerifier = r.PostForm.Get("code_verifier")
		claims := jwtlib.MapClaims{
			"iss":            f.URL,
			"sub":            "provider-user-1",
			"aud":            testClientID,
			"iat":            time.Now().Unix(),
			"exp":            time.Now().Add(time.Hour).Unix(),
			"nonce":          f.nonce,
			"email":          f.email,
			"email_verified": f.verified,
			"name":           "Sso User",
		}
		f.mu.Unlock()

		tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
		tok.Header["kid"] = testKeyID
		idToken, err := tok.SignedString(key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"access_token": "provider-access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     idToken,
		})
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeIssuer) setNonce(nonce string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonce = nonce
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newProvider(f *fakeIssuer) *providers.OIDCProvider {
	return providers.NewOIDC(config.ProviderSettings{
		Name:         "fake",
		Issuer:       f.URL,
		ClientID:     testClientID,
		ClientSecret: "secret",
	}, "http://localhost:8080/auth/oauth/fake/callback", providers.WithHTTPClient(f.Client()))
}

func TestOIDCProvider_AuthCodeURL(t *testing.T) {
	f := newFakeIssuer(t)
	p := newProvider(f)

	verifier := oauth2.GenerateVerifier()
	raw, err := p.AuthCodeURL(context.Background(), "state-123", "nonce-123", verifier)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, f.URL+"/authorize", u.Scheme+"://"+u.Host+u.Path)
	require.Equal(t, "state-123", q.Get("state"))
	require.Equal(t, "nonce-123", q.Get("nonce"))
	require.Equal(t, testClientID, q.Get("client_id"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))
	require.Equal(t, "openid profile email", q.Get("scope"))
}

func TestOIDCProvider_Exchange(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		f := newFakeIssuer(t)
		f.setNonce("nonce-1")
		id, err := newProvider(f).Exchange(ctx, goodCode, "nonce-1", "verifier-1")
		require.NoError(t, err)
		require.Equal(t, "fake", id.Provider)
		require.Equal(t, "provider-user-1", id.Subject)
		require.Equal(t, "sso@example.com", id.Email)
		require.True(t, id.EmailVerified)
		f.mu.Lock()
		require.Equal(t, "verifier-1", f.lastVerifier)
		f.mu.Unlock()
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		f := newFakeIssuer(t)
		f.setNonce("someone-elses")
		_, err := newProvider(f).Exchange(ctx, goodCode, "nonce-1", "verifier-1")
		require.ErrorIs(t, err, autherrors.ErrInvalidState)
	})

	t.Run("bad code", func(t *testing.T) {
		f := newFakeIssuer(t)
		_, err := newProvider(f).Exchange(ctx, "bad-code", "", "verifier-1")
		require.ErrorContains(t, err, "token exchange failed")
	})

	t.Run("issuer down", func(t *testing.T) {
		f := newFakeIssuer(t)
		p := newProvider(f)
		f.Close()
		_, err := p.Exchange(ctx, goodCode, "", "v")
		require.Error(t, err)
	})
}

func TestRegistry(t *testing.T) {
	t.Setenv("OAUTH_PROVIDERS", "okta,google")
	t.Setenv("OAUTH_GOOGLE_ISSUER", "https://accounts.google.com")
	t.Setenv("OAUTH_GOOGLE_CLIENT_ID", "g")
	t.Setenv("OAUTH_OKTA_ISSUER", "https://example.okta.com")
	t.Setenv("OAUTH_OKTA_CLIENT_ID", "o")

	r := providers.FromConfig(config.Providers{}, func(name string) string {
		return "http://localhost:8080/auth/oauth/" + name + "/callback"
	})
	require.Equal(t, []string{"google", "okta"}, r.Names())

	p, err := r.Get("google")
	require.NoError(t, err)
	require.Equal(t, "google", p.Name())

	_, err = r.Get("github")
	require.ErrorIs(t, err, autherrors.ErrUnknownProvider)
}
