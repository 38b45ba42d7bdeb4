package oauthbridge_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/oauthbridge"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	calls   int
	access  string
	refresh string
	err     error
}

func (f *fakeBridge) LoginWithOAuth(_ context.Context, accessToken, refreshToken string) (users.User, error) {
	f.calls++
	f.access, f.refresh = accessToken, refreshToken
	if f.err != nil {
		return users.User{}, f.err
	}
	return users.User{ID: "user-1", Email: "sso@example.com"}, nil
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestInitiateURL(t *testing.T) {
	got, err := oauthbridge.InitiateURL("https://api.example.com/", "google", "http://127.0.0.1:8085/callback")
	require.NoError(t, err)

	u := mustParse(t, got)
	require.Equal(t, "/auth/oauth/google", u.Path)
	require.Equal(t, "http://127.0.0.1:8085/callback", u.Query().Get("redirect_uri"))

	_, err = oauthbridge.InitiateURL("https://api.example.com", "", "http://x/cb")
	require.Error(t, err)
	_, err = oauthbridge.InitiateURL("https://api.example.com", "google", "not a url")
	require.Error(t, err)
}

func TestParseCallback(t *testing.T) {
	cb := oauthbridge.ParseCallback(url.Values{
		"accessToken":  {"a"},
		"refreshToken": {"r"},
		"provider":     {"github"},
	})
	require.Equal(t, "a", cb.AccessToken)
	require.Equal(t, "r", cb.RefreshToken)
	require.Equal(t, "github", cb.Provider)
	require.True(t, cb.Usable())
	require.Equal(t, "Bearer", cb.Token().TokenType)
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		bridgeErr   error
		wantCalls   int
		wantDest    oauthbridge.Destination
		wantMessage string
	}{
		{
			name:        "access denied never bridges",
			query:       "error=access_denied&provider=google",
			wantCalls:   0,
			wantDest:    oauthbridge.DestinationLogin,
			wantMessage: "Sign-in was cancelled or access was denied by the provider.",
		},
		{
			name:        "error wins over credentials",
			query:       "error=server_error&accessToken=a&refreshToken=r",
			wantCalls:   0,
			wantDest:    oauthbridge.DestinationLogin,
			wantMessage: "The sign-in provider had a problem. Please try again later.",
		},
		{
			name:        "unknown error uses the description",
			query:       "error=weird&error_description=clock+skew",
			wantCalls:   0,
			wantDest:    oauthbridge.DestinationLogin,
			wantMessage: "Sign-in failed: clock skew",
		},
		{
			name:        "missing refresh token",
			query:       "accessToken=a&provider=google",
			wantCalls:   0,
			wantDest:    oauthbridge.DestinationLogin,
			wantMessage: "The sign-in provider did not return credentials. Please try again.",
		},
		{
			name:      "success",
			query:     "accessToken=a&refreshToken=r&provider=google",
			wantCalls: 1,
			wantDest:  oauthbridge.DestinationLanding,
		},
		{
			name:        "bridge failure",
			query:       "accessToken=a&refreshToken=r&provider=google",
			bridgeErr:   &apiclient.Error{Class: apiclient.ClassUnauthorized, StatusCode: 401, Message: "token expired"},
			wantCalls:   1,
			wantDest:    oauthbridge.DestinationLogin,
			wantMessage: "Could not complete sign-in: token expired",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bridge := &fakeBridge{err: tt.bridgeErr}
			h := oauthbridge.NewHandler(bridge, oauthbridge.WithLogger(zerolog.Nop()))

			out := h.Complete(context.Background(), mustParse(t, "http://127.0.0.1/callback?"+tt.query))
			require.Equal(t, tt.wantCalls, bridge.calls)
			require.Equal(t, tt.wantDest, out.Destination)
			require.Equal(t, tt.wantMessage, out.Message)
			if tt.wantDest == oauthbridge.DestinationLanding {
				require.Equal(t, "sso@example.com", out.User.Email)
				require.Equal(t, "a", bridge.access)
				require.Equal(t, "r", bridge.refresh)
			} else {
				require.Error(t, out.Err)
			}
		})
	}
}

func TestServeHTTP(t *testing.T) {
	t.Run("redirects to login with the message", func(t *testing.T) {
		var got oauthbridge.Outcome
		h := oauthbridge.NewHandler(&fakeBridge{},
			oauthbridge.WithLogger(zerolog.Nop()),
			oauthbridge.WithRedirects("/dashboard", "/login"),
			oauthbridge.WithOutcomeHook(func(o oauthbridge.Outcome) { got = o }),
		)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))

		require.Equal(t, http.StatusFound, rec.Code)
		loc := mustParse(t, rec.Header().Get("Location"))
		require.Equal(t, "/login", loc.Path)
		require.Contains(t, loc.Query().Get("message"), "denied")
		require.Equal(t, oauthbridge.DestinationLogin, got.Destination)
	})

	t.Run("redirects to landing", func(t *testing.T) {
		h := oauthbridge.NewHandler(&fakeBridge{}, oauthbridge.WithLogger(zerolog.Nop()), oauthbridge.WithRedirects("/dashboard", "/login"))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?accessToken=a&refreshToken=r", nil))

		require.Equal(t, http.StatusFound, rec.Code)
		require.Equal(t, "/dashboard", rec.Header().Get("Location"))
	})

	t.Run("plain page without redirects", func(t *testing.T) {
		h := oauthbridge.NewHandler(&fakeBridge{}, oauthbridge.WithLogger(zerolog.Nop()))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?accessToken=a&refreshToken=r", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "sso@example.com")
	})
}
