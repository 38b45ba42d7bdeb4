package auth_test

import (
	"testing"

	"github.com/jrsteele09/go-console-session/auth"
	"github.com/jrsteele09/go-console-session/internal/config"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidateAccessToken(t *testing.T) {
	v := auth.NewValidator()
	require.NoError(t, v.ValidateAccessToken("a.b.c"))
	require.Error(t, v.ValidateAccessToken(""))
	require.Error(t, v.ValidateAccessToken("a.b"))
	require.Error(t, v.ValidateAccessToken("a..c"))
}

func TestValidator_ValidateUserState(t *testing.T) {
	v := auth.NewValidator()
	require.Error(t, v.ValidateUserState(nil, false))
	require.Error(t, v.ValidateUserState(&users.User{Blocked: true, Verified: true}, false))
	require.Error(t, v.ValidateUserState(&users.User{}, true))
	require.NoError(t, v.ValidateUserState(&users.User{}, false))
}

func TestValidateRedirectURI(t *testing.T) {
	allowed := config.AllowedOrigins{"https://console.example.com": {}}

	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"allowed origin", "https://console.example.com/oauth/done", false},
		{"loopback listener", "http://127.0.0.1:8085/callback", false},
		{"localhost", "http://localhost:3000/oauth", false},
		{"unknown origin", "https://evil.example.com/steal", true},
		{"fragment", "https://console.example.com/#x", true},
		{"relative", "/callback", true},
		{"other scheme", "javascript:alert(1)", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateRedirectURI(tt.uri, allowed)
			if tt.wantErr {
				require.Error(t, err)
				require.True(t, auth.IsValidation(err))
			} else {
				require.NoError(t, err)
			}
		})
	}
}
