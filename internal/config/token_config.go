package config

import "time"

type TokenConfig interface {
	GetJWTSecret() string
	GetIssuer() string
	GetAccessTokenExpiry() time.Duration
	GetRefreshTokenExpiry() time.Duration
	GetRefreshTokenLength() int
	GetRotateRefreshTokens() bool
	GetFlowTimeout() time.Duration
}

type Tokens struct{}

var _ TokenConfig = Tokens{}

// GetJWTSecret returns the HMAC key for access tokens. The default is only fit
// for local development.
func (Tokens) GetJWTSecret() string {
	return GetEnv("JWT_SECRET", "dev-only-console-secret-change-me")
}

func (Tokens) GetIssuer() string {
	return GetEnv("JWT_ISSUER", "console-backend")
}

func (Tokens) GetAccessTokenExpiry() time.Duration {
	return GetDurationEnv("ACCESS_TOKEN_TTL", 15*time.Minute)
}

func (Tokens) GetRefreshTokenExpiry() time.Duration {
	return GetDurationEnv("REFRESH_TOKEN_TTL", 7*24*time.Hour) // 7 days
}

func (Tokens) GetRefreshTokenLength() int {
	return 32 // 32 bytes = 256 bits
}

// GetRotateRefreshTokens reports whether /auth/refresh issues a new refresh
// token. Clients keep their current one when it does not.
func (Tokens) GetRotateRefreshTokens() bool {
	return GetBoolEnv("ROTATE_REFRESH_TOKENS", false)
}

// GetFlowTimeout bounds an external provider sign-in from redirect to callback
func (Tokens) GetFlowTimeout() time.Duration {
	return GetDurationEnv("OAUTH_FLOW_TIMEOUT", 15*time.Minute)
}
