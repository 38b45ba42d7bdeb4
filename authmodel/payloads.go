// Package authmodel holds the JSON payloads exchanged between the console
// session layer and the console backend.
package authmodel

import (
	"time"

	"github.com/jrsteele09/go-console-session/users"
)

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by POST /auth/login and by the backend when it
// issues a session for an external identity.
type LoginResponse struct {
	// User is the authenticated user, preferences included.
	User users.User `json:"user"`

	// AccessToken is the short-lived JWT sent as "Authorization: Bearer <token>".
	AccessToken string `json:"accessToken"`

	// RefreshToken is an opaque token exchanged at POST /auth/refresh.
	RefreshToken string `json:"refreshToken"`

	// ExpiresIn is the access token lifetime in seconds. It is a hint only;
	// the client never refreshes proactively, it reacts to 401.
	ExpiresIn int `json:"expiresIn,omitempty"`
}

// SignupRequest is the body of POST /auth/signup
type SignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignupResponse confirms a registration. No session is issued until the
// email address is verified.
type SignupResponse struct {
	User    users.User `json:"user"`
	Message string     `json:"message"`

	// VerifyCode is only returned by development backends that do not send email.
	VerifyCode string `json:"verifyCode,omitempty"`
}

// VerifyRequest is the body of POST /auth/verify
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// RefreshRequest is the body of POST /auth/refresh
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResponse carries the new access token. RefreshToken is only set when
// the backend rotates refresh tokens; otherwise the client keeps its current one.
type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int    `json:"expiresIn,omitempty"`
}

// LogoutRequest is the body of POST /auth/logout
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// AckResponse is a generic acknowledgement
type AckResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// UserResponse wraps the user returned by the /users/me family of endpoints
type UserResponse struct {
	User users.User `json:"user"`
}

// ProfileUpdateRequest is the body of PATCH /users/me. Nil fields are left unchanged.
type ProfileUpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// PreferencesRequest is the body of PATCH /users/me/preferences. The full
// object is always sent.
type PreferencesRequest struct {
	Preferences users.Preferences `json:"preferences"`
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Status  string    `json:"status"`
	Version string    `json:"version,omitempty"`
	Time    time.Time `json:"time"`
}

// Status values reported by GET /status. StatusDegraded is also the placeholder
// a client substitutes when the backend cannot be reached.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)
