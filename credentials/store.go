// Package credentials persists the console session: the access token, the
// refresh token and a cached snapshot of the authenticated user.
//
// A session is all or nothing. Set writes the three entries together, Clear
// removes them together, and a backend that finds only some of them (for
// example after a crash between writes) reports the session as absent and
// removes the stragglers. Token values are never logged.
package credentials

import (
	"context"

	"github.com/jrsteele09/go-console-session/users"
)

// DefaultNamespace prefixes every persisted key.
const DefaultNamespace = "console"

// Key suffixes of the three persisted entries.
const (
	KeyUser         = "user"
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
)

// Session is the authenticated state held by a Store.
type Session struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken"`
	User         users.User `json:"user"`
}

// Complete reports whether both credentials and a user are present.
func (s Session) Complete() bool {
	return s.AccessToken != "" && s.RefreshToken != "" && s.User.ID != ""
}

// Store is the durable home of the session.
type Store interface {
	// Get returns the current session, or nil when none is stored.
	Get(ctx context.Context) (*Session, error)

	// Set atomically replaces the whole session. Incomplete sessions are rejected.
	Set(ctx context.Context, s Session) error

	// Clear atomically removes the session and reports whether one was present.
	Clear(ctx context.Context) (bool, error)

	// UpdateTokens replaces the access token, and the refresh token when
	// refreshToken is non-empty, of an existing session. It returns
	// ErrNoSession when no session is stored.
	UpdateTokens(ctx context.Context, accessToken, refreshToken string) error

	// UpdateTokensIf is UpdateTokens guarded by the access token the caller
	// last saw. It returns ErrSessionChanged when the stored access token is no
	// longer staleAccessToken, and ErrNoSession when no session is stored.
	UpdateTokensIf(ctx context.Context, staleAccessToken, accessToken, refreshToken string) error

	// ClearIf removes the session only while its access token is accessToken,
	// and reports whether it did.
	ClearIf(ctx context.Context, accessToken string) (bool, error)

	// UpdateUser replaces the cached user of an existing session. It returns
	// ErrNoSession when no session is stored.
	UpdateUser(ctx context.Context, user users.User) error
}

// Key returns the namespaced storage key for one of the Key* suffixes.
func Key(namespace, suffix string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return namespace + ":" + suffix
}
