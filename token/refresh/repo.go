package refresh

import (
	"time"
)

// StoredRefreshToken represents the server-side storage of refresh token metadata.
// The client only receives the Token field (a random string).
type StoredRefreshToken struct {
	Token     string    `json:"token"`     // The actual random token string (sent to client)
	UserID    string    `json:"userId"`    // Owner of the session
	Provider  string    `json:"provider"`  // External provider the session started from, if any
	Iat       time.Time `json:"iat"`       // Issued at time
	ExpiresAt time.Time `json:"expiresAt"` // Absolute expiry
}

// Repo manages server-side storage of refresh token metadata, keyed by the
// token string. A user may hold several tokens, one per signed-in console.
// Get returns errors.ErrNotFound for unknown tokens.
type Repo interface {
	Upsert(refreshToken *StoredRefreshToken) error
	Delete(token string) error
	Get(token string) (*StoredRefreshToken, error)
	DeleteByUserID(userID string) error
}
