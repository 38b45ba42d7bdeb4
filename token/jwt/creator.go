package jwt

import (
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jrsteele09/go-console-session/token"
	"github.com/jrsteele09/go-console-session/users"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Claim names carried by a console access token
const (
	ClaimIssuer  = "iss"
	ClaimSubject = "sub"
	ClaimEmail   = "email"
	ClaimRole    = "role"
	ClaimIssued  = "iat"
	ClaimExpiry  = "exp"
	ClaimID      = "jti"
)

// AccessToken is a freshly signed access token
type AccessToken struct {
	Raw       string
	ID        string // jti, used for revocation
	ExpiresAt time.Time
}

// ExpiresIn is the remaining lifetime in whole seconds
func (a AccessToken) ExpiresIn() int {
	return int(a.ExpiresAt.Sub(NowTimeFunc()).Seconds())
}

// Creator handles access token creation
type Creator struct {
	signer token.Signer
	issuer string
	expiry time.Duration
}

// NewCreator creates a new JWT creator
func NewCreator(signer token.Signer, issuer string, expiry time.Duration) *Creator {
	return &Creator{
		signer: signer,
		issuer: issuer,
		expiry: expiry,
	}
}

// CreateAccessToken creates the bearer token for user
func (c *Creator) CreateAccessToken(user *users.User) (AccessToken, error) {
	now := NowTimeFunc()
	at := AccessToken{
		ID:        uuid.New().String(),
		ExpiresAt: now.Add(c.expiry),
	}
	claims := jwtlib.MapClaims{
		ClaimIssuer:  c.issuer,            // The issuer of the token
		ClaimSubject: user.ID,             // The user the token was issued to
		ClaimEmail:   user.Email,          // Convenience copy for audit logs
		ClaimRole:    string(user.Role),   // Console role at issue time
		ClaimIssued:  now.Unix(),          // Issued At
		ClaimExpiry:  at.ExpiresAt.Unix(), // Expiry
		ClaimID:      at.ID,               // Unique token ID for revocation
	}

	signed, err := c.signer.Sign(claims)
	if err != nil {
		return AccessToken{}, fmt.Errorf("failed to sign JWT token: %w", err)
	}
	at.Raw = signed
	return at, nil
}
