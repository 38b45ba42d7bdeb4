package jwt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/token"
	"github.com/jrsteele09/go-console-session/users"
)

// TokenIntrospection is what a verified access token says about its bearer
type TokenIntrospection struct {
	Active    bool           `json:"active"`
	Subject   string         `json:"sub,omitempty"`
	Email     string         `json:"email,omitempty"`
	Role      users.RoleType `json:"role,omitempty"`
	ID        string         `json:"jti,omitempty"`
	Issuer    string         `json:"iss,omitempty"`
	IssuedAt  time.Time      `json:"iat,omitempty"`
	ExpiresAt time.Time      `json:"exp,omitempty"`
}

// RevokedChecker is an interface for checking if a token has been revoked
type RevokedChecker interface {
	IsRevoked(jti string) bool
}

// Inspector handles JWT token introspection and validation
type Inspector struct {
	signer         token.Signer
	issuer         string
	revokedChecker RevokedChecker
}

// NewInspector creates a new JWT inspector. revokedChecker may be nil.
func NewInspector(signer token.Signer, issuer string, revokedChecker RevokedChecker) *Inspector {
	return &Inspector{
		signer:         signer,
		issuer:         issuer,
		revokedChecker: revokedChecker,
	}
}

// Introspect verifies rawToken. Expired, revoked and malformed tokens return
// an inactive introspection and an error wrapping ErrTokenExpired,
// ErrTokenRevoked or ErrInvalidToken.
func (i *Inspector) Introspect(rawToken string) (*TokenIntrospection, error) {
	if strings.TrimSpace(rawToken) == "" {
		return &TokenIntrospection{Active: false}, autherrors.ErrInvalidToken
	}

	parser := jwtlib.NewParser(
		jwtlib.WithValidMethods([]string{i.signer.GetSigningMethod().Alg()}),
		jwtlib.WithIssuer(i.issuer),
		jwtlib.WithExpirationRequired(),
		jwtlib.WithTimeFunc(NowTimeFunc),
	)
	parsed, err := parser.ParseWithClaims(rawToken, jwtlib.MapClaims{}, i.signer.GetVerificationKey)
	if errors.Is(err, jwtlib.ErrTokenExpired) {
		return &TokenIntrospection{Active: false}, autherrors.ErrTokenExpired
	}
	if err != nil || !parsed.Valid {
		return &TokenIntrospection{Active: false}, fmt.Errorf("%w: %v", autherrors.ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return &TokenIntrospection{Active: false}, fmt.Errorf("%w: error extracting claims from token", autherrors.ErrInvalidToken)
	}

	ti := &TokenIntrospection{Active: true}
	ti.Subject, _ = claims[ClaimSubject].(string)
	ti.Email, _ = claims[ClaimEmail].(string)
	ti.ID, _ = claims[ClaimID].(string)
	ti.Issuer, _ = claims[ClaimIssuer].(string)
	role, _ := claims[ClaimRole].(string)
	ti.Role = users.RoleType(role)
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		ti.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		ti.ExpiresAt = exp.Time
	}

	if ti.Subject == "" || ti.ID == "" {
		return &TokenIntrospection{Active: false}, fmt.Errorf("%w: token missing sub or jti", autherrors.ErrInvalidToken)
	}

	// Check if token has been revoked
	if i.revokedChecker != nil && i.revokedChecker.IsRevoked(ti.ID) {
		ti.Active = false
		return ti, autherrors.ErrTokenRevoked
	}

	return ti, nil
}
