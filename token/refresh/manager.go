package refresh

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-console-session/internal/config"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager handles refresh token creation, validation, and rotation
type Manager struct {
	repo   Repo
	config config.TokenConfig
}

// NewManager creates a new refresh token manager
func NewManager(repo Repo, cfg config.TokenConfig) *Manager {
	return &Manager{
		repo:   repo,
		config: cfg,
	}
}

// Create generates a new refresh token for userID and stores it
func (m *Manager) Create(userID, provider string) (string, error) {
	tokenBytes := make([]byte, m.config.GetRefreshTokenLength()) // Configured length (default: 32 bytes = 256 bits)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	now := NowTimeFunc()
	tokenStr := hex.EncodeToString(tokenBytes)
	if err := m.repo.Upsert(&StoredRefreshToken{
		Token:     tokenStr,
		UserID:    userID,
		Provider:  provider,
		Iat:       now,
		ExpiresAt: now.Add(m.config.GetRefreshTokenExpiry()),
	}); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return tokenStr, nil
}

// Validate returns the stored token. Unknown tokens give ErrInvalidRefreshToken;
// expired ones are deleted and give ErrRefreshTokenExpired.
func (m *Manager) Validate(token string) (*StoredRefreshToken, error) {
	if token == "" {
		return nil, autherrors.ErrInvalidRefreshToken
	}
	rt, err := m.repo.Get(token)
	if errors.Is(err, autherrors.ErrNotFound) {
		return nil, autherrors.ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	if m.IsExpired(rt) {
		_ = m.repo.Delete(token)
		return nil, autherrors.ErrRefreshTokenExpired
	}
	return rt, nil
}

// Rotate replaces rt with a new token for the same user when rotation is
// enabled. It returns "" when the client should keep its current token.
func (m *Manager) Rotate(rt *StoredRefreshToken) (string, error) {
	if !m.config.GetRotateRefreshTokens() {
		return "", nil
	}
	next, err := m.Create(rt.UserID, rt.Provider)
	if err != nil {
		return "", err
	}
	if err := m.repo.Delete(rt.Token); err != nil && !errors.Is(err, autherrors.ErrNotFound) {
		return "", fmt.Errorf("failed to delete rotated refresh token: %w", err)
	}
	return next, nil
}

// Delete removes a refresh token. Unknown tokens are not an error.
func (m *Manager) Delete(token string) error {
	if err := m.repo.Delete(token); err != nil && !errors.Is(err, autherrors.ErrNotFound) {
		return err
	}
	return nil
}

// DeleteForUser ends every session of userID
func (m *Manager) DeleteForUser(userID string) error {
	return m.repo.DeleteByUserID(userID)
}

// IsExpired checks if a refresh token has expired
func (m *Manager) IsExpired(rt *StoredRefreshToken) bool {
	return !NowTimeFunc().Before(rt.ExpiresAt)
}
