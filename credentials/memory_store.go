package credentials

import (
	"context"
	"sync"

	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps the session in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	session *Session
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.session == nil {
		return nil, nil
	}
	s := *m.session
	return &s, nil
}

func (m *MemoryStore) Set(_ context.Context, s Session) error {
	if !s.Complete() {
		return autherrors.ErrPartialCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = &s
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existed := m.session != nil
	m.session = nil
	return existed, nil
}

func (m *MemoryStore) ClearIf(_ context.Context, accessToken string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil || m.session.AccessToken != accessToken {
		return false, nil
	}
	m.session = nil
	return true, nil
}

func (m *MemoryStore) UpdateTokens(_ context.Context, accessToken, refreshToken string) error {
	if accessToken == "" {
		return autherrors.ErrPartialCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return autherrors.ErrNoSession
	}
	m.replaceTokensLocked(accessToken, refreshToken)
	return nil
}

func (m *MemoryStore) UpdateTokensIf(_ context.Context, staleAccessToken, accessToken, refreshToken string) error {
	if accessToken == "" {
		return autherrors.ErrPartialCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return autherrors.ErrNoSession
	}
	if m.session.AccessToken != staleAccessToken {
		return autherrors.ErrSessionChanged
	}
	m.replaceTokensLocked(accessToken, refreshToken)
	return nil
}

// replaceTokensLocked REQUIRES: m.mu held and m.session non-nil.
func (m *MemoryStore) replaceTokensLocked(accessToken, refreshToken string) {
	s := *m.session
	s.AccessToken = accessToken
	if refreshToken != "" {
		s.RefreshToken = refreshToken
	}
	m.session = &s
}

func (m *MemoryStore) UpdateUser(_ context.Context, user users.User) error {
	if user.ID == "" {
		return autherrors.ErrPartialCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return autherrors.ErrNoSession
	}
	s := *m.session
	s.User = user
	m.session = &s
	return nil
}
