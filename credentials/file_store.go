package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultStorageDir is the default directory, relative to the home directory,
// holding the session files.
const DefaultStorageDir = ".config/console"

var _ Store = (*FileStore)(nil)

// FileStore persists the session as three files in one directory:
//
//	<dir>/<namespace>.user.json
//	<dir>/<namespace>.accessToken
//	<dir>/<namespace>.refreshToken
//
// The directory is created 0700 and files are written 0600 through a temp
// file and rename. One mutex serialises every operation of the process, so no
// caller of this store sees a half-written session.
type FileStore struct {
	mu        sync.Mutex
	dir       string
	namespace string
	logger    zerolog.Logger

	// writeHook, when set, runs before each entry is written. Tests use it
	// to fail a write part way through a session.
	writeHook func(suffix string) error
}

// FileStoreOption configures a FileStore
type FileStoreOption func(*FileStore)

// WithNamespace sets the file name prefix
func WithNamespace(namespace string) FileStoreOption {
	return func(f *FileStore) {
		f.namespace = namespace
	}
}

// WithLogger sets the logger used for storage diagnostics
func WithLogger(logger zerolog.Logger) FileStoreOption {
	return func(f *FileStore) {
		f.logger = logger
	}
}

// NewFileStore creates the storage directory if needed. An empty dir means
// ~/.config/console.
func NewFileStore(dir string, options ...FileStoreOption) (*FileStore, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, DefaultStorageDir)
	}

	f := &FileStore{
		dir:       dir,
		namespace: DefaultNamespace,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(f)
	}
	if f.namespace == "" {
		f.namespace = DefaultNamespace
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create session storage directory: %w", err)
	}
	return f, nil
}

func (f *FileStore) path(suffix string) string {
	name := f.namespace + "." + suffix
	if suffix == KeyUser {
		name += ".json"
	}
	return filepath.Join(f.dir, name)
}

func (f *FileStore) Get(_ context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loadLocked()
}

// loadLocked reads the three entries. REQUIRES: f.mu held.
func (f *FileStore) loadLocked() (*Session, error) {
	access, accessOK, err := f.readEntry(KeyAccessToken)
	if err != nil {
		return nil, err
	}
	refresh, refreshOK, err := f.readEntry(KeyRefreshToken)
	if err != nil {
		return nil, err
	}
	rawUser, userOK, err := f.readEntry(KeyUser)
	if err != nil {
		return nil, err
	}

	if !accessOK && !refreshOK && !userOK {
		return nil, nil
	}

	var user users.User
	complete := accessOK && refreshOK && userOK
	if complete {
		if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
			f.logger.Warn().Err(err).Str("dir", f.dir).Msg("Cached user is unreadable, discarding session")
			complete = false
		}
	}

	s := Session{AccessToken: access, RefreshToken: refresh, User: user}
	if !complete || !s.Complete() {
		f.logger.Warn().Str("dir", f.dir).
			Bool("has_access_token", accessOK).
			Bool("has_refresh_token", refreshOK).
			Bool("has_user", userOK).
			Msg("Partial session found on disk, removing it")
		if err := f.removeAllLocked(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &s, nil
}

func (f *FileStore) Set(_ context.Context, s Session) error {
	if !s.Complete() {
		return autherrors.ErrPartialCredential
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(s)
}

// writeLocked drops the current access token, then writes the user, the
// refresh token and finally the new access token. Until the last write lands
// the directory holds a partial set, which loadLocked discards, so a crash or
// failed write never leaves an old access token beside a new user.
// REQUIRES: f.mu held.
func (f *FileStore) writeLocked(s Session) error {
	data, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	if err := f.removeEntry(KeyAccessToken); err != nil {
		return err
	}
	if err := f.writeEntry(KeyUser, data); err != nil {
		return err
	}
	if err := f.writeEntry(KeyRefreshToken, []byte(s.RefreshToken)); err != nil {
		return err
	}
	return f.writeEntry(KeyAccessToken, []byte(s.AccessToken))
}

func (f *FileStore) Clear(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return false, err
	}
	if err := f.removeAllLocked(); err != nil {
		return false, err
	}
	return current != nil, nil
}

func (f *FileStore) ClearIf(_ context.Context, accessToken string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return false, err
	}
	if current == nil || current.AccessToken != accessToken {
		return false, nil
	}
	if err := f.removeAllLocked(); err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileStore) UpdateTokens(_ context.Context, accessToken, refreshToken string) error {
	if accessToken == "" {
		return autherrors.ErrPartialCredential
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return err
	}
	if current == nil {
		return autherrors.ErrNoSession
	}
	return f.writeTokensLocked(accessToken, refreshToken)
}

func (f *FileStore) UpdateTokensIf(_ context.Context, staleAccessToken, accessToken, refreshToken string) error {
	if accessToken == "" {
		return autherrors.ErrPartialCredential
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return err
	}
	if current == nil {
		return autherrors.ErrNoSession
	}
	if current.AccessToken != staleAccessToken {
		return autherrors.ErrSessionChanged
	}
	return f.writeTokensLocked(accessToken, refreshToken)
}

// writeTokensLocked replaces the access token in place. A rotated refresh
// token goes through the same order as writeLocked so the old access token
// never pairs with the new refresh token. REQUIRES: f.mu held.
func (f *FileStore) writeTokensLocked(accessToken, refreshToken string) error {
	if refreshToken != "" {
		if err := f.removeEntry(KeyAccessToken); err != nil {
			return err
		}
		if err := f.writeEntry(KeyRefreshToken, []byte(refreshToken)); err != nil {
			return err
		}
	}
	return f.writeEntry(KeyAccessToken, []byte(accessToken))
}

func (f *FileStore) UpdateUser(_ context.Context, user users.User) error {
	if user.ID == "" {
		return autherrors.ErrPartialCredential
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.loadLocked()
	if err != nil {
		return err
	}
	if current == nil {
		return autherrors.ErrNoSession
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	return f.writeEntry(KeyUser, data)
}

func (f *FileStore) readEntry(suffix string) (string, bool, error) {
	// #nosec G304 -- path is built from the configured directory and fixed suffixes
	data, err := os.ReadFile(f.path(suffix))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", suffix, err)
	}
	value := strings.TrimSpace(string(data))
	return value, value != "", nil
}

func (f *FileStore) writeEntry(suffix string, data []byte) error {
	if f.writeHook != nil {
		if err := f.writeHook(suffix); err != nil {
			return fmt.Errorf("failed to write %s: %w", suffix, err)
		}
	}
	target := f.path(suffix)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", suffix, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict %s: %w", suffix, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", suffix, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", suffix, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", suffix, err)
	}
	return nil
}

func (f *FileStore) removeEntry(suffix string) error {
	err := os.Remove(f.path(suffix))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", suffix, err)
	}
	return nil
}

// removeAllLocked deletes the three entries. REQUIRES: f.mu held.
func (f *FileStore) removeAllLocked() error {
	for _, suffix := range []string{KeyAccessToken, KeyRefreshToken, KeyUser} {
		if err := f.removeEntry(suffix); err != nil {
			return err
		}
	}
	return nil
}
