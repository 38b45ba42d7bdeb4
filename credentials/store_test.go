package credentials_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jrsteele09/go-console-session/credentials"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession() credentials.Session {
	return credentials.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User: users.User{
			ID:          "user-1",
			Email:       "a@b.com",
			Name:        "Alice",
			Role:        users.RoleAnalyst,
			Preferences: users.DefaultPreferences(),
		},
	}
}

type storeFactory struct {
	name string
	new  func(t *testing.T) credentials.Store
}

func storeFactories() []storeFactory {
	return []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) credentials.Store {
				return credentials.NewMemoryStore()
			},
		},
		{
			name: "file",
			new: func(t *testing.T) credentials.Store {
				s, err := credentials.NewFileStore(t.TempDir(), credentials.WithLogger(zerolog.Nop()))
				require.NoError(t, err)
				return s
			},
		},
	}
}

func TestStores(t *testing.T) {
	for _, f := range storeFactories() {
		t.Run(f.name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("empty store is absent, not an error", func(t *testing.T) {
				s := f.new(t)
				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Nil(t, got)
			})

			t.Run("set then get", func(t *testing.T) {
				s := f.new(t)
				require.NoError(t, s.Set(ctx, testSession()))
				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.NotNil(t, got)
				require.Equal(t, testSession(), *got)
			})

			t.Run("set rejects partial sessions", func(t *testing.T) {
				s := f.new(t)
				partial := testSession()
				partial.RefreshToken = ""
				require.ErrorIs(t, s.Set(ctx, partial), autherrors.ErrPartialCredential)
				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Nil(t, got)
			})

			t.Run("clear removes everything and reports presence", func(t *testing.T) {
				s := f.new(t)
				require.NoError(t, s.Set(ctx, testSession()))

				existed, err := s.Clear(ctx)
				require.NoError(t, err)
				require.True(t, existed)

				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Nil(t, got)

				existed, err = s.Clear(ctx)
				require.NoError(t, err)
				require.False(t, existed)
			})

			t.Run("update tokens keeps refresh token unless rotated", func(t *testing.T) {
				s := f.new(t)
				require.NoError(t, s.Set(ctx, testSession()))

				require.NoError(t, s.UpdateTokens(ctx, "access-2", ""))
				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Equal(t, "access-2", got.AccessToken)
				require.Equal(t, "refresh-1", got.RefreshToken)

				require.NoError(t, s.UpdateTokens(ctx, "access-3", "refresh-2"))
				got, err = s.Get(ctx)
				require.NoError(t, err)
				require.Equal(t, "access-3", got.AccessToken)
				require.Equal(t, "refresh-2", got.RefreshToken)
				require.Equal(t, "user-1", got.User.ID)
			})

			t.Run("updates never resurrect a cleared session", func(t *testing.T) {
				s := f.new(t)
				require.ErrorIs(t, s.UpdateTokens(ctx, "access-2", ""), autherrors.ErrNoSession)
				require.ErrorIs(t, s.UpdateUser(ctx, testSession().User), autherrors.ErrNoSession)
				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Nil(t, got)
			})

			t.Run("guarded updates only touch the session they were read from", func(t *testing.T) {
				s := f.new(t)
				require.ErrorIs(t, s.UpdateTokensIf(ctx, "access-1", "access-2", ""), autherrors.ErrNoSession)

				require.NoError(t, s.Set(ctx, testSession()))
				require.ErrorIs(t, s.UpdateTokensIf(ctx, "access-old", "access-2", "refresh-2"), autherrors.ErrSessionChanged)
				cleared, err := s.ClearIf(ctx, "access-old")
				require.NoError(t, err)
				require.False(t, cleared)

				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Equal(t, testSession(), *got)

				require.NoError(t, s.UpdateTokensIf(ctx, "access-1", "access-2", "refresh-2"))
				got, err = s.Get(ctx)
				require.NoError(t, err)
				require.Equal(t, "access-2", got.AccessToken)
				require.Equal(t, "refresh-2", got.RefreshToken)

				cleared, err = s.ClearIf(ctx, "access-2")
				require.NoError(t, err)
				require.True(t, cleared)
				got, err = s.Get(ctx)
				require.NoError(t, err)
				require.Nil(t, got)

				cleared, err = s.ClearIf(ctx, "")
				require.NoError(t, err)
				require.False(t, cleared)
			})

			t.Run("update user", func(t *testing.T) {
				s := f.new(t)
				require.NoError(t, s.Set(ctx, testSession()))

				u := testSession().User
				u.Preferences.Theme = users.ThemeDark
				require.NoError(t, s.UpdateUser(ctx, u))

				got, err := s.Get(ctx)
				require.NoError(t, err)
				require.Equal(t, users.ThemeDark, got.User.Preferences.Theme)
				require.Equal(t, "access-1", got.AccessToken)
			})

			t.Run("concurrent readers never see a partial session", func(t *testing.T) {
				s := f.new(t)
				require.NoError(t, s.Set(ctx, testSession()))

				var wg sync.WaitGroup
				for i := 0; i < 4; i++ {
					wg.Add(2)
					go func() {
						defer wg.Done()
						for j := 0; j < 25; j++ {
							_ = s.Set(ctx, testSession())
							_, _ = s.Clear(ctx)
						}
					}()
					go func() {
						defer wg.Done()
						for j := 0; j < 25; j++ {
							got, err := s.Get(ctx)
							assert.NoError(t, err)
							if got != nil {
								assert.True(t, got.Complete())
							}
						}
					}()
				}
				wg.Wait()
			})
		})
	}
}

func TestFileStoreLayoutAndPermissions(t *testing.T) {
	dir := t.TempDir()
	s, err := credentials.NewFileStore(dir, credentials.WithNamespace("sentinel"), credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, s.Set(context.Background(), testSession()))

	for _, name := range []string{"sentinel.user.json", "sentinel.accessToken", "sentinel.refreshToken"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		require.Equal(t, os.FileMode(0600), info.Mode().Perm(), name)
	}

	data, err := os.ReadFile(filepath.Join(dir, "sentinel.accessToken"))
	require.NoError(t, err)
	require.Equal(t, "access-1", string(data))
}

func TestFileStoreFailedWriteNeverMixesSessions(t *testing.T) {
	ctx := context.Background()
	failAccess := func(suffix string) error {
		if suffix == credentials.KeyAccessToken {
			return errors.New("disk full")
		}
		return nil
	}

	other := testSession()
	other.AccessToken = "access-b"
	other.RefreshToken = "refresh-b"
	other.User.ID = "user-2"
	other.User.Email = "b@b.com"

	t.Run("set over an existing session", func(t *testing.T) {
		s, err := credentials.NewFileStore(t.TempDir(), credentials.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, testSession()))

		credentials.SetWriteHook(s, failAccess)
		require.Error(t, s.Set(ctx, other))
		credentials.SetWriteHook(s, nil)

		got, err := s.Get(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("rotated refresh token", func(t *testing.T) {
		s, err := credentials.NewFileStore(t.TempDir(), credentials.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, testSession()))

		credentials.SetWriteHook(s, failAccess)
		require.Error(t, s.UpdateTokens(ctx, "access-2", "refresh-2"))
		credentials.SetWriteHook(s, nil)

		got, err := s.Get(ctx)
		require.NoError(t, err)
		require.Nil(t, got)
	})

	t.Run("access token only keeps the previous pair", func(t *testing.T) {
		s, err := credentials.NewFileStore(t.TempDir(), credentials.WithLogger(zerolog.Nop()))
		require.NoError(t, err)
		require.NoError(t, s.Set(ctx, testSession()))

		credentials.SetWriteHook(s, failAccess)
		require.Error(t, s.UpdateTokens(ctx, "access-2", ""))
		credentials.SetWriteHook(s, nil)

		got, err := s.Get(ctx)
		require.NoError(t, err)
		require.Equal(t, testSession(), *got)
	})
}

func TestFileStoreDiscardsPartialSessionOnLoad(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := credentials.NewFileStore(dir, credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, testSession()))

	// Simulate a crash that lost one of the three entries.
	require.NoError(t, os.Remove(filepath.Join(dir, "console.refreshToken")))

	reopened, err := credentials.NewFileStore(dir, credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	got, err := reopened.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	_, err = os.Stat(filepath.Join(dir, "console.accessToken"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "console.user.json"))
	require.True(t, os.IsNotExist(err))
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := credentials.NewFileStore(dir, credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, testSession()))

	reopened, err := credentials.NewFileStore(dir, credentials.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	got, err := reopened.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, testSession(), *got)
}

func TestKey(t *testing.T) {
	require.Equal(t, "console:user", credentials.Key("", credentials.KeyUser))
	require.Equal(t, "ops:accessToken", credentials.Key("ops", credentials.KeyAccessToken))
}
