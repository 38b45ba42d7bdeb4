package redisstore_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jrsteele09/go-console-session/credentials"
	"github.com/jrsteele09/go-console-session/credentials/redisstore"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return redisstore.New(rdb, "", redisstore.WithLogger(zerolog.Nop())), mr
}

func session() credentials.Session {
	return credentials.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		User: users.User{
			ID:          "user-1",
			Email:       "ops@example.com",
			Name:        "Ops",
			Role:        users.RoleOperator,
			Preferences: users.DefaultPreferences(),
		},
	}
}

func TestStore_SetGetClear(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, s.Set(ctx, session()))
	require.True(t, mr.Exists("console:user"))
	require.True(t, mr.Exists("console:accessToken"))
	require.True(t, mr.Exists("console:refreshToken"))

	got, err = s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, session(), *got)

	existed, err := s.Clear(ctx)
	require.NoError(t, err)
	require.True(t, existed)
	require.False(t, mr.Exists("console:user"))

	existed, err = s.Clear(ctx)
	require.NoError(t, err)
	require.False(t, existed)
}

func TestStore_PartialKeysAreRemoved(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	require.NoError(t, mr.Set("console:accessToken", "orphan"))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, got)
	require.False(t, mr.Exists("console:accessToken"))
}

func TestStore_UpdateTokens(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.ErrorIs(t, s.UpdateTokens(ctx, "access-2", ""), autherrors.ErrNoSession)

	require.NoError(t, s.Set(ctx, session()))
	require.NoError(t, s.UpdateTokens(ctx, "access-2", ""))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)

	require.NoError(t, s.UpdateTokens(ctx, "access-3", "refresh-2"))
	got, err = s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "refresh-2", got.RefreshToken)
}

func TestStore_GuardedUpdates(t *testing.T) {
	ctx := context.Background()
	s, mr := newStore(t)

	require.ErrorIs(t, s.UpdateTokensIf(ctx, "access-1", "access-2", ""), autherrors.ErrNoSession)
	cleared, err := s.ClearIf(ctx, "access-1")
	require.NoError(t, err)
	require.False(t, cleared)

	require.NoError(t, s.Set(ctx, session()))
	require.ErrorIs(t, s.UpdateTokensIf(ctx, "access-other", "access-2", "refresh-2"), autherrors.ErrSessionChanged)
	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, "refresh-1", got.RefreshToken)

	cleared, err = s.ClearIf(ctx, "access-other")
	require.NoError(t, err)
	require.False(t, cleared)
	require.True(t, mr.Exists("console:accessToken"))

	require.NoError(t, s.UpdateTokensIf(ctx, "access-1", "access-2", "refresh-2"))
	got, err = s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "access-2", got.AccessToken)
	require.Equal(t, "refresh-2", got.RefreshToken)

	cleared, err = s.ClearIf(ctx, "access-2")
	require.NoError(t, err)
	require.True(t, cleared)
	require.False(t, mr.Exists("console:user"))
}

func TestStore_UpdateUser(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	u := session().User
	u.Name = "Renamed"
	require.ErrorIs(t, s.UpdateUser(ctx, u), autherrors.ErrNoSession)

	require.NoError(t, s.Set(ctx, session()))
	require.NoError(t, s.UpdateUser(ctx, u))

	got, err := s.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.User.Name)
	require.Equal(t, "access-1", got.AccessToken)
}

func TestStore_Namespace(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := redisstore.New(rdb, "staging", redisstore.WithLogger(zerolog.Nop()))
	require.NoError(t, s.Set(ctx, session()))
	require.True(t, mr.Exists("staging:refreshToken"))
	require.False(t, mr.Exists("console:refreshToken"))
}

func TestStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	s := redisstore.New(rdb, "", redisstore.WithLogger(zerolog.Nop()))
	mr.Close()

	_, err = s.Get(ctx)
	require.ErrorIs(t, err, redisstore.ErrRedisUnavailable)
}
