package redisrepo_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/token/refresh"
	"github.com/jrsteele09/go-console-session/token/refresh/redisrepo"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*miniredis.Miniredis, *redisrepo.Repo) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, redisrepo.New(rdb, redisrepo.WithPrefix("test"))
}

func stored(token, userID string) *refresh.StoredRefreshToken {
	now := time.Now()
	return &refresh.StoredRefreshToken{Token: token, UserID: userID, Iat: now, ExpiresAt: now.Add(time.Hour)}
}

func TestRepo(t *testing.T) {
	mr, repo := setup(t)

	require.NoError(t, repo.Upsert(stored("tok-1", "user-1")))
	require.NoError(t, repo.Upsert(stored("tok-2", "user-1")))
	require.NoError(t, repo.Upsert(stored("tok-3", "user-2")))

	got, err := repo.Get("tok-1")
	require.NoError(t, err)
	require.Equal(t, "user-1", got.UserID)
	require.True(t, mr.Exists("test:rt:tok-1"))
	require.Greater(t, mr.TTL("test:rt:tok-1"), 59*time.Minute)

	require.NoError(t, repo.Delete("tok-1"))
	_, err = repo.Get("tok-1")
	require.ErrorIs(t, err, autherrors.ErrNotFound)
	require.ErrorIs(t, repo.Delete("tok-1"), autherrors.ErrNotFound)

	require.NoError(t, repo.DeleteByUserID("user-1"))
	_, err = repo.Get("tok-2")
	require.ErrorIs(t, err, autherrors.ErrNotFound)
	_, err = repo.Get("tok-3")
	require.NoError(t, err, "other users keep their sessions")
}

func TestRepoExpiry(t *testing.T) {
	mr, repo := setup(t)

	require.NoError(t, repo.Upsert(stored("tok-1", "user-1")))
	mr.FastForward(2 * time.Hour)
	_, err := repo.Get("tok-1")
	require.ErrorIs(t, err, autherrors.ErrNotFound)

	past := stored("tok-2", "user-1")
	past.ExpiresAt = time.Now().Add(-time.Second)
	require.Error(t, repo.Upsert(past))
}
