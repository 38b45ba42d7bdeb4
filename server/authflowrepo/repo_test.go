package authflowrepo

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRepos(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repos := map[string]Repo{
		"memory": NewInMemoryRepo(time.Minute),
		"redis":  NewRedisRepo(rdb, "test", time.Minute),
	}
	for name, repo := range repos {
		t.Run(name, func(t *testing.T) {
			in := &AuthFlowState{Provider: "google", CodeVerifier: "v", Nonce: "n", ReturnURL: "http://127.0.0.1:8085/callback", CreatedAt: time.Now().UTC().Truncate(time.Second)}
			require.NoError(t, repo.Upsert("state-1", in))

			out, err := repo.Take("state-1")
			require.NoError(t, err)
			require.Equal(t, in, out)

			_, err = repo.Take("state-1")
			require.Error(t, err, "a state is redeemed once")

			require.Error(t, repo.Upsert("", in))
			_, err = repo.Take("")
			require.Error(t, err)
		})
	}
}

func TestInMemoryRepoExpiry(t *testing.T) {
	now := time.Now()
	repo := NewInMemoryRepo(time.Minute)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.Upsert("old", &AuthFlowState{CreatedAt: now.Add(-2 * time.Minute)}))
	require.NoError(t, repo.Upsert("new", &AuthFlowState{CreatedAt: now}))
	require.Equal(t, 1, repo.Len())
}

func TestRedisRepoExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	repo := NewRedisRepo(rdb, "test", time.Minute)
	require.NoError(t, repo.Upsert("s", &AuthFlowState{Provider: "google"}))
	mr.FastForward(2 * time.Minute)
	_, err := repo.Take("s")
	require.Error(t, err)
}
