package authflowrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Repo = (*RedisRepo)(nil)

// RedisRepo keeps flow state under <prefix>:flow:<state> with a TTL, so any
// backend replica can complete a flow another one started.
type RedisRepo struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisRepo(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisRepo {
	return &RedisRepo{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisRepo) key(state string) string {
	return fmt.Sprintf("%s:flow:%s", r.prefix, state)
}

func (r *RedisRepo) Upsert(state string, authState *AuthFlowState) error {
	if state == "" || authState == nil {
		return errors.New("state and authState are required")
	}
	data, err := json.Marshal(authState)
	if err != nil {
		return fmt.Errorf("failed to encode flow state: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.rdb.Set(ctx, r.key(state), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store flow state: %w", err)
	}
	return nil
}

func (r *RedisRepo) Take(state string) (*AuthFlowState, error) {
	if state == "" {
		return nil, errors.New("state cannot be empty")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := r.rdb.GetDel(ctx, r.key(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errors.New("state not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read flow state: %w", err)
	}
	var authState AuthFlowState
	if err := json.Unmarshal(data, &authState); err != nil {
		return nil, fmt.Errorf("failed to decode flow state: %w", err)
	}
	return &authState, nil
}
