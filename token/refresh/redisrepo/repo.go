// Package redisrepo stores backend refresh tokens in Redis. Each token expires
// with its Redis key, so a restarted backend keeps every live session.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/token/refresh"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "console-backend"
	defaultTimeout = 2 * time.Second
)

var _ refresh.Repo = (*Repo)(nil)

// Repo keeps each token as JSON under <prefix>:rt:<token> and the tokens of a
// user in the set <prefix>:user:<id>.
type Repo struct {
	rdb     redis.UniversalClient
	prefix  string
	timeout time.Duration
	now     func() time.Time
}

type Option func(*Repo)

// WithPrefix sets the key prefix
func WithPrefix(prefix string) Option {
	return func(r *Repo) {
		r.prefix = prefix
	}
}

// WithTimeout bounds every Redis round trip
func WithTimeout(d time.Duration) Option {
	return func(r *Repo) {
		r.timeout = d
	}
}

func New(rdb redis.UniversalClient, options ...Option) *Repo {
	r := &Repo{
		rdb:     rdb,
		prefix:  defaultPrefix,
		timeout: defaultTimeout,
		now:     time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Repo) tokenKey(token string) string {
	return fmt.Sprintf("%s:rt:%s", r.prefix, token)
}

func (r *Repo) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s", r.prefix, userID)
}

func (r *Repo) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}

func (r *Repo) Upsert(rt *refresh.StoredRefreshToken) error {
	ttl := rt.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}
	data, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("failed to encode refresh token: %w", err)
	}

	ctx, cancel := r.ctx()
	defer cancel()
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.tokenKey(rt.Token), data, ttl)
		pipe.SAdd(ctx, r.userKey(rt.UserID), rt.Token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store refresh token: %w", err)
	}
	return nil
}

func (r *Repo) Get(token string) (*refresh.StoredRefreshToken, error) {
	ctx, cancel := r.ctx()
	defer cancel()

	data, err := r.rdb.Get(ctx, r.tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, autherrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh token: %w", err)
	}
	var rt refresh.StoredRefreshToken
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("failed to decode refresh token: %w", err)
	}
	return &rt, nil
}

func (r *Repo) Delete(token string) error {
	rt, err := r.Get(token)
	if err != nil {
		return err
	}

	ctx, cancel := r.ctx()
	defer cancel()
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.tokenKey(token))
		pipe.SRem(ctx, r.userKey(rt.UserID), token)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete refresh token: %w", err)
	}
	return nil
}

func (r *Repo) DeleteByUserID(userID string) error {
	ctx, cancel := r.ctx()
	defer cancel()

	tokens, err := r.rdb.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list refresh tokens: %w", err)
	}
	keys := make([]string, 0, len(tokens)+1)
	for _, t := range tokens {
		keys = append(keys, r.tokenKey(t))
	}
	keys = append(keys, r.userKey(userID))
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	return nil
}
