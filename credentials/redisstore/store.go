// Package redisstore keeps the console session in Redis so it survives process
// restarts and can be shared by several console processes on one host.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-console-session/credentials"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrRedisUnavailable wraps every transport failure talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

const maxWatchRetries = 5

var _ credentials.Store = (*Store)(nil)

// Store holds the three session entries under <namespace>:user,
// <namespace>:accessToken and <namespace>:refreshToken.
//
// Set and Clear run in a MULTI/EXEC transaction, Get reads all three keys with
// one MGET, and the Update* methods and ClearIf use WATCH so they never
// recreate keys that a concurrent Clear removed or touch a replaced session.
type Store struct {
	rdb       redis.UniversalClient
	namespace string
	logger    zerolog.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for storage diagnostics
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a Store using the given client. An empty namespace means
// credentials.DefaultNamespace.
func New(rdb redis.UniversalClient, namespace string, options ...Option) *Store {
	if namespace == "" {
		namespace = credentials.DefaultNamespace
	}
	s := &Store{
		rdb:       rdb,
		namespace: namespace,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

func (s *Store) keys() (user, access, refresh string) {
	return credentials.Key(s.namespace, credentials.KeyUser),
		credentials.Key(s.namespace, credentials.KeyAccessToken),
		credentials.Key(s.namespace, credentials.KeyRefreshToken)
}

func (s *Store) Get(ctx context.Context) (*credentials.Session, error) {
	sess, partial, err := s.load(ctx, s.rdb)
	if err != nil {
		return nil, err
	}
	if partial {
		s.logger.Warn().Str("namespace", s.namespace).Msg("Partial session found in redis, removing it")
		if _, err := s.Clear(ctx); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

type mgetter interface {
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// load reads the three keys. partial is true when some but not all are set or
// the cached user cannot be decoded.
func (s *Store) load(ctx context.Context, c mgetter) (*credentials.Session, bool, error) {
	userKey, accessKey, refreshKey := s.keys()
	values, err := c.MGet(ctx, userKey, accessKey, refreshKey).Result()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	present := 0
	strs := make([]string, len(values))
	for i, v := range values {
		if str, ok := v.(string); ok && str != "" {
			strs[i] = str
			present++
		}
	}
	if present == 0 {
		return nil, false, nil
	}
	if present != len(values) {
		return nil, true, nil
	}

	var user users.User
	if err := json.Unmarshal([]byte(strs[0]), &user); err != nil {
		return nil, true, nil
	}
	sess := credentials.Session{AccessToken: strs[1], RefreshToken: strs[2], User: user}
	if !sess.Complete() {
		return nil, true, nil
	}
	return &sess, false, nil
}

func (s *Store) Set(ctx context.Context, sess credentials.Session) error {
	if !sess.Complete() {
		return autherrors.ErrPartialCredential
	}
	data, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	userKey, accessKey, refreshKey := s.keys()
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.MSet(ctx, userKey, string(data), accessKey, sess.AccessToken, refreshKey, sess.RefreshToken)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) (bool, error) {
	userKey, accessKey, refreshKey := s.keys()
	var deleted *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, userKey, accessKey, refreshKey)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return deleted.Val() == 3, nil
}

// ClearIf deletes the keys inside a WATCH transaction that first checks the
// stored access token.
func (s *Store) ClearIf(ctx context.Context, accessToken string) (bool, error) {
	userKey, accessKey, refreshKey := s.keys()
	err := s.update(ctx, guardAccessToken(accessToken), func(pipe redis.Pipeliner) {
		pipe.Del(ctx, userKey, accessKey, refreshKey)
	})
	if errors.Is(err, autherrors.ErrNoSession) || errors.Is(err, autherrors.ErrSessionChanged) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) UpdateTokens(ctx context.Context, accessToken, refreshToken string) error {
	if accessToken == "" {
		return autherrors.ErrPartialCredential
	}
	return s.update(ctx, nil, s.tokenWrites(ctx, accessToken, refreshToken))
}

func (s *Store) UpdateTokensIf(ctx context.Context, staleAccessToken, accessToken, refreshToken string) error {
	if accessToken == "" {
		return autherrors.ErrPartialCredential
	}
	return s.update(ctx, guardAccessToken(staleAccessToken), s.tokenWrites(ctx, accessToken, refreshToken))
}

func (s *Store) tokenWrites(ctx context.Context, accessToken, refreshToken string) func(pipe redis.Pipeliner) {
	_, accessKey, refreshKey := s.keys()
	return func(pipe redis.Pipeliner) {
		pipe.Set(ctx, accessKey, accessToken, 0)
		if refreshToken != "" {
			pipe.Set(ctx, refreshKey, refreshToken, 0)
		}
	}
}

func guardAccessToken(accessToken string) func(*credentials.Session) error {
	return func(current *credentials.Session) error {
		if current.AccessToken != accessToken {
			return autherrors.ErrSessionChanged
		}
		return nil
	}
}

func (s *Store) UpdateUser(ctx context.Context, user users.User) error {
	if user.ID == "" {
		return autherrors.ErrPartialCredential
	}
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	userKey, _, _ := s.keys()
	return s.update(ctx, nil, func(pipe redis.Pipeliner) {
		pipe.Set(ctx, userKey, string(data), 0)
	})
}

// update applies writes to an existing session inside a WATCH transaction,
// retrying when another client touched the keys in between. A non-nil check
// sees the watched session and can veto the writes.
func (s *Store) update(ctx context.Context, check func(*credentials.Session) error, writes func(pipe redis.Pipeliner)) error {
	userKey, accessKey, refreshKey := s.keys()

	txf := func(tx *redis.Tx) error {
		current, partial, err := s.load(ctx, tx)
		if err != nil {
			return err
		}
		if current == nil || partial {
			return autherrors.ErrNoSession
		}
		if check != nil {
			if err := check(current); err != nil {
				return err
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			writes(pipe)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.rdb.Watch(ctx, txf, userKey, accessKey, refreshKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, autherrors.ErrNoSession) && !errors.Is(err, autherrors.ErrSessionChanged) && !errors.Is(err, ErrRedisUnavailable) {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return err
	}
	return fmt.Errorf("%w: too many concurrent session updates", ErrRedisUnavailable)
}
