package server

import (
	"context"
	"fmt"
	"time"

	"github.com/jrsteele09/go-console-session/auth"
	"github.com/jrsteele09/go-console-session/internal/config"
	"github.com/jrsteele09/go-console-session/providers"
	"github.com/jrsteele09/go-console-session/server/authflowrepo"
	"github.com/jrsteele09/go-console-session/token"
	"github.com/jrsteele09/go-console-session/token/jwt"
	"github.com/jrsteele09/go-console-session/token/refresh"
	"github.com/jrsteele09/go-console-session/token/refresh/redisrepo"
	refreshrepofake "github.com/jrsteele09/go-console-session/token/refresh/repofake"
	"github.com/jrsteele09/go-console-session/users"
	fakeuserrepo "github.com/jrsteele09/go-console-session/users/repofake"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const redisPrefix = "console-backend"

// Backend is a fully wired console backend
type Backend struct {
	Server  *Server
	Auth    *auth.Service
	Users   users.UserRepo
	Revoked token.RevokedTokenCache

	redis redis.UniversalClient
}

// Build wires the backend from cfg. Refresh tokens and provider flow state
// live in Redis when REDIS_ADDR is set and in memory otherwise.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*Backend, error) {
	signer, err := token.NewHMACSigner(cfg.GetJWTSecret())
	if err != nil {
		return nil, fmt.Errorf("jwt signer: %w", err)
	}

	b := &Backend{
		Users:   fakeuserrepo.NewFakeUserRepo(),
		Revoked: token.NewInMemoryRevokedTokenCache(),
	}

	var (
		refreshRepo refresh.Repo      = refreshrepofake.NewFakeRefreshTokenRepo()
		flowRepo    authflowrepo.Repo = authflowrepo.NewInMemoryRepo(cfg.GetFlowTimeout())
	)
	if addr := cfg.GetRedisAddr(); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", addr, err)
		}
		b.redis = rdb
		refreshRepo = redisrepo.New(rdb, redisrepo.WithPrefix(redisPrefix))
		flowRepo = authflowrepo.NewRedisRepo(rdb, redisPrefix, cfg.GetFlowTimeout())
		logger.Info().Str("addr", addr).Msg("Using Redis for refresh tokens and auth flow state")
	}

	b.Auth, err = auth.NewService(
		auth.Repos{Users: b.Users},
		auth.Tokens{
			Creator:   jwt.NewCreator(signer, cfg.GetIssuer(), cfg.GetAccessTokenExpiry()),
			Inspector: jwt.NewInspector(signer, cfg.GetIssuer(), b.Revoked),
			Refresh:   refresh.NewManager(refreshRepo, cfg),
			Revoked:   b.Revoked,
		},
		cfg,
		auth.WithLogger(logger),
	)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	registry := providers.FromConfig(cfg, CallbackURLFunc(cfg.GetBaseURL()))
	b.Server = New(cfg, b.Auth,
		WithLogger(logger),
		WithProviders(registry),
		WithAuthFlowRepo(flowRepo),
	)
	return b, nil
}

// RunCleanup drops expired entries from the revocation cache until ctx is done
func (b *Backend) RunCleanup(ctx context.Context, interval time.Duration) {
	token.RunCleanup(ctx, b.Revoked, interval)
}

// Close releases the Redis connection, if any
func (b *Backend) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}
