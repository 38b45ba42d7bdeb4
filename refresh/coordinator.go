// Package refresh renews an expired access token using the stored refresh
// token. Concurrent callers that hit a 401 at the same time share one exchange.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jrsteele09/go-console-session/connectivity"
	"github.com/jrsteele09/go-console-session/credentials"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// DefaultExchangeTimeout bounds one refresh exchange
const DefaultExchangeTimeout = 5 * time.Second

const flightKey = "refresh"

// State of the logical session as seen by the Coordinator
type State int

const (
	Valid State = iota
	Refreshing
	Expired
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Refreshing:
		return "refreshing"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Tokens returned by a successful exchange. An empty RefreshToken means the
// server kept the current one.
type Tokens struct {
	AccessToken  string
	RefreshToken string
}

// Exchanger trades a refresh token for new tokens
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (Tokens, error)
}

// ExchangerFunc adapts a function to Exchanger
type ExchangerFunc func(ctx context.Context, refreshToken string) (Tokens, error)

func (f ExchangerFunc) Exchange(ctx context.Context, refreshToken string) (Tokens, error) {
	return f(ctx, refreshToken)
}

// Coordinator owns the refresh exchange and the logout-redirect signal.
type Coordinator struct {
	store     credentials.Store
	exchanger Exchanger
	timeout   time.Duration
	logger    zerolog.Logger
	transient func(error) bool

	group     singleflight.Group
	exchanges atomic.Int64

	mu    sync.Mutex
	state State
	hooks []func()
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithTimeout bounds each exchange. The exchange is not tied to the context
// of the caller that started it, so this is its only deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithExpiredHook registers fn as a logout-redirect listener
func WithExpiredHook(fn func()) Option {
	return func(c *Coordinator) {
		c.hooks = append(c.hooks, fn)
	}
}

// WithTransientFunc decides which exchange errors leave the session intact.
// Defaults to connectivity.IsTransportError.
func WithTransientFunc(fn func(error) bool) Option {
	return func(c *Coordinator) {
		c.transient = fn
	}
}

// New creates a Coordinator over store
func New(store credentials.Store, exchanger Exchanger, options ...Option) *Coordinator {
	c := &Coordinator{
		store:     store,
		exchanger: exchanger,
		timeout:   DefaultExchangeTimeout,
		logger:    log.Logger,
		transient: connectivity.IsTransportError,
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// OnExpired registers fn to be called once each time a session is cleared
// because it could not be renewed.
func (c *Coordinator) OnExpired(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset marks a freshly established session as Valid
func (c *Coordinator) Reset() {
	c.setState(Valid)
}

// Exchanges returns how many exchanges have been sent
func (c *Coordinator) Exchanges() int64 {
	return c.exchanges.Load()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// Refresh makes sure the stored access token is newer than staleAccessToken.
// It returns nil when the caller may replay its request with the stored token.
//
// If another exchange already replaced staleAccessToken no new exchange is
// sent. Otherwise the caller joins the exchange in flight or starts one. A
// failed exchange clears the session and returns ErrSessionExpired; a
// transport failure during the exchange leaves the session in place and
// returns the transport error.
func (c *Coordinator) Refresh(ctx context.Context, staleAccessToken string) error {
	current, err := c.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if current == nil {
		return autherrors.ErrSessionExpired
	}
	if current.AccessToken != staleAccessToken {
		return nil
	}

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		return nil, c.exchange(staleAccessToken)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// exchange runs inside the single flight
func (c *Coordinator) exchange(staleAccessToken string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	// An exchange that finished between the caller's check and this flight
	// starting already did the work.
	current, err := c.store.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if current == nil {
		return autherrors.ErrSessionExpired
	}
	if current.AccessToken != staleAccessToken {
		return nil
	}
	if current.RefreshToken == "" {
		return c.Expire(ctx, staleAccessToken, autherrors.ErrNoRefreshToken)
	}

	c.setState(Refreshing)
	c.exchanges.Add(1)
	tokens, err := c.exchanger.Exchange(ctx, current.RefreshToken)
	if err != nil {
		if c.transient(err) {
			c.logger.Warn().Err(err).Msg("Token refresh could not reach the backend, keeping session")
			c.setState(Valid)
			return err
		}
		return c.Expire(ctx, staleAccessToken, err)
	}
	if tokens.AccessToken == "" {
		return c.Expire(ctx, staleAccessToken, autherrors.ErrInvalidToken)
	}

	err = c.store.UpdateTokensIf(ctx, staleAccessToken, tokens.AccessToken, tokens.RefreshToken)
	if autherrors.Is(err, autherrors.ErrNoSession) {
		// Logged out while the exchange was running.
		c.setState(Expired)
		return autherrors.ErrSessionExpired
	}
	if autherrors.Is(err, autherrors.ErrSessionChanged) {
		// Another sign-in replaced the session; these tokens belong to the old one.
		c.logger.Debug().Msg("Session replaced during token refresh, discarding tokens")
		c.setState(Valid)
		return autherrors.ErrSessionExpired
	}
	if err != nil {
		c.setState(Valid)
		return fmt.Errorf("failed to store refreshed tokens: %w", err)
	}

	c.setState(Valid)
	c.logger.Debug().Bool("rotated", tokens.RefreshToken != "").Msg("Access token refreshed")
	return nil
}

// Expire clears the session after an unrecoverable authorisation failure.
// accessToken is the token that was rejected: a session that no longer holds
// it was replaced by a newer sign-in and is left alone. The logout-redirect
// hooks run only if this call removed a session, so a burst of failing
// requests signals once. The returned error wraps ErrSessionExpired.
func (c *Coordinator) Expire(ctx context.Context, accessToken string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	cleared, err := c.store.ClearIf(ctx, accessToken)
	if err != nil {
		c.setState(Expired)
		c.logger.Err(err).Msg("Failed to clear expired session")
		return autherrors.Wrapf(autherrors.ErrSessionExpired, "failed to clear session: %v", err)
	}
	if !cleared {
		c.settle(ctx)
		return autherrors.ErrSessionExpired
	}

	c.setState(Expired)
	c.logger.Info().AnErr("cause", cause).Msg("Session expired, redirecting to login")
	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
	if cause == nil {
		return autherrors.ErrSessionExpired
	}
	return fmt.Errorf("%w: %v", autherrors.ErrSessionExpired, cause)
}

// settle sets the state after an Expire that found nothing of its own to clear
func (c *Coordinator) settle(ctx context.Context) {
	current, err := c.store.Get(ctx)
	if err == nil && current != nil {
		c.setState(Valid)
		return
	}
	c.setState(Expired)
}
