package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/credentials"
	"github.com/jrsteele09/go-console-session/credentials/redisstore"
	"github.com/jrsteele09/go-console-session/internal/config"
	"github.com/jrsteele09/go-console-session/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// consoleApp is the session stack built from the client config
type consoleApp struct {
	cfg     config.ClientConfig
	logger  zerolog.Logger
	store   credentials.Store
	api     *apiclient.Client
	manager *session.Manager

	closers     []func() error
	unsubscribe func()
	watchDone   chan struct{}
}

func newLogger(out io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

func newConsoleApp(ctx context.Context, configPath string, verbose bool, logOut io.Writer) (*consoleApp, error) {
	var (
		cfg config.ClientConfig
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadClientFile(configPath)
	} else {
		cfg, err = config.LoadClient()
	}
	if err != nil {
		return nil, err
	}

	a := &consoleApp{cfg: cfg, logger: newLogger(logOut, verbose)}
	a.store, err = a.newStore(ctx)
	if err != nil {
		return nil, err
	}

	a.api, err = apiclient.New(cfg.GetAPIURL(), a.store,
		apiclient.WithLogger(a.logger),
		apiclient.WithTimeout(cfg.GetRequestTimeout()),
	)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.manager = session.New(a.api, session.WithLogger(a.logger))

	events, unsubscribe := a.manager.Subscribe()
	a.unsubscribe = unsubscribe
	a.watchDone = make(chan struct{})
	go a.watch(events, logOut)
	return a, nil
}

// newStore opens the credential store selected by the config
func (a *consoleApp) newStore(ctx context.Context) (credentials.Store, error) {
	switch backend := a.cfg.GetStoreBackend(); backend {
	case config.StoreMemory:
		return credentials.NewMemoryStore(), nil
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.GetStoreRedisAddr()})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("credential store redis %s: %w", a.cfg.GetStoreRedisAddr(), err)
		}
		a.closers = append(a.closers, rdb.Close)
		return redisstore.New(rdb, a.cfg.GetStoreNamespace(), redisstore.WithLogger(a.logger)), nil
	case config.StoreFile:
		return credentials.NewFileStore(a.cfg.GetStoreDir(),
			credentials.WithNamespace(a.cfg.GetStoreNamespace()),
			credentials.WithLogger(a.logger),
		)
	default:
		return nil, fmt.Errorf("unknown credential store %q", backend)
	}
}

// watch reports a session that expired while a command was running
func (a *consoleApp) watch(events <-chan session.Event, out io.Writer) {
	defer close(a.watchDone)
	for evt := range events {
		if evt.Type == session.EventSessionExpired {
			fmt.Fprintln(out, "Your session has expired. Run: console login")
		}
	}
}

// Close ends the event subscription, waits for events already published to
// be reported and releases the store
func (a *consoleApp) Close() error {
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
		<-a.watchDone
	}
	var firstErr error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
