// Package session is the contract the console uses to sign users in and out
// and to read and update the signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/credentials"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/internal/utils"
	"github.com/jrsteele09/go-console-session/refresh"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Backend paths
const (
	PathLogin       = "/auth/login"
	PathSignup      = "/auth/signup"
	PathMe          = "/users/me"
	PathPreferences = "/users/me/preferences"
)

const defaultSignupMessage = "Account created. Check your email to verify your address before signing in."

// Backend is the part of *apiclient.Client the Manager uses
type Backend interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
	Revoke(ctx context.Context, refreshToken string) error
	Store() credentials.Store
	Coordinator() *refresh.Coordinator
}

var _ Backend = (*apiclient.Client)(nil)

// ProfileUpdate changes the user's profile. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name  *string
	Email *string
}

// Manager is safe for concurrent use
type Manager struct {
	api    Backend
	store  credentials.Store
	coord  *refresh.Coordinator
	logger zerolog.Logger

	// bridgeMu serialises LoginWithOAuth so two bridges never interleave
	// their snapshot and restore.
	bridgeMu sync.Mutex

	subsMu    sync.Mutex
	subs      map[int]chan Event
	nextSubID int
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a Manager on top of api
func New(api Backend, options ...Option) *Manager {
	m := &Manager{
		api:    api,
		store:  api.Store(),
		coord:  api.Coordinator(),
		logger: log.Logger,
		subs:   make(map[int]chan Event),
	}
	for _, opt := range options {
		opt(m)
	}
	m.coord.OnExpired(func() {
		m.publish(Event{Type: EventSessionExpired})
	})
	return m
}

func validationError(msg string) error {
	return &apiclient.Error{Class: apiclient.ClassValidation, StatusCode: http.StatusBadRequest, Code: authmodel.CodeValidation, Message: msg}
}

// Login signs in with email and password and stores the new session. On
// failure no session is stored.
func (m *Manager) Login(ctx context.Context, email, password string) (users.User, error) {
	if email == "" || password == "" {
		return users.User{}, validationError("Email and password are required")
	}

	var resp authmodel.LoginResponse
	err := m.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   PathLogin,
		Body:   authmodel.LoginRequest{Email: email, Password: password},
		Public: true,
	}, &resp)
	if err != nil {
		return users.User{}, err
	}
	return m.establish(ctx, credentials.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		User:         resp.User,
	})
}

func (m *Manager) establish(ctx context.Context, sess credentials.Session) (users.User, error) {
	if !sess.Complete() {
		return users.User{}, &apiclient.Error{Class: apiclient.ClassApplication, Message: "The server returned an incomplete session", Err: autherrors.ErrPartialCredential}
	}
	if err := m.store.Set(ctx, sess); err != nil {
		return users.User{}, fmt.Errorf("failed to store session: %w", err)
	}
	m.coord.Reset()
	m.logger.Info().Str("user_id", sess.User.ID).Msg("Signed in")
	u := sess.User
	m.publish(Event{Type: EventLoggedIn, User: &u})
	return sess.User, nil
}

// Signup registers a new account and returns the confirmation message. It
// does not sign in: the address must be verified first.
func (m *Manager) Signup(ctx context.Context, email, password, name string) (string, error) {
	if err := users.ValidateEmail(email); err != nil {
		return "", validationError(err.Error())
	}
	if err := users.ValidatePasswordStrength(password); err != nil {
		return "", validationError(err.Error())
	}

	var resp authmodel.SignupResponse
	err := m.api.Do(ctx, apiclient.Request{
		Method: http.MethodPost,
		Path:   PathSignup,
		Body:   authmodel.SignupRequest{Email: email, Password: password, Name: name},
		Public: true,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Message == "" {
		return defaultSignupMessage, nil
	}
	return resp.Message, nil
}

// LoginWithOAuth turns tokens issued by an external provider flow into a
// session. The user is fetched with the new access token before anything is
// written, and if storing fails the previous session is put back, so the store
// ends up either fully populated or exactly as it was.
func (m *Manager) LoginWithOAuth(ctx context.Context, accessToken, refreshToken string) (users.User, error) {
	if accessToken == "" || refreshToken == "" {
		return users.User{}, validationError("The sign-in provider did not return credentials")
	}

	m.bridgeMu.Lock()
	defer m.bridgeMu.Unlock()

	snapshot, err := m.store.Get(ctx)
	if err != nil {
		return users.User{}, fmt.Errorf("failed to read session: %w", err)
	}

	var resp authmodel.UserResponse
	err = m.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: PathMe, AccessToken: accessToken}, &resp)
	if err != nil {
		m.logger.Warn().Err(err).Msg("OAuth sign-in rejected, keeping previous session")
		return users.User{}, err
	}

	u, err := m.establish(ctx, credentials.Session{AccessToken: accessToken, RefreshToken: refreshToken, User: resp.User})
	if err != nil {
		m.restore(context.WithoutCancel(ctx), snapshot)
		return users.User{}, err
	}
	return u, nil
}

func (m *Manager) restore(ctx context.Context, snapshot *credentials.Session) {
	var err error
	if snapshot == nil {
		_, err = m.store.Clear(ctx)
	} else {
		err = m.store.Set(ctx, *snapshot)
	}
	if err != nil {
		m.logger.Err(err).Msg("Failed to restore previous session")
	}
}

// Logout revokes the refresh token on a best-effort basis and always clears the
// local session. Only a failure to clear local storage is returned.
func (m *Manager) Logout(ctx context.Context) error {
	sess, err := m.store.Get(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to read session before logout")
	}
	if sess != nil {
		if err := m.api.Revoke(ctx, sess.RefreshToken); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to revoke refresh token, clearing session anyway")
		}
	}

	cleared, err := m.store.Clear(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if cleared {
		m.logger.Info().Msg("Signed out")
		m.publish(Event{Type: EventLoggedOut})
	}
	return nil
}

// UpdatePreferences sends the full preferences object and stores the user the
// server echoes back, which wins over the value sent.
func (m *Manager) UpdatePreferences(ctx context.Context, prefs users.Preferences) (users.User, error) {
	if err := prefs.Validate(); err != nil {
		return users.User{}, validationError(err.Error())
	}
	var resp authmodel.UserResponse
	err := m.api.Do(ctx, apiclient.Request{
		Method: http.MethodPatch,
		Path:   PathPreferences,
		Body:   authmodel.PreferencesRequest{Preferences: prefs},
	}, &resp)
	if err != nil {
		return users.User{}, err
	}
	return m.cacheUser(ctx, resp.User)
}

// UpdateProfile changes the name and/or email of the signed-in user
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) (users.User, error) {
	if update.Name == nil && update.Email == nil {
		return users.User{}, validationError("Nothing to update")
	}
	if update.Name != nil && utils.Value(update.Name) == "" {
		return users.User{}, validationError("Name cannot be empty")
	}
	if update.Email != nil {
		if err := users.ValidateEmail(utils.Value(update.Email)); err != nil {
			return users.User{}, validationError(err.Error())
		}
	}

	var resp authmodel.UserResponse
	err := m.api.Do(ctx, apiclient.Request{
		Method: http.MethodPatch,
		Path:   PathMe,
		Body:   authmodel.ProfileUpdateRequest{Name: update.Name, Email: update.Email},
	}, &resp)
	if err != nil {
		return users.User{}, err
	}
	return m.cacheUser(ctx, resp.User)
}

// cacheUser stores u as the cached user. A session cleared in the meantime is
// not recreated.
func (m *Manager) cacheUser(ctx context.Context, u users.User) (users.User, error) {
	err := m.store.UpdateUser(ctx, u)
	if errors.Is(err, autherrors.ErrNoSession) {
		return u, nil
	}
	if err != nil {
		return u, fmt.Errorf("failed to cache user: %w", err)
	}
	m.publish(Event{Type: EventUserUpdated, User: &u})
	return u, nil
}

// RefreshUser fetches the signed-in user from the server and caches it. When
// the server cannot be reached the cached user is returned instead; every
// other failure is returned.
func (m *Manager) RefreshUser(ctx context.Context) (users.User, error) {
	var resp authmodel.UserResponse
	err := m.api.Do(ctx, apiclient.Request{Method: http.MethodGet, Path: PathMe}, &resp)
	if err == nil {
		return m.cacheUser(ctx, resp.User)
	}
	if !apiclient.IsConnectivity(err) {
		return users.User{}, err
	}

	sess, storeErr := m.store.Get(ctx)
	if storeErr != nil || sess == nil {
		return users.User{}, err
	}
	m.logger.Debug().Msg("Backend unreachable, using cached user")
	return sess.User, nil
}

// CurrentUser is RefreshUser
func (m *Manager) CurrentUser(ctx context.Context) (users.User, error) {
	return m.RefreshUser(ctx)
}

// CachedUser returns the cached user without contacting the server
func (m *Manager) CachedUser(ctx context.Context) (*users.User, error) {
	sess, err := m.store.Get(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	return &sess.User, nil
}

// IsAuthenticated reports whether a session is stored
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	sess, err := m.store.Get(ctx)
	return err == nil && sess != nil
}

// Restore is called once at start-up. It returns the cached user straight away,
// or nil when there is no session, and reconciles it with the server in the
// background. The channel receives the outcome and is then closed: nil when
// the cache was refreshed or the server was unreachable, otherwise the error.
// Reconciliation never clears the session itself; only a 401 the refresh
// coordinator cannot recover from does.
func (m *Manager) Restore(ctx context.Context) (*users.User, <-chan error) {
	done := make(chan error, 1)

	sess, err := m.store.Get(ctx)
	if err != nil || sess == nil {
		done <- err
		close(done)
		return nil, done
	}
	cached := sess.User

	go func() {
		defer close(done)
		_, err := m.RefreshUser(ctx)
		switch {
		case err == nil:
		case apiclient.IsConnectivity(err):
			m.logger.Debug().Msg("Backend unreachable during restore, keeping cached user")
			err = nil
		default:
			m.logger.Warn().Err(err).Msg("Failed to reconcile cached user")
		}
		done <- err
	}()
	return &cached, done
}
