package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/credentials"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeBackend accepts validToken on /users/me and swaps refresh tokens for
// nextToken on /auth/refresh.
type fakeBackend struct {
	mu           sync.Mutex
	validToken   string
	nextToken    string
	refreshValid bool
	refreshDelay time.Duration
	onAlways     func(call int32)

	refreshCalls  atomic.Int32
	meCalls       atomic.Int32
	alwaysCalls   atomic.Int32
	lastAuthValue atomic.Value
}

func (b *fakeBackend) configure(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		b.refreshCalls.Add(1)
		var req authmodel.RefreshRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		time.Sleep(b.refreshDelay)
		if !b.refreshValid || req.RefreshToken != "refresh-1" {
			writeJSON(w, http.StatusUnauthorized, authmodel.ErrorResponse{Error: authmodel.CodeInvalidToken, Message: "refresh token expired"})
			return
		}
		b.validToken = b.nextToken
		writeJSON(w, http.StatusOK, authmodel.RefreshResponse{AccessToken: b.nextToken})
	})
	mux.HandleFunc("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		b.meCalls.Add(1)
		auth := r.Header.Get("Authorization")
		b.lastAuthValue.Store(auth)

		b.mu.Lock()
		valid := auth == "Bearer "+b.validToken
		b.mu.Unlock()
		if !valid {
			writeJSON(w, http.StatusUnauthorized, authmodel.ErrorResponse{Error: authmodel.CodeUnauthorized, Message: "token expired"})
			return
		}
		writeJSON(w, http.StatusOK, authmodel.UserResponse{User: users.User{ID: "user-1", Email: "a@b.com"}})
	})
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, authmodel.ErrorResponse{Error: authmodel.CodeInvalidCredentials, Message: "invalid email or password"})
	})
	mux.HandleFunc("POST /auth/signup", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, authmodel.ErrorResponse{Error: authmodel.CodeValidation, Message: "password is too weak"})
	})
	mux.HandleFunc("GET /always-401", func(w http.ResponseWriter, r *http.Request) {
		call := b.alwaysCalls.Add(1)
		b.mu.Lock()
		hook := b.onAlways
		b.mu.Unlock()
		if hook != nil {
			hook(call)
		}
		writeJSON(w, http.StatusUnauthorized, authmodel.ErrorResponse{Error: authmodel.CodeUnauthorized, Message: "no access"})
	})
	mux.HandleFunc("GET /boom", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, authmodel.ErrorResponse{Error: authmodel.CodeInternal, Message: "database down"})
	})
	mux.HandleFunc("GET /gateway", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	mux.HandleFunc("GET /slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, authmodel.AckResponse{OK: true})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fixture struct {
	backend *fakeBackend
	server  *httptest.Server
	store   *credentials.MemoryStore
	client  *apiclient.Client
	expired atomic.Int32
}

func setup(t *testing.T, accessToken string, options ...apiclient.Option) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{validToken: "access-2", nextToken: "access-2", refreshValid: true},
		store:   credentials.NewMemoryStore(),
	}
	f.server = httptest.NewServer(f.backend.handler())
	t.Cleanup(f.server.Close)

	if accessToken != "" {
		require.NoError(t, f.store.Set(context.Background(), credentials.Session{
			AccessToken:  accessToken,
			RefreshToken: "refresh-1",
			User:         users.User{ID: "user-1", Email: "a@b.com", Preferences: users.DefaultPreferences()},
		}))
	}

	options = append([]apiclient.Option{
		apiclient.WithLogger(zerolog.Nop()),
		apiclient.WithExpiredHook(func() { f.expired.Add(1) }),
	}, options...)
	client, err := apiclient.New(f.server.URL, f.store, options...)
	require.NoError(t, err)
	f.client = client
	return f
}

func getMe(f *fixture) (authmodel.UserResponse, error) {
	var resp authmodel.UserResponse
	err := f.client.Do(context.Background(), apiclient.Request{Method: http.MethodGet, Path: "/users/me"}, &resp)
	return resp, err
}

func TestDo_AttachesStoredToken(t *testing.T) {
	f := setup(t, "access-2")

	resp, err := getMe(f)
	require.NoError(t, err)
	require.Equal(t, "a@b.com", resp.User.Email)
	require.Equal(t, "Bearer access-2", f.backend.lastAuthValue.Load())
	require.Zero(t, f.backend.refreshCalls.Load())
}

func TestDo_UnauthenticatedWithoutSession(t *testing.T) {
	f := setup(t, "")

	_, err := getMe(f)
	require.True(t, apiclient.IsUnauthorized(err))
	require.Equal(t, "", f.backend.lastAuthValue.Load())
	require.Zero(t, f.backend.refreshCalls.Load())
	require.Zero(t, f.expired.Load(), "nothing was cleared so nothing is signalled")
}

func TestDo_RefreshesAndReplaysOnce(t *testing.T) {
	f := setup(t, "access-1")

	resp, err := getMe(f)
	require.NoError(t, err)
	require.Equal(t, "user-1", resp.User.ID)
	require.Equal(t, int32(1), f.backend.refreshCalls.Load())
	require.Equal(t, int32(2), f.backend.meCalls.Load())

	sess, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", sess.AccessToken)
	require.Equal(t, "refresh-1", sess.RefreshToken)
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	f := setup(t, "access-1")
	f.backend.configure(func(b *fakeBackend) { b.refreshDelay = 50 * time.Millisecond })

	const n = 12
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = getMe(f)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), f.backend.refreshCalls.Load())
	require.Zero(t, f.expired.Load())
}

func TestDo_InvalidRefreshTokenLogsOutOnce(t *testing.T) {
	f := setup(t, "access-1")
	f.backend.configure(func(b *fakeBackend) {
		b.refreshValid = false
		b.refreshDelay = 30 * time.Millisecond
	})

	const n = 6
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = getMe(f)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.True(t, apiclient.IsUnauthorized(err), "%v", err)
		require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	}
	require.Equal(t, int32(1), f.expired.Load())

	sess, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestDo_SecondUnauthorizedForcesLogout(t *testing.T) {
	f := setup(t, "access-1")

	err := f.client.Do(context.Background(), apiclient.Request{Path: "/always-401"}, nil)
	require.True(t, apiclient.IsUnauthorized(err))
	require.ErrorIs(t, err, autherrors.ErrSessionExpired)
	require.Equal(t, int32(1), f.backend.refreshCalls.Load(), "exactly one refresh per logical request")
	require.Equal(t, int32(2), f.backend.alwaysCalls.Load(), "exactly one replay")
	require.Equal(t, int32(1), f.expired.Load())

	sess, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, sess)
}

func TestDo_SecondUnauthorizedKeepsNewerSession(t *testing.T) {
	f := setup(t, "access-1")
	other := credentials.Session{
		AccessToken:  "access-b",
		RefreshToken: "refresh-b",
		User:         users.User{ID: "user-2", Email: "b@b.com", Preferences: users.DefaultPreferences()},
	}
	f.backend.configure(func(b *fakeBackend) {
		b.onAlways = func(call int32) {
			if call == 2 {
				_ = f.store.Set(context.Background(), other)
			}
		}
	})

	err := f.client.Do(context.Background(), apiclient.Request{Path: "/always-401"}, nil)
	require.True(t, apiclient.IsUnauthorized(err))
	require.Zero(t, f.expired.Load())

	sess, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, other, *sess)
}

func TestDo_ConnectivityIsSilentAndKeepsSession(t *testing.T) {
	f := setup(t, "access-2")
	f.server.Close()

	_, err := getMe(f)
	require.True(t, apiclient.IsConnectivity(err))
	var apiErr *apiclient.Error
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.Silent)
	require.Zero(t, apiErr.StatusCode)

	sess, err := f.store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Zero(t, f.expired.Load())
}

func TestDo_TimeoutIsConnectivity(t *testing.T) {
	f := setup(t, "access-2", apiclient.WithTimeout(50*time.Millisecond))

	err := f.client.Do(context.Background(), apiclient.Request{Path: "/slow"}, nil)
	require.True(t, apiclient.IsConnectivity(err), "%v", err)
}

func TestDo_ApplicationErrors(t *testing.T) {
	f := setup(t, "access-2")

	t.Run("500 carries the server message", func(t *testing.T) {
		err := f.client.Do(context.Background(), apiclient.Request{Path: "/boom"}, nil)
		var apiErr *apiclient.Error
		require.ErrorAs(t, err, &apiErr)
		require.Equal(t, apiclient.ClassApplication, apiErr.Class)
		require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		require.Equal(t, "database down", apiErr.UserMessage())
		require.Equal(t, authmodel.CodeInternal, apiErr.Code)
	})

	t.Run("503 from a gateway is not connectivity", func(t *testing.T) {
		err := f.client.Do(context.Background(), apiclient.Request{Path: "/gateway"}, nil)
		require.False(t, apiclient.IsConnectivity(err))
		require.Equal(t, apiclient.ClassApplication, apiclient.ClassOf(err))
	})

	t.Run("422 is validation", func(t *testing.T) {
		err := f.client.Do(context.Background(), apiclient.Request{
			Method: http.MethodPost, Path: "/auth/signup", Body: authmodel.SignupRequest{Email: "x@y.z"}, Public: true,
		}, nil)
		require.True(t, apiclient.IsValidation(err))
		require.Contains(t, err.Error(), "password is too weak")
	})

	t.Run("public 401 never refreshes", func(t *testing.T) {
		before := f.backend.refreshCalls.Load()
		err := f.client.Do(context.Background(), apiclient.Request{
			Method: http.MethodPost, Path: "/auth/login", Body: authmodel.LoginRequest{Email: "a@b.com"}, Public: true,
		}, nil)
		require.Equal(t, apiclient.ClassApplication, apiclient.ClassOf(err))
		require.Equal(t, before, f.backend.refreshCalls.Load())
		sess, err := f.store.Get(context.Background())
		require.NoError(t, err)
		require.NotNil(t, sess)
	})
}

func TestExchangeAndRevoke(t *testing.T) {
	f := setup(t, "access-1")

	tokens, err := f.client.Exchange(context.Background(), "refresh-1")
	require.NoError(t, err)
	require.Equal(t, "access-2", tokens.AccessToken)
	require.Empty(t, tokens.RefreshToken)

	_, err = f.client.Exchange(context.Background(), "bogus")
	require.Equal(t, apiclient.ClassApplication, apiclient.ClassOf(err))

	require.NoError(t, f.client.Revoke(context.Background(), "refresh-1"))
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := apiclient.New("ftp://example.com", credentials.NewMemoryStore())
	require.Error(t, err)
	_, err = apiclient.New("://", credentials.NewMemoryStore())
	require.Error(t, err)
}
