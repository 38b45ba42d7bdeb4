package telemetry_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/credentials"
	"github.com/jrsteele09/go-console-session/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T, handler http.HandlerFunc) (*apiclient.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := apiclient.New(srv.URL, credentials.NewMemoryStore(), apiclient.WithLogger(zerolog.Nop()), apiclient.WithTimeout(time.Second))
	require.NoError(t, err)
	return c, srv
}

func TestStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("reachable", func(t *testing.T) {
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(authmodel.StatusResponse{Status: authmodel.StatusOK, Version: "1.2.3"})
		})
		s, err := telemetry.NewPoller(c).Status(ctx)
		require.NoError(t, err)
		require.True(t, s.Reachable)
		require.Equal(t, authmodel.StatusOK, s.Status)
		require.Equal(t, "1.2.3", s.Version)
	})

	t.Run("unreachable degrades", func(t *testing.T) {
		c, srv := newClient(t, func(w http.ResponseWriter, r *http.Request) {})
		srv.Close()

		s, err := telemetry.NewPoller(c).Status(ctx)
		require.NoError(t, err)
		require.False(t, s.Reachable)
		require.Equal(t, authmodel.StatusDegraded, s.Status)
	})

	t.Run("application errors propagate", func(t *testing.T) {
		c, _ := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := telemetry.NewPoller(c).Status(ctx)
		require.Equal(t, apiclient.ClassApplication, apiclient.ClassOf(err))
	})
}

func TestPoll(t *testing.T) {
	c, srv := newClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	p := telemetry.NewPoller(c)
	var seen []telemetry.Status
	err := p.Poll(context.Background(), time.Millisecond, func(s telemetry.Status, err error) bool {
		require.NoError(t, err)
		seen = append(seen, s)
		return len(seen) < 3
	})
	require.NoError(t, err)
	require.Len(t, seen, 3)
	for _, s := range seen {
		require.Equal(t, authmodel.StatusDegraded, s.Status)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Poll(ctx, time.Hour, func(telemetry.Status, error) bool { return true })
	require.ErrorIs(t, err, context.Canceled)
}
