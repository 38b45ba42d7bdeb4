// Package telemetry polls the backend status endpoint. It is read-only: an
// unreachable backend yields a degraded placeholder instead of an error.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/connectivity"
)

// PathStatus is the backend status endpoint
const PathStatus = "/status"

// Doer is the part of *apiclient.Client the poller uses
type Doer interface {
	Do(ctx context.Context, req apiclient.Request, out any) error
}

// Status is one poll result. Reachable is false for a placeholder.
type Status struct {
	authmodel.StatusResponse
	Reachable bool
}

// Degraded returns the placeholder used when the backend cannot be reached
func Degraded(now time.Time) Status {
	return Status{StatusResponse: authmodel.StatusResponse{Status: authmodel.StatusDegraded, Time: now}}
}

// Poller keeps one suppression token for its lifetime so a backend outage is
// logged once per window rather than on every poll.
type Poller struct {
	api         Doer
	suppression *connectivity.Suppression
	now         func() time.Time
}

// NewPoller creates a Poller
func NewPoller(api Doer) *Poller {
	return &Poller{
		api:         api,
		suppression: connectivity.NewSuppression(),
		now:         time.Now,
	}
}

// Status fetches the backend status once. Connectivity failures return the
// degraded placeholder and no error; anything else is returned.
func (p *Poller) Status(ctx context.Context) (Status, error) {
	var resp authmodel.StatusResponse
	err := p.api.Do(ctx, apiclient.Request{
		Method:      http.MethodGet,
		Path:        PathStatus,
		Suppression: p.suppression,
	}, &resp)
	if apiclient.IsConnectivity(err) {
		return Degraded(p.now()), nil
	}
	if err != nil {
		return Status{}, err
	}
	return Status{StatusResponse: resp, Reachable: true}, nil
}

// Poll calls fn with a status every interval, starting immediately, until ctx
// is done or fn returns false.
func (p *Poller) Poll(ctx context.Context, interval time.Duration, fn func(Status, error) bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if !fn(p.Status(ctx)) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
