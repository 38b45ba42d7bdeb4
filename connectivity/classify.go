// Package connectivity decides whether a failed backend call means the backend
// is unreachable, the session is no longer authorised, or the backend rejected
// the request.
package connectivity

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Class is the outcome of classifying a failure
type Class int

const (
	// Application is any failure the backend produced on purpose.
	Application Class = iota
	// Connectivity means no HTTP response was received.
	Connectivity
	// Unauthorized is an HTTP 401.
	Unauthorized
)

func (c Class) String() string {
	switch c {
	case Connectivity:
		return "connectivity"
	case Unauthorized:
		return "unauthorized"
	case Application:
		return "application"
	default:
		return "unknown"
	}
}

// Failure describes a failed call. StatusCode is zero when no response arrived.
type Failure struct {
	StatusCode int
	Err        error
	Method     string
	Path       string
}

// SuppressionWindow is how long a Suppression token silences repeat
// connectivity diagnostics after logging one.
const SuppressionWindow = 50 * time.Millisecond

// Suppression rate-limits connectivity diagnostics for one caller. A caller
// that polls in a loop keeps one token for its lifetime so a backend outage
// logs once per window instead of once per attempt. Safe for concurrent use.
type Suppression struct {
	mu      sync.Mutex
	window  time.Duration
	until   time.Time
	dropped int
}

// NewSuppression creates a token using SuppressionWindow
func NewSuppression() *Suppression {
	return NewSuppressionWindow(SuppressionWindow)
}

// NewSuppressionWindow creates a token with a custom window
func NewSuppressionWindow(window time.Duration) *Suppression {
	return &Suppression{window: window}
}

// allow reports whether a diagnostic may be logged now and, if so, how many
// were dropped since the last one.
func (s *Suppression) allow() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Before(s.until) {
		s.dropped++
		return false, 0
	}
	dropped := s.dropped
	s.dropped = 0
	s.until = now.Add(s.window)
	return true, dropped
}

// Classifier classifies failures and logs them
type Classifier struct {
	logger zerolog.Logger
}

// Option configures a Classifier
type Option func(*Classifier)

// WithLogger sets the diagnostic logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// New creates a Classifier
func New(options ...Option) *Classifier {
	c := &Classifier{logger: log.Logger}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// Classify classifies f with the global logger. See Classifier.Classify.
func Classify(f Failure, s *Suppression) Class {
	return New().Classify(f, s)
}

// Classify returns the class of f. Its only side effect is one diagnostic log
// line. Connectivity diagnostics are dropped while s is inside its window; a
// nil s never suppresses. Unauthorized and Application failures are always
// logged.
func (c *Classifier) Classify(f Failure, s *Suppression) Class {
	class := ClassOf(f)

	switch class {
	case Connectivity:
		dropped := 0
		if s != nil {
			var ok bool
			if ok, dropped = s.allow(); !ok {
				return class
			}
		}
		evt := c.logger.Warn().Err(f.Err).Str("class", class.String())
		if f.Method != "" {
			evt = evt.Str("method", f.Method).Str("path", f.Path)
		}
		if dropped > 0 {
			evt = evt.Int("suppressed", dropped)
		}
		evt.Msg("Backend unreachable")
	default:
		evt := c.logger.Info().Int("status", f.StatusCode).Str("class", class.String())
		if f.Err != nil {
			evt = evt.Err(f.Err)
		}
		if f.Method != "" {
			evt = evt.Str("method", f.Method).Str("path", f.Path)
		}
		evt.Msg("Backend call failed")
	}
	return class
}

// ClassOf is the pure classification rule. Any received HTTP status decides on
// its own: 401 is Unauthorized and everything else, including 502-504 from an
// intermediary, is Application. Without a status, transport errors are
// Connectivity and any other error is Application.
func ClassOf(f Failure) Class {
	if f.StatusCode != 0 {
		if f.StatusCode == http.StatusUnauthorized {
			return Unauthorized
		}
		return Application
	}
	if IsTransportError(f.Err) {
		return Connectivity
	}
	return Application
}

// IsTransportError reports whether err means no response was received:
// timeouts, DNS failures, refused or reset connections and a connection
// closed before the response.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
