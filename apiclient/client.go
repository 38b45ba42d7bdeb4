// Package apiclient sends every call the console makes to its backend. It
// attaches the stored access token, classifies failures and, on a 401, has the
// refresh coordinator renew the token before replaying the call once.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/connectivity"
	"github.com/jrsteele09/go-console-session/credentials"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/refresh"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds each outbound call
const DefaultTimeout = 5 * time.Second

const maxErrorBody = 64 << 10

// Backend paths used directly by the client
const (
	PathRefresh = "/auth/refresh"
	PathLogout  = "/auth/logout"
)

// Request describes one backend call
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Public calls are sent without a bearer token and a 401 is an ordinary
	// failure rather than an expired session. Used by login and signup.
	Public bool

	// AccessToken, when set, is sent instead of the stored token. A 401 is
	// returned as is: the stored session is neither refreshed nor cleared.
	AccessToken string

	// Suppression rate-limits connectivity diagnostics for polling callers.
	Suppression *connectivity.Suppression
}

// pendingRequest is a Request in flight. retried only ever goes false to true.
type pendingRequest struct {
	Request
	retried bool
}

func (p *pendingRequest) markRetried() bool {
	if p.retried {
		return false
	}
	p.retried = true
	return true
}

// Client is safe for concurrent use
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	store      credentials.Store
	timeout    time.Duration
	logger     zerolog.Logger
	classifier *connectivity.Classifier
	coord      *refresh.Coordinator

	refreshOptions []refresh.Option
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout. Expiry is a connectivity failure.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithExpiredHook registers fn as a logout-redirect listener
func WithExpiredHook(fn func()) Option {
	return func(c *Client) {
		c.refreshOptions = append(c.refreshOptions, refresh.WithExpiredHook(fn))
	}
}

// WithRefreshOptions passes options to the refresh coordinator
func WithRefreshOptions(options ...refresh.Option) Option {
	return func(c *Client) {
		c.refreshOptions = append(c.refreshOptions, options...)
	}
}

// New creates a Client for the backend at baseURL
func New(baseURL string, store credentials.Store, options ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{},
		store:      store,
		timeout:    DefaultTimeout,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}

	c.classifier = connectivity.New(connectivity.WithLogger(c.logger))
	refreshOptions := append([]refresh.Option{
		refresh.WithLogger(c.logger),
		refresh.WithTimeout(c.timeout),
	}, c.refreshOptions...)
	c.coord = refresh.New(store, c, refreshOptions...)
	return c, nil
}

// Coordinator returns the refresh coordinator owned by the client
func (c *Client) Coordinator() *refresh.Coordinator {
	return c.coord
}

// Store returns the credential store the client reads tokens from
func (c *Client) Store() credentials.Store {
	return c.store
}

// BaseURL returns the backend base URL
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Do sends req and decodes a JSON success body into out when out is non-nil.
// Failures are returned as *Error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	p := &pendingRequest{Request: req}
	for {
		sentToken, err := c.send(ctx, p.Request, out)
		if err == nil {
			return nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) || apiErr.Class != ClassUnauthorized || p.Public || p.AccessToken != "" {
			return err
		}

		if !p.markRetried() {
			c.logger.Warn().Str("path", p.Path).Msg("Request rejected again after refresh")
			return c.expire(ctx, sentToken, apiErr)
		}
		if sentToken == "" {
			return c.expire(ctx, sentToken, apiErr)
		}

		if err := c.coord.Refresh(ctx, sentToken); err != nil {
			return c.refreshFailure(ctx, err)
		}
	}
}

// expire ends the session that sent sentToken, leaving any newer one in place
func (c *Client) expire(ctx context.Context, sentToken string, cause *Error) error {
	err := c.coord.Expire(ctx, sentToken, cause)
	return &Error{
		Class:      ClassUnauthorized,
		StatusCode: http.StatusUnauthorized,
		Code:       cause.Code,
		Message:    cause.Message,
		Err:        err,
	}
}

func (c *Client) refreshFailure(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if errors.Is(err, autherrors.ErrSessionExpired) {
		return &Error{Class: ClassUnauthorized, StatusCode: http.StatusUnauthorized, Err: err}
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Class == ClassConnectivity {
		return apiErr
	}
	if connectivity.IsTransportError(err) {
		return &Error{Class: ClassConnectivity, Silent: true, Err: err}
	}
	return &Error{Class: ClassApplication, Err: err}
}

// send performs one HTTP round trip and returns the access token it carried
func (c *Client) send(parent context.Context, req Request, out any) (string, error) {
	ctx, cancel := context.WithTimeout(parent, c.timeout)
	defer cancel()

	token := req.AccessToken
	if token == "" && !req.Public {
		sess, err := c.store.Get(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to read session: %w", err)
		}
		if sess != nil {
			token = sess.AccessToken
		}
	}

	httpReq, err := c.newRequest(ctx, req, token)
	if err != nil {
		return token, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if parent.Err() != nil && errors.Is(err, context.Canceled) {
			return token, parent.Err()
		}
		class := c.classifier.Classify(connectivity.Failure{Err: err, Method: req.Method, Path: req.Path}, req.Suppression)
		return token, &Error{Class: classFromConnectivity(class, 0), Silent: class == connectivity.Connectivity, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			_, _ = io.Copy(io.Discard, resp.Body)
			return token, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			// io.EOF here is an empty body, not a dropped connection.
			if !errors.Is(err, io.EOF) && connectivity.IsTransportError(err) {
				class := c.classifier.Classify(connectivity.Failure{Err: err, Method: req.Method, Path: req.Path}, req.Suppression)
				return token, &Error{Class: classFromConnectivity(class, 0), Silent: true, Err: err}
			}
			return token, &Error{Class: ClassApplication, StatusCode: resp.StatusCode, Message: "malformed response from backend", Err: err}
		}
		return token, nil
	}

	apiErr := &Error{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var errResp authmodel.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		apiErr.Code = errResp.Error
		apiErr.Message = errResp.Message
	}
	class := c.classifier.Classify(connectivity.Failure{StatusCode: resp.StatusCode, Method: req.Method, Path: req.Path}, req.Suppression)
	apiErr.Class = classFromConnectivity(class, resp.StatusCode)
	if req.Public && apiErr.Class == ClassUnauthorized {
		apiErr.Class = ClassApplication
	}
	return token, apiErr
}

func (c *Client) newRequest(ctx context.Context, req Request, token string) (*http.Request, error) {
	target := *c.baseURL
	target.Path = c.baseURL.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

// Exchange calls POST /auth/refresh. It is the refresh coordinator's exchanger
// and never goes through the 401 handling of Do.
func (c *Client) Exchange(ctx context.Context, refreshToken string) (refresh.Tokens, error) {
	var resp authmodel.RefreshResponse
	_, err := c.send(ctx, Request{
		Method: http.MethodPost,
		Path:   PathRefresh,
		Body:   authmodel.RefreshRequest{RefreshToken: refreshToken},
		Public: true,
	}, &resp)
	if err != nil {
		return refresh.Tokens{}, err
	}
	return refresh.Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// Revoke calls POST /auth/logout for refreshToken
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	_, err := c.send(ctx, Request{
		Method: http.MethodPost,
		Path:   PathLogout,
		Body:   authmodel.LogoutRequest{RefreshToken: refreshToken},
		Public: true,
	}, nil)
	return err
}
