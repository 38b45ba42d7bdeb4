// Package oauthbridge completes a login that went through an external identity
// provider. The backend runs the provider flow and redirects back to the
// console with the session tokens as query parameters.
package oauthbridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-console-session/apiclient"
	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// PathInitiate is the backend path that starts a provider flow
const PathInitiate = "/auth/oauth/"

// InitiateURL returns the backend URL that starts the provider flow and
// eventually redirects to returnURL.
func InitiateURL(baseURL, provider, returnURL string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("provider is required")
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid backend url: %w", err)
	}
	if _, err := url.ParseRequestURI(returnURL); err != nil {
		return "", fmt.Errorf("invalid return url: %w", err)
	}
	u := base.JoinPath(PathInitiate, provider)
	q := url.Values{}
	q.Set(authmodel.ParamRedirectURI, returnURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Callback is what the backend put on the return URL
type Callback struct {
	AccessToken      string
	RefreshToken     string
	Provider         string
	Error            string
	ErrorDescription string
}

// ParseCallback reads the return URL query
func ParseCallback(q url.Values) Callback {
	return Callback{
		AccessToken:      q.Get(authmodel.ParamAccessToken),
		RefreshToken:     q.Get(authmodel.ParamRefreshToken),
		Provider:         q.Get(authmodel.ParamProvider),
		Error:            q.Get(authmodel.ParamError),
		ErrorDescription: q.Get(authmodel.ParamErrorDescription),
	}
}

// Token returns the callback credentials as an oauth2 token
func (c Callback) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    "Bearer",
	}
}

// Usable reports whether the callback carries both credentials and no error
func (c Callback) Usable() bool {
	return c.Error == "" && c.Token().Valid() && c.RefreshToken != ""
}

// Bridge turns external credentials into a console session. Implemented by
// *session.Manager.
type Bridge interface {
	LoginWithOAuth(ctx context.Context, accessToken, refreshToken string) (users.User, error)
}

// Destination is where the console should go once the callback is handled
type Destination int

const (
	DestinationLogin Destination = iota
	DestinationLanding
)

func (d Destination) String() string {
	if d == DestinationLanding {
		return "landing"
	}
	return "login"
}

// Outcome of handling a callback. Message is set when Destination is
// DestinationLogin and is safe to show.
type Outcome struct {
	Destination Destination
	Message     string
	Provider    string
	User        *users.User
	Err         error
}

var providerErrorMessages = map[string]string{
	authmodel.OAuthErrAccessDenied:       "Sign-in was cancelled or access was denied by the provider.",
	authmodel.OAuthErrInvalidRequest:     "The sign-in request was rejected by the provider. Please try again.",
	authmodel.OAuthErrUnauthorizedClient: "The console is not allowed to use this sign-in provider.",
	authmodel.OAuthErrServerError:        "The sign-in provider had a problem. Please try again later.",
	authmodel.OAuthErrTemporarilyDown:    "The sign-in provider is temporarily unavailable. Please try again later.",
	authmodel.OAuthErrInvalidState:       "The sign-in attempt expired. Please start again.",
	authmodel.OAuthErrAccountBlocked:     "Your account has been blocked. Contact your administrator.",
}

const missingCredentialsMessage = "The sign-in provider did not return credentials. Please try again."

// ErrorMessage returns the text shown for a provider error code
func ErrorMessage(code, description string) string {
	if msg, ok := providerErrorMessages[code]; ok {
		return msg
	}
	if description != "" {
		return "Sign-in failed: " + description
	}
	return "Sign-in failed (" + code + ")."
}

// Handler handles the return URL
type Handler struct {
	bridge     Bridge
	logger     zerolog.Logger
	landingURL string
	loginURL   string
	onOutcome  func(Outcome)
}

// Option configures a Handler
type Option func(*Handler)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithRedirects makes ServeHTTP redirect to landingURL or loginURL instead of
// writing a plain page. The login redirect carries the message as ?message=.
func WithRedirects(landingURL, loginURL string) Option {
	return func(h *Handler) {
		h.landingURL = landingURL
		h.loginURL = loginURL
	}
}

// WithOutcomeHook is called by ServeHTTP with each outcome
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(h *Handler) {
		h.onOutcome = fn
	}
}

// NewHandler creates a Handler
func NewHandler(bridge Bridge, options ...Option) *Handler {
	h := &Handler{bridge: bridge, logger: log.Logger}
	for _, opt := range options {
		opt(h)
	}
	return h
}

// Complete handles the return URL u. LoginWithOAuth is only called when the
// callback carries both credentials and no error.
func (h *Handler) Complete(ctx context.Context, u *url.URL) Outcome {
	cb := ParseCallback(u.Query())
	out := Outcome{Destination: DestinationLogin, Provider: cb.Provider}

	switch {
	case cb.Error != "":
		h.logger.Warn().Str("provider", cb.Provider).Str("error", cb.Error).Msg("OAuth sign-in returned an error")
		out.Message = ErrorMessage(cb.Error, cb.ErrorDescription)
		out.Err = fmt.Errorf("provider error: %s", cb.Error)
		return out
	case !cb.Usable():
		h.logger.Warn().Str("provider", cb.Provider).Msg("OAuth sign-in returned without credentials")
		out.Message = missingCredentialsMessage
		out.Err = errors.New("missing credentials")
		return out
	}

	user, err := h.bridge.LoginWithOAuth(ctx, cb.AccessToken, cb.RefreshToken)
	if err != nil {
		h.logger.Err(err).Str("provider", cb.Provider).Msg("OAuth sign-in failed")
		out.Message = failureMessage(err)
		out.Err = err
		return out
	}

	out.Destination = DestinationLanding
	out.User = &user
	return out
}

func failureMessage(err error) string {
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) {
		return "Could not complete sign-in: " + apiErr.UserMessage()
	}
	return "Could not complete sign-in. Please try again."
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	out := h.Complete(r.Context(), r.URL)
	if h.onOutcome != nil {
		h.onOutcome(out)
	}

	switch {
	case out.Destination == DestinationLanding && h.landingURL != "":
		http.Redirect(w, r, h.landingURL, http.StatusFound)
	case out.Destination == DestinationLogin && h.loginURL != "":
		target, err := url.Parse(h.loginURL)
		if err != nil {
			http.Error(w, out.Message, http.StatusInternalServerError)
			return
		}
		q := target.Query()
		q.Set("message", out.Message)
		target.RawQuery = q.Encode()
		http.Redirect(w, r, target.String(), http.StatusFound)
	case out.Destination == DestinationLanding:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "Signed in as %s. You can close this window.\n", out.User.Email)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, out.Message)
	}
}
