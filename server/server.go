// Package server is the console backend: the HTTP API the session layer talks
// to, plus the server side of external provider sign-in.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-console-session/auth"
	"github.com/jrsteele09/go-console-session/internal/config"
	"github.com/jrsteele09/go-console-session/providers"
	"github.com/jrsteele09/go-console-session/server/authflowrepo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Server struct {
	env       string // Environment (e.g., "DEV", "PROD")
	mux       *http.ServeMux
	routes    []string
	config    config.Config
	auth      *auth.Service
	providers *providers.Registry
	authState authflowrepo.Repo
	logger    zerolog.Logger
	nowTime   func() time.Time
}

type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProviders sets the external identity providers
func WithProviders(registry *providers.Registry) Option {
	return func(s *Server) {
		s.providers = registry
	}
}

// WithAuthFlowRepo sets where provider flow state is kept
func WithAuthFlowRepo(repo authflowrepo.Repo) Option {
	return func(s *Server) {
		s.authState = repo
	}
}

func New(cfg config.Config, authService *auth.Service, options ...Option) *Server {
	s := &Server{
		env:     cfg.GetEnv(),
		mux:     http.NewServeMux(),
		config:  cfg,
		auth:    authService,
		logger:  log.Logger,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.providers == nil {
		s.providers = providers.NewRegistry()
	}
	if s.authState == nil {
		s.authState = authflowrepo.NewInMemoryRepo(cfg.GetFlowTimeout())
	}

	s.initRoutes()
	s.logRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes returns the registered route patterns
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)
		if len(parts) > 1 {
			s.logRoute(parts[0], parts[1])
		} else {
			s.logRoute("", parts[0])
		}
	}
}

func (s *Server) logRoute(method, path string) {
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	s.logger.Debug().Msgf("[%s%-7s%s] %s", color, method, ResetColor, path)
}

// callbackURL is the redirect URL registered with a provider
func callbackURL(baseURL, provider string) string {
	return fmt.Sprintf("%s/auth/oauth/%s/callback", strings.TrimRight(baseURL, "/"), provider)
}

// CallbackURLFunc returns the provider redirect URL builder for baseURL
func CallbackURLFunc(baseURL string) func(string) string {
	return func(provider string) string {
		return callbackURL(baseURL, provider)
	}
}
