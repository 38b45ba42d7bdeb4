package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/jrsteele09/go-console-session/auth"
	"github.com/jrsteele09/go-console-session/authmodel"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/server/authflowrepo"
	"golang.org/x/oauth2"
)

// redirectWithParams sends the browser to returnURL with params merged into its query
func redirectWithParams(w http.ResponseWriter, r *http.Request, returnURL string, params url.Values) {
	u, err := url.Parse(returnURL)
	if err != nil {
		http.Error(w, "invalid redirect", http.StatusBadRequest)
		return
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func redirectWithError(w http.ResponseWriter, r *http.Request, returnURL, provider, code, description string) {
	params := url.Values{authmodel.ParamError: {code}}
	if description != "" {
		params.Set(authmodel.ParamErrorDescription, description)
	}
	if provider != "" {
		params.Set(authmodel.ParamProvider, provider)
	}
	redirectWithParams(w, r, returnURL, params)
}

// OAuthInitiateHandler - GET /auth/oauth/{provider}?redirect_uri=...
// Stores the flow state and sends the browser to the provider.
func (s *Server) OAuthInitiateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("provider")
		returnURL := r.URL.Query().Get(authmodel.ParamRedirectURI)
		if err := auth.ValidateRedirectURI(returnURL, s.config.GetAllowedOrigins()); err != nil {
			// Nowhere safe to redirect to
			s.writeError(w, err)
			return
		}

		provider, err := s.providers.Get(name)
		if err != nil {
			redirectWithError(w, r, returnURL, name, authmodel.OAuthErrInvalidRequest, "unknown provider")
			return
		}

		state := oauth2.GenerateVerifier()
		flow := &authflowrepo.AuthFlowState{
			Provider:     provider.Name(),
			CodeVerifier: oauth2.GenerateVerifier(),
			Nonce:        oauth2.GenerateVerifier(),
			ReturnURL:    returnURL,
			CreatedAt:    s.nowTime(),
		}
		authURL, err := provider.AuthCodeURL(r.Context(), state, flow.Nonce, flow.CodeVerifier)
		if err != nil {
			s.logger.Err(err).Str("provider", name).Msg("Failed to build provider authorization URL")
			redirectWithError(w, r, returnURL, name, authmodel.OAuthErrTemporarilyDown, "provider unavailable")
			return
		}
		if err := s.authState.Upsert(state, flow); err != nil {
			s.logger.Err(err).Str("provider", name).Msg("Failed to store auth flow state")
			redirectWithError(w, r, returnURL, name, authmodel.OAuthErrServerError, "")
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, authURL, http.StatusFound)
	}
}

// OAuthCallbackHandler - GET /auth/oauth/{provider}/callback
// Redeems the code, issues a console session and redirects to the stored
// return URL with accessToken, refreshToken and provider.
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("provider")
		q := r.URL.Query()

		flow, err := s.authState.Take(q.Get("state"))
		if err != nil || flow == nil {
			writeJSON(w, http.StatusBadRequest, authmodel.ErrorResponse{
				Error:   authmodel.OAuthErrInvalidState,
				Message: "unknown or already used state",
			})
			return
		}
		if flow.Provider != name || s.nowTime().Sub(flow.CreatedAt) > s.config.GetFlowTimeout() {
			redirectWithError(w, r, flow.ReturnURL, name, authmodel.OAuthErrInvalidState, "sign-in attempt expired")
			return
		}

		if providerErr := q.Get(authmodel.ParamError); providerErr != "" {
			redirectWithError(w, r, flow.ReturnURL, name, providerErr, q.Get(authmodel.ParamErrorDescription))
			return
		}

		provider, err := s.providers.Get(name)
		if err != nil {
			redirectWithError(w, r, flow.ReturnURL, name, authmodel.OAuthErrInvalidRequest, "unknown provider")
			return
		}

		identity, err := provider.Exchange(r.Context(), q.Get("code"), flow.Nonce, flow.CodeVerifier)
		if err != nil {
			s.logger.Err(err).Str("provider", name).Msg("Provider code exchange failed")
			code := authmodel.OAuthErrServerError
			if errors.Is(err, autherrors.ErrInvalidState) {
				code = authmodel.OAuthErrInvalidState
			}
			redirectWithError(w, r, flow.ReturnURL, name, code, "")
			return
		}

		session, err := s.auth.LoginExternal(identity)
		if err != nil {
			code := authmodel.OAuthErrServerError
			switch {
			case errors.Is(err, autherrors.ErrUserBlocked):
				code = authmodel.OAuthErrAccountBlocked
			case errors.Is(err, autherrors.ErrUserNotVerified), auth.IsValidation(err):
				code = authmodel.OAuthErrAccessDenied
			default:
				s.logger.Err(err).Str("provider", name).Msg("External login failed")
			}
			redirectWithError(w, r, flow.ReturnURL, name, code, "")
			return
		}

		redirectWithParams(w, r, flow.ReturnURL, url.Values{
			authmodel.ParamAccessToken:  {session.AccessToken},
			authmodel.ParamRefreshToken: {session.RefreshToken},
			authmodel.ParamProvider:     {name},
		})
	}
}
