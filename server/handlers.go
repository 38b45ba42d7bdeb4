package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-console-session/auth"
	"github.com/jrsteele09/go-console-session/authmodel"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
)

var errBodyTooLarge = errors.New("request body too large")

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

// decodeJSON reads the request body into out. Unknown fields are ignored.
func decodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("%w: malformed JSON body", autherrors.ErrInvalidRequest)
	}
	return nil
}

// errorStatus maps a service error to its HTTP status and error code
func errorStatus(err error) (int, string) {
	switch {
	case auth.IsValidation(err):
		return http.StatusUnprocessableEntity, authmodel.CodeValidation
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, authmodel.CodeInvalidRequest
	case errors.Is(err, autherrors.ErrInvalidRequest), errors.Is(err, autherrors.ErrInvalidVerifyCode):
		return http.StatusBadRequest, authmodel.CodeInvalidRequest
	case errors.Is(err, autherrors.ErrInvalidCredentials):
		return http.StatusUnauthorized, authmodel.CodeInvalidCredentials
	case errors.Is(err, autherrors.ErrUserNotVerified):
		return http.StatusForbidden, authmodel.CodeUnverified
	case errors.Is(err, autherrors.ErrUserBlocked):
		return http.StatusForbidden, authmodel.CodeForbidden
	case errors.Is(err, autherrors.ErrInvalidToken),
		errors.Is(err, autherrors.ErrTokenExpired),
		errors.Is(err, autherrors.ErrTokenRevoked),
		errors.Is(err, autherrors.ErrInvalidRefreshToken),
		errors.Is(err, autherrors.ErrRefreshTokenExpired):
		return http.StatusUnauthorized, authmodel.CodeInvalidToken
	case errors.Is(err, autherrors.ErrUserExists):
		return http.StatusConflict, authmodel.CodeConflict
	case errors.Is(err, autherrors.ErrUserNotFound),
		errors.Is(err, autherrors.ErrUnknownProvider),
		errors.Is(err, autherrors.ErrNotFound):
		return http.StatusNotFound, authmodel.CodeNotFound
	default:
		return http.StatusInternalServerError, authmodel.CodeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Err(err).Msg("Request failed")
		message = "internal server error"
	}
	writeJSON(w, status, authmodel.ErrorResponse{Error: code, Message: message})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, authmodel.ErrorResponse{Error: authmodel.CodeNotFound, Message: "not found"})
}

// LoginHandler - POST /auth/login
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.LoginRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		resp, err := s.auth.Login(req.Email, req.Password)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// SignupHandler - POST /auth/signup
func (s *Server) SignupHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.SignupRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		user, code, err := s.auth.Signup(req.Email, req.Password, req.Name)
		if err != nil {
			s.writeError(w, err)
			return
		}

		resp := authmodel.SignupResponse{
			User:    user.Public(),
			Message: "Account created. Check your email for a verification code.",
		}
		if s.config.GetExposeVerifyCode() {
			resp.VerifyCode = code
		} else {
			// No mail transport: the code goes to the operator log
			s.logger.Info().Str("email", user.Email).Str("code", code).Msg("Verification code issued")
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// VerifyHandler - POST /auth/verify
func (s *Server) VerifyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.VerifyRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if err := s.auth.Verify(req.Email, req.Code); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authmodel.AckResponse{OK: true, Message: "Email verified"})
	}
}

// RefreshHandler - POST /auth/refresh
func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.RefreshRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		if req.RefreshToken == "" {
			s.writeError(w, autherrors.ErrInvalidRefreshToken)
			return
		}
		resp, err := s.auth.Refresh(req.RefreshToken)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// LogoutHandler - POST /auth/logout. Always acknowledges unknown tokens; a
// bearer token, when present, is revoked too.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req authmodel.LogoutRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		accessToken, _ := bearerToken(r)
		if err := s.auth.Logout(req.RefreshToken, accessToken); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authmodel.AckResponse{OK: true})
	}
}
