package server

import (
	"net/http"

	"github.com/jrsteele09/go-console-session/authmodel"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
)

// GetMeHandler - GET /users/me
func (s *Server) GetMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, autherrors.ErrInvalidToken)
			return
		}
		writeJSON(w, http.StatusOK, authmodel.UserResponse{User: user.Public()})
	}
}

// UpdateMeHandler - PATCH /users/me
func (s *Server) UpdateMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, autherrors.ErrInvalidToken)
			return
		}
		var req authmodel.ProfileUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		updated, err := s.auth.UpdateProfile(user.ID, req)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authmodel.UserResponse{User: updated.Public()})
	}
}

// UpdatePreferencesHandler - PATCH /users/me/preferences
func (s *Server) UpdatePreferencesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			s.writeError(w, autherrors.ErrInvalidToken)
			return
		}
		var req authmodel.PreferencesRequest
		if err := decodeJSON(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
		updated, err := s.auth.UpdatePreferences(user.ID, req.Preferences)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authmodel.UserResponse{User: updated.Public()})
	}
}

// StatusHandler - GET /status
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, authmodel.StatusResponse{
			Status:  authmodel.StatusOK,
			Version: s.config.GetVersion(),
			Time:    s.nowTime().UTC(),
		})
	}
}
