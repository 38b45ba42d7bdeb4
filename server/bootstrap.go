package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
)

// InitialiseSystem makes sure the console has an admin account. When no
// admin password is configured one is generated and returned on first
// creation; it is empty if the admin already exists.
func (s *Server) InitialiseSystem(ctx context.Context, userRepo users.UserRepo) (generatedPassword string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.logger.Info().Msg("Bootstrap: checking system configuration")

	email := s.config.GetAdminEmail()
	existing, err := userRepo.GetByEmail(email)
	switch {
	case err == nil:
		if !existing.IsAdmin() {
			return "", fmt.Errorf("bootstrap: %s exists but is not an admin", email)
		}
		s.logger.Info().Str("email", existing.Email).Msg("Bootstrap: admin already exists")
		return "", nil
	case !errors.Is(err, autherrors.ErrUserNotFound):
		return "", autherrors.Wrapf(err, "[Server.InitialiseSystem] GetByEmail")
	}

	password := s.config.GetAdminPassword()
	if password == "" {
		// Generate a secure random password
		passwordBytes := make([]byte, 16)
		if _, err := rand.Read(passwordBytes); err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		password = base64.URLEncoding.EncodeToString(passwordBytes)
		generatedPassword = password
	}

	passwordHash, err := users.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	admin := &users.User{
		Email:        email,
		Name:         "Console Admin",
		Role:         users.RoleAdmin,
		Preferences:  users.DefaultPreferences(),
		PasswordHash: passwordHash,
		Verified:     true,
		DateJoined:   s.nowTime(),
	}
	if err := userRepo.Upsert(admin); err != nil {
		return "", fmt.Errorf("failed to create admin user: %w", err)
	}

	event := s.logger.Info().Str("email", admin.Email).Str("baseUrl", s.config.GetBaseURL())
	if generatedPassword != "" {
		// Only shown once
		event = event.Str("password", generatedPassword)
	}
	event.Msg("Bootstrap complete: admin user created")
	return generatedPassword, nil
}
