package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/jrsteele09/go-console-session/authmodel"
	"github.com/jrsteele09/go-console-session/internal/config"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/token"
	"github.com/jrsteele09/go-console-session/token/jwt"
	"github.com/jrsteele09/go-console-session/token/refresh"
	"github.com/jrsteele09/go-console-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const verifyCodeDigits = 6

// Repos holds all repository dependencies for the Service
type Repos struct {
	Users users.UserRepo // Repository for user data
}

// Tokens groups what the Service needs to issue and check credentials
type Tokens struct {
	Creator   *jwt.Creator
	Inspector *jwt.Inspector
	Refresh   *refresh.Manager
	Revoked   token.RevokedTokenCache
}

// ExternalIdentity is a user identity verified by an external provider
type ExternalIdentity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Service implements the console authentication endpoints.
type Service struct {
	repos     Repos
	tokens    Tokens
	validator *Validator
	security  config.SecurityConfig
	nowTime   func() time.Time // nowTime function (injectable for testing)
	logger    zerolog.Logger
}

// ServiceOption defines a function type to modify the Service instance.
type ServiceOption func(*Service)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ServiceOption {
	return func(s *Service) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService initializes a new Service with required dependencies.
func NewService(repos Repos, tokens Tokens, security config.SecurityConfig, options ...ServiceOption) (*Service, error) {
	if repos.Users == nil {
		return nil, errors.New("[NewService] Users repo is required")
	}
	if tokens.Creator == nil || tokens.Inspector == nil || tokens.Refresh == nil {
		return nil, errors.New("[NewService] token creator, inspector and refresh manager are required")
	}
	if tokens.Revoked == nil {
		tokens.Revoked = token.NewInMemoryRevokedTokenCache()
	}

	s := &Service{
		repos:     repos,
		tokens:    tokens,
		validator: NewValidator(),
		security:  security,
		nowTime:   time.Now,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

// Login checks the credentials and issues a session.
func (s *Service) Login(email, password string) (*authmodel.LoginResponse, error) {
	if err := s.validator.ValidateUserCredentials(email, password); err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetByEmail(email)
	if errors.Is(err, autherrors.ErrUserNotFound) {
		return nil, autherrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, autherrors.Wrapf(err, "[Service.Login] GetByEmail")
	}

	// Check Password. External identities have no password hash.
	if user.PasswordHash == "" || !users.CheckPasswordHash(password, user.PasswordHash) {
		return nil, autherrors.ErrInvalidCredentials
	}
	if err := s.validator.ValidateUserState(user, s.security.GetRequireVerifiedEmail()); err != nil {
		return nil, err
	}

	return s.issue(user, "")
}

// Signup registers an unverified user and returns the verification code that
// unlocks login. No session is issued.
func (s *Service) Signup(email, password, name string) (*users.User, string, error) {
	email = strings.TrimSpace(email)
	if err := s.validator.ValidateSignup(email, password, name); err != nil {
		return nil, "", err
	}
	if _, err := s.repos.Users.GetByEmail(email); err == nil {
		return nil, "", autherrors.ErrUserExists
	} else if !errors.Is(err, autherrors.ErrUserNotFound) {
		return nil, "", autherrors.Wrapf(err, "[Service.Signup] GetByEmail")
	}

	hash, err := users.HashPassword(password)
	if err != nil {
		return nil, "", autherrors.Wrapf(err, "[Service.Signup] HashPassword")
	}
	code, err := generateVerifyCode()
	if err != nil {
		return nil, "", err
	}

	user := &users.User{
		Email:        email,
		Name:         strings.TrimSpace(name),
		Role:         users.RoleViewer,
		Preferences:  users.DefaultPreferences(),
		PasswordHash: hash,
		VerifyCode:   code,
		Verified:     !s.security.GetRequireVerifiedEmail(),
		DateJoined:   s.nowTime(),
	}
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, "", autherrors.Wrapf(err, "[Service.Signup] Upsert")
	}
	s.logger.Info().Str("userId", user.ID).Msg("User signed up")
	return user, code, nil
}

// Verify marks the user's email as verified
func (s *Service) Verify(email, code string) error {
	user, err := s.repos.Users.GetByEmail(email)
	if err != nil {
		return autherrors.ErrInvalidVerifyCode
	}
	if user.Verified {
		return nil
	}
	if code == "" || user.VerifyCode != code {
		return autherrors.ErrInvalidVerifyCode
	}
	return s.repos.Users.SetVerified(user.Email, true)
}

// Refresh exchanges a refresh token for a new access token. The refresh token
// is only replaced when rotation is enabled.
func (s *Service) Refresh(refreshToken string) (*authmodel.RefreshResponse, error) {
	rt, err := s.tokens.Refresh.Validate(refreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repos.Users.GetByID(rt.UserID)
	if err != nil {
		_ = s.tokens.Refresh.Delete(refreshToken)
		return nil, autherrors.ErrInvalidRefreshToken
	}
	if err := s.validator.ValidateUserState(user, false); err != nil {
		_ = s.tokens.Refresh.DeleteForUser(user.ID)
		return nil, err
	}

	at, err := s.tokens.Creator.CreateAccessToken(user)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[Service.Refresh] CreateAccessToken")
	}
	next, err := s.tokens.Refresh.Rotate(rt)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[Service.Refresh] Rotate")
	}

	return &authmodel.RefreshResponse{
		AccessToken:  at.Raw,
		RefreshToken: next,
		ExpiresIn:    at.ExpiresIn(),
	}, nil
}

// Logout deletes the refresh token and, when a valid access token is given,
// revokes it until it expires. Unknown tokens are not an error.
func (s *Service) Logout(refreshToken, accessToken string) error {
	if refreshToken != "" {
		if err := s.tokens.Refresh.Delete(refreshToken); err != nil {
			return autherrors.Wrapf(err, "[Service.Logout] delete refresh token")
		}
	}
	if accessToken != "" {
		if ti, err := s.tokens.Inspector.Introspect(accessToken); err == nil {
			_ = s.tokens.Revoked.Add(ti.ID, ti.ExpiresAt)
		}
	}
	return nil
}

// Authenticate returns the user an access token was issued to
func (s *Service) Authenticate(accessToken string) (*users.User, error) {
	if err := s.validator.ValidateAccessToken(accessToken); err != nil {
		return nil, err
	}
	ti, err := s.tokens.Inspector.Introspect(accessToken)
	if err != nil {
		return nil, err
	}
	user, err := s.repos.Users.GetByID(ti.Subject)
	if err != nil {
		return nil, autherrors.ErrInvalidToken
	}
	if user.Blocked {
		return nil, autherrors.ErrUserBlocked
	}
	return user, nil
}

// UpdateProfile applies the non-nil fields of req
func (s *Service) UpdateProfile(userID string, req authmodel.ProfileUpdateRequest) (*users.User, error) {
	user, err := s.repos.Users.GetByID(userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		if err := s.validator.ValidateName(*req.Name); err != nil {
			return nil, err
		}
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		email := strings.TrimSpace(*req.Email)
		if err := users.ValidateEmail(email); err != nil {
			return nil, invalid("email", err)
		}
		if !strings.EqualFold(email, user.Email) {
			if existing, err := s.repos.Users.GetByEmail(email); err == nil && existing.ID != user.ID {
				return nil, autherrors.ErrUserExists
			}
			user.Email = email
		}
	}

	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, autherrors.Wrapf(err, "[Service.UpdateProfile] Upsert")
	}
	return user, nil
}

// UpdatePreferences replaces the user's preferences with prefs
func (s *Service) UpdatePreferences(userID string, prefs users.Preferences) (*users.User, error) {
	if err := prefs.Validate(); err != nil {
		return nil, invalid("preferences", err)
	}
	user, err := s.repos.Users.GetByID(userID)
	if err != nil {
		return nil, err
	}
	user.Preferences = prefs
	if err := s.repos.Users.Upsert(user); err != nil {
		return nil, autherrors.Wrapf(err, "[Service.UpdatePreferences] Upsert")
	}
	return user, nil
}

// LoginExternal issues a session for an identity verified by a provider,
// creating the user the first time the email is seen.
func (s *Service) LoginExternal(id ExternalIdentity) (*authmodel.LoginResponse, error) {
	if err := users.ValidateEmail(id.Email); err != nil {
		return nil, invalid("email", err)
	}
	if !id.EmailVerified {
		return nil, autherrors.ErrUserNotVerified
	}

	user, err := s.repos.Users.GetByEmail(id.Email)
	switch {
	case errors.Is(err, autherrors.ErrUserNotFound):
		name := strings.TrimSpace(id.Name)
		if name == "" {
			name = id.Email
		}
		user = &users.User{
			Email:       id.Email,
			Name:        name,
			Role:        users.RoleViewer,
			Preferences: users.DefaultPreferences(),
			Provider:    id.Provider,
			Verified:    true,
			DateJoined:  s.nowTime(),
		}
		if err := s.repos.Users.Upsert(user); err != nil {
			return nil, autherrors.Wrapf(err, "[Service.LoginExternal] Upsert")
		}
		s.logger.Info().Str("userId", user.ID).Str("provider", id.Provider).Msg("User created from external identity")
	case err != nil:
		return nil, autherrors.Wrapf(err, "[Service.LoginExternal] GetByEmail")
	}

	if err := s.validator.ValidateUserState(user, false); err != nil {
		return nil, err
	}
	if !user.Verified {
		// The provider vouched for the address
		if err := s.repos.Users.SetVerified(user.Email, true); err != nil {
			return nil, autherrors.Wrapf(err, "[Service.LoginExternal] SetVerified")
		}
		user.Verified = true
	}
	return s.issue(user, id.Provider)
}

// BlockUser blocks the user and ends every session they hold
func (s *Service) BlockUser(email string) error {
	user, err := s.repos.Users.GetByEmail(email)
	if err != nil {
		return err
	}
	if err := s.repos.Users.SetBlocked(user.Email, true); err != nil {
		return err
	}
	return s.tokens.Refresh.DeleteForUser(user.ID)
}

// CleanupRevokedTokens removes expired tokens from the revocation cache
func (s *Service) CleanupRevokedTokens() {
	s.tokens.Revoked.Cleanup()
}

func (s *Service) issue(user *users.User, provider string) (*authmodel.LoginResponse, error) {
	at, err := s.tokens.Creator.CreateAccessToken(user)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[Service.issue] CreateAccessToken")
	}
	rt, err := s.tokens.Refresh.Create(user.ID, provider)
	if err != nil {
		return nil, autherrors.Wrapf(err, "[Service.issue] create refresh token")
	}

	user.LastLogin = s.nowTime()
	if err := s.repos.Users.Upsert(user); err != nil {
		s.logger.Err(err).Str("userId", user.ID).Msg("Failed to record last login")
	}

	return &authmodel.LoginResponse{
		User:         user.Public(),
		AccessToken:  at.Raw,
		RefreshToken: rt,
		ExpiresIn:    at.ExpiresIn(),
	}, nil
}

func generateVerifyCode() (string, error) {
	var b strings.Builder
	for range verifyCodeDigits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("failed to generate verification code: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}
