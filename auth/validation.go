package auth

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jrsteele09/go-console-session/internal/config"
	autherrors "github.com/jrsteele09/go-console-session/internal/errors"
	"github.com/jrsteele09/go-console-session/users"
)

// ValidationError is returned for input the backend rejects before touching
// any state. Handlers map it to 422.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return autherrors.ErrInvalidRequest
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Message: err.Error()}
}

// IsValidation reports whether err is a *ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validator provides centralized validation logic for the console auth endpoints
type Validator struct {
	maxNameLength int
}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{maxNameLength: 120}
}

// ValidateUserCredentials validates login credentials
func (v *Validator) ValidateUserCredentials(email, password string) error {
	if err := users.ValidateEmail(email); err != nil {
		return invalid("email", err)
	}
	if password == "" {
		return invalid("password", fmt.Errorf("password is required"))
	}
	return nil
}

// ValidateSignup validates a registration request
func (v *Validator) ValidateSignup(email, password, name string) error {
	if err := users.ValidateEmail(email); err != nil {
		return invalid("email", err)
	}
	if err := users.ValidatePasswordStrength(password); err != nil {
		return invalid("password", err)
	}
	return v.ValidateName(name)
}

// ValidateName validates a display name
func (v *Validator) ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("name", fmt.Errorf("name is required"))
	}
	if len(name) > v.maxNameLength {
		return invalid("name", fmt.Errorf("name must be at most %d characters", v.maxNameLength))
	}
	return nil
}

// ValidateUserState validates user account state (blocked, verified, etc.)
func (v *Validator) ValidateUserState(user *users.User, requireVerified bool) error {
	if user == nil {
		return autherrors.ErrUserNotFound
	}
	if user.Blocked {
		return autherrors.ErrUserBlocked
	}
	if requireVerified && !user.Verified {
		return autherrors.ErrUserNotVerified
	}
	return nil
}

// ValidateAccessToken validates access token format and presence
func (v *Validator) ValidateAccessToken(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: access token is required", autherrors.ErrInvalidToken)
	}

	// Basic format check - should be a JWT (3 parts separated by dots)
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: must be a valid JWT", autherrors.ErrInvalidToken)
	}
	for i, part := range parts {
		if len(part) == 0 {
			return fmt.Errorf("%w: part %d is empty", autherrors.ErrInvalidToken, i+1)
		}
	}
	return nil
}

// ValidateRedirectURI validates the URI the backend sends tokens to after an
// external sign-in. allowedOrigins limits it to known consoles; loopback
// addresses are always accepted for the CLI callback listener.
func ValidateRedirectURI(uri string, allowedOrigins config.AllowedOrigins) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return invalid("redirect_uri", fmt.Errorf("redirect_uri is required"))
	}

	u, err := url.Parse(uri)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("redirect_uri", fmt.Errorf("redirect_uri must be an absolute http or https URL"))
	}
	if u.Fragment != "" {
		return invalid("redirect_uri", fmt.Errorf("redirect_uri must not contain fragments"))
	}

	switch u.Hostname() {
	case "127.0.0.1", "localhost", "::1":
		return nil
	}
	origin := u.Scheme + "://" + u.Host
	if allowedOrigins.IsAllowedOrigin(origin) || allowedOrigins.IsAllowedOrigin("*") {
		return nil
	}
	return invalid("redirect_uri", fmt.Errorf("redirect_uri origin %s is not allowed", origin))
}
