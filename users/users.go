package users

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// RoleType is the console role granted to a user
type RoleType string

const (
	RoleAdmin    RoleType = "admin"    // Can manage rules, automation and other users
	RoleAnalyst  RoleType = "analyst"  // Can investigate payments and acknowledge alerts
	RoleViewer   RoleType = "viewer"   // Read-only dashboards
	RoleOperator RoleType = "operator" // On-call operator, alert actions only
)

// User is the authenticated console user. The fields without a json name are
// server-side only and never leave the backend.
type User struct {
	ID          string      `json:"id,omitempty"`    // Unique identifier for the user
	Email       string      `json:"email,omitempty"` // User's email address
	Name        string      `json:"name,omitempty"`  // Display name
	Role        RoleType    `json:"role,omitempty"`  // Console role
	Preferences Preferences `json:"preferences"`     // Display preferences, server authoritative

	PasswordHash string    `json:"-"`                     // Hashed password - never serialize
	VerifyCode   string    `json:"-"`                     // Pending email verification code
	Provider     string    `json:"provider,omitempty"`    // External identity provider, empty for password users
	Verified     bool      `json:"verified,omitempty"`    // Has the user verified their email
	Blocked      bool      `json:"blocked,omitempty"`     // Blocked from logging in
	DateJoined   time.Time `json:"date_joined,omitempty"` // When the user signed up
	LastLogin    time.Time `json:"last_login,omitempty"`  // Last successful login
}

// Public returns a copy of the user carrying only the fields a client may see.
func (u User) Public() User {
	return User{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		Preferences: u.Preferences,
		Provider:    u.Provider,
		Verified:    u.Verified,
		DateJoined:  u.DateJoined,
		LastLogin:   u.LastLogin,
	}
}

// IsAdmin returns true if the user has the admin role
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ValidateEmail checks the address is a single bare RFC 5322 address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("email address is invalid")
	}
	return nil
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
