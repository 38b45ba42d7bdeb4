package config

type SecurityConfig interface {
	GetRequireVerifiedEmail() bool
	GetMaxBodyBytes() int64
	GetExposeVerifyCode() bool
	GetAdminEmail() string
	GetAdminPassword() string
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetRequireVerifiedEmail() bool {
	return GetBoolEnv("REQUIRE_VERIFIED_EMAIL", true)
}

func (Security) GetMaxBodyBytes() int64 {
	return 1 << 20
}

// GetExposeVerifyCode returns the verification code in the signup response
// instead of relying on email delivery. Development only.
func (Security) GetExposeVerifyCode() bool {
	return GetBoolEnv("EXPOSE_VERIFY_CODE", false)
}

// GetAdminEmail is the account seeded on first start. Empty disables seeding.
func (Security) GetAdminEmail() string {
	return GetEnv("ADMIN_EMAIL", "admin@console.local")
}

// GetAdminPassword is the seeded account's password. Empty means one is
// generated and logged once.
func (Security) GetAdminPassword() string {
	return GetEnv("ADMIN_PASSWORD", "")
}
