package server

// Route path constants
// All backend routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes
	RouteAuthLogin   = "/auth/login"
	RouteAuthSignup  = "/auth/signup"
	RouteAuthVerify  = "/auth/verify"
	RouteAuthRefresh = "/auth/refresh"
	RouteAuthLogout  = "/auth/logout"

	// External provider Routes
	RouteOAuthInitiate = "/auth/oauth/{provider}"
	RouteOAuthCallback = "/auth/oauth/{provider}/callback"

	// User Routes
	RouteUserMe          = "/users/me"
	RouteUserPreferences = "/users/me/preferences"

	// Telemetry
	RouteStatus = "/status"
)
