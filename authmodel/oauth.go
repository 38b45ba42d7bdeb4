package authmodel

// Query parameters carried by the redirect that completes an OAuth login.
const (
	ParamAccessToken      = "accessToken"
	ParamRefreshToken     = "refreshToken"
	ParamProvider         = "provider"
	ParamError            = "error"
	ParamErrorDescription = "error_description"

	// ParamRedirectURI is accepted by the initiation endpoint and names the
	// client URL the backend redirects to once the provider flow completes.
	ParamRedirectURI = "redirect_uri"
)

// OAuth error codes, RFC 6749 section 4.1.2.1, plus the codes the backend adds.
const (
	OAuthErrAccessDenied       = "access_denied"
	OAuthErrInvalidRequest     = "invalid_request"
	OAuthErrUnauthorizedClient = "unauthorized_client"
	OAuthErrServerError        = "server_error"
	OAuthErrTemporarilyDown    = "temporarily_unavailable"
	OAuthErrInvalidState       = "invalid_state"
	OAuthErrAccountBlocked     = "account_blocked"
)
