package config

import (
	"fmt"
	"strings"
)

// ProviderSettings describes one external OpenID Connect provider
type ProviderSettings struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

type ProvidersConfig interface {
	GetProviders() []ProviderSettings
}

type Providers struct{}

var _ ProvidersConfig = Providers{}

// GetProviders reads OAUTH_PROVIDERS (e.g. "google,okta") and, for each name,
// OAUTH_<NAME>_ISSUER, OAUTH_<NAME>_CLIENT_ID, OAUTH_<NAME>_CLIENT_SECRET and
// OAUTH_<NAME>_SCOPES. Providers without an issuer or client ID are skipped.
func (Providers) GetProviders() []ProviderSettings {
	var out []ProviderSettings
	for _, name := range GetListEnv("OAUTH_PROVIDERS", nil) {
		prefix := fmt.Sprintf("OAUTH_%s_", strings.ToUpper(name))
		p := ProviderSettings{
			Name:         strings.ToLower(name),
			Issuer:       GetEnv(prefix+"ISSUER", ""),
			ClientID:     GetEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: GetEnv(prefix+"CLIENT_SECRET", ""),
			Scopes:       GetListEnv(prefix+"SCOPES", []string{"openid", "email", "profile"}),
		}
		if p.Issuer == "" || p.ClientID == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
