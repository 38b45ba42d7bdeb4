package config

// Config is everything the console backend reads from its environment
type Config interface {
	EnvConfig
	CorsConfig
	TokenConfig
	SecurityConfig
	ProvidersConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetVersion() string
	GetBaseURL() string
	GetRedisAddr() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Tokens
	Security
	Providers
}

func New() Config {
	return mainConfig{}
}
