package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential store backends selectable by the console CLI
const (
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const configFileEnvVar = "CONSOLE_CONFIG"

// ClientConfig is the configuration of the console session layer
type ClientConfig interface {
	GetAPIURL() string
	GetRequestTimeout() time.Duration
	GetOAuthCallbackAddr() string
	GetEnv() string
	StoreConfig
}

// StoreConfig selects and configures the credential store backend
type StoreConfig interface {
	GetStoreBackend() string
	GetStoreDir() string
	GetStoreNamespace() string
	GetStoreRedisAddr() string
}

// ClientFile is the optional YAML file named by CONSOLE_CONFIG. Environment
// variables override every value in it.
type ClientFile struct {
	APIURL            string `yaml:"apiUrl"`
	Timeout           string `yaml:"timeout"`
	OAuthCallbackAddr string `yaml:"oauthCallbackAddr"`
	Store             struct {
		Backend   string `yaml:"backend"`
		Dir       string `yaml:"dir"`
		Namespace string `yaml:"namespace"`
		RedisAddr string `yaml:"redisAddr"`
	} `yaml:"store"`
}

type clientConfig struct {
	file ClientFile
}

var _ ClientConfig = clientConfig{}

// LoadClient reads the YAML file named by CONSOLE_CONFIG, if any. A missing
// file is not an error.
func LoadClient() (ClientConfig, error) {
	return LoadClientFile(os.Getenv(configFileEnvVar))
}

// LoadClientFile reads path, or uses defaults when path is empty or missing
func LoadClientFile(path string) (ClientConfig, error) {
	cfg := clientConfig{}
	if path == "" {
		return cfg, nil
	}

	// #nosec G304 -- the path is chosen by the operator
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg.file); err != nil {
		return nil, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c clientConfig) validate() error {
	switch c.GetStoreBackend() {
	case StoreFile, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.GetStoreBackend())
	}
	if c.file.Timeout != "" {
		if _, err := time.ParseDuration(c.file.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", c.file.Timeout, err)
		}
	}
	return nil
}

func or(fileValue, defaultValue string) string {
	if fileValue != "" {
		return fileValue
	}
	return defaultValue
}

func (c clientConfig) GetAPIURL() string {
	return GetEnv("CONSOLE_API_URL", or(c.file.APIURL, "http://localhost:8080"))
}

// GetRequestTimeout bounds every backend call. Expiry counts as the backend
// being unreachable.
func (c clientConfig) GetRequestTimeout() time.Duration {
	def := 5 * time.Second
	if d, err := time.ParseDuration(c.file.Timeout); err == nil && d > 0 {
		def = d
	}
	return GetDurationEnv("CONSOLE_TIMEOUT", def)
}

func (c clientConfig) GetOAuthCallbackAddr() string {
	return GetEnv("CONSOLE_OAUTH_CALLBACK_ADDR", or(c.file.OAuthCallbackAddr, "127.0.0.1:8085"))
}

func (clientConfig) GetEnv() string {
	return EnvVars{}.GetEnv()
}

func (c clientConfig) GetStoreBackend() string {
	return GetEnv("CONSOLE_STORE", or(c.file.Store.Backend, StoreFile))
}

// GetStoreDir is the file backend directory. Empty means ~/.config/console.
func (c clientConfig) GetStoreDir() string {
	return GetEnv("CONSOLE_STORE_DIR", c.file.Store.Dir)
}

func (c clientConfig) GetStoreNamespace() string {
	return GetEnv("CONSOLE_NAMESPACE", or(c.file.Store.Namespace, "console"))
}

func (c clientConfig) GetStoreRedisAddr() string {
	return GetEnv("CONSOLE_REDIS_ADDR", or(c.file.Store.RedisAddr, "localhost:6379"))
}
