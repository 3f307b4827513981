// Package config defines the service configuration: the yaml shape of the
// config file and the validated AppConfig the rest of the application uses.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// --- YAML-Specific Structs ---

type YamlAuthConfig struct {
	// Exactly one of the two must be set.
	JWKSURL    string `yaml:"jwks_url"`
	HMACSecret string `yaml:"hmac_secret"`
}

type YamlPostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlBrokerConfig struct {
	SendQueueSize           int `yaml:"send_queue_size"`
	MaxConsecutiveOverflows int `yaml:"max_consecutive_overflows"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the config file.
type YamlConfig struct {
	RunMode          string             `yaml:"run_mode"`
	APIPort          string             `yaml:"api_port"`
	WebSocketPort    string             `yaml:"websocket_port"`
	InternalAPIToken string             `yaml:"internal_api_token"`
	Auth             YamlAuthConfig     `yaml:"auth"`
	Postgres         YamlPostgresConfig `yaml:"postgres"`
	Redis            YamlRedisConfig    `yaml:"redis"`
	Broker           YamlBrokerConfig   `yaml:"broker"`
	Cors             YamlCorsConfig     `yaml:"cors"`
}

// AppConfig is the canonical, validated configuration object used throughout
// the application.
type AppConfig struct {
	RunMode          string
	HTTPPort         string
	WebSocketPort    string
	InternalAPIToken string
	Auth             YamlAuthConfig
	Postgres         YamlPostgresConfig
	Redis            YamlRedisConfig
	Broker           YamlBrokerConfig
	Cors             YamlCorsConfig
}

// NewConfigFromYaml converts the raw unmarshaled data into an AppConfig,
// applies environment overrides for secrets, then fills defaults and
// validates.
func NewConfigFromYaml(yamlCfg *YamlConfig) (*AppConfig, error) {
	appCfg := &AppConfig{
		RunMode:          yamlCfg.RunMode,
		HTTPPort:         yamlCfg.APIPort,
		WebSocketPort:    yamlCfg.WebSocketPort,
		InternalAPIToken: yamlCfg.InternalAPIToken,
		Auth:             yamlCfg.Auth,
		Postgres:         yamlCfg.Postgres,
		Redis:            yamlCfg.Redis,
		Broker:           yamlCfg.Broker,
		Cors:             yamlCfg.Cors,
	}

	applyEnvOverrides(appCfg)

	if err := appCfg.validate(); err != nil {
		return nil, err
	}
	return appCfg, nil
}

// Parse unmarshals raw yaml bytes into a validated AppConfig.
func Parse(raw []byte) (*AppConfig, error) {
	var yamlCfg YamlConfig
	if err := yaml.Unmarshal(raw, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml config: %w", err)
	}
	return NewConfigFromYaml(&yamlCfg)
}

// applyEnvOverrides lets deployment supply secrets outside the config file.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("AUTH_HMAC_SECRET"); v != "" {
		cfg.Auth.HMACSecret = v
	}
	if v := os.Getenv("INTERNAL_API_TOKEN"); v != "" {
		cfg.InternalAPIToken = v
	}
}

func (c *AppConfig) validate() error {
	if c.RunMode == "" {
		c.RunMode = "prod"
	}
	if c.HTTPPort == "" {
		c.HTTPPort = "8080"
	}
	if c.WebSocketPort == "" {
		c.WebSocketPort = "8081"
	}
	if c.Broker.SendQueueSize <= 0 {
		c.Broker.SendQueueSize = 64
	}
	if c.Broker.MaxConsecutiveOverflows <= 0 {
		c.Broker.MaxConsecutiveOverflows = 3
	}

	if c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" {
		return fmt.Errorf("auth requires either jwks_url or hmac_secret")
	}
	if c.Auth.JWKSURL != "" && c.Auth.HMACSecret != "" {
		return fmt.Errorf("auth jwks_url and hmac_secret are mutually exclusive")
	}
	if c.InternalAPIToken == "" {
		return fmt.Errorf("internal_api_token is required")
	}
	if c.RunMode != "local" {
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required outside local mode")
		}
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis addr is required outside local mode")
		}
	}
	return nil
}
