// Package config handles application configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ahnjh51-tft/deepguard-v1/internal/models"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Auth       AuthConfig      `yaml:"auth"`
	Detector   DetectorConfig  `yaml:"detector"`
	Database   DatabaseConfig  `yaml:"database"`
	Cache      CacheConfig     `yaml:"cache"`
	Storage    StorageConfig   `yaml:"storage"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port     int  `yaml:"port"`
	EnableUI bool `yaml:"enable_ui"`
}

type AuthConfig struct {
	Provider        string       `yaml:"provider"` // static, http
	Endpoint        string       `yaml:"endpoint"` // for http
	TimeoutSeconds  int          `yaml:"timeout_seconds"`
	JWTSecret       string       `yaml:"jwt_secret"`
	SessionTTLHours int          `yaml:"session_ttl_hours"`
	Users           []StaticUser `yaml:"users"` // for static
}

// StaticUser is one account of the built-in credential list. PasswordHash is a
// bcrypt hash; generate one with the hashpw tool.
type StaticUser struct {
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	Role         string `yaml:"role"` // admin, user
	PasswordHash string `yaml:"password_hash"`
}

type DetectorConfig struct {
	BaseURL        string `yaml:"base_url"`
	ModelID        string `yaml:"model_id"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // sqlite
	Path    string `yaml:"path"`
	Archive bool   `yaml:"archive"` // mirror history into the database
}

type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"` // memory, redis
	Addr     string `yaml:"addr"`    // for redis
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTLHours int    `yaml:"ttl_hours"`
}

type StorageConfig struct {
	Backend string      `yaml:"backend"` // s3, local
	S3      S3Config    `yaml:"s3"`
	Local   LocalConfig `yaml:"local"`
}

type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

type RateLimitConfig struct {
	LoginPerMinute  int `yaml:"login_per_minute"`
	DetectPerMinute int `yaml:"detect_per_minute"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			EnableUI: true,
		},
		Auth: AuthConfig{
			Provider:        "static",
			TimeoutSeconds:  10,
			SessionTTLHours: 12,
		},
		Detector: DetectorConfig{
			BaseURL:        "http://localhost:8000",
			ModelID:        models.ModelIDElaRF,
			TimeoutSeconds: 60,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Path:    "./data/deepguard.db",
			Archive: false,
		},
		Cache: CacheConfig{
			Enabled:  false,
			Backend:  "memory",
			TTLHours: 24,
		},
		Storage: StorageConfig{
			Backend: "local",
			Local:   LocalConfig{Dir: "./data/objects"},
			S3:      S3Config{Region: "us-east-1"},
		},
		RateLimits: RateLimitConfig{
			LoginPerMinute:  10,
			DetectPerMinute: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run with --generate-config to create one)", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content := interpolateEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// GenerateSample creates a sample configuration file.
func GenerateSample(path string) error {
	sample := `# DeepGuard Configuration
# See documentation for all options

server:
  port: 8080
  enable_ui: true

auth:
  provider: static  # static or http
  jwt_secret: ${DEEPGUARD_JWT_SECRET}
  session_ttl_hours: 12
  users:
    - email: admin@example.com
      name: Admin
      role: admin
      password_hash: ${DEEPGUARD_ADMIN_HASH}
    - email: user@example.com
      name: User
      role: user
      password_hash: ${DEEPGUARD_USER_HASH}

  # For an external credential service:
  # provider: http
  # endpoint: https://auth.internal/api/verify
  # timeout_seconds: 10

detector:
  base_url: http://localhost:8000
  model_id: ela_rf
  timeout_seconds: 60

database:
  driver: sqlite
  path: ./data/deepguard.db
  archive: false  # mirror per-session history into the database

cache:
  enabled: false
  backend: memory  # memory or redis
  ttl_hours: 24
  # addr: localhost:6379
  # password: ${REDIS_PASSWORD}
  # db: 0

storage:
  backend: local  # local or s3
  local:
    dir: ./data/objects
  # s3:
  #   endpoint: ${S3_ENDPOINT}
  #   region: us-east-1
  #   bucket: deepfake-dataset
  #   access_key: ${S3_ACCESS_KEY}
  #   secret_key: ${S3_SECRET_KEY}
  #   use_path_style: true

rate_limits:
  login_per_minute: 10
  detect_per_minute: 30

logging:
  level: info  # debug, info, warn, error
  format: json # json or text
`
	return os.WriteFile(path, []byte(sample), 0644)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	switch c.Auth.Provider {
	case "static":
		for i, u := range c.Auth.Users {
			if u.Email == "" {
				return fmt.Errorf("auth user %d: email is required", i)
			}
			if !models.Role(u.Role).Valid() {
				return fmt.Errorf("auth user %s: invalid role: %s", u.Email, u.Role)
			}
			if u.PasswordHash == "" {
				return fmt.Errorf("auth user %s: password_hash is required", u.Email)
			}
		}
	case "http":
		if c.Auth.Endpoint == "" {
			return fmt.Errorf("auth endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unsupported auth provider: %s", c.Auth.Provider)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth jwt_secret is required")
	}
	if c.Auth.SessionTTLHours < 1 {
		return fmt.Errorf("invalid session_ttl_hours: %d", c.Auth.SessionTTLHours)
	}

	if c.Detector.BaseURL == "" {
		return fmt.Errorf("detector base_url is required")
	}
	if c.Detector.ModelID == "" {
		return fmt.Errorf("detector model_id is required")
	}

	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}

	if c.Cache.Enabled {
		switch c.Cache.Backend {
		case "memory":
		case "redis":
			if c.Cache.Addr == "" {
				return fmt.Errorf("cache addr is required for the redis backend")
			}
		default:
			return fmt.Errorf("unsupported cache backend: %s", c.Cache.Backend)
		}
	}

	switch c.Storage.Backend {
	case "local":
		if c.Storage.Local.Dir == "" {
			return fmt.Errorf("storage local dir is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage s3 bucket is required")
		}
	default:
		return fmt.Errorf("unsupported storage backend: %s", c.Storage.Backend)
	}

	return nil
}

// interpolateEnvVars replaces ${VAR_NAME} with environment variable values.
func interpolateEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match // Keep original if not set
	})
}
