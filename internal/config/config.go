package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the full service configuration. Values come from a YAML file when
// TASKPLANE_CONFIG points at one, with environment variables taking precedence.
type Config struct {
	Env        string `yaml:"env" env:"TASKPLANE_ENV" env-default:"local"`
	HTTPServer `yaml:"http_server"`
	DB         `yaml:"db"`
	Auth       `yaml:"auth"`
	Audit      `yaml:"audit"`
	RateLimit  `yaml:"rate_limit"`
	Sweep      `yaml:"sweep"`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"TASKPLANE_HTTP_ADDR" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"TASKPLANE_HTTP_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"TASKPLANE_HTTP_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"TASKPLANE_HTTP_IDLE_TIMEOUT" env-default:"60s"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"TASKPLANE_HTTP_MAX_BODY" env-default:"65536"`
}

type DB struct {
	// DSN is optional: without it the service runs on in-memory stores,
	// which is only suitable for local development and tests.
	DSN string `yaml:"dsn" env:"TASKPLANE_PG_DSN"`
}

type Auth struct {
	Secret        string        `yaml:"secret" env:"TASKPLANE_AUTH_SECRET" env-required:"true"`
	Issuer        string        `yaml:"issuer" env:"TASKPLANE_AUTH_ISSUER" env-default:"taskplane"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"TASKPLANE_AUTH_ACCESS_TTL" env-default:"15m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"TASKPLANE_AUTH_REFRESH_TTL" env-default:"168h"`
	DefaultTenant string        `yaml:"default_tenant" env:"TASKPLANE_DEFAULT_TENANT" env-default:"public"`
}

type Audit struct {
	QueueSize int `yaml:"queue_size" env:"TASKPLANE_AUDIT_QUEUE" env-default:"1024"`
}

type RateLimit struct {
	PerSecond int `yaml:"per_second" env:"TASKPLANE_RATE_PER_SECOND" env-default:"20"`
	Burst     int `yaml:"burst" env:"TASKPLANE_RATE_BURST" env-default:"40"`
}

type Sweep struct {
	Interval      time.Duration `yaml:"interval" env:"TASKPLANE_SWEEP_INTERVAL" env-default:"1h"`
	RetainRevoked time.Duration `yaml:"retain_revoked" env:"TASKPLANE_SWEEP_RETAIN_REVOKED" env-default:"720h"`
}

// MustLoad loads configuration or panics; startup cannot proceed without it.
func MustLoad() *Config {
	cfg, err := Load(os.Getenv("TASKPLANE_CONFIG"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Load reads the config file at path when given, then applies environment
// overrides. An empty path reads from the environment only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
