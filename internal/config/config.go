package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

var (
	singleConfig *Config
	loadOnce     sync.Once
	loadErr      error
)

// Config is read once from the process environment. Command line flags and the
// client config file may override individual values later on.
type Config struct {
	Service *svcConfig
	Poll    *pollConfig
	Upload  *uploadConfig
}

type svcConfig struct {
	BaseUrl        string        `envconfig:"MONTAGE_API_BASE_URL" default:"http://localhost:8000" validate:"required,url"`
	Token          string        `envconfig:"MONTAGE_API_TOKEN" default:""`
	LogLevel       string        `envconfig:"MONTAGE_LOG_LEVEL" default:"info"`
	RequestTimeout time.Duration `envconfig:"MONTAGE_REQUEST_TIMEOUT" default:"30s" validate:"gt=0"`
}

type pollConfig struct {
	Interval time.Duration `envconfig:"MONTAGE_POLL_INTERVAL" default:"3s" validate:"gt=0"`
	Timeout  time.Duration `envconfig:"MONTAGE_POLL_TIMEOUT" default:"10m" validate:"gtfield=Interval"`
	Jitter   time.Duration `envconfig:"MONTAGE_POLL_JITTER" default:"0s" validate:"gte=0"`
}

type uploadConfig struct {
	OutputFormat    string `envconfig:"MONTAGE_OUTPUT_FORMAT" default:"landscape" validate:"oneof=landscape portrait square"`
	MaxArchiveBytes int64  `envconfig:"MONTAGE_MAX_ARCHIVE_BYTES" default:"4294967296" validate:"gt=0"`
}

// New returns the process wide configuration, loading it on first use.
func New() (*Config, error) {
	loadOnce.Do(func() {
		singleConfig, loadErr = Load()
	})
	return singleConfig, loadErr
}

// Load reads and validates a fresh configuration from the environment.
func Load() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	v := validator.New()
	for _, s := range []any{c.Service, c.Poll, c.Upload} {
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("invalid environment configuration: %w", err)
		}
	}
	return nil
}
