package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// SweeperConfig drives the standalone expiry sweep process.
type SweeperConfig struct {
	MongoURI      string        `yaml:"mongo_uri" envconfig:"MONGODB_URI"`
	DatabaseName  string        `yaml:"database_name" envconfig:"MONGODB_DB_NAME"`
	MongoTimeout  time.Duration `yaml:"mongo_timeout" envconfig:"MONGODB_TIMEOUT"`
	RunTimeout    time.Duration `yaml:"run_timeout" envconfig:"SWEEP_TIMEOUT"`
	EncryptionKey string        `yaml:"encryption_key" envconfig:"ENCRYPTION_KEY"`
	RabbitMQURL   string        `yaml:"rabbitmq_url" envconfig:"RABBITMQ_URL"`
	Exchange      string        `yaml:"exchange" envconfig:"RABBITMQ_EXCHANGE"`
	LogLevel      string        `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat     string        `yaml:"log_format" envconfig:"LOG_FORMAT"`
	Routers       RoutersConfig `yaml:"routers"`
}

type RoutersConfig struct {
	RequestTimeout     time.Duration `yaml:"request_timeout" envconfig:"ROUTER_REQUEST_TIMEOUT"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" envconfig:"ROUTER_INSECURE_SKIP_VERIFY"`
	SkipRemoval        bool          `yaml:"skip_removal" envconfig:"SWEEP_SKIP_ROUTER_REMOVAL"`
}

func defaults() *SweeperConfig {
	return &SweeperConfig{
		DatabaseName: "hotspot",
		MongoTimeout: 10 * time.Second,
		RunTimeout:   30 * time.Minute,
		Exchange:     "billing.events",
		LogLevel:     "info",
		LogFormat:    "text",
		Routers: RoutersConfig{
			RequestTimeout:     10 * time.Second,
			InsecureSkipVerify: true,
		},
	}
}

// LoadSweeperConfig reads an optional YAML file and then applies environment
// overrides. A missing file is not an error.
func LoadSweeperConfig(path string) (*SweeperConfig, error) {
	cfg := defaults()

	if path != "" {
		file, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to open config: %w", err)
		default:
			defer file.Close()
			if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
				return nil, fmt.Errorf("failed to decode config: %w", err)
			}
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if cfg.MongoURI == "" {
		cfg.MongoURI = os.Getenv("MONGO_URI")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *SweeperConfig) Validate() error {
	if c.MongoURI == "" {
		return errors.New("MONGODB_URI is required")
	}
	if c.DatabaseName == "" {
		return errors.New("MONGODB_DB_NAME is required")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 32 {
		return errors.New("ENCRYPTION_KEY must be exactly 32 bytes")
	}
	return nil
}
