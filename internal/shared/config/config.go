package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all configuration for the gearlink CLI.
type Config struct {
	Client  ClientConfig  `mapstructure:"client"`
	Worker  WorkerConfig  `mapstructure:"worker"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains logging-related configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load loads the configuration from the given path.
// If configPath is empty, it looks for gearlink.yaml in the config/ directory.
// Environment variables with GEARLINK_ prefix override config file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("client.servers", "localhost:4730")
	v.SetDefault("client.timeout", 30*time.Second)
	v.SetDefault("client.non_blocking", false)
	v.SetDefault("worker.servers", "localhost:4730")
	v.SetDefault("worker.functions", []string{"wordcount", "reverse", "upper"})
	v.SetDefault("worker.timeout", time.Second)
	v.SetDefault("worker.function_timeout", time.Duration(0))
	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("metrics.enabled", false)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("gearlink")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("GEARLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Client.Servers == "" {
		return errors.New("client.servers must not be empty")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported logging.format %q", c.Logging.Format)
	}
	return nil
}
