// Package config loads the gateway configuration from a file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/TykTechnologies/graphql-federation-gateway/pkg/federation"
	"github.com/TykTechnologies/graphql-federation-gateway/pkg/gateway"
)

// EnvPrefix prefixes every environment override, e.g. GATEWAY_LISTEN.
const EnvPrefix = "GATEWAY"

const (
	DefaultListen        = ":8080"
	DefaultTimeout       = 30 * time.Second
	DefaultPlanCacheSize = 256
	DefaultLogLevel      = "info"
)

type Config struct {
	Listen          string                    `mapstructure:"listen" yaml:"listen"`
	Services        federation.ServiceConfigs `mapstructure:"services" yaml:"services"`
	PollingInterval time.Duration             `mapstructure:"polling_interval" yaml:"polling_interval,omitempty"`
	// Timeout bounds every request to a service.
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	PlanCacheSize int           `mapstructure:"plan_cache_size" yaml:"plan_cache_size"`
	LogLevel      string        `mapstructure:"log_level" yaml:"log_level"`
}

// Load reads the config file at path, if any, and applies environment
// overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("polling_interval", time.Duration(0))
	v.SetDefault("timeout", DefaultTimeout)
	v.SetDefault("plan_cache_size", DefaultPlanCacheSize)
	v.SetDefault("log_level", DefaultLogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen must not be empty")
	}
	if len(c.Services) == 0 {
		return errors.New("at least one service must be configured")
	}
	if err := c.Services.Validate(); err != nil {
		return err
	}
	if c.PollingInterval < 0 {
		return fmt.Errorf("polling_interval must not be negative, got %s", c.PollingInterval)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.PlanCacheSize <= 0 {
		return fmt.Errorf("plan_cache_size must be positive, got %d", c.PlanCacheSize)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) Level() (zapcore.Level, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

func (c *Config) Gateway() gateway.Config {
	return gateway.Config{
		Services:        c.Services,
		PollingInterval: c.PollingInterval,
		PlanCacheSize:   c.PlanCacheSize,
	}
}
