package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	configFileName = "tandem"
	configFileType = "yaml"
	envPrefix      = "TANDEM"

	cfgKeyLogLevel     = "log_level"
	cfgKeyDB           = "db"
	cfgKeyFetchTimeout = "fetch_timeout"
	cfgKeyMetrics      = "metrics"
)

// Config is the resolved CLI configuration. Flags beat TANDEM_* environment
// variables, which beat tandem.yaml, which beats the defaults.
type Config struct {
	LogLevel     slog.Level
	DB           string
	FetchTimeout time.Duration
	Metrics      bool
}

// LoadConfig reads the config file (path, or tandem.yaml in the working
// directory when path is empty) and overlays environment and flags. A
// missing default config file is not an error.
func LoadConfig(cmd *cobra.Command, path string) (*Config, error) {
	v := viper.New()
	v.SetDefault(cfgKeyLogLevel, "info")
	v.SetDefault(cfgKeyDB, "")
	v.SetDefault(cfgKeyFetchTimeout, "30s")
	v.SetDefault(cfgKeyMetrics, false)

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if f := cmd.Flags().Lookup(cfgKeyDB); f != nil {
		if err := v.BindPFlag(cfgKeyDB, f); err != nil {
			return nil, fmt.Errorf("bind --db: %w", err)
		}
	}
	if f := cmd.Flags().Lookup(cfgKeyMetrics); f != nil {
		if err := v.BindPFlag(cfgKeyMetrics, f); err != nil {
			return nil, fmt.Errorf("bind --metrics: %w", err)
		}
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(v.GetString(cfgKeyLogLevel)))); err != nil {
		return nil, fmt.Errorf("%s: %w", cfgKeyLogLevel, err)
	}
	timeout, err := time.ParseDuration(v.GetString(cfgKeyFetchTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cfgKeyFetchTimeout, err)
	}
	if timeout < 0 {
		return nil, fmt.Errorf("%s: must not be negative, got %s", cfgKeyFetchTimeout, timeout)
	}

	return &Config{
		LogLevel:     level,
		DB:           v.GetString(cfgKeyDB),
		FetchTimeout: timeout,
		Metrics:      v.GetBool(cfgKeyMetrics),
	}, nil
}

// NewLogger returns a text logger at the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.LogLevel}))
}
