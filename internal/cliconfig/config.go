package cliconfig

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds CLI configuration for logrelay.
type Config struct {
	Namespace    string
	MaxBatchSize int
	Period       time.Duration

	SinkURL     string
	AuthKey     string
	HTTPTimeout time.Duration

	StoreDir  string
	RedisAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Namespace:    "logrelay",
		MaxBatchSize: 100,
		Period:       5 * time.Second,
		HTTPTimeout:  15 * time.Second,
		AuthKey:      os.Getenv("LOGRELAY_AUTH_KEY"),
	}
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.StoreDir != "" && c.RedisAddr != "" {
		return fmt.Errorf("store-dir and redis-addr are mutually exclusive")
	}

	// Ensure no trailing slash
	if len(c.SinkURL) > 0 && c.SinkURL[len(c.SinkURL)-1] == '/' {
		c.SinkURL = c.SinkURL[:len(c.SinkURL)-1]
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag
// precedence. It only applies values if the corresponding flag hasn't been
// explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not
// changed. Negative durations are allowed: they disable the cycle period.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}
