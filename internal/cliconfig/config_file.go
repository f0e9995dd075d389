package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML
// friendly.
type FileConfig struct {
	Namespace    string `toml:"namespace"`
	MaxBatchSize int    `toml:"max_batch_size"`
	Period       string `toml:"period"`
	SinkURL      string `toml:"sink_url"`
	AuthKey      string `toml:"auth_key"`
	HTTPTimeout  string `toml:"http_timeout"`
	StoreDir     string `toml:"store_dir"`
	RedisAddr    string `toml:"redis_addr"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path,
// ~/.logrelay/config.toml, if the user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".logrelay", "config.toml")
	}
	return ""
}

// FileExists reports whether the path exists.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("namespace", fc.Namespace, &cfg.Namespace)
	s.setInt("max-batch", fc.MaxBatchSize, &cfg.MaxBatchSize)
	s.setString("sink-url", fc.SinkURL, &cfg.SinkURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("store-dir", fc.StoreDir, &cfg.StoreDir)
	s.setString("redis-addr", fc.RedisAddr, &cfg.RedisAddr)

	if err := s.setDuration("period", fc.Period, &cfg.Period); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	return nil
}
