package cliconfig

import "os"

// ApplyEnvConfig applies LOGRELAY_* environment variables to the Config.
// Env vars override file config but are overridden by explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("namespace", os.Getenv("LOGRELAY_NAMESPACE"), &cfg.Namespace)
	s.setString("sink-url", os.Getenv("LOGRELAY_SINK_URL"), &cfg.SinkURL)
	s.setString("auth-key", os.Getenv("LOGRELAY_AUTH_KEY"), &cfg.AuthKey)
	s.setString("store-dir", os.Getenv("LOGRELAY_STORE_DIR"), &cfg.StoreDir)
	s.setString("redis-addr", os.Getenv("LOGRELAY_REDIS_ADDR"), &cfg.RedisAddr)

	if err := s.setIntFromString("max-batch", os.Getenv("LOGRELAY_MAX_BATCH"), &cfg.MaxBatchSize); err != nil {
		return err
	}
	if err := s.setDuration("period", os.Getenv("LOGRELAY_PERIOD"), &cfg.Period); err != nil {
		return err
	}
	if err := s.setDuration("http-timeout", os.Getenv("LOGRELAY_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	return nil
}
