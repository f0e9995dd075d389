package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/logrelay/internal/cliconfig"
	"github.com/bft-labs/logrelay/pkg/event"
	logpkg "github.com/bft-labs/logrelay/pkg/log"
	"github.com/bft-labs/logrelay/pkg/relay"
	"github.com/bft-labs/logrelay/pkg/sink"
	"github.com/bft-labs/logrelay/pkg/store"
)

const helpDescription = `
Read log lines from stdin, batch them, and relay each batch to a sink.

Highlights:
  - Batches on a fixed period with automatic splitting of oversized bursts.
  - Stages every batch in a durable store so a crash cannot lose buffered events.
  - Failed deliveries are requeued ahead of newer events and retried next cycle.
  - Configure via file ($HOME/.logrelay/config.toml), LOGRELAY_* env vars, or flags.
`

var exampleUsage = strings.TrimSpace(`
  tail -F /var/log/app.log | logrelay --sink-url https://collector.example.com --store-dir /var/lib/logrelay
  journalctl -f -o cat | logrelay --namespace web --redis-addr localhost:6379
`)

const flushTimeout = 10 * time.Second

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	log := cliconfig.Logger()

	root := &cobra.Command{
		Use:     "logrelay",
		Short:   "Batch log lines from stdin and relay them to a sink",
		Long:    strings.TrimSpace(helpDescription),
		Example: exampleUsage,
		Version: fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := cfgPath
			if cfgFile == "" {
				cfgFile = cliconfig.DefaultConfigPath()
			}

			// Precedence: flags > env > file > defaults.
			changed := map[string]bool{}
			cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

			if cfgFile != "" && cliconfig.FileExists(cfgFile) {
				fc, err := cliconfig.LoadFileConfig(cfgFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if err := cliconfig.ApplyFileConfig(&cfg, fc, changed); err != nil {
					return err
				}
			}

			if err := cliconfig.ApplyEnvConfig(&cfg, changed); err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			logCfg := cfg
			if len(logCfg.AuthKey) > 0 {
				logCfg.AuthKey = "*****"
			}
			log.Info().Interface("config", logCfg).Msg("configuration")

			return run(cmd.Context(), cfg, cfgFile)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.logrelay/config.toml)")
	root.Flags().StringVar(&cfg.Namespace, "namespace", cfg.Namespace, "key namespace for staged batches")
	root.Flags().IntVar(&cfg.MaxBatchSize, "max-batch", cfg.MaxBatchSize, "maximum events per batch")
	root.Flags().DurationVar(&cfg.Period, "period", cfg.Period, "batching period (negative disables the timer)")

	root.Flags().StringVar(&cfg.SinkURL, "sink-url", cfg.SinkURL, "HTTP sink base URL (omit to write batches to stdout)")
	root.Flags().StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "API key sent as a bearer token to the sink")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "HTTP timeout for sink requests")

	root.Flags().StringVar(&cfg.StoreDir, "store-dir", cfg.StoreDir, "directory for the durable batch store")
	root.Flags().StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "redis address for the durable batch store")

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("logrelay")
		os.Exit(1)
	}
}

func run(parent context.Context, cfg cliconfig.Config, cfgFile string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	zlog := cliconfig.Logger()
	logger := logpkg.NewZerolog(zlog)

	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithSink(buildSink(cfg, logger)),
	}

	switch {
	case cfg.StoreDir != "":
		if err := os.MkdirAll(cfg.StoreDir, 0o755); err != nil {
			return fmt.Errorf("create store dir: %w", err)
		}
		opts = append(opts, relay.WithStore(store.NewFile(cfg.StoreDir)))
	case cfg.RedisAddr != "":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		opts = append(opts, relay.WithStore(store.NewRedis(client)))
	}

	r, err := relay.New(relay.Config{
		Namespace:    cfg.Namespace,
		MaxBatchSize: cfg.MaxBatchSize,
		Period:       cfg.Period,
	}, opts...)
	if err != nil {
		return fmt.Errorf("create relay: %w", err)
	}

	if cfgFile != "" {
		watcher := cliconfig.NewWatcher(cfgFile, func() {
			zlog.Info().Str("path", cfgFile).Msg("config file changed; restart to apply")
		}, logger)
		go watcher.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stdinDone := make(chan error, 1)
	go func() { stdinDone <- readLines(ctx, os.Stdin, r) }()

	select {
	case <-sigCh:
		zlog.Info().Msg("received signal, flushing...")
	case err := <-stdinDone:
		if err != nil {
			zlog.Error().Err(err).Msg("stdin read failed")
		}
	}
	cancel()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
	defer flushCancel()
	if err := r.Flush(flushCtx); err != nil {
		zlog.Error().Err(err).Msg("final flush failed")
	}
	r.Stop()
	return nil
}

// readLines emits one event per stdin line until EOF or cancellation.
func readLines(ctx context.Context, in *os.File, r *relay.Relay) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.Emit([]event.Event{{
			Timestamp: time.Now().UTC(),
			Template:  line,
		}})
	}
	return scanner.Err()
}

func buildSink(cfg cliconfig.Config, logger logpkg.Logger) relay.Sink {
	if cfg.SinkURL == "" {
		return sink.NewWriter(os.Stdout)
	}

	hostname, _ := os.Hostname()
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return sink.NewHTTP(client, cfg.SinkURL, sink.Metadata{
		Source:   cfg.Namespace,
		Hostname: hostname,
		AuthKey:  cfg.AuthKey,
	}, logger)
}
