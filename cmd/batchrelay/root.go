package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/njoerd114/batchrelay/internal/cache"
	"github.com/njoerd114/batchrelay/internal/config"
	"github.com/njoerd114/batchrelay/internal/remote"
	syncp "github.com/njoerd114/batchrelay/internal/sync"
	"github.com/njoerd114/batchrelay/internal/telemetry"
)

// app carries state shared by every subcommand once the config is loaded.
type app struct {
	cfgPath string
	verbose bool

	cfg     *config.Config
	log     *slog.Logger
	closers []func() error
}

func newRootCmd(a *app) *cobra.Command {
	defaultCfg, _ := config.DefaultPath()

	root := &cobra.Command{
		Use:          "batchrelay",
		Short:        "Upload record batches to a record store without duplicates",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if !needsConfig(cmd) {
				return nil
			}
			return a.init(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", defaultCfg, "path to config file (.yaml or .toml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newUploadCmd(a),
		newCheckCmd(a),
		newFetchCmd(a),
		newWatchCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newCacheCmd(a),
		newPingCmd(a),
		newVersionCmd(),
	)
	return root
}

// needsConfig reports whether cmd talks to the store. Version, help and shell
// completion work without a config file.
func needsConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "version", "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

// init loads the config and sets up logging and optional telemetry.
func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("loading config from %q: %w", a.cfgPath, err)
	}
	a.cfg = cfg

	// Telemetry first so the log handler picks up the OTel logger provider.
	var shutdownTel telemetry.ShutdownFunc
	var telErr error
	if cfg.Telemetry != nil {
		shutdownTel, telErr = telemetry.Setup(ctx, telemetry.Config{
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			ServiceName:  cfg.Telemetry.ServiceName,
			Headers:      cfg.Telemetry.Headers,
		})
	}

	a.log = a.newLogger()
	slog.SetDefault(a.log)

	if cfg.Telemetry != nil {
		if telErr != nil {
			a.log.Error("telemetry setup failed, continuing without telemetry", "error", telErr)
		} else {
			a.log.Debug("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			a.closers = append(a.closers, func() error {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return shutdownTel(flushCtx)
			})
		}
	}

	a.log.Debug("config loaded",
		"store_url", cfg.StoreURL,
		"batch_size", cfg.BatchSize,
		"concurrency", cfg.Concurrency,
		"collections", len(cfg.Collections),
	)
	return nil
}

// newLogger writes text logs to stderr, or to a rotating file when log_file
// is configured.
func (a *app) newLogger() *slog.Logger {
	level := slog.LevelInfo
	if a.verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	if a.cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   a.cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		out = lj
		a.closers = append(a.closers, lj.Close)
	}

	base := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})
	return slog.New(telemetry.NewLogHandler(base, "batchrelay"))
}

// close runs cleanup in reverse order of registration. It is safe to call
// when init never ran.
func (a *app) close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

// services are the wired components a command works with.
type services struct {
	client   *remote.Client
	reader   *syncp.Reader
	detector *syncp.Detector
	uploader *syncp.Uploader
	progress *syncp.Progress
	cache    *cache.Store
	cached   *cache.CachedReader
}

// openCache opens the shared read cache file and drops expired entries.
func (a *app) openCache() (*cache.Store, error) {
	path, err := a.cfg.EffectiveCachePath()
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening read cache: %w", err)
	}
	a.closers = append(a.closers, store.Close)

	if n, err := store.PurgeExpired(context.Background()); err != nil {
		a.log.Warn("purging read cache", "path", path, "error", err)
	} else if n > 0 {
		a.log.Debug("purged expired cache entries", "path", path, "entries", n)
	}
	return store, nil
}

func (a *app) retryPolicy() remote.Policy {
	p := remote.DefaultPolicy()
	p.MaxAttempts = a.cfg.MaxRetryAttempts
	p.BaseDelay = a.cfg.RetryBaseDelay
	p.Jitter = a.cfg.RetryJitter
	return p
}

// wire builds the client, reader, detector, uploader and read cache from the
// loaded config.
func (a *app) wire() (*services, error) {
	opts := []remote.Option{
		remote.WithTimeout(a.cfg.RequestTimeout),
		remote.WithLogger(a.log),
	}
	if a.cfg.APIToken != "" {
		opts = append(opts, remote.WithAPIToken(a.cfg.APIToken))
	} else {
		opts = append(opts, remote.WithPassword(a.cfg.Username, a.cfg.Password))
	}
	client, err := remote.NewClient(a.cfg.StoreURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating store client: %w", err)
	}

	store, err := a.openCache()
	if err != nil {
		return nil, err
	}

	policy := a.retryPolicy()
	reader := syncp.NewReader(client, a.cfg.PageSize)
	detector := syncp.NewDetector(reader, syncp.NewQueryCapabilities(a.cfg.NoMembershipFields...), policy, a.log)
	progress := syncp.NewProgress()
	uploader := syncp.NewUploader(client, detector, store, progress, syncp.Options{
		BatchSize:   a.cfg.BatchSize,
		Concurrency: a.cfg.Concurrency,
		Retry:       policy,
		LocalDedup:  true,
	}, a.log)

	return &services{
		client:   client,
		reader:   reader,
		detector: detector,
		uploader: uploader,
		progress: progress,
		cache:    store,
		cached:   cache.NewCachedReader(reader, store, a.cfg.EffectiveCacheTTL(), a.log),
	}, nil
}
