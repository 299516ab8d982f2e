// Chartd is the local clinical-documentation daemon.
//
// It keeps the encounter workflow and the dual-persistence record
// repository running on the clinician's machine: every record write
// goes to the practice backend first and falls back to the durable
// local cache when the backend is unreachable, so charting never
// blocks on the network.
//
// Configuration is loaded from ~/.config/chartd/config.yaml with
// CHARTD_* environment overrides. See internal/config for details.
//
// Usage:
//
//	# Start the HTTP API on 127.0.0.1:7171
//	chartd
//
//	# Explicit config file
//	chartd --config /etc/chartd/config.yaml
//
//	# Serve assistant tools over MCP stdio instead of HTTP
//	chartd --mcp
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/verdanthealth/chartd/internal/catalog"
	"github.com/verdanthealth/chartd/internal/config"
	"github.com/verdanthealth/chartd/internal/events"
	"github.com/verdanthealth/chartd/internal/extensions"
	"github.com/verdanthealth/chartd/internal/httpapi"
	"github.com/verdanthealth/chartd/internal/localstore"
	"github.com/verdanthealth/chartd/internal/logging"
	"github.com/verdanthealth/chartd/internal/mcp"
	"github.com/verdanthealth/chartd/internal/notifications"
	"github.com/verdanthealth/chartd/internal/records"
	"github.com/verdanthealth/chartd/internal/remote"
	"github.com/verdanthealth/chartd/internal/services"
	"github.com/verdanthealth/chartd/internal/settings"
	"github.com/verdanthealth/chartd/internal/telemetry"
	"github.com/verdanthealth/chartd/internal/workflow"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/chartd/config.yaml)")
	mcpMode := flag.Bool("mcp", false, "serve assistant tools over MCP stdio instead of HTTP")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  chartd           Start the chartd daemon\n")
			fmt.Fprintf(os.Stderr, "  chartd --mcp     Serve MCP tools over stdio\n")
			fmt.Fprintf(os.Stderr, "  chartd version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *mcpMode); err != nil {
		log.Fatalf("chartd: %v", err)
	}

	log.Println("Shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("chartd by Verdant Health\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until the context is cancelled.
//
// Initialization order matters: the repository needs the cache, the
// extension store, and the event publisher; the health monitor's
// recovery callback needs the repository; everything needs the logger.
//
//  1. Load and validate configuration
//  2. Initialize telemetry and the PHI-redacting logger
//  3. Open infrastructure (cache, backend client, NATS, health monitor)
//  4. Build the record repository and the business services
//  5. Serve HTTP (or MCP stdio with --mcp) until shutdown
func run(ctx context.Context, configPath string, mcpMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Telemetry first so the logger can tee into the OTLP exporter.
	// Construction degrades to no-op providers rather than failing.
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := initLogger(cfg, tel, mcpMode)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "starting chartd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("backend", cfg.Remote.BaseURL),
		zap.String("cache", cfg.Cache.Path),
		zap.Bool("mcp", mcpMode))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close(logger)

	logger.Info(ctx, "dependencies initialized",
		zap.Bool("events_connected", deps.natsConn != nil),
		zap.Bool("telemetry_enabled", tel.IsEnabled()))

	reg, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	// Live log-level changes via the config watcher. A daemon without
	// a config file simply runs without one.
	if watcher := watchConfig(ctx, configPath, logger); watcher != nil {
		defer watcher.Stop()
	}

	if mcpMode {
		return runMCP(ctx, cfg, reg, logger)
	}
	return runHTTP(ctx, cfg, deps, reg, logger)
}

// runHTTP serves the REST API until the context ends, then drains
// in-flight requests and flushes open drafts.
func runHTTP(ctx context.Context, cfg *config.Config, deps *dependencies, reg services.Registry, logger *logging.Logger) error {
	srv, err := httpapi.NewServer(
		&httpapi.Config{Port: cfg.Server.Port},
		httpapi.Dependencies{
			Repo:      reg.Records(),
			Workflows: reg.Workflows(),
			Feed:      reg.Feed(),
			Catalog:   reg.Catalog(),
			Settings:  reg.Settings(),
			Publisher: reg.Events(),
			Health:    reg.Health(),
		},
		logger.Underlying(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info(ctx, "chartd ready",
		zap.String("api", fmt.Sprintf("http://127.0.0.1:%d/v1", cfg.Server.Port)),
		zap.String("health_endpoint", fmt.Sprintf("http://127.0.0.1:%d/healthz", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"))

	var serveErr error
	select {
	case serveErr = <-errCh:
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking requests, then flush open drafts while the
	// repository and cache are still up.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "http shutdown", zap.Error(err))
	}
	if err := reg.Workflows().Close(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "workflow close", zap.Error(err))
	}
	reg.Feed().Stop()

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

// runMCP serves assistant tools over stdio until the transport or the
// context closes.
func runMCP(ctx context.Context, cfg *config.Config, reg services.Registry, logger *logging.Logger) error {
	srv, err := mcp.NewServer(
		&mcp.Config{Name: "chartd", Version: version, Logger: logger.Underlying()},
		reg.Records(),
		reg.Workflows(),
		reg.Feed(),
		reg.Catalog(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize mcp server: %w", err)
	}

	serveErr := srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := reg.Workflows().Close(closeCtx); err != nil {
		logger.Warn(closeCtx, "workflow close", zap.Error(err))
	}
	reg.Feed().Stop()

	if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
		return serveErr
	}
	return nil
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	telemetry *telemetry.Telemetry
	cache     *localstore.Store
	remote    *remote.Client
	monitor   *remote.HealthMonitor
	natsConn  *nats.Conn
	publisher *events.Publisher
	extstore  *extensions.Store
	repo      *records.Repository
}

// Close releases all infrastructure resources. Order is the reverse
// of construction: the monitor stops probing before NATS goes away,
// and the cache closes last so late journal writes still land.
func (d *dependencies) Close(logger *logging.Logger) {
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			logger.Warn(context.Background(), "cache close", zap.Error(err))
		}
	}
	if d.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.telemetry.Shutdown(ctx); err != nil {
			logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
}

// initLogger builds the PHI-redacting logger. In MCP mode the console
// core moves to stderr because the stdio transport owns stdout.
func initLogger(cfg *config.Config, tel *telemetry.Telemetry, mcpMode bool) (*logging.Logger, error) {
	logCfg := logging.NewDefaultConfig()
	if cfg.Observability.LogLevel != "" {
		level, err := logging.LevelFromString(cfg.Observability.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Observability.LogLevel, err)
		}
		logCfg.Level = level
	}
	if mcpMode {
		logCfg.Output.Stdout = false
		logCfg.Output.Stderr = true
	}
	if tel.IsEnabled() {
		logCfg.Output.OTEL = true
		return logging.NewLogger(logCfg, tel.LoggerProvider())
	}
	return logging.NewLogger(logCfg, nil)
}

// initDependencies opens the infrastructure layer.
//
// This function:
//  1. Opens the durable local cache
//  2. Builds the backend client and, if enabled, the NATS publisher
//  3. Wires the record repository over both persistence layers
//  4. Starts the health monitor with the journal-replay callback
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	zl := logger.Underlying()

	cache, err := localstore.Open(cfg.Cache.Path, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to open local cache at %s: %w", cfg.Cache.Path, err)
	}

	remoteClient, err := remote.New(ctx, cfg.Remote, zl)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("failed to build backend client: %w", err)
	}

	// The event bus is best effort: a clinic daemon keeps charting
	// with NATS down, so connection failures only log.
	var nc *nats.Conn
	if cfg.Events.Enabled {
		nc, err = nats.Connect(cfg.Events.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			logger.Warn(ctx, "event bus unavailable, continuing without events",
				zap.String("url", cfg.Events.URL),
				zap.Error(err))
			nc = nil
		} else {
			logger.Info(ctx, "connected to event bus", zap.String("url", cfg.Events.URL))
		}
	}
	publisher := events.NewPublisher(nc, zl)

	extstore := extensions.NewStore(cache, zl)

	repo, err := records.NewRepository(records.Options{
		Remote:     remoteClient,
		Cache:      cache,
		Extensions: extstore,
		Events:     publisher,
		Logger:     zl,
	})
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		_ = cache.Close()
		return nil, fmt.Errorf("failed to build record repository: %w", err)
	}

	checker := remote.NewHTTPHealthChecker(cfg.Remote.BaseURL, cfg.Remote.Timeout, zl)
	monitor := remote.NewHealthMonitor(ctx, checker, cfg.Remote.HealthCheckInterval, zl)
	if err := monitor.RegisterCallback(func(healthy bool) {
		now := time.Now().UTC()
		if !healthy {
			publisher.Publish(events.StreamConnectivity, "backend", events.ActionLost, "local", now)
			logger.Warn(ctx, "backend unreachable, serving from local cache")
			return
		}
		publisher.Publish(events.StreamConnectivity, "backend", events.ActionRestored, "remote", now)
		synced, remaining := repo.ReplaySync(ctx)
		logger.Info(ctx, "backend restored, journal replayed",
			zap.Int("synced", synced),
			zap.Int("remaining", remaining))
	}); err != nil {
		if nc != nil {
			nc.Close()
		}
		_ = cache.Close()
		return nil, fmt.Errorf("failed to register health callback: %w", err)
	}
	monitor.Start()

	return &dependencies{
		cache:     cache,
		remote:    remoteClient,
		monitor:   monitor,
		natsConn:  nc,
		publisher: publisher,
		extstore:  extstore,
		repo:      repo,
	}, nil
}

// initServices builds the business services over the infrastructure
// layer and hands back the registry the transports read from.
func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) (services.Registry, error) {
	zl := logger.Underlying()

	feed, err := notifications.NewService(deps.cache, cfg.Notifications.MaxEntries, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to build notification feed: %w", err)
	}
	if err := feed.Start(deps.natsConn); err != nil {
		logger.Warn(context.Background(), "notification feed not subscribed", zap.Error(err))
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load test catalog: %w", err)
	}

	settingsSvc, err := settings.NewService(deps.cache, zl)
	if err != nil {
		return nil, fmt.Errorf("failed to build settings service: %w", err)
	}

	workflowSvc, err := workflow.NewService(
		&workflow.ServiceConfig{AutosaveDelay: cfg.Autosave.Debounce},
		deps.repo,
		zl,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow service: %w", err)
	}

	return services.NewRegistry(services.Options{
		Records:   deps.repo,
		Workflows: workflowSvc,
		Feed:      feed,
		Catalog:   cat,
		Settings:  settingsSvc,
		Events:    deps.publisher,
		Health:    deps.monitor,
		Cache:     deps.cache,
	}), nil
}

// watchConfig starts the fsnotify reload loop when a config file
// exists. Only the log level is applied live; everything else needs a
// restart. Watcher failures never stop the daemon.
func watchConfig(ctx context.Context, configPath string, logger *logging.Logger) *config.Watcher {
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		configPath = filepath.Join(home, ".config", "chartd", "config.yaml")
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}

	watcher, err := config.NewWatcher(configPath, logger.Underlying().Named("config"))
	if err != nil {
		logger.Warn(ctx, "config watcher unavailable", zap.Error(err))
		return nil
	}
	if err := watcher.Start(ctx); err != nil {
		logger.Warn(ctx, "config watcher unavailable", zap.Error(err))
		watcher.Stop()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case newCfg, ok := <-watcher.Configs():
				if !ok {
					return
				}
				applyReload(ctx, newCfg, logger)
			}
		}
	}()
	return watcher
}

// applyReload applies the live-tunable parts of a reloaded config.
func applyReload(ctx context.Context, cfg *config.Config, logger *logging.Logger) {
	levelStr := cfg.Observability.LogLevel
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logging.LevelFromString(levelStr)
	if err != nil {
		logger.Warn(ctx, "config reload kept old log level",
			zap.String("level", levelStr),
			zap.Error(err))
		return
	}
	if level != logger.Level() {
		logger.SetLevel(level)
		logger.Info(ctx, "log level changed", zap.String("level", level.String()))
	}
}
