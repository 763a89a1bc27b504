package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/dagflow/config"
	"github.com/c360studio/dagflow/engine"
	"github.com/c360studio/dagflow/events"
	"github.com/c360studio/dagflow/notify"
	"github.com/c360studio/dagflow/plugin"
	"github.com/c360studio/dagflow/plugin/builtins"
	"github.com/c360studio/dagflow/workflow"
)

// App wires the process-level services together: registries, the
// notification dispatcher, the plugin runtime and the engine.
type App struct {
	Logger    *slog.Logger
	Config    *config.Config
	Workflows *workflow.Registry
	Plugins   *plugin.Registry
	Notifier  *notify.Dispatcher
	Engine    *engine.Engine

	resources *plugin.ResourceManager
	watcher   *plugin.Watcher
	publisher *events.NATSPublisher
	metricsLn *http.Server
}

// newApp loads configuration and constructs every service. Nothing is
// started yet; call Start.
func newApp(configPath, logLevel string) (*App, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger := newLogger(cfg.Logging)
	reg := prometheus.NewRegistry()

	plugins := plugin.NewRegistry(logger,
		plugin.WithGlobalConfig(cfg.Plugins.GlobalConfig),
		plugin.WithScanner(&plugin.Scanner{Strict: cfg.Plugins.StrictScan}))
	plugins.RegisterFactory(builtins.MockSymbol, builtins.MockFactory)
	plugins.RegisterFactory(builtins.FileSymbol, builtins.FileFactory)

	notifier := notify.NewDispatcher(logger, reg)

	workflows := workflow.NewRegistry(logger)

	resourceCfg := plugin.DefaultResourceConfig()
	resourceCfg.IdleTimeout = cfg.Plugins.IdleTimeout
	resourceCfg.MaxPlugins = cfg.Plugins.MaxPlugins
	resourceCfg.Whitelist = cfg.Plugins.Whitelist

	app := &App{
		Logger:    logger,
		Config:    cfg,
		Workflows: workflows,
		Plugins:   plugins,
		Notifier:  notifier,
		resources: plugin.NewResourceManager(logger, plugins, resourceCfg, reg),
	}

	engineOpts := []engine.Option{
		engine.WithPlugins(plugins),
		engine.WithNotifier(notifier),
		engine.WithMetrics(reg),
	}
	if cfg.NATS.URL != "" {
		publisher, err := events.Connect(logger, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return nil, fmt.Errorf("connect event stream: %w", err)
		}
		app.publisher = publisher
		engineOpts = append(engineOpts, engine.WithEventSink(publisher))
	}

	app.Engine = engine.New(logger, workflows, engine.Config{
		MaxConcurrentNodes: cfg.Engine.MaxConcurrentNodes,
		AsyncWorkers:       cfg.Engine.AsyncWorkers,
		DefaultTimeout:     cfg.Engine.DefaultTimeout,
	}, engineOpts...)

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		app.metricsLn = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}

	return app, nil
}

// Start registers the built-in providers and plugins and launches the
// background services.
func (a *App) Start(ctx context.Context) error {
	if err := a.Notifier.RegisterProvider(notify.NewConsoleProvider(nil), nil); err != nil {
		return fmt.Errorf("register console provider: %w", err)
	}
	notifyPath := filepath.Join(os.TempDir(), "dagflow-notifications.jsonl")
	if err := a.Notifier.RegisterProvider(notify.NewFileProvider(), map[string]any{"path": notifyPath}); err != nil {
		return fmt.Errorf("register file provider: %w", err)
	}

	if err := a.Plugins.Register(builtins.MockFactory()); err != nil {
		return fmt.Errorf("register mock plugin: %w", err)
	}
	if err := a.Plugins.Register(builtins.FileFactory()); err != nil {
		return fmt.Errorf("register file plugin: %w", err)
	}

	if dir := a.Config.Plugins.ArchiveDir; dir != "" {
		watcher, err := plugin.NewWatcher(a.Logger, a.Plugins, dir)
		if err != nil {
			return fmt.Errorf("watch plugin directory %s: %w", dir, err)
		}
		a.watcher = watcher
		watcher.LoadExisting(ctx)
		go watcher.Run(ctx)
	}

	a.resources.Start(ctx)

	if a.metricsLn != nil {
		go func() {
			if err := a.metricsLn.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.Logger.Error("Metrics listener failed", "error", err)
			}
		}()
	}

	a.Logger.Info("Dagflow started",
		"plugins", a.Plugins.Count(),
		"providers", a.Notifier.Providers())
	return nil
}

// Stop tears everything down in reverse dependency order.
func (a *App) Stop() {
	a.Engine.Shutdown()
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	a.resources.Stop()
	a.Plugins.Shutdown()
	a.Notifier.Shutdown()
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.metricsLn != nil {
		_ = a.metricsLn.Close()
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.NewLoader(nil).Load()
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
