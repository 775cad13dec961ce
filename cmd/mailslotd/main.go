package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/actual-software/mailslot/internal/config"
	"github.com/actual-software/mailslot/internal/health"
	mslog "github.com/actual-software/mailslot/internal/logging"
	"github.com/actual-software/mailslot/internal/mailslot"
	"github.com/actual-software/mailslot/internal/metrics"
	"github.com/actual-software/mailslot/internal/session"
	"github.com/actual-software/mailslot/internal/tracing"
)

const defaultTimeoutSeconds = 30

var (
	Version   = "v1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// VersionRequestedError is returned when the version flag is set.
type VersionRequestedError struct{}

func (e VersionRequestedError) Error() string {
	return "version requested"
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mailslotd",
		Short: "mailslotd - in-process multi-channel mail slot engine",
		Long: `mailslotd hosts a registry of FIFO mail slot channels with blocking and
non-blocking push/pop, and serves health, channel and metrics endpoints.`,
		RunE:         run,
		SilenceUsage: true,
	}

	cmd.Flags().StringP("config", "c", "", "Path to configuration file")
	cmd.Flags().BoolP("version", "v", false, "Show version information")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(adminCmd())

	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	if err := handleVersionFlag(cmd); err != nil {
		var errVersionRequested VersionRequestedError
		if errors.As(err, &errVersionRequested) {
			return nil
		}

		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	defer mslog.Sync(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

// Components are the long-lived parts of the daemon.
type Components struct {
	Registry        *mailslot.Registry
	Sessions        *session.Manager
	MetricsRegistry *metrics.Registry
	Tracer          *tracing.Tracer
	HealthChecker   *health.Checker
}

// Servers are the HTTP listeners of the daemon. Either may be nil when
// disabled.
type Servers struct {
	Metrics *http.Server
	Health  *health.Server
}

func handleVersionFlag(cmd *cobra.Command) error {
	showVersion, err := cmd.Flags().GetBool("version")
	if err != nil {
		return fmt.Errorf("failed to get version flag: %w", err)
	}

	if showVersion {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "mailslotd\n")
		_, _ = fmt.Fprintf(out, "Version: %s\n", Version)
		_, _ = fmt.Fprintf(out, "Build Time: %s\n", BuildTime)
		_, _ = fmt.Fprintf(out, "Git Commit: %s\n", GitCommit)

		return VersionRequestedError{}
	}

	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// setupLogger builds the logger from cfg. An explicit --log-level overrides
// the configured level.
func setupLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	if cmd.Flags().Changed("log-level") {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get log-level flag: %w", err)
		}

		cfg.Logging.Level = level
	}

	logger, err := mslog.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

// serve runs the daemon until ctx ends or a server fails.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return err
	}

	servers, serverErrChan := startServers(ctx, cfg, components, logger)

	components.HealthChecker.SetReady(true)

	logger.Info("mailslotd started",
		zap.String("version", Version),
		zap.Int("channels", components.Registry.Len()),
		zap.Int("capacity_bytes", components.Registry.Settings().Capacity()),
		zap.String("default_mode", components.Registry.Settings().DefaultMode.String()),
	)

	var serveErr error

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case serveErr = <-serverErrChan:
		logger.Error("Server error", zap.Error(serveErr))
	}

	performGracefulShutdown(cfg, servers, components, logger)

	return serveErr
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	logger.Info("Initializing mailslot components")

	metricsRegistry := metrics.NewRegistry()

	tracer, err := tracing.New(cfg.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	settings, err := cfg.Channels.Settings()
	if err != nil {
		return nil, fmt.Errorf("invalid channel settings: %w", err)
	}

	registry, err := mailslot.NewRegistry(settings,
		mailslot.WithLogger(logger),
		mailslot.WithObserver(metricsRegistry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel registry: %w", err)
	}

	sessions := session.NewManager(registry, logger,
		session.WithTracer(tracer),
		session.WithMetrics(metricsRegistry),
	)

	checker := health.NewChecker(registry, logger,
		health.WithSessions(sessions),
		health.WithVersion(Version),
	)

	return &Components{
		Registry:        registry,
		Sessions:        sessions,
		MetricsRegistry: metricsRegistry,
		Tracer:          tracer,
		HealthChecker:   checker,
	}, nil
}

func startServers(ctx context.Context, cfg *config.Config, components *Components, logger *zap.Logger) (*Servers, <-chan error) {
	servers := &Servers{}
	serverErrChan := make(chan error, 2)

	go components.HealthChecker.RunChecks(ctx, 0)

	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, components.MetricsRegistry.Handler())

		servers.Metrics = &http.Server{
			Addr:              cfg.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: defaultTimeoutSeconds * time.Second,
		}

		go func() {
			logger.Info("Starting metrics server",
				zap.String("address", cfg.Metrics.Address),
				zap.String("path", cfg.Metrics.Path),
			)

			if err := servers.Metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	if cfg.Health.Enabled {
		servers.Health = health.NewServer(components.HealthChecker, cfg.Health.Address, logger,
			func(next http.Handler) http.Handler {
				return components.Tracer.HTTPMiddleware(next, "health")
			},
		)

		go func() {
			if err := servers.Health.Start(); err != nil {
				serverErrChan <- fmt.Errorf("health server: %w", err)
			}
		}()
	}

	return servers, serverErrChan
}

func performGracefulShutdown(cfg *config.Config, servers *Servers, components *Components, logger *zap.Logger) {
	logger.Info("Starting graceful shutdown")

	components.HealthChecker.SetReady(false)

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultTimeoutSeconds * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if servers.Health != nil {
		if err := servers.Health.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down health server", zap.Error(err))
		}
	}

	if servers.Metrics != nil {
		if err := servers.Metrics.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down metrics server", zap.Error(err))
		}
	}

	handles := components.Sessions.CloseAll()
	discarded := components.Registry.Shutdown()

	if err := components.Tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down tracer", zap.Error(err))
	}

	logger.Info("mailslotd shutdown complete",
		zap.Int("closed_handles", handles),
		zap.Int("discarded_messages", discarded),
	)
}
