package server

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"markethub/pkg/config"
	"markethub/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func Main() {
	// Parse command line flags
	addr := flag.String("addr", "", "Server address (overrides config)")
	configPath := flag.String("config", "", "Config file path (optional)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: text or json")
	flag.Parse()

	// Load configuration first so flag overrides land on top of file and env
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Init(logger.InfoLevel, "text")
		logger.Get().ErrorWithErr("failed to load configuration", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Address = *addr
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	// Initialize structured logger
	logger.Init(logger.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
	log := logger.Get()

	if err := cfg.Validate(); err != nil {
		log.ErrorWithErr("invalid configuration", err)
		os.Exit(1)
	}

	log.InfoWith("configuration loaded", "address", cfg.Address)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services (dependency injection container)
	services, err := NewServices(ctx, cfg, Collaborators{})
	if err != nil {
		log.ErrorWithErr("failed to initialize services", err)
		os.Exit(1)
	}

	srv := NewServer(services)

	// Background work: the maintenance schedule and the liveness heartbeat
	services.Scheduler.Start()
	go services.Publisher.RunHeartbeat(ctx, cfg.Realtime.HeartbeatInterval)

	coordinator := NewShutdownCoordinator(shutdownSteps(srv, services, cancel))

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	// Start server in a goroutine
	errorChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorChan <- err
		}
	}()

	log.Info("server is running, press Ctrl+C to stop")

	// Wait for shutdown signal or fatal server error
	select {
	case sig := <-sigChan:
		log.InfoWith("received signal, shutting down", "signal", sig.String())
	case err := <-errorChan:
		log.ErrorWithErr("server encountered fatal error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	coordinator.Shutdown(shutdownCtx)
	log.Info("server stopped")
}

// shutdownSteps is the full teardown sequence: stop intake, drain the
// realtime layer, stop the jobs, then close the backing connections and the
// listener.
func shutdownSteps(srv *Server, services *Services, cancelBackground context.CancelFunc) []ShutdownStep {
	return []ShutdownStep{
		{Name: "stop-intake", Run: func(ctx context.Context) error {
			srv.StopAccepting()
			return nil
		}},
		{Name: "drain-connections", Run: func(ctx context.Context) error {
			cancelBackground()
			srv.NotifyAndClose("server shutting down")
			return nil
		}},
		{Name: "stop-scheduler", Run: func(ctx context.Context) error {
			graceCtx, cancel := context.WithTimeout(ctx, services.Config.Jobs.ShutdownGrace)
			defer cancel()
			return services.Scheduler.Stop(graceCtx)
		}},
		{Name: "close-cache", Run: func(ctx context.Context) error {
			if services.Cache == nil {
				return nil
			}
			return services.Cache.Close()
		}},
		{Name: "close-store", Run: func(ctx context.Context) error {
			return services.Store.Close()
		}},
		{Name: "close-listener", Run: func(ctx context.Context) error {
			return srv.CloseListener(ctx)
		}},
	}
}
