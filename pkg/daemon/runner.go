package daemon

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdant-os/verdantd/pkg/control"
	"github.com/verdant-os/verdantd/pkg/errors"
	"github.com/verdant-os/verdantd/pkg/logging"
	"github.com/verdant-os/verdantd/pkg/metrics"
	"github.com/verdant-os/verdantd/pkg/orchestrator"
	"github.com/verdant-os/verdantd/pkg/pidfile"
	"github.com/verdant-os/verdantd/pkg/units"
)

// Run starts the daemon and blocks until a shutdown signal, a control
// API shutdown request, or a fatal startup error.
func Run(config *Config, logger logging.Logger) error {
	logger.Infof("Daemon starting...")
	logger.Infof("Units directory: %s", config.Daemon.UnitsDir)

	ctx := context.Background()

	// Claim the pid file before touching anything else.
	var pidFile *pidfile.File
	if config.Daemon.PidFile != "" {
		pidFile = pidfile.New(config.Daemon.PidFile, logger)
		if err := pidFile.Write(); err != nil {
			return err
		}
		defer func() {
			if err := pidFile.Remove(); err != nil {
				logger.Warnf("Failed to remove pid file: %v", err)
			}
		}()
	}

	collector, metricsServer := setupMetrics(config, logger)

	orch := orchestrator.New(orchestrator.Options{
		ForceShutdownTimeout: config.Daemon.ForceShutdownTimeout.Duration(),
		Metrics:              collector,
	}, logger)

	// Load unit definitions. Individual bad files disable only
	// themselves; a duplicate name across the set aborts startup.
	defs, failures, err := units.LoadDir(config.Daemon.UnitsDir, logger)
	if err != nil {
		return err
	}
	if failures != nil && failures.HasErrors() {
		logger.Warnf("%d unit file(s) could not be loaded", len(failures.Errors))
	}
	if err := orch.Load(defs); err != nil {
		return errors.NewValidationError("failed to load unit definitions", err)
	}

	// Shutdown triggers: OS signals and the control API.
	shutdownRequested := make(chan struct{}, 1)

	controlServer := control.NewServer(config.Daemon.SocketPath, orch, logger)
	controlServer.ShutdownRequested = func() {
		select {
		case shutdownRequested <- struct{}{}:
		default:
		}
	}

	controlErr := make(chan error, 1)
	go func() {
		controlErr <- controlServer.Serve()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	logger.Infof("Starting all units...")
	orch.StartAll(ctx)

	var watcher *orchestrator.Watcher
	if config.Daemon.WatchEnabled() {
		watcher, err = orchestrator.NewWatcher(ctx, config.Daemon.UnitsDir, orch, logger)
		if err != nil {
			logger.Warnf("Units directory watch disabled: %v", err)
		} else {
			for _, def := range defs {
				if def.SourcePath != "" {
					watcher.TrackFile(def.SourcePath, def.Name)
				}
			}
		}
	}

	logger.Infof("Daemon is fully operational")

	var runErr error
	select {
	case receivedSignal := <-sig:
		logger.Infof("Received signal: %v", receivedSignal)
	case <-shutdownRequested:
		logger.Infof("Shutdown requested via control API")
	case err := <-controlErr:
		if err != nil {
			logger.Errorf("Control server failed: %v", err)
			runErr = err
		}
	}

	logger.Infof("Shutting down...")

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			logger.Warnf("Units directory watcher stop failed: %v", err)
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := controlServer.Close(closeCtx); err != nil {
		logger.Warnf("Control server close failed: %v", err)
	}

	shutdownErr := orch.Shutdown(context.Background())

	if metricsServer != nil {
		if err := metricsServer.Shutdown(closeCtx); err != nil {
			logger.Warnf("Metrics server close failed: %v", err)
		}
	}

	logger.Infof("Daemon stopped")
	if runErr != nil {
		return runErr
	}
	return shutdownErr
}

// setupMetrics wires the Prometheus collector when an address is
// configured and returns the metrics HTTP server, if any.
func setupMetrics(config *Config, logger logging.Logger) (metrics.Collector, *http.Server) {
	if config.Daemon.MetricsAddress == "" {
		return metrics.NewNoopCollector(), nil
	}

	collector := metrics.NewPrometheusCollector("verdantd")

	httpMux := http.NewServeMux()
	httpMux.Handle("/metrics", collector.Handler())
	server := &http.Server{
		Addr:    config.Daemon.MetricsAddress,
		Handler: httpMux,
	}

	go func() {
		logger.Infof("Metrics listening on %s", config.Daemon.MetricsAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	return collector, server
}

// ValidateConfigFile validates a configuration file without running.
// Useful for configuration testing and preflight checks.
func ValidateConfigFile(configFile string) error {
	_, err := LoadConfigFromFile(configFile)
	return err
}
