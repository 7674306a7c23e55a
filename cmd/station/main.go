// Command station runs a DIM network station: the edge server that
// authenticates client sessions, verifies and classifies inbound messages,
// and routes them to local sessions, offline storage, or neighbor stations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/dim-network/station/internal/config"
)

// shutdownTimeout bounds how long graceful shutdown waits for in-flight
// connections and background loops to stop.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to station configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("station starting",
		slog.String("station_id", cfg.ANS.StationID()),
		slog.String("server_addr", cfg.Server.Addr()),
		slog.String("metrics_addr", cfg.Metrics.Addr))

	reg := prometheus.NewRegistry()
	c, err := wire(cfg, reg, logger)
	if err != nil {
		logger.Error("failed to wire station components", slog.String("error", err.Error()))
		return 1
	}
	if c.stores.sqlite != nil {
		defer c.stores.sqlite.Close()
	}

	if err := runServers(cfg, c, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("station exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("station stopped")
	return 0
}

// runServers starts the Gate listener, admin/metrics HTTP server, and the
// dispatcher/push background loops under one errgroup with a
// signal-aware context, mirroring the graceful-shutdown pattern used
// throughout this daemon family.
func runServers(cfg *config.Config, c *components, reg *prometheus.Registry, logger *slog.Logger, configPath string, logLevel *slog.LevelVar) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr(), err)
	}

	g, gCtx := errgroup.WithContext(ctx)
	adminSrv := newAdminServer(cfg.Metrics, reg, c, serveWebsocket(gCtx, c, logger))

	g.Go(func() error {
		return serveStation(gCtx, ln, c, logger)
	})
	g.Go(func() error {
		return c.dispatcher.Run(gCtx, c.roamer)
	})
	g.Go(func() error {
		return c.push.Run(gCtx)
	})
	g.Go(func() error {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})

	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(adminSrv, ln, logger)
	})

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		return err
	}
	return nil
}

// gracefulShutdown stops accepting new work and drains the admin HTTP
// server within shutdownTimeout.
func gracefulShutdown(adminSrv *http.Server, ln net.Listener, logger *slog.Logger) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), shutdownTimeout)
	defer cancel()

	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown error", slog.String("error", err.Error()))
	}
	ln.Close()
	return nil
}

// startDaemonGoroutines launches the systemd watchdog keepalive and the
// SIGHUP config-reload handler.
func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading configuration")
				reloadConfig(configPath, logLevel, logger)
			}
		}
	})
}

// reloadConfig reloads the configuration file and applies the subset of
// settings that can change without a restart: the dynamic log level.
// Neighbor/ANS/store wiring requires a restart in this implementation, so
// those fields are neither applied nor logged; only the old and new log
// levels are logged (§6).
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()))
		return
	}
	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)
	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar so
// SIGHUP reload can adjust verbosity without restarting the process.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// notifyReady sends READY=1 to systemd, if running under it.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, if running under it.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd at half the
// configured interval, if a watchdog is configured.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("watchdog keepalive failed", slog.String("error", err.Error()))
			}
		}
	}
}
