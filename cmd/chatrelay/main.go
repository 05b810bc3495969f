package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/ferrovax/chatrelay/internal/config"
	"github.com/ferrovax/chatrelay/internal/eviction"
	"github.com/ferrovax/chatrelay/internal/health"
	"github.com/ferrovax/chatrelay/internal/logging"
	"github.com/ferrovax/chatrelay/internal/metrics"
	"github.com/ferrovax/chatrelay/internal/relay"
	"github.com/ferrovax/chatrelay/internal/roster"
	"github.com/ferrovax/chatrelay/internal/server"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Presence-and-broadcast relay for registered chat identities",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("chatrelay %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s\n", cfg.Server.ListenAddress)
			fmt.Printf("  Roster file: %s\n", cfg.Store.RosterFile)
			fmt.Printf("  Grace period: %s\n", cfg.Relay.GracePeriod)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8091/health", "Health endpoint URL")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelay(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if verbose {
		cfg.Logging.Level = "debug"
	}

	logTail, lj := logging.Setup(cfg.Logging, nil)
	var reloadMu sync.Mutex // serializes SIGHUP and file-watcher reloads, guards lj
	defer func() {
		reloadMu.Lock()
		if lj != nil {
			lj.Close()
		}
		reloadMu.Unlock()
	}()

	slog.Info("starting chatrelay",
		"version", Version,
		"listen", cfg.Server.ListenAddress,
		"roster_file", cfg.Store.RosterFile,
		"grace_period", cfg.Relay.GracePeriod.String(),
	)

	// Core components. Roster loads its persisted state up front; the
	// scheduler's evicted callback closes over hub so a fired eviction
	// pushes the shrunken roster to every open connection.
	ro, err := roster.New(roster.NewFileStore(cfg.Store.RosterFile))
	if err != nil {
		return fmt.Errorf("loading roster: %w", err)
	}
	slog.Info("roster loaded", "identities", ro.Len())

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	var hub *relay.Hub
	sched := eviction.New(ro, func(string) {
		if m != nil {
			m.EvictionsTotal.WithLabelValues("fired").Inc()
		}
		hub.BroadcastRoster(context.Background())
	})
	defer sched.Stop()

	hub = relay.NewHub(ro, sched, cfg.Relay.WriteTimeout)
	if m != nil {
		hub.SetMetrics(m)
	}
	history := relay.NewHistory(cfg.Relay.HistoryLimit)

	var rl *server.RateLimiter
	if cfg.Security.RateLimit.Enabled {
		r := rate.Limit(float64(cfg.Security.RateLimit.RequestsPerMinute) / 60.0)
		rl = server.NewRateLimiter(r, cfg.Security.RateLimit.RequestsPerMinute)
		defer rl.Stop()
		slog.Info("rate limiting enabled",
			"requests_per_minute", cfg.Security.RateLimit.RequestsPerMinute,
		)
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	defer shutdownCancel()

	handler := server.New(cfg, ro, hub, history, rl, shutdownCtx)
	handler.Metrics = m

	relayServer := &http.Server{
		Addr:    cfg.Server.ListenAddress,
		Handler: handler,
	}

	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(handler.Tracker, ro, history, sched, Version, cfg.Health.Detailed)
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)

		// Metrics and log tail share the health listener
		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}
		if logTail != nil {
			healthMux.Handle("GET /logs", logTail.Handler())
		}

		healthServer = &http.Server{
			Addr:    cfg.Health.ListenAddress,
			Handler: healthMux,
		}
	}

	if healthServer != nil {
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	go func() {
		slog.Info("relay listening", "address", cfg.Server.ListenAddress)
		if err := relayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("relay server error", "error", err)
		}
	}()

	applyReload := func(newCfg *config.Config) {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		current := handler.GetConfig()
		for _, w := range config.IsReloadSafe(current, newCfg) {
			slog.Warn("config reload warning", "warning", w)
		}
		// Handlers keep reading the old config until the swap; the merged
		// copy is never written to in place.
		merged := current.ApplyReloadableFields(newCfg)
		handler.UpdateConfig(merged)
		if merged.Security.RateLimit.Enabled && rl != nil {
			r := rate.Limit(float64(merged.Security.RateLimit.RequestsPerMinute) / 60.0)
			rl.UpdateRate(r, merged.Security.RateLimit.RequestsPerMinute)
		}
		_, newLJ := logging.Setup(merged.Logging, logTail)
		if lj != nil {
			lj.Close()
		}
		lj = newLJ
		slog.Info("config reloaded successfully")
	}

	// File watcher picks up edits without a signal; SIGHUP still works.
	if configPath != "" {
		if err := config.Watch(shutdownCtx, configPath, applyReload); err != nil {
			slog.Warn("config file watch unavailable", "error", err)
		}
	}

	// Notify systemd that we're ready
	daemon.SdNotify(false, daemon.SdNotifyReady)

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec)
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			newCfg, err := config.Load(configPath)
			if err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			applyReload(newCfg)

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining connections",
				"signal", sig.String(),
				"drain_timeout", cfg.Server.DrainTimeout.String(),
			)

			watchdogCancel()
			daemon.SdNotify(false, daemon.SdNotifyStopping)

			// Close frames make every session's read loop return, which
			// runs the normal dissociate/eviction path per connection.
			hub.CloseAll(websocket.StatusGoingAway, "server shutting down")

			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
			defer cancel()

			var wg sync.WaitGroup
			if healthServer != nil {
				wg.Add(1)
				go func() {
					defer wg.Done()
					healthServer.Shutdown(ctx)
				}()
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				relayServer.Shutdown(ctx)
			}()
			wg.Wait()
			shutdownCancel()

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}
