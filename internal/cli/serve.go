package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/taskrelay/taskrelay/internal/config"
	"github.com/taskrelay/taskrelay/internal/gateway"
	"github.com/taskrelay/taskrelay/internal/interaction"
	"github.com/taskrelay/taskrelay/internal/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator gateway and interaction core",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	levelFlag, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if levelFlag != "" {
		cfg.LogLevel = levelFlag
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("taskrelay starting",
		"listen_addr", cfg.ListenAddr,
		"metrics_addr", cfg.MetricsAddr,
		"default_timeout_s", cfg.DefaultTimeoutS)

	// Wire the core: metrics → interaction → lifecycle → gateway.
	registry := prometheus.NewRegistry()
	im := interaction.NewInteractionManager(logger)
	im.SetDefaultTimeout(cfg.DefaultTimeout())
	im.SetMetrics(metrics.NewInteraction(registry))
	lifecycle := interaction.NewLifecycleManager(im, logger)

	gw := gateway.New(im, logger)
	gw.SetTaskSummarizer(lifecycle)
	im.SetSendFunc(gw.SendQuestion)

	if err := gw.Listen(cfg.ListenAddr); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Metrics endpoint.
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(registry))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	// Periodic sweep of stale gateway question records.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept := gw.CleanupOldQuestions(cfg.MaxQuestionAge()); swept > 0 {
					logger.Info("swept stale question records", "count", swept)
				}
			}
		}
	}()

	serveErr := gw.Serve(ctx)

	// Graceful teardown: cancel active tasks, drain timers, stop metrics.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer shutdownCancel()

	lifecycle.Shutdown()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "error", err)
		}
	}

	if serveErr != nil {
		return fmt.Errorf("gateway serve: %w", serveErr)
	}
	logger.Info("taskrelay stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
