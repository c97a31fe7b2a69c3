package cmd

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/clawguard/clawguard/internal/adapter/inbound/admin"
	inhttp "github.com/clawguard/clawguard/internal/adapter/inbound/http"
	"github.com/clawguard/clawguard/internal/config"
	"github.com/clawguard/clawguard/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control surface and background sweepers",
	Long: `Load configuration, seed the kill switch and lockdown state from the
environment, and serve the security.* control surface plus Prometheus
metrics until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	core, err := service.NewSecurityCore(cfg, logger)
	if err != nil {
		return err
	}
	core.Start()
	defer core.Stop()

	interceptor := service.NewInterceptor(core)
	policyAdmin, err := service.NewPolicyAdmin(core, interceptor)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := inhttp.NewMetrics(registry)
	core.SetHooks(service.Hooks{
		OnDecision: func(kind string) {
			metrics.PolicyEvaluations.WithLabelValues(kind).Inc()
		},
		OnRateLimitRefusal: func(tier string) {
			metrics.RateLimitRefusals.WithLabelValues(tier).Inc()
		},
		OnInjection:  metrics.InjectionDetections.Inc,
		OnAuditEntry: metrics.AuditEntries.Inc,
	})

	mux := http.NewServeMux()
	admin.NewHandler(core, interceptor, policyAdmin, logger).Register(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control surface listening", "addr", cfg.Server.Addr)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
