package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecgard/famledger/internal/api"
	"github.com/alecgard/famledger/internal/config"
	"github.com/alecgard/famledger/internal/insight"
	"github.com/alecgard/famledger/internal/metrics"
	"github.com/alecgard/famledger/internal/ratelimit"
	"github.com/alecgard/famledger/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the famledger HTTP server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	if st.postgres != nil {
		m.RegisterDBPoolCollector(st.postgres.PoolStats)
	}

	svc := service.New(st.Store, service.Options{
		SessionTTL:     cfg.Session.TTL,
		Summarizer:     newSummarizer(cfg.Insight),
		InsightTimeout: cfg.Insight.Timeout,
		Observer:       m,
	})

	limiter := ratelimit.New(cfg.RateLimit.Attempts, cfg.RateLimit.Window)
	go pruneLimiter(ctx, limiter, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		Service:        svc,
		Metrics:        m,
		Limiter:        limiter,
		Ping:           st.ping,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr(), "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

func newSummarizer(cfg config.InsightConfig) insight.Summarizer {
	if cfg.URL == "" {
		return nil
	}
	slog.Info("insight summarizer enabled", "url", cfg.URL)
	return insight.NewHTTPSummarizer(cfg.URL, cfg.APIKey, cfg.Timeout)
}

func pruneLimiter(ctx context.Context, l *ratelimit.Limiter, every time.Duration) {
	if !l.Enabled() {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				slog.Debug("pruned rate limit buckets", "count", n)
			}
		}
	}
}
