package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"classcharts-ical/config"
	"classcharts-ical/observability"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server. Settings come from flags, environment variables
and an optional .env file in the working directory.

SIGINT or SIGTERM shuts the server down gracefully.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			log, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return serve(ctx, cfg, log)
		},
	}

	cmd.Flags().String("listen", ":8080", "address to listen on")
	cmd.Flags().String("rate-store", config.StoreRedis, "rate limit store: redis or memory")
	cmd.Flags().String("redis-addr", "localhost:6379", "redis address")
	_ = v.BindPFlag("listen_addr", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("rate_store", cmd.Flags().Lookup("rate-store"))
	_ = v.BindPFlag("redis_addr", cmd.Flags().Lookup("redis-addr"))
	return cmd
}

func serve(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// um timetable faz 40 chamadas sequenciais ao ClassCharts
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	log.Info("listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("upstream", cfg.Upstream.BaseURL),
		zap.String("timezone", cfg.Timezone))
	log.Info("rate limit",
		zap.Bool("enabled", cfg.RateEnabled),
		zap.String("store", cfg.RateStore),
		zap.Int("requests", cfg.RateLimitRequests),
		zap.Duration("window", cfg.RateLimitWindow),
		zap.String("hash", cfg.IdentityHash))
	log.Info("concurrency",
		zap.Int("max", cfg.ConcurrencyMax),
		zap.Duration("acquire_timeout", cfg.ConcurrencyTimeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("server stopped")
	return nil
}
