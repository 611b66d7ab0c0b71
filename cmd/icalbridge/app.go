package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"classcharts-ical/classcharts"
	"classcharts-ical/config"
	"classcharts-ical/feed"
	"classcharts-ical/middleware/ratelimit/domain"
	"classcharts-ical/middleware/ratelimit/infra"
	"classcharts-ical/observability"
	"classcharts-ical/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// app agrupa o handler pronto e o que precisa ser fechado no shutdown.
type app struct {
	Handler http.Handler

	log      *zap.Logger
	rdb      *redis.Client
	memStats *infra.MemoryStatsStore
}

func newApp(ctx context.Context, cfg config.Config, log *zap.Logger) (*app, error) {
	a := &app{log: log, memStats: infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.Stats.TrackKeys))}

	if cfg.UsesRedis() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := a.rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = a.rdb.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
	}

	reg := observability.NewRegistry()

	stats := infra.MultiStats{a.memStats}
	if cfg.MetricsEnabled {
		prom, err := infra.NewPrometheusStatsStore(reg)
		if err != nil {
			a.Close()
			return nil, err
		}
		stats = append(stats, prom)
	}
	if cfg.Stats.Enabled {
		stats = append(stats, infra.NewRedisStatsStore(a.rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsSeries(cfg.Stats.Series),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}

	var metrics *feed.Metrics
	if cfg.MetricsEnabled {
		m, err := feed.NewMetrics(reg)
		if err != nil {
			a.Close()
			return nil, err
		}
		metrics = m
	}

	rl := server.RateLimitOptions{
		Stats:      stats,
		Limit:      cfg.RateLimitRequests,
		Window:     cfg.RateLimitWindow,
		RetryAfter: cfg.RetryAfter,
		AddHeaders: cfg.AddHeaders,
	}
	var health server.Pinger
	if cfg.RateEnabled {
		hasher, err := infra.NewHasher(cfg.IdentityHash, cfg.IdentitySalt)
		if err != nil {
			a.Close()
			return nil, err
		}
		store, err := newWindowStore(ctx, cfg, a.rdb)
		if err != nil {
			a.Close()
			return nil, err
		}
		rl.Store, rl.Hasher = store, hasher
		health = store
	}

	httpClient := &http.Client{Timeout: cfg.Upstream.Timeout}
	limiter := rate.NewLimiter(rate.Limit(cfg.Upstream.RPS), cfg.Upstream.Burst)
	newStudent := func(code, dob string) feed.Student {
		return classcharts.New(code, dob,
			classcharts.WithBaseURL(cfg.Upstream.BaseURL),
			classcharts.WithHTTPClient(httpClient),
			classcharts.WithLimiter(limiter),
		)
	}

	opts := server.Options{
		Logger:     log,
		NewStudent: newStudent,
		Syncer: &feed.Syncer{
			Location: cfg.Location(),
			Logger:   log,
			Metrics:  metrics,
		},
		RateLimit:          rl,
		ConcurrencyMax:     cfg.ConcurrencyMax,
		ConcurrencyTimeout: cfg.ConcurrencyTimeout,
		Health:             health,
	}
	if cfg.MetricsEnabled {
		opts.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
	}
	a.Handler = server.New(opts)
	return a, nil
}

type pingingStore interface {
	domain.WindowStore
	server.Pinger
}

func newWindowStore(ctx context.Context, cfg config.Config, rdb *redis.Client) (pingingStore, error) {
	switch cfg.RateStore {
	case config.StoreRedis:
		return infra.NewRedisWindowStore(rdb, infra.WithWindowPrefix(cfg.RateLimitPrefix)), nil
	case config.StoreMemory:
		s := infra.NewMemoryWindowStore()
		s.StartJanitor(ctx)
		return s, nil
	}
	return nil, fmt.Errorf("unknown rate store %q", cfg.RateStore)
}

// Close fecha a conexão com o Redis e registra os totais de decisões do processo.
func (a *app) Close() {
	logStatsTotals(a.log, a.memStats)
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

// logStatsTotals registra o tally em memória: total, por endpoint e por rota.
// Digests nunca vão para o log, só quantos distintos apareceram.
func logStatsTotals(log *zap.Logger, stats *infra.MemoryStatsStore) {
	total := stats.Total()
	log.Info("rate limit totals",
		zap.Int64("allowed", total.Allowed),
		zap.Int64("denied", total.Denied),
		zap.Int("identities", len(stats.ByKey())))
	for bucket, c := range stats.ByBucket() {
		log.Info("rate limit totals by bucket",
			zap.String("bucket", string(bucket)),
			zap.Int64("allowed", c.Allowed),
			zap.Int64("denied", c.Denied))
	}
	for route, c := range stats.ByRoute() {
		log.Info("rate limit totals by route",
			zap.String("route", route),
			zap.Int64("allowed", c.Allowed),
			zap.Int64("denied", c.Denied))
	}
}
