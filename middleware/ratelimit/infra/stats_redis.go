package infra

import (
	"context"
	"strings"
	"time"

	"classcharts-ical/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

type RedisStatsStore struct {
	rdb *redis.Client

	prefix string
	// ttl aplica apenas em chaves de série temporal / por digest.
	// total é cumulativo e não expira.
	ttl time.Duration

	series string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsSeries define a granularidade da série temporal ("minute" ou "none").
func WithStatsSeries(series string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.series = strings.ToLower(strings.TrimSpace(series)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		series: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record grava a decisão nas chaves do endpoint:
//
//	<prefix>:total                        allowed|denied (cumulativo)
//	<prefix>:<bucket>                     allowed|denied e "<METHOD rota>:allowed|denied"
//	<prefix>:<bucket>:minute:<yyyymmddhhmm> allowed|denied (expira em ttl)
//	<prefix>:<bucket>:key:<digest>        allowed|denied (expira em ttl, só com trackKeys)
func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	field := decisionField(ev.Allowed)
	bucketKey := s.bucketKey(ev.Bucket)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	pipe.HIncrBy(ctx, bucketKey, field, 1)

	if route := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path)); route != "" {
		pipe.HIncrBy(ctx, bucketKey, route+":"+field, 1)
	}

	if s.series == "minute" {
		s.incrExpiring(ctx, pipe, bucketKey+":minute:"+at.UTC().Format("200601021504"), field)
	}

	if k := strings.TrimSpace(string(ev.Key)); s.trackKeys && k != "" {
		s.incrExpiring(ctx, pipe, bucketKey+":key:"+k, field)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) bucketKey(b domain.Bucket) string {
	name := strings.TrimSpace(string(b))
	if name == "" {
		name = "unknown"
	}
	return s.prefix + ":" + name
}

func (s *RedisStatsStore) incrExpiring(ctx context.Context, pipe redis.Pipeliner, key, field string) {
	pipe.HIncrBy(ctx, key, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
}

func decisionField(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
