package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"classcharts-ical/middleware/ratelimit/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript conta e grava em um único passo no Redis.
//
// Um sorted set por (bucket, digest): membro = sufixo único, score = expiração
// em ms. Registros vencidos são removidos antes da contagem; a chave inteira
// recebe PEXPIRE para sumir sozinha quando a identidade fica ociosa.
//
// KEYS[1] = chave do set
// ARGV[1] = agora (ms), ARGV[2] = janela (ms), ARGV[3] = cota, ARGV[4] = membro
// Retorno: {permitido (0/1), restante, retry-after (ms)}
var acquireScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
	local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
	local retry = 0
	if oldest[2] then
		retry = tonumber(oldest[2]) - now
	end
	return {0, 0, retry}
end
redis.call('ZADD', KEYS[1], now + window, ARGV[4])
if redis.call('PTTL', KEYS[1]) < window then
	redis.call('PEXPIRE', KEYS[1], window)
end
return {1, limit - count - 1, 0}
`)

// RedisWindowStore é a janela deslizante compartilhada entre instâncias.
type RedisWindowStore struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

type RedisWindowOption func(*RedisWindowStore)

func WithWindowPrefix(prefix string) RedisWindowOption {
	return func(s *RedisWindowStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithWindowClock troca o relógio usado para calcular expirações (testes).
func WithWindowClock(now func() time.Time) RedisWindowOption {
	return func(s *RedisWindowStore) { s.now = now }
}

func NewRedisWindowStore(rdb *redis.Client, opts ...RedisWindowOption) *RedisWindowStore {
	s := &RedisWindowStore{
		rdb:    rdb,
		prefix: "ratelimit",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire implementa domain.WindowStore.
func (s *RedisWindowStore) Acquire(ctx context.Context, bucket domain.Bucket, key domain.Key, limit int, window time.Duration) (domain.Decision, error) {
	if s == nil || s.rdb == nil {
		return domain.Decision{}, errors.New("redis window store is not initialized")
	}
	if limit <= 0 {
		return domain.Decision{Allowed: false}, nil
	}

	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := acquireScript.Run(ctx, s.rdb,
		[]string{s.recordKey(bucket, key)},
		s.now().UnixMilli(), windowMs, limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return domain.Decision{}, fmt.Errorf("redis acquire: %w", err)
	}
	if len(res) != 3 {
		return domain.Decision{}, fmt.Errorf("redis acquire: unexpected reply %v", res)
	}

	return domain.Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Live conta os registros ainda não vencidos de (bucket, key).
func (s *RedisWindowStore) Live(ctx context.Context, bucket domain.Bucket, key domain.Key) (int, error) {
	now := fmt.Sprintf("(%d", s.now().UnixMilli())
	n, err := s.rdb.ZCount(ctx, s.recordKey(bucket, key), now, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("redis live count: %w", err)
	}
	return int(n), nil
}

func (s *RedisWindowStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisWindowStore) recordKey(bucket domain.Bucket, key domain.Key) string {
	return s.prefix + ":" + string(bucket) + ":" + string(key)
}
