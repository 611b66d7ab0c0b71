package infra

import (
	"context"
	"sync"
	"time"

	"classcharts-ical/middleware/ratelimit/domain"

	"github.com/google/uuid"
)

// MemoryWindowStore é a implementação em memória da janela deslizante.
// Cada requisição aceita vira um registro com expiração própria; a limpeza
// acontece a cada Acquire e, opcionalmente, em um janitor periódico.
//
// Útil para testes e instância única. Não compartilha estado entre processos.
type MemoryWindowStore struct {
	mu           sync.Mutex
	records      map[string][]windowRecord
	now          func() time.Time
	cleanupEvery time.Duration
}

type windowRecord struct {
	id        string
	expiresAt time.Time
}

type MemoryWindowOption func(*MemoryWindowStore)

func WithCleanupEvery(d time.Duration) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.cleanupEvery = d }
}

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.now = now }
}

func NewMemoryWindowStore(opts ...MemoryWindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		records:      make(map[string][]windowRecord),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire implementa domain.WindowStore.
func (s *MemoryWindowStore) Acquire(ctx context.Context, bucket domain.Bucket, key domain.Key, limit int, window time.Duration) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}
	if limit <= 0 {
		return domain.Decision{Allowed: false}, nil
	}
	now := s.now()
	k := windowKey(bucket, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	live := liveRecords(s.records[k], now)
	if len(live) >= limit {
		s.records[k] = live
		return domain.Decision{Allowed: false, RetryAfter: earliestExpiry(live).Sub(now)}, nil
	}

	live = append(live, windowRecord{id: uuid.NewString(), expiresAt: now.Add(window)})
	s.records[k] = live
	return domain.Decision{Allowed: true, Remaining: limit - len(live)}, nil
}

// Live retorna quantos registros vivos existem para (bucket, key).
func (s *MemoryWindowStore) Live(bucket domain.Bucket, key domain.Key) int {
	now := s.now()
	k := windowKey(bucket, key)

	s.mu.Lock()
	defer s.mu.Unlock()

	// liveRecords reaproveita o array; o slice compactado precisa voltar ao mapa
	live := liveRecords(s.records[k], now)
	if len(live) == 0 {
		delete(s.records, k)
		return 0
	}
	s.records[k] = live
	return len(live)
}

func (s *MemoryWindowStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryWindowStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, recs := range s.records {
		live := liveRecords(recs, now)
		if len(live) == 0 {
			delete(s.records, k)
			continue
		}
		s.records[k] = live
	}
}

// StartJanitor inicia uma goroutine que remove registros expirados periodicamente.
// Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

func windowKey(bucket domain.Bucket, key domain.Key) string {
	return string(bucket) + ":" + string(key)
}

func liveRecords(recs []windowRecord, now time.Time) []windowRecord {
	out := recs[:0]
	for _, r := range recs {
		if r.expiresAt.After(now) {
			out = append(out, r)
		}
	}
	return out
}

func earliestExpiry(recs []windowRecord) time.Time {
	first := recs[0].expiresAt
	for _, r := range recs[1:] {
		if r.expiresAt.Before(first) {
			first = r.expiresAt
		}
	}
	return first
}
