package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"classcharts-ical/middleware/ratelimit/domain"
)

var ErrEmptyIdentifier = errors.New("ratelimit: empty identifier")

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
// O identificador cru só existe aqui: o store recebe apenas o digest.
type Service struct {
	Store  domain.WindowStore
	Hasher domain.IdentityHasher
	// RetryAfter é usado quando o store não sabe dizer quando a janela libera.
	RetryAfter time.Duration
}

// TryAcquire aceita a requisição se o par (bucket, digest(identifier)) tiver menos
// de allowed registros vivos, gravando um novo registro que expira em window.
//
// Erros do store são devolvidos ao chamador; quem decide fail-open ou
// fail-closed é a camada HTTP.
func (s Service) TryAcquire(ctx context.Context, bucket domain.Bucket, identifier string, allowed int, window time.Duration) (domain.Decision, error) {
	if s.Store == nil {
		return domain.Decision{Allowed: true}, nil
	}
	if s.RetryAfter <= 0 {
		s.RetryAfter = 1 * time.Second
	}
	if strings.TrimSpace(identifier) == "" {
		return domain.Decision{}, ErrEmptyIdentifier
	}
	if allowed <= 0 || window <= 0 {
		return domain.Decision{Allowed: false, RetryAfter: s.RetryAfter}, nil
	}
	if s.Hasher == nil {
		return domain.Decision{}, errors.New("ratelimit: identity hasher not configured")
	}

	key, err := s.Hasher.Hash(identifier)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("hash identity: %w", err)
	}

	dec, err := s.Store.Acquire(ctx, bucket, key, allowed, window)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("acquire %s slot: %w", bucket, err)
	}
	dec.Key = key
	if !dec.Allowed && dec.RetryAfter <= 0 {
		dec.RetryAfter = s.RetryAfter
	}
	return dec, nil
}
