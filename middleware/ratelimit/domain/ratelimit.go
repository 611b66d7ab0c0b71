package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"time"
)

// Key é o digest da identidade do cliente (nunca o identificador cru).
type Key string

// Bucket separa cotas independentes (ex: "timetable" e "homework").
type Bucket string

// IdentityHasher transforma o identificador cru (código + data de nascimento)
// em um digest de mão única. O salt é fixo por processo.
type IdentityHasher interface {
	Hash(identifier string) (Key, error)
}

// WindowStore guarda um registro por requisição aceita, cada um com TTL próprio
// igual à janela. A contagem dos registros vivos define a cota restante.
//
// Acquire precisa ser atômico em relação a (bucket, key): conta os registros vivos
// e, somente se houver espaço, grava um novo. Ao rejeitar, nada é gravado.
type WindowStore interface {
	Acquire(ctx context.Context, bucket Bucket, key Key, limit int, window time.Duration) (Decision, error)
}

type Decision struct {
	Allowed bool
	// Key é o digest que foi consultado.
	Key Key
	// Remaining é quantos registros ainda cabem na janela após esta decisão.
	Remaining int
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}
