// Package domain define contratos e tipos de domínio para rate limit e concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas.
// O rate limit é uma janela deslizante por contagem: cada requisição aceita vira
// um registro com TTL igual à janela, e a cota é o número máximo de registros
// vivos por (bucket, digest da identidade).
package domain
