// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowStore: janela deslizante em sorted set, contagem e gravação atômicas (Lua)
//   - MemoryWindowStore: mesma semântica em memória, com janitor
//   - Argon2Hasher / SHA512Hasher: digest salgado da identidade do cliente
//   - ChanPool: semáforo simples para limite de concorrência
//   - Stats: memória, Redis (hashes) e Prometheus
package infra
