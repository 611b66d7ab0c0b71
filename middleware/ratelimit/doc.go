// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (decisão allow/deny, acquire/timeout) sem net/http
//   - infra: implementações concretas (janela deslizante em Redis/memória, hash da
//     identidade, semáforo, estatísticas)
//   - ratelimit (este pacote): middlewares HTTP + extração do identificador + tradução para status/headers
//
// Fluxo em uma rota de calendário:
//
//   1) Monta o identificador cru "código/data de nascimento" a partir da rota
//   2) A camada application gera o digest e pede ao store uma vaga na janela
//   3) Se bloqueado (ou se o store falhar), responde 429 com Retry-After
//   4) Se permitido, chama o próximo handler (sincronização com o ClassCharts)
//
// Variáveis de ambiente do binário (cmd/icalbridge) controlam o comportamento,
// como RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
