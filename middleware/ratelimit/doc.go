// Package ratelimit fornece adapters HTTP (net/http) para o motor de admissão
// e para o limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: chaves, estratégias, composição de escopos, rotas, bypass e reset
//   - infra: stores de contadores (Redis, memória), estatísticas e semáforo
//   - ratelimit (este pacote): middlewares HTTP, identidade, headers/corpo de rejeição e endpoints admin
//
// Fluxo no gateway:
//
//  1. Monta o domain.Request (IP real, usuário/papel, credencial)
//  2. Chama application.Service para obter o veredito
//  3. Escreve X-RateLimit-Limit/Remaining/Reset; se rejeitado, Retry-After + corpo JSON
//  4. Se permitido, chama o próximo handler (ex: reverse proxy) e reembolsa a
//     cobrança quando skipSuccessfulRequests/skipFailedRequests se aplicam
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_WINDOW_MS, RATE_MAX, RATE_STRATEGY, RATE_SCOPES, RATE_RULES_FILE e STORE_TYPE
// (ver internal/config).
package ratelimit
