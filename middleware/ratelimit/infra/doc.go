// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore: CounterStore compartilhado com scripts Lua atômicos (go-redis)
//   - MemoryStore: CounterStore em processo, com janitor, para instância única e testes
//   - RedisStatsStore/MemoryStatsStore/PrometheusStatsStore: estatísticas de decisão
//   - SlotPool: semáforo de requisições em voo, que também serve de LoadSource
package infra
