package domain

import (
	"context"
	"time"
)

// CounterStore é o store compartilhado de contadores (ex: Redis).
//
// Cada operação é atômica por chave; o motor nunca faz read-then-write.
// Erros (inclusive timeout) são tratados pelo chamador como store indisponível.
type CounterStore interface {
	// IncrWindow incrementa o contador e define a expiração no primeiro incremento.
	IncrWindow(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrSliding incrementa o bucket atual e lê o anterior na mesma operação.
	IncrSliding(ctx context.Context, current, previous string, ttl time.Duration) (cur, prev int64, err error)

	// TakeToken reabastece o balde de `key` até `capacity` na taxa capacity/window
	// e consome um token se houver. Retorna o nível de tokens após a decisão.
	TakeToken(ctx context.Context, key string, capacity int, window time.Duration, now time.Time) (allowed bool, tokens float64, err error)

	// Decr desfaz uma cobrança de contador (nunca abaixo de zero).
	Decr(ctx context.Context, key string) error

	// ReturnToken devolve um token ao balde, limitado a capacity.
	ReturnToken(ctx context.Context, key string, capacity int) error

	// DeleteMatching remove as chaves que casam o padrão glob e retorna quantas.
	DeleteMatching(ctx context.Context, pattern string) (int, error)

	Ping(ctx context.Context) error
}
