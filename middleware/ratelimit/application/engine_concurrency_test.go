package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestEngine_ConcurrentDecisionsOnOneKey(t *testing.T) {
	const (
		limit   = 10
		callers = 100
	)

	stores := []struct {
		name string
		open func(t *testing.T) domain.CounterStore
	}{
		{"memory", func(t *testing.T) domain.CounterStore { return infra.NewMemoryStore() }},
		{"redis", func(t *testing.T) domain.CounterStore {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return infra.NewRedisStore(rdb)
		}},
	}
	strategies := []domain.Strategy{domain.FixedWindow, domain.SlidingWindow, domain.LeakyBucket}

	for _, st := range stores {
		for _, strategy := range strategies {
			t.Run(st.name+"/"+string(strategy), func(t *testing.T) {
				// relógio parado: nenhuma troca de bucket nem reabastecimento durante o teste
				now := time.UnixMilli(1_000_000_000)
				eng := NewEngine(st.open(t),
					WithNow(func() time.Time { return now }),
					WithStoreTimeout(5*time.Second),
					WithLogger(discardLogger()),
				)
				c := cfg(limit, time.Minute)

				results := make([]domain.Result, callers)
				start := make(chan struct{})
				var wg sync.WaitGroup
				for i := 0; i < callers; i++ {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()
						<-start
						results[i] = eng.Decide(context.Background(), strategy, "rl:ip:9.9.9.9", c)
					}(i)
				}
				close(start)
				wg.Wait()

				successes := 0
				seen := map[int]int{}
				for _, r := range results {
					if r.Degraded {
						t.Fatalf("unexpected fail-open result %+v", r)
					}
					if r.Success {
						successes++
						seen[r.Remaining]++
					}
				}
				if successes != limit {
					t.Fatalf("expected exactly %d admitted, got %d", limit, successes)
				}
				for rem := 0; rem < limit; rem++ {
					if seen[rem] != 1 {
						t.Fatalf("expected remaining=%d exactly once, got %d (all: %v)", rem, seen[rem], seen)
					}
				}
			})
		}
	}
}
