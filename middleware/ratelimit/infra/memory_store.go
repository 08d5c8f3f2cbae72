package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryStore é um CounterStore em memória com expiração por chave e limpeza
// periódica. Cada operação roda sob o mesmo mutex, o que dá a atomicidade
// exigida pelo motor.
//
// O estado é local ao processo: use apenas com uma instância (ou em testes).
type MemoryStore struct {
	mu           sync.Mutex
	entries      map[string]*memEntry
	now          func() time.Time
	cleanupEvery time.Duration
}

type memEntry struct {
	count     int64
	tokens    float64
	refilled  time.Time
	expiresAt time.Time
}

var _ domain.CounterStore = (*MemoryStore)(nil)

type MemoryStoreOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithCleanupEvery(d time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:      make(map[string]*memEntry),
		now:          time.Now,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// live retorna a entrada não expirada de key. Deve ser chamado com o lock.
func (s *MemoryStore) live(key string, now time.Time) *memEntry {
	ent, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(ent.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return ent
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil {
		ent = &memEntry{expiresAt: now.Add(ttl)}
		s.entries[key] = ent
	}
	ent.count++
	return ent.count, nil
}

func (s *MemoryStore) IncrSliding(_ context.Context, current, previous string, ttl time.Duration) (int64, int64, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.live(current, now)
	if cur == nil {
		cur = &memEntry{expiresAt: now.Add(ttl)}
		s.entries[current] = cur
	}
	cur.count++

	var prev int64
	if p := s.live(previous, now); p != nil {
		prev = p.count
	}
	return cur.count, prev, nil
}

func (s *MemoryStore) TakeToken(_ context.Context, key string, capacity int, window time.Duration, now time.Time) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ent := s.live(key, now)
	if ent == nil {
		ent = &memEntry{tokens: float64(capacity), refilled: now}
		s.entries[key] = ent
	}

	tokens := refill(ent.tokens, capacity, window, now.Sub(ent.refilled))
	allowed := false
	if tokens >= 1 {
		tokens--
		allowed = true
	}
	ent.tokens = tokens
	// relógio atrasado não recua o instante do último reabastecimento
	if now.After(ent.refilled) {
		ent.refilled = now
	}
	ent.expiresAt = ent.refilled.Add(window)
	return allowed, tokens, nil
}

// refill aplica a taxa capacity/window sobre o tempo decorrido.
// Multiplica antes de dividir para manter inteiros exatos (ex: 1s*5/5s == 1).
func refill(tokens float64, capacity int, window, elapsed time.Duration) float64 {
	if elapsed > 0 {
		tokens += float64(elapsed) * float64(capacity) / float64(window)
	}
	return min(tokens, float64(capacity))
}

func (s *MemoryStore) Decr(_ context.Context, key string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.live(key, now); ent != nil && ent.count > 0 {
		ent.count--
	}
	return nil
}

func (s *MemoryStore) ReturnToken(_ context.Context, key string, capacity int) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent := s.live(key, now); ent != nil {
		ent.tokens = min(ent.tokens+1, float64(capacity))
	}
	return nil
}

// DeleteMatching casa com a mesma semântica glob do Redis ('*' e '?').
func (s *MemoryStore) DeleteMatching(_ context.Context, pattern string) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if s.live(k, now) == nil {
			continue
		}
		if globMatch(pattern, k) {
			delete(s.entries, k)
			n++
		}
	}
	return n, nil
}

// globMatch suporta '*' (qualquer sequência, inclusive '/') e '?' (um byte).
func globMatch(pattern, s string) bool {
	p, i := 0, 0
	star, mark := -1, 0
	for i < len(s) {
		switch {
		case p < len(pattern) && (pattern[p] == '?' || pattern[p] == s[i]):
			p++
			i++
		case p < len(pattern) && pattern[p] == '*':
			star, mark = p, i
			p++
		case star >= 0:
			p = star + 1
			mark++
			i = mark
		default:
			return false
		}
	}
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, ent := range s.entries {
		if !now.Before(ent.expiresAt) {
			delete(s.entries, k)
		}
	}
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx DoneContext) {
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

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}
