package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(ms int64) *fakeClock { return &fakeClock{now: time.UnixMilli(ms)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.now = time.UnixMilli(ms)
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestEngine(clock *fakeClock, opts ...EngineOption) (*Engine, *infra.MemoryStore) {
	store := infra.NewMemoryStore(infra.WithClock(clock.Now))
	opts = append([]EngineOption{WithNow(clock.Now), WithLogger(discardLogger())}, opts...)
	return NewEngine(store, opts...), store
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// lockedBuffer coleta as linhas de log para contagem nos testes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), substr)
}

var errBoom = errors.New("connection refused")

// brokenStore falha todas as operações.
type brokenStore struct{}

func (brokenStore) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errBoom
}

func (brokenStore) IncrSliding(context.Context, string, string, time.Duration) (int64, int64, error) {
	return 0, 0, errBoom
}

func (brokenStore) TakeToken(context.Context, string, int, time.Duration, time.Time) (bool, float64, error) {
	return false, 0, errBoom
}
func (brokenStore) Decr(context.Context, string) error { return errBoom }
func (brokenStore) ReturnToken(context.Context, string, int) error { return errBoom }
func (brokenStore) DeleteMatching(context.Context, string) (int, error) { return 0, errBoom }
func (brokenStore) Ping(context.Context) error { return errBoom }

// slowStore bloqueia até o contexto expirar.
type slowStore struct{ brokenStore }

func (slowStore) IncrWindow(ctx context.Context, _ string, _ time.Duration) (int64, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

// recordingStore guarda as chaves pedidas em IncrSliding.
type recordingStore struct {
	*infra.MemoryStore
	sliding []string
}

func (s *recordingStore) IncrSliding(ctx context.Context, current, previous string, ttl time.Duration) (int64, int64, error) {
	s.sliding = append(s.sliding, current, previous)
	return s.MemoryStore.IncrSliding(ctx, current, previous, ttl)
}

var (
	_ domain.CounterStore = brokenStore{}
	_ domain.CounterStore = (*recordingStore)(nil)
)

func cfg(limit int, window time.Duration) domain.Config {
	return domain.Config{Max: limit, Window: window}.WithDefaults()
}
