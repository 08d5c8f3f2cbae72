package application

import (
	"context"
	"log/slog"
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const DefaultStoreTimeout = 250 * time.Millisecond

// Charge identifica a cobrança feita no store por uma decisão.
// Só é usada para reembolso (skipSuccessfulRequests/skipFailedRequests).
type Charge struct {
	Strategy domain.Strategy
	Key      string
	Capacity int
}

type decideFunc func(ctx context.Context, key string, cfg domain.Config, now time.Time) (domain.Result, Charge, error)

// Engine executa as estratégias de contagem contra o CounterStore.
//
// Não guarda estado: cada decisão é um round trip atômico no store, com timeout.
// Falha ou timeout do store resulta em sucesso sintético (fail-open) e um warning.
type Engine struct {
	store   domain.CounterStore
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
	tracer  trace.Tracer

	table map[domain.Strategy]decideFunc
}

type EngineOption func(*Engine)

func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

func NewEngine(store domain.CounterStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   store,
		now:     time.Now,
		timeout: DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("admission-gateway/middleware/ratelimit")
	}
	e.table = map[domain.Strategy]decideFunc{
		domain.FixedWindow:   e.fixedWindow,
		domain.SlidingWindow: e.slidingWindow,
		domain.LeakyBucket:   e.leakyBucket,
	}
	return e
}

func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) Store() domain.CounterStore { return e.store }

// Decide aplica a estratégia à chave e retorna o veredito.
func (e *Engine) Decide(ctx context.Context, strategy domain.Strategy, key string, cfg domain.Config) domain.Result {
	res, _ := e.Evaluate(ctx, strategy, key, cfg)
	return res
}

// Evaluate é Decide mais a cobrança feita (zero quando falhou aberto).
func (e *Engine) Evaluate(ctx context.Context, strategy domain.Strategy, key string, cfg domain.Config) (domain.Result, Charge) {
	now := e.now()
	if e.store == nil {
		return e.failOpen(key, strategy, cfg, now), Charge{}
	}

	fn, ok := e.table[strategy]
	if !ok {
		// Regras passam por Rule.Validate na inicialização; isso não deve ocorrer.
		strategy, fn = domain.FixedWindow, e.table[domain.FixedWindow]
	}

	ctx, span := e.tracer.Start(ctx, "ratelimit.decide", trace.WithAttributes(
		attribute.String("ratelimit.strategy", string(strategy)),
		attribute.Int("ratelimit.max", cfg.Max),
		attribute.Int64("ratelimit.window_ms", cfg.Window.Milliseconds()),
	))
	defer span.End()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	res, charge, err := fn(ctx, key, cfg, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store unavailable")
		e.logger.Warn("store unavailable, failing open",
			slog.String("strategy", string(strategy)),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return e.failOpen(key, strategy, cfg, now), Charge{}
	}

	span.SetAttributes(
		attribute.Bool("ratelimit.success", res.Success),
		attribute.Int("ratelimit.remaining", res.Remaining),
	)
	res.Strategy = strategy
	res.Key = key
	return res, charge
}

func (e *Engine) failOpen(key string, strategy domain.Strategy, cfg domain.Config, now time.Time) domain.Result {
	return domain.Result{
		Success:   true,
		Limit:     cfg.Max,
		Remaining: cfg.Max,
		Reset:     now.Add(cfg.Window),
		Degraded:  true,
		Strategy:  strategy,
		Key:       key,
	}
}

// Refund desfaz as cobranças. Falhas são só logadas: o reembolso é best-effort.
func (e *Engine) Refund(ctx context.Context, charges []Charge) {
	if e.store == nil {
		return
	}
	for _, ch := range charges {
		if ch.Key == "" {
			continue
		}
		rctx, cancel := context.WithTimeout(ctx, e.timeoutOr(DefaultStoreTimeout))
		var err error
		if ch.Strategy == domain.LeakyBucket {
			err = e.store.ReturnToken(rctx, ch.Key, ch.Capacity)
		} else {
			err = e.store.Decr(rctx, ch.Key)
		}
		cancel()
		if err != nil {
			e.logger.Warn("refund failed", slog.String("key", ch.Key), slog.String("error", err.Error()))
		}
	}
}

func (e *Engine) timeoutOr(def time.Duration) time.Duration {
	if e.timeout > 0 {
		return e.timeout
	}
	return def
}

func windowMillis(cfg domain.Config) int64 {
	return max(cfg.Window.Milliseconds(), 1)
}

func (e *Engine) fixedWindow(ctx context.Context, key string, cfg domain.Config, now time.Time) (domain.Result, Charge, error) {
	windowMs := windowMillis(cfg)
	nowMs := now.UnixMilli()
	bucket := nowMs / windowMs
	resetMs := (bucket + 1) * windowMs

	storeKey := counterKey(key, "fw", bucket)
	count, err := e.store.IncrWindow(ctx, storeKey, time.Duration(resetMs-nowMs)*time.Millisecond)
	if err != nil {
		return domain.Result{}, Charge{}, err
	}

	res := domain.Result{
		Success:   count <= int64(cfg.Max),
		Limit:     cfg.Max,
		Remaining: max(0, cfg.Max-int(count)),
		Reset:     time.UnixMilli(resetMs),
	}
	if !res.Success {
		res.RetryAfter = time.Duration(resetMs-nowMs) * time.Millisecond
	}
	return res, Charge{Strategy: domain.FixedWindow, Key: storeKey}, nil
}

// SlidingWindowCount é a contagem ponderada da janela deslizante:
// current + previous*(1 - elapsed), com elapsed a fração decorrida da janela atual.
func SlidingWindowCount(current, previous int64, elapsed float64) float64 {
	elapsed = min(max(elapsed, 0), 1)
	return float64(current) + float64(previous)*(1-elapsed)
}

func (e *Engine) slidingWindow(ctx context.Context, key string, cfg domain.Config, now time.Time) (domain.Result, Charge, error) {
	windowMs := windowMillis(cfg)
	nowMs := now.UnixMilli()
	bucket := nowMs / windowMs
	start := bucket * windowMs
	resetMs := start + windowMs

	current := counterKey(key, "sw", bucket)
	previous := counterKey(key, "sw", bucket-1)
	cur, prev, err := e.store.IncrSliding(ctx, current, previous, 2*time.Duration(windowMs)*time.Millisecond)
	if err != nil {
		return domain.Result{}, Charge{}, err
	}

	effective := SlidingWindowCount(cur, prev, float64(nowMs-start)/float64(windowMs))
	res := domain.Result{
		Success:   effective <= float64(cfg.Max),
		Limit:     cfg.Max,
		Remaining: max(0, int(math.Floor(float64(cfg.Max)-effective))),
		Reset:     time.UnixMilli(resetMs),
	}
	if !res.Success {
		res.RetryAfter = time.Duration(resetMs-nowMs) * time.Millisecond
	}
	return res, Charge{Strategy: domain.SlidingWindow, Key: current}, nil
}

func (e *Engine) leakyBucket(ctx context.Context, key string, cfg domain.Config, now time.Time) (domain.Result, Charge, error) {
	windowMs := windowMillis(cfg)
	storeKey := counterKey(key, "lb")

	allowed, tokens, err := e.store.TakeToken(ctx, storeKey, cfg.Max, time.Duration(windowMs)*time.Millisecond, now)
	if err != nil {
		return domain.Result{}, Charge{}, err
	}

	// drainRate = max/windowMs tokens por ms; tempo = tokens faltantes / drainRate.
	msFor := func(missing float64) time.Duration {
		if missing <= 0 {
			return 0
		}
		return time.Duration(math.Ceil(missing*float64(windowMs)/float64(cfg.Max))) * time.Millisecond
	}

	res := domain.Result{
		Success:   allowed,
		Limit:     cfg.Max,
		Remaining: max(0, int(math.Floor(tokens))),
		Reset:     now.Add(msFor(float64(cfg.Max) - tokens)),
	}
	if !allowed {
		res.RetryAfter = msFor(1 - tokens)
	}
	return res, Charge{Strategy: domain.LeakyBucket, Key: storeKey, Capacity: cfg.Max}, nil
}
