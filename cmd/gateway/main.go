package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"admission-gateway/internal/config"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)
	if err != nil {
		fatal(logger, "config error", err)
	}
	if cfg.UpstreamURL == "" {
		fatal(logger, "config error", errors.New("UPSTREAM_URL is required"))
	}

	target, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		fatal(logger, "invalid UPSTREAM_URL", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		fatal(logger, "store error", err)
	}
	defer closeStore()

	var pool *infra.SlotPool
	if cfg.Concurrency.Max > 0 {
		pool = infra.NewSlotPool(cfg.Concurrency.Max)
	}

	engine := application.NewEngine(store,
		application.WithLogger(logger),
		application.WithStoreTimeout(cfg.Store.Timeout),
	)
	builder := application.Builder{Engine: engine, Prefix: cfg.Rate.KeyPrefix}
	if cfg.Rate.Adaptive && pool != nil {
		// a ocupação do semáforo de concorrência é o fator de carga
		builder.Source = pool
	}

	defaults, err := builder.Compose(cfg.Rate.Rules...)
	if err != nil {
		fatal(logger, "rate rules error", err)
	}
	routes, err := application.NewRouteTable(cfg.Rate.Routes, builder.Scoped)
	if err != nil {
		fatal(logger, "route rules error", err)
	}
	bypass, err := application.NewBypassPolicy(cfg.Bypass)
	if err != nil {
		fatal(logger, "bypass config error", err)
	}

	svc := application.Service{
		Enabled:       cfg.Rate.Enabled,
		Engine:        engine,
		Routes:        routes,
		Default:       defaults,
		DefaultConfig: cfg.Rate.DefaultConfig(),
		Bypass:        bypass,
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	stats, closeStats, err := openStats(ctx, cfg, registry)
	if err != nil {
		fatal(logger, "rate stats error", err)
	}
	defer closeStats()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	if cfg.Admin.Enabled {
		r.Mount("/admin/ratelimit", ratelimit.AdminHandler(ratelimit.AdminOptions{
			Service:      svc,
			DefaultRules: cfg.Rate.Rules,
			Resetter:     application.Resetter{Store: store, Prefix: cfg.Rate.KeyPrefix},
			RPS:          cfg.Admin.RPS,
			Burst:        cfg.Admin.Burst,
			Logger:       logger,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Service:            svc,
			Stats:              stats,
			Identity:           identityResolver(cfg.Identity),
			TrustXForwardedFor: cfg.TrustXFF,
			CredentialHeader:   cfg.Identity.CredentialHeader,
			Logger:             logger,
		}))
		if pool != nil {
			r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
				Pool:           pool,
				RejectStatus:   http.StatusServiceUnavailable,
				AcquireTimeout: cfg.Concurrency.Timeout,
				Logger:         logger,
			}))
		}
		r.Handle("/*", proxy)
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", slog.String("addr", cfg.ListenAddr), slog.String("upstream", target.String()))
	logger.Info("rate",
		slog.Bool("enabled", cfg.Rate.Enabled),
		slog.Int("rules", len(cfg.Rate.Rules)),
		slog.Int("routes", routes.Len()),
		slog.String("prefix", cfg.Rate.KeyPrefix),
		slog.Bool("adaptive", builder.Source != nil),
		slog.Bool("trustXFF", cfg.TrustXFF),
	)
	logger.Info("store", slog.String("type", cfg.Store.Type), slog.Duration("timeout", cfg.Store.Timeout))
	logger.Info("rate-stats",
		slog.Bool("enabled", cfg.Stats.Enabled),
		slog.String("redisAddr", cfg.Stats.Redis.Addr),
		slog.String("bucket", cfg.Stats.Bucket),
		slog.Duration("ttl", cfg.Stats.TTL),
		slog.Bool("trackKeys", cfg.Stats.TrackKeys),
		slog.Bool("metrics", cfg.MetricsEnabled),
	)
	logger.Info("concurrency", slog.Int("max", cfg.Concurrency.Max), slog.Duration("acquireTimeout", cfg.Concurrency.Timeout))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "server error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.Any("error", err))
	os.Exit(1)
}

// openStore escolhe o backend de contadores. Com memória, o estado é local à
// instância e o janitor roda até ctx terminar.
func openStore(ctx context.Context, cfg config.StoreConfig) (domain.CounterStore, func(), error) {
	if cfg.Type != "redis" {
		store := infra.NewMemoryStore()
		store.StartJanitor(ctx)
		return store, func() {}, nil
	}

	rdb, err := infra.DialRedis(ctx, infra.RedisOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return infra.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil
}

func openStats(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (domain.StatsStore, func(), error) {
	var stores infra.MultiStatsStore
	closeFn := func() {}

	if cfg.MetricsEnabled {
		stores = append(stores, infra.NewPrometheusStatsStore(reg, "gateway"))
	}
	if cfg.Stats.Enabled {
		rdb, err := infra.DialRedis(ctx, infra.RedisOptions{
			Addr:     cfg.Stats.Redis.Addr,
			Password: cfg.Stats.Redis.Password,
			DB:       cfg.Stats.Redis.DB,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn = func() { _ = rdb.Close() }
		stores = append(stores, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}

	if len(stores) == 0 {
		return nil, closeFn, nil
	}
	return stores, closeFn, nil
}

// identityResolver: token primeiro, headers de um proxy confiável como fallback.
func identityResolver(cfg config.IdentityConfig) ratelimit.IdentityResolver {
	var chain ratelimit.ChainIdentity
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		chain = append(chain, ratelimit.NewJWTIdentity(cfg.JWTSecret))
	}
	if cfg.UserHeader != "" || cfg.RoleHeader != "" {
		chain = append(chain, ratelimit.HeaderIdentity{UserHeader: cfg.UserHeader, RoleHeader: cfg.RoleHeader})
	}
	if len(chain) == 0 {
		return nil
	}
	return chain
}
