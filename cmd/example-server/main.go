package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

func main() {
	// Exemplo: injetando o middleware diretamente no seu webserver (sem proxy)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := infra.NewMemoryStore()
	store.StartJanitor(ctx)
	pool := infra.NewSlotPool(50)

	engine := application.NewEngine(store, application.WithLogger(logger))
	builder := application.Builder{Engine: engine, Source: pool}

	// 100 req/min por IP e 1000 req/min por usuário; login com janela própria
	rules := []domain.Rule{
		{Scope: domain.ScopeIP, Strategy: domain.SlidingWindow, Config: domain.Config{Window: time.Minute, Max: 100}},
		{Scope: domain.ScopeUser, Strategy: domain.FixedWindow, Config: domain.Config{Window: time.Minute, Max: 1000}},
	}
	defaults, err := builder.Compose(rules...)
	if err != nil {
		logger.Error("rules error", slog.Any("error", err))
		os.Exit(1)
	}
	routes, err := application.NewRouteTable([]domain.RouteConfig{{
		Path:    "/login",
		Methods: []string{http.MethodPost},
		Rule: domain.Rule{
			Scope:    domain.ScopeIP,
			Strategy: domain.FixedWindow,
			Config: domain.Config{
				Window:                 15 * time.Minute,
				Max:                    5,
				Message:                "Too many login attempts",
				SkipSuccessfulRequests: true,
			},
		},
	}}, builder.Scoped)
	if err != nil {
		logger.Error("routes error", slog.Any("error", err))
		os.Exit(1)
	}

	svc := application.Service{
		Enabled:       true,
		Engine:        engine,
		Routes:        routes,
		Default:       defaults,
		DefaultConfig: rules[0].Config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		// credenciais nunca conferem neste exemplo: só falhas contam
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.Handle("/admin/ratelimit/", http.StripPrefix("/admin/ratelimit", ratelimit.AdminHandler(ratelimit.AdminOptions{
		Service:      svc,
		DefaultRules: rules,
		Resetter:     application.Resetter{Store: store},
		Logger:       logger,
	})))

	h := http.Handler(mux)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Pool: pool})(h)
	h = ratelimit.Middleware(ratelimit.Options{
		Service:            svc,
		Stats:              infra.NewMemoryStatsStore(),
		Identity:           ratelimit.HeaderIdentity{UserHeader: "X-User-Id", RoleHeader: "X-User-Role"},
		TrustXForwardedFor: true,
		Logger:             logger,
	})(h)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}
