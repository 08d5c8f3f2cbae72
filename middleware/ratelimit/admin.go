package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

type AdminOptions struct {
	Service      application.Service
	DefaultRules []domain.Rule
	Resetter     application.Resetter

	// RPS/Burst limitam o próprio endpoint administrativo (token bucket local).
	RPS   float64
	Burst int

	PingTimeout time.Duration
	Logger      *slog.Logger
}

type admin struct {
	opts     AdminOptions
	validate *validator.Validate
}

// AdminHandler expõe GET /info e POST /reset. Monte em um prefixo protegido
// (ex: r.Mount("/admin/ratelimit", AdminHandler(opts))).
func AdminHandler(opts AdminOptions) http.Handler {
	if opts.RPS <= 0 {
		opts.RPS = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	a := &admin{opts: opts, validate: validator.New(validator.WithRequiredStructEnabled())}

	r := chi.NewRouter()
	r.Use(throttle(rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst)))
	r.Get("/info", a.info)
	r.Post("/reset", a.reset)
	return r
}

func throttle(lim *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !lim.Allow() {
				w.Header().Set(HeaderRetryAfter, "1")
				writeJSONError(w, http.StatusTooManyRequests, "admin rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type ruleInfo struct {
	Scope    domain.Scope    `json:"scope"`
	Strategy domain.Strategy `json:"strategy"`
	WindowMs int64           `json:"windowMs"`
	Max      int             `json:"max"`
}

type routeInfo struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
	ruleInfo
}

type storeInfo struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

type infoResponse struct {
	Enabled  bool        `json:"enabled"`
	WindowMs int64       `json:"windowMs"`
	Max      int         `json:"max"`
	Rules    []ruleInfo  `json:"rules"`
	Store    storeInfo   `json:"store"`
	Routes   []routeInfo `json:"routes"`
}

func toRuleInfo(r domain.Rule) ruleInfo {
	return ruleInfo{Scope: r.Scope, Strategy: r.Strategy, WindowMs: r.Config.Window.Milliseconds(), Max: r.Config.Max}
}

func (a *admin) info(w http.ResponseWriter, r *http.Request) {
	svc := a.opts.Service
	resp := infoResponse{
		Enabled:  svc.Enabled,
		WindowMs: svc.DefaultConfig.Window.Milliseconds(),
		Max:      svc.DefaultConfig.Max,
		Rules:    make([]ruleInfo, 0, len(a.opts.DefaultRules)),
		Routes:   make([]routeInfo, 0, svc.Routes.Len()),
	}
	for _, rule := range a.opts.DefaultRules {
		resp.Rules = append(resp.Rules, toRuleInfo(rule))
	}
	for _, rc := range svc.Routes.Routes() {
		resp.Routes = append(resp.Routes, routeInfo{Path: rc.Path, Methods: rc.Methods, ruleInfo: toRuleInfo(rc.Rule)})
	}

	if store := a.opts.Resetter.Store; store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), a.opts.PingTimeout)
		err := store.Ping(ctx)
		cancel()
		resp.Store.Connected = err == nil
		if err != nil {
			resp.Store.Error = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type resetRequest struct {
	Pattern    string `json:"pattern" validate:"required_without=Scope,excluded_with=Scope,max=255"`
	Scope      string `json:"scope" validate:"omitempty,oneof=user ip all"`
	Identifier string `json:"identifier" validate:"max=255"`
}

type resetResponse struct {
	Cleared int `json:"cleared"`
}

func (a *admin) reset(w http.ResponseWriter, r *http.Request) {
	var body resetRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.validate.Struct(body); err != nil {
		writeJSONError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	var (
		n   int
		err error
	)
	if body.Pattern != "" {
		n, err = a.opts.Resetter.ResetPattern(r.Context(), body.Pattern)
	} else {
		n, err = a.opts.Resetter.ResetIdentity(r.Context(), body.Scope, body.Identifier)
	}

	switch {
	case domain.IsValidationError(err):
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.opts.Logger.Error("rate limit reset failed", slog.String("error", err.Error()))
		writeJSONError(w, http.StatusServiceUnavailable, "counter store unavailable")
		return
	}

	a.opts.Logger.Info("rate limit counters reset",
		slog.String("pattern", body.Pattern),
		slog.String("scope", body.Scope),
		slog.String("identifier", body.Identifier),
		slog.Int("cleared", n),
	)
	writeJSON(w, http.StatusOK, resetResponse{Cleared: n})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, strings.ToLower(fe.Field())+": failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}
