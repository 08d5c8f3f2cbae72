package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
)

const DefaultCredentialHeader = "X-Api-Key"

// IPFunc extrai o IP do cliente da requisição.
type IPFunc func(r *http.Request) string

type Options struct {
	Service  application.Service
	Stats    domain.StatsStore
	Identity IdentityResolver

	IPFn               IPFunc
	TrustXForwardedFor bool
	// CredentialHeader carrega a credencial comparada com a allow-list de bypass.
	CredentialHeader string

	Logger *slog.Logger
}

// ClientIP resolve o IP real: X-Forwarded-For (primeiro) e X-Real-IP quando
// confiáveis, senão o host de RemoteAddr. Retorna "" se nada servir.
func ClientIP(trustXFF bool) IPFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
			if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
				return ip
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		return strings.TrimSpace(r.RemoteAddr)
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.IPFn == nil {
		opts.IPFn = ClientIP(opts.TrustXForwardedFor)
	}
	if opts.CredentialHeader == "" {
		opts.CredentialHeader = DefaultCredentialHeader
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	svc := opts.Service

	return func(next http.Handler) http.Handler {
		if !svc.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := buildRequest(r, opts)

			v := svc.Decide(r.Context(), req)
			writeRateLimitHeaders(w.Header(), v.Result)
			recordStats(r.Context(), opts, req, v.Result)

			if !v.Result.Success {
				opts.Logger.Debug("request rejected",
					slog.String("key", v.Result.Key),
					slog.String("scope", string(v.Result.Scope)),
					slog.String("path", req.Path),
				)
				writeRejection(w, req, v)
				return
			}

			if !application.WantsRefund(v) {
				next.ServeHTTP(w, r)
				return
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if svc.Refund(context.WithoutCancel(r.Context()), v, sw.Status()) {
				opts.Logger.Debug("charge refunded", slog.String("key", v.Result.Key), slog.Int("status", sw.Status()))
			}
		})
	}
}

func buildRequest(r *http.Request, opts Options) domain.Request {
	req := domain.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		IP:         opts.IPFn(r),
		Credential: strings.TrimSpace(r.Header.Get(opts.CredentialHeader)),
		RequestID:  strings.TrimSpace(r.Header.Get(RequestIDHeader)),
	}
	if opts.Identity != nil {
		id := opts.Identity.Resolve(r)
		req.UserID, req.Role = id.UserID, id.Role
	}
	return req
}

func recordStats(ctx context.Context, opts Options, req domain.Request, res domain.Result) {
	if opts.Stats == nil {
		return
	}
	err := opts.Stats.Record(ctx, domain.StatsEvent{
		Key:      domain.Key(res.Key),
		Allowed:  res.Success,
		Scope:    res.Scope,
		Strategy: res.Strategy,
		Bypassed: res.Bypassed,
		Degraded: res.Degraded,
		Method:   req.Method,
		Path:     req.Path,
		At:       time.Now(),
	})
	if err != nil {
		opts.Logger.Warn("stats record failed", slog.String("error", err.Error()))
	}
}

// statusWriter guarda o status final para decidir o reembolso.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
