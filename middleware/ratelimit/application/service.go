package application

import (
	"context"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service concentra a regra de aplicação do rate limit.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão:
// rota específica ou pipeline padrão → bypass → compositor → observador.
type Service struct {
	Enabled bool

	Engine  *Engine
	Routes  *RouteTable
	Default Limiter
	// DefaultConfig é usada no bypass e no info quando nenhuma rota casa.
	DefaultConfig domain.Config
	Bypass        *BypassPolicy
}

func (s Service) Decide(ctx context.Context, req domain.Request) Verdict {
	limiter, cfg := s.Default, s.DefaultConfig.WithDefaults()
	if r, ok := s.Routes.Lookup(req.Method, req.Path); ok {
		limiter, cfg = r.Limiter, r.Config.Config.WithDefaults()
	}

	if !s.Enabled || limiter == nil {
		return Verdict{Result: s.passThrough(cfg, ""), Config: cfg}
	}

	if reason := s.Bypass.Check(req, cfg); reason != "" {
		return Verdict{Result: s.passThrough(cfg, reason), Config: cfg}
	}

	v := limiter.Limit(ctx, req)
	if !v.Result.Success && v.Config.OnLimitReached != nil {
		v.Config.OnLimitReached.LimitReached(req, v.Result)
	}
	return v
}

func (s Service) passThrough(cfg domain.Config, reason string) domain.Result {
	now := time.Now()
	if s.Engine != nil {
		now = s.Engine.Now()
	}
	return domain.Result{
		Success:      true,
		Limit:        cfg.Max,
		Remaining:    cfg.Max,
		Reset:        now.Add(cfg.Window),
		Bypassed:     reason != "",
		BypassReason: reason,
	}
}

// Refund desfaz as cobranças de uma requisição admitida conforme o status final:
// SkipSuccessfulRequests para status < 400, SkipFailedRequests para >= 400.
func (s Service) Refund(ctx context.Context, v Verdict, status int) bool {
	if s.Engine == nil || len(v.Charges) == 0 || !v.Result.Success {
		return false
	}
	failed := status >= 400
	if (failed && v.Config.SkipFailedRequests) || (!failed && v.Config.SkipSuccessfulRequests) {
		s.Engine.Refund(ctx, v.Charges)
		return true
	}
	return false
}

// WantsRefund indica se a config pode exigir reembolso (evita embrulhar o writer à toa).
func WantsRefund(v Verdict) bool {
	return v.Result.Success && len(v.Charges) > 0 &&
		(v.Config.SkipSuccessfulRequests || v.Config.SkipFailedRequests)
}
