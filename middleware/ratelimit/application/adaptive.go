package application

import (
	"context"
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Band é uma faixa de carga: acima de Above, max é multiplicado por MaxFactor
// e a janela por WindowFactor.
type Band struct {
	Above        float64
	MaxFactor    float64
	WindowFactor float64
}

// DefaultBands: carga > 0.8 → metade do max e janela dobrada; > 0.5 → 75% do max.
var DefaultBands = []Band{
	{Above: 0.8, MaxFactor: 0.5, WindowFactor: 2},
	{Above: 0.5, MaxFactor: 0.75, WindowFactor: 1},
}

// Controller ajusta a configuração em função do fator de carga.
// As faixas vão da mais severa para a menos severa.
type Controller struct {
	bands []Band
}

// NewController valida que as faixas são monotônicas: carga maior nunca
// resulta em limite mais permissivo.
func NewController(bands []Band) (*Controller, error) {
	for i, b := range bands {
		if b.MaxFactor <= 0 || b.MaxFactor > 1 || b.WindowFactor < 1 {
			return nil, &domain.ConfigError{Field: "adaptive.band", Value: formatBand(b), Reason: "factors must tighten the limit"}
		}
		if i == 0 {
			continue
		}
		prev := bands[i-1]
		if b.Above >= prev.Above || b.MaxFactor < prev.MaxFactor || b.WindowFactor > prev.WindowFactor {
			return nil, &domain.ConfigError{Field: "adaptive.band", Value: formatBand(b), Reason: "bands must be ordered from most to least severe"}
		}
	}
	return &Controller{bands: append([]Band(nil), bands...)}, nil
}

func (c *Controller) Adapt(cfg domain.Config, load float64) domain.Config {
	if math.IsNaN(load) {
		load = 0
	}
	load = min(max(load, 0), 1)

	for _, b := range c.bands {
		if load > b.Above {
			cfg.Max = max(1, int(math.Floor(float64(cfg.Max)*b.MaxFactor)))
			cfg.Window = time.Duration(float64(cfg.Window) * b.WindowFactor)
			return cfg
		}
	}
	return cfg
}

var defaultController = &Controller{bands: DefaultBands}

// Adapt aplica as faixas padrão.
func Adapt(cfg domain.Config, load float64) domain.Config {
	return defaultController.Adapt(cfg, load)
}

// AdaptiveLimiter lê a fonte de carga, ajusta a config e delega ao limiter base.
type AdaptiveLimiter struct {
	Base       RuleLimiter
	Source     domain.LoadSource
	Controller *Controller
}

func (l AdaptiveLimiter) Limit(ctx context.Context, req domain.Request) Verdict {
	ctrl := l.Controller
	if ctrl == nil {
		ctrl = defaultController
	}
	cfg := l.Base.Rule.Config
	if l.Source != nil {
		cfg = ctrl.Adapt(cfg, l.Source.LoadFactor())
	}
	return l.Base.limitWith(ctx, req, cfg)
}

func formatBand(b Band) string {
	return "above=" + formatFloat(b.Above) + " max=" + formatFloat(b.MaxFactor) + " window=" + formatFloat(b.WindowFactor)
}
