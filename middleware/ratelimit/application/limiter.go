package application

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// Verdict é o resultado de um Limiter: o veredito, a configuração que o produziu
// e as cobranças feitas no store (para reembolso).
type Verdict struct {
	Result  domain.Result
	Config  domain.Config
	Charges []Charge
}

// Limiter decide a admissão de uma requisição.
type Limiter interface {
	Limit(ctx context.Context, req domain.Request) Verdict
}

// RuleLimiter aplica uma única regra (escopo + estratégia + config) via Engine.
type RuleLimiter struct {
	Engine *Engine
	Rule   domain.Rule
	Prefix string
	// Namespace separa os contadores de uma rota dos do pipeline padrão.
	Namespace string
}

func (l RuleLimiter) Limit(ctx context.Context, req domain.Request) Verdict {
	return l.limitWith(ctx, req, l.Rule.Config)
}

func (l RuleLimiter) limitWith(ctx context.Context, req domain.Request, cfg domain.Config) Verdict {
	key := BuildKey(req, l.Rule.Scope, l.Prefix)
	if l.Namespace != "" {
		key = capKey(key + ":" + segment(l.Namespace))
	}
	res, charge := l.Engine.Evaluate(ctx, l.Rule.Strategy, key, cfg)
	res.Scope = l.Rule.Scope

	v := Verdict{Result: res, Config: cfg}
	if charge.Key != "" {
		v.Charges = []Charge{charge}
	}
	return v
}

// Builder monta limiters a partir de regras validadas.
// Com Source != nil, cada regra passa pelo controlador adaptativo.
type Builder struct {
	Engine     *Engine
	Prefix     string
	Source     domain.LoadSource
	Controller *Controller
}

func (b Builder) Limiter(rule domain.Rule) (Limiter, error) {
	return b.Scoped("", rule)
}

// Scoped é Limiter com contadores isolados sob namespace.
func (b Builder) Scoped(namespace string, rule domain.Rule) (Limiter, error) {
	rule.Config = rule.Config.WithDefaults()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	base := RuleLimiter{Engine: b.Engine, Rule: rule, Prefix: b.Prefix, Namespace: namespace}
	if b.Source == nil {
		return base, nil
	}
	return AdaptiveLimiter{Base: base, Source: b.Source, Controller: b.Controller}, nil
}

// Compose valida as regras e monta o compositor na ordem recebida.
func (b Builder) Compose(rules ...domain.Rule) (*Composer, error) {
	if len(rules) == 0 {
		return nil, &domain.ConfigError{Field: "rules", Value: "", Reason: "at least one rule is required"}
	}
	c := &Composer{}
	for _, r := range rules {
		l, err := b.Limiter(r)
		if err != nil {
			return nil, err
		}
		c.Limiters = append(c.Limiters, l)
	}
	return c, nil
}
