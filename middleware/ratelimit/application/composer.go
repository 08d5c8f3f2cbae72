package application

import (
	"context"

	"admission-gateway/middleware/ratelimit/domain"
)

// Composer avalia vários limiters da esquerda para a direita.
//
// A primeira rejeição é retornada imediatamente (limiters seguintes não são cobrados).
// Se todos admitem, vence o de menor remaining; empate fica com o reset mais próximo.
type Composer struct {
	Limiters []Limiter
}

func (c *Composer) Limit(ctx context.Context, req domain.Request) Verdict {
	var (
		best    Verdict
		found   bool
		charges []Charge
	)

	for _, l := range c.Limiters {
		v := l.Limit(ctx, req)
		charges = append(charges, v.Charges...)

		if !v.Result.Success {
			v.Charges = charges
			return v
		}
		if !found || tighter(v.Result, best.Result) {
			best, found = v, true
		}
	}

	if !found {
		return Verdict{Result: domain.Result{Success: true}}
	}
	best.Charges = charges
	return best
}

func tighter(a, b domain.Result) bool {
	if a.Remaining != b.Remaining {
		return a.Remaining < b.Remaining
	}
	return a.Reset.Before(b.Reset)
}
