package application

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type stubLimiter struct {
	res   domain.Result
	calls int
}

func (s *stubLimiter) Limit(context.Context, domain.Request) Verdict {
	s.calls++
	return Verdict{Result: s.res, Charges: []Charge{{Key: "stub"}}}
}

func TestComposer_ReturnsFirstFailure(t *testing.T) {
	a := &stubLimiter{res: domain.Result{Success: true, Remaining: 5}}
	b := &stubLimiter{res: domain.Result{Success: false, Scope: domain.ScopeUser}}
	c := &stubLimiter{res: domain.Result{Success: true, Remaining: 1}}

	v := (&Composer{Limiters: []Limiter{a, b, c}}).Limit(context.Background(), domain.Request{})
	if v.Result.Success || v.Result.Scope != domain.ScopeUser {
		t.Fatalf("expected user scope rejection, got %+v", v.Result)
	}
	if c.calls != 0 {
		t.Fatalf("expected limiters after the failure to be skipped")
	}
	if len(v.Charges) != 2 {
		t.Fatalf("expected charges of evaluated limiters, got %d", len(v.Charges))
	}
}

func TestComposer_PicksTightestSuccess(t *testing.T) {
	now := time.UnixMilli(0)
	a := &stubLimiter{res: domain.Result{Success: true, Remaining: 3, Reset: now.Add(time.Minute)}}
	b := &stubLimiter{res: domain.Result{Success: true, Remaining: 1, Reset: now.Add(time.Hour), Scope: domain.ScopeIP}}
	c := &stubLimiter{res: domain.Result{Success: true, Remaining: 1, Reset: now.Add(time.Second), Scope: domain.ScopeGlobal}}

	v := (&Composer{Limiters: []Limiter{a, b, c}}).Limit(context.Background(), domain.Request{})
	if !v.Result.Success {
		t.Fatalf("expected success")
	}
	if v.Result.Scope != domain.ScopeGlobal {
		t.Fatalf("expected tie broken by soonest reset, got %s", v.Result.Scope)
	}
	if len(v.Charges) != 3 {
		t.Fatalf("expected all charges recorded, got %d", len(v.Charges))
	}
}

func TestComposer_RealScopesAreIndependent(t *testing.T) {
	clock := newClock(100_000)
	eng, _ := newTestEngine(clock)
	comp, err := Builder{Engine: eng}.Compose(
		domain.Rule{Scope: domain.ScopeIP, Strategy: domain.FixedWindow, Config: cfg(2, time.Minute)},
		domain.Rule{Scope: domain.ScopeGlobal, Strategy: domain.FixedWindow, Config: cfg(3, time.Minute)},
	)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	ctx := context.Background()

	first := comp.Limit(ctx, domain.Request{IP: "1.1.1.1"})
	if !first.Result.Success || first.Result.Scope != domain.ScopeIP || first.Result.Remaining != 1 {
		t.Fatalf("expected ip scope binding with remaining=1, got %+v", first.Result)
	}
	comp.Limit(ctx, domain.Request{IP: "2.2.2.2"})
	comp.Limit(ctx, domain.Request{IP: "3.3.3.3"})

	v := comp.Limit(ctx, domain.Request{IP: "4.4.4.4"})
	if v.Result.Success || v.Result.Scope != domain.ScopeGlobal {
		t.Fatalf("expected global scope to reject, got %+v", v.Result)
	}
}

func TestBuilder_RejectsInvalidRule(t *testing.T) {
	_, err := Builder{Engine: NewEngine(nil)}.Compose(domain.Rule{Scope: domain.ScopeIP, Strategy: "token-bucket", Config: cfg(1, time.Second)})
	if err == nil {
		t.Fatalf("expected configuration error")
	}
	if _, err := (Builder{}).Compose(); err == nil {
		t.Fatalf("expected error for empty rule list")
	}
}
