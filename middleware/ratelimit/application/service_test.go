package application

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

func newTestService(t *testing.T, clock *fakeClock, defaultCfg domain.Config, routes ...domain.RouteConfig) Service {
	t.Helper()
	eng, _ := newTestEngine(clock)
	b := Builder{Engine: eng}

	def, err := b.Compose(domain.Rule{Scope: domain.ScopeIP, Strategy: domain.FixedWindow, Config: defaultCfg})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	tbl, err := NewRouteTable(routes, b.Scoped)
	if err != nil {
		t.Fatalf("routes: %v", err)
	}
	bypass, err := NewBypassPolicy(BypassOptions{PrivilegedRoles: []string{"admin"}})
	if err != nil {
		t.Fatalf("bypass: %v", err)
	}
	return Service{Enabled: true, Engine: eng, Routes: tbl, Default: def, DefaultConfig: defaultCfg, Bypass: bypass}
}

func TestService_Decide_PassThroughWhenDisabled(t *testing.T) {
	svc := newTestService(t, newClock(0), cfg(1, time.Second))
	svc.Enabled = false

	for i := 0; i < 3; i++ {
		v := svc.Decide(context.Background(), domain.Request{IP: "1.1.1.1"})
		if !v.Result.Success || v.Result.Bypassed {
			t.Fatalf("expected plain pass-through, got %+v", v.Result)
		}
	}
}

func TestService_Decide_AllowsWhenNoLimiter(t *testing.T) {
	svc := Service{Enabled: true}
	v := svc.Decide(context.Background(), domain.Request{})
	if !v.Result.Success {
		t.Fatalf("expected allowed")
	}
}

func TestService_Decide_RouteOverridesDefault(t *testing.T) {
	clock := newClock(0)
	svc := newTestService(t, clock, cfg(100, time.Minute), domain.RouteConfig{
		Rule:    domain.Rule{Scope: domain.ScopeIP, Strategy: domain.FixedWindow, Config: cfg(1, time.Minute)},
		Path:    "/login",
		Methods: []string{"POST"},
	})
	ctx := context.Background()
	req := domain.Request{Method: "POST", Path: "/login", IP: "1.1.1.1"}

	if v := svc.Decide(ctx, req); !v.Result.Success || v.Result.Limit != 1 {
		t.Fatalf("expected route limit 1, got %+v", v.Result)
	}
	if v := svc.Decide(ctx, req); v.Result.Success {
		t.Fatalf("expected route limit to reject")
	}

	req.Method = "GET"
	if v := svc.Decide(ctx, req); !v.Result.Success || v.Result.Limit != 100 || v.Result.Remaining != 99 {
		t.Fatalf("expected default counters isolated from the route, got %+v", v.Result)
	}
}

func TestService_Decide_BypassDoesNotCharge(t *testing.T) {
	clock := newClock(0)
	svc := newTestService(t, clock, cfg(1, time.Minute))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		v := svc.Decide(ctx, domain.Request{IP: "1.1.1.1", Role: "admin"})
		if !v.Result.Bypassed || v.Result.BypassReason != BypassPrivilegedRole || v.Result.Remaining != 1 {
			t.Fatalf("expected bypass with full quota, got %+v", v.Result)
		}
		if len(v.Charges) != 0 {
			t.Fatalf("expected no charges on bypass")
		}
	}
	if v := svc.Decide(ctx, domain.Request{IP: "1.1.1.1"}); !v.Result.Success {
		t.Fatalf("expected quota untouched by bypassed requests")
	}
}

func TestService_Decide_NotifiesObserverOnRejection(t *testing.T) {
	clock := newClock(0)
	var seen []domain.Result
	c := cfg(1, time.Minute)
	c.OnLimitReached = domain.ObserverFunc(func(_ domain.Request, res domain.Result) { seen = append(seen, res) })
	svc := newTestService(t, clock, c)
	ctx := context.Background()

	svc.Decide(ctx, domain.Request{IP: "1.1.1.1"})
	svc.Decide(ctx, domain.Request{IP: "1.1.1.1"})
	svc.Decide(ctx, domain.Request{IP: "1.1.1.1"})

	if len(seen) != 2 {
		t.Fatalf("expected observer on every rejection, got %d", len(seen))
	}
	if seen[0].Success || seen[0].RetryAfter <= 0 {
		t.Fatalf("expected rejected result with RetryAfter, got %+v", seen[0])
	}
}

func TestService_Refund(t *testing.T) {
	clock := newClock(0)
	c := cfg(1, time.Minute)
	c.SkipFailedRequests = true
	svc := newTestService(t, clock, c)
	ctx := context.Background()
	req := domain.Request{IP: "1.1.1.1"}

	v := svc.Decide(ctx, req)
	if !WantsRefund(v) {
		t.Fatalf("expected refund to be possible")
	}
	if svc.Refund(ctx, v, 200) {
		t.Fatalf("expected no refund for successful response")
	}
	if svc.Decide(ctx, req).Result.Success {
		t.Fatalf("expected charge kept after success")
	}

	clock.Advance(time.Minute)
	v = svc.Decide(ctx, req)
	if !svc.Refund(ctx, v, 502) {
		t.Fatalf("expected refund for failed response")
	}
	if !svc.Decide(ctx, req).Result.Success {
		t.Fatalf("expected quota restored after refund")
	}
}
