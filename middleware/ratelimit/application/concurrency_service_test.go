package application

import (
	"context"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/infra"
)

type blockingPool struct{}

func (p *blockingPool) Acquire(ctx context.Context) (func(), bool) {
	<-ctx.Done()
	return nil, false
}

func TestConcurrencyService_Acquire_AllowsWhenNoPool(t *testing.T) {
	svc := ConcurrencyService{}
	release, ok := svc.Acquire(context.Background())
	if !ok {
		t.Fatalf("expected ok")
	}
	release()
	if svc.Load() != 0 {
		t.Fatalf("expected zero load without pool")
	}
}

func TestConcurrencyService_Acquire_UsesTimeout(t *testing.T) {
	svc := ConcurrencyService{Pool: &blockingPool{}, AcquireTimeout: 10 * time.Millisecond}

	_, ok := svc.Acquire(context.Background())
	if ok {
		t.Fatalf("expected timeout and ok=false")
	}
}

func TestConcurrencyService_LoadFollowsInFlight(t *testing.T) {
	pool := infra.NewSlotPool(4)
	svc := ConcurrencyService{Pool: pool}

	r1, ok1 := svc.Acquire(context.Background())
	r2, ok2 := svc.Acquire(context.Background())
	if !ok1 || !ok2 {
		t.Fatalf("expected two slots")
	}
	if got := svc.Load(); got != 0.5 {
		t.Fatalf("expected load 0.5, got %v", got)
	}

	r1()
	r2()
	if got := svc.Load(); got != 0 {
		t.Fatalf("expected load 0 after release, got %v", got)
	}
}
