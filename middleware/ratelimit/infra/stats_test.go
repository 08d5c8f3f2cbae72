package infra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

func events() []domain.StatsEvent {
	return []domain.StatsEvent{
		{Key: "rl:ip:1", Allowed: true, Scope: domain.ScopeIP, Strategy: domain.FixedWindow, Method: "GET", Path: "/a"},
		{Key: "rl:ip:1", Allowed: false, Scope: domain.ScopeIP, Strategy: domain.FixedWindow, Method: "GET", Path: "/a"},
		{Key: "rl:ip:2", Allowed: true, Bypassed: true, Scope: domain.ScopeIP, Strategy: domain.FixedWindow, Method: "GET", Path: "/healthz"},
		{Key: "rl:ip:3", Allowed: true, Degraded: true, Scope: domain.ScopeIP, Strategy: domain.LeakyBucket, Method: "POST", Path: "/a"},
	}
}

func TestMemoryStatsStore_Aggregates(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	for _, ev := range events() {
		if err := s.Record(context.Background(), ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	total := s.Total()
	if total.Allowed != 1 || total.Denied != 1 || total.Bypassed != 1 || total.Degraded != 1 {
		t.Fatalf("unexpected totals %+v", total)
	}
	if got := s.ByRoute()["GET /a"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected route counters %+v", got)
	}
	if got := s.ByScope()[domain.ScopeIP]; got.Allowed+got.Denied+got.Degraded != 3 {
		t.Fatalf("unexpected scope counters %+v", got)
	}
	if got := s.ByKey()["rl:ip:1"]; got.Denied != 1 {
		t.Fatalf("unexpected key counters %+v", got)
	}
}

func TestRedisStatsStore_Record(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	s := NewRedisStatsStore(rdb, WithStatsPrefix("stats:"), WithStatsTrackKeys(true))
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, ev := range events() {
		ev.At = at
		if err := s.Record(context.Background(), ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := mr.HGet("stats:total", "denied"); got != "1" {
		t.Fatalf("expected denied=1, got %q", got)
	}
	if got := mr.HGet("stats:minute:202601020304", "allowed"); got != "1" {
		t.Fatalf("expected minute bucket, got %q", got)
	}
	if got := mr.HGet("stats:scope", "ip:degraded"); got != "1" {
		t.Fatalf("expected scope counter, got %q", got)
	}
	if got := mr.HGet("stats:strategy", "leaky-bucket:degraded"); got != "1" {
		t.Fatalf("expected strategy counter, got %q", got)
	}
	if got := mr.HGet("stats:route", "GET /healthz:bypassed"); got != "1" {
		t.Fatalf("expected route counter, got %q", got)
	}
	if !mr.Exists("stats:key:rl:ip:1") {
		t.Fatalf("expected per-key hash")
	}
	if mr.TTL("stats:total") != 0 {
		t.Fatalf("expected cumulative total without ttl")
	}
}

func TestPrometheusStatsStore_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewPrometheusStatsStore(reg, "gateway")
	for _, ev := range events() {
		_ = s.Record(context.Background(), ev)
	}

	if got := testutil.ToFloat64(s.Decisions().WithLabelValues("denied", "ip", "fixed-window")); got != 1 {
		t.Fatalf("expected 1 denied decision, got %v", got)
	}

	expected := `
# HELP gateway_ratelimit_decisions_total Total number of admission decisions by outcome
# TYPE gateway_ratelimit_decisions_total counter
gateway_ratelimit_decisions_total{outcome="allowed",scope="ip",strategy="fixed-window"} 1
gateway_ratelimit_decisions_total{outcome="bypassed",scope="ip",strategy="fixed-window"} 1
gateway_ratelimit_decisions_total{outcome="degraded",scope="ip",strategy="leaky-bucket"} 1
gateway_ratelimit_decisions_total{outcome="denied",scope="ip",strategy="fixed-window"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "gateway_ratelimit_decisions_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStatsStore_ReturnsFirstError(t *testing.T) {
	mem := NewMemoryStatsStore()
	first := errors.New("first")
	m := MultiStatsStore{nil, failingStats{err: first}, mem, failingStats{err: errors.New("second")}}

	if err := m.Record(context.Background(), events()[0]); !errors.Is(err, first) {
		t.Fatalf("expected first error, got %v", err)
	}
	if mem.Total().Allowed != 1 {
		t.Fatalf("expected fan-out to reach every store")
	}
}
