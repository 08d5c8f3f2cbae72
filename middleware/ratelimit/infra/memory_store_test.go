package infra

import (
	"context"
	"testing"
	"time"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryStore_IncrWindowExpires(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(0)}
	s := NewMemoryStore(WithClock(clock.Now), WithCleanupEvery(0))
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := s.IncrWindow(ctx, "k", time.Second)
		if err != nil || got != want {
			t.Fatalf("expected count=%d, got %d (err=%v)", want, got, err)
		}
	}

	clock.Advance(time.Second)
	if got, _ := s.IncrWindow(ctx, "k", time.Second); got != 1 {
		t.Fatalf("expected counter to restart after ttl, got %d", got)
	}
}

func TestMemoryStore_IncrSlidingReadsPrevious(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = s.IncrWindow(ctx, "prev", time.Minute)
	_, _ = s.IncrWindow(ctx, "prev", time.Minute)

	cur, prev, err := s.IncrSliding(ctx, "cur", "prev", time.Minute)
	if err != nil || cur != 1 || prev != 2 {
		t.Fatalf("expected cur=1 prev=2, got cur=%d prev=%d err=%v", cur, prev, err)
	}
}

func TestMemoryStore_TakeTokenIgnoresClockGoingBack(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if _, tokens, _ := s.TakeToken(ctx, "b", 10, 10*time.Second, now); tokens != 9 {
		t.Fatalf("expected 9 tokens, got %v", tokens)
	}
	if _, tokens, _ := s.TakeToken(ctx, "b", 10, 10*time.Second, now.Add(-5*time.Second)); tokens != 8 {
		t.Fatalf("expected 8 tokens with lagging clock, got %v", tokens)
	}
	if _, tokens, _ := s.TakeToken(ctx, "b", 10, 10*time.Second, now.Add(time.Second)); tokens != 8 {
		t.Fatalf("expected one token refilled after 1s, got %v", tokens)
	}
}

func TestMemoryStore_TakeTokenRefills(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := s.TakeToken(ctx, "b", 2, 2*time.Second, clock.Now()); !ok {
			t.Fatalf("take %d: expected token", i+1)
		}
	}
	if ok, tokens, _ := s.TakeToken(ctx, "b", 2, 2*time.Second, clock.Now()); ok || tokens != 0 {
		t.Fatalf("expected empty bucket, got ok=%v tokens=%v", ok, tokens)
	}

	clock.Advance(500 * time.Millisecond)
	if ok, tokens, _ := s.TakeToken(ctx, "b", 2, 2*time.Second, clock.Now()); ok || tokens != 0.5 {
		t.Fatalf("expected half token, got ok=%v tokens=%v", ok, tokens)
	}

	clock.Advance(time.Hour)
	if ok, tokens, _ := s.TakeToken(ctx, "b", 2, 2*time.Second, clock.Now()); !ok || tokens != 1 {
		t.Fatalf("expected refill capped at capacity, got ok=%v tokens=%v", ok, tokens)
	}
}

func TestMemoryStore_RefundsNeverOverflow(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(0)}
	s := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, _ = s.IncrWindow(ctx, "c", time.Minute)
	_ = s.Decr(ctx, "c")
	_ = s.Decr(ctx, "c")
	if got, _ := s.IncrWindow(ctx, "c", time.Minute); got != 1 {
		t.Fatalf("expected counter floored at zero, got %d", got)
	}

	_, _, _ = s.TakeToken(ctx, "b", 3, time.Minute, clock.Now())
	_ = s.ReturnToken(ctx, "b", 3)
	_ = s.ReturnToken(ctx, "b", 3)
	if _, tokens, _ := s.TakeToken(ctx, "b", 3, time.Minute, clock.Now()); tokens != 2 {
		t.Fatalf("expected tokens capped at capacity before take, got %v", tokens)
	}
}

func TestMemoryStore_DeleteMatching(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for _, k := range []string{"rl:ip:1.1.1.1:fw:1", "rl:ip:1.1.1.1:sw:1", "rl:ip:1.1.1.10:fw:1", "rl:endpoint:GET:/a/b:fw:1"} {
		_, _ = s.IncrWindow(ctx, k, time.Minute)
	}

	if n, _ := s.DeleteMatching(ctx, "rl:ip:1.1.1.1:*"); n != 2 {
		t.Fatalf("expected 2 deleted, got %d", n)
	}
	if n, _ := s.DeleteMatching(ctx, "rl:endpoint:*"); n != 1 {
		t.Fatalf("expected '*' to cross '/', got %d", n)
	}
	if n, _ := s.DeleteMatching(ctx, "rl:ip:1.1.1.1?:fw:?"); n != 1 {
		t.Fatalf("expected '?' to match a single byte, got %d", n)
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestGlobMatch(t *testing.T) {
	cases := []struct {
		pattern, s string
		want       bool
	}{
		{"*", "", true},
		{"a*c", "abbbc", true},
		{"a*c", "abbb", false},
		{"a?c", "abc", true},
		{"a?c", "ac", false},
		{"*:x:*", "p:x:q", true},
		{"rl:*", "other", false},
	}
	for _, tc := range cases {
		if got := globMatch(tc.pattern, tc.s); got != tc.want {
			t.Fatalf("globMatch(%q, %q): expected %v", tc.pattern, tc.s, tc.want)
		}
	}
}

func TestMemoryStore_CleanupRemovesExpired(t *testing.T) {
	clock := &testClock{now: time.UnixMilli(0)}
	s := NewMemoryStore(WithClock(clock.Now), WithCleanupEvery(0))
	ctx := context.Background()

	_, _ = s.IncrWindow(ctx, "short", time.Millisecond)
	_, _ = s.IncrWindow(ctx, "long", time.Hour)

	clock.Advance(time.Second)
	s.Cleanup()
	if s.Len() != 1 {
		t.Fatalf("expected only the long-lived key, got %d", s.Len())
	}
}
