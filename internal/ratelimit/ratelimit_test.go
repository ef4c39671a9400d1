package ratelimit

import (
	"testing"
	"time"
)

func TestAllowCapWithinWindow(t *testing.T) {
	t.Parallel()

	l := New(time.Hour, 3)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if !l.Allow("+919800000001", base.Add(time.Duration(i)*time.Minute)) {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if l.Allow("+919800000001", base.Add(3*time.Minute)) {
		t.Fatal("4th call within window should be blocked")
	}

	// A blocked attempt must not extend the window.
	if got := l.Pending("+919800000001", base.Add(3*time.Minute)); got != 3 {
		t.Fatalf("pending = %d, want 3", got)
	}
}

func TestAllowAfterWindowExpiry(t *testing.T) {
	t.Parallel()

	l := New(time.Hour, 3)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		l.Allow("+919800000002", base)
	}
	if l.Allow("+919800000002", base.Add(time.Minute)) {
		t.Fatal("expected block inside window")
	}
	if !l.Allow("+919800000002", base.Add(time.Hour+time.Second)) {
		t.Fatal("expected allow after window expiry")
	}
}

func TestUnknownIdentityNeverLimited(t *testing.T) {
	t.Parallel()

	l := New(time.Hour, 1)
	now := time.Now()

	for i := 0; i < 50; i++ {
		if !l.Allow(UnknownIdentity, now) {
			t.Fatal("unknown identity must always be allowed")
		}
		if !l.Allow("", now) {
			t.Fatal("empty identity must always be allowed")
		}
	}
	if got := l.Pending(UnknownIdentity, now); got != 0 {
		t.Fatalf("unknown identity should not be recorded, pending = %d", got)
	}
}

func TestIdentitiesAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(time.Hour, 1)
	now := time.Now()

	if !l.Allow("+911111111111", now) {
		t.Fatal("first caller should be allowed")
	}
	if !l.Allow("+912222222222", now) {
		t.Fatal("second caller should be allowed despite first caller's usage")
	}
	if l.Allow("+911111111111", now) {
		t.Fatal("first caller should now be blocked")
	}
}
