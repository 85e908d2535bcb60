package security

import (
	"testing"
	"time"
)

func TestRevokedTokenSetLifecycle(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	set := NewRevokedTokenSet().WithClock(func() time.Time { return base })

	set.Revoke("jti-1", base.Add(10*time.Minute))
	if !set.IsRevoked("jti-1") {
		t.Fatal("expected jti-1 to be revoked")
	}
	if set.IsRevoked("jti-2") {
		t.Fatal("jti-2 was never revoked")
	}

	// Past the expiry the entry no longer matters; the token is dead anyway.
	set.WithClock(func() time.Time { return base.Add(11 * time.Minute) })
	if set.IsRevoked("jti-1") {
		t.Fatal("expired entry must not report as revoked")
	}
}

func TestRevokedTokenSetIgnoresExpiredAndEmpty(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	set := NewRevokedTokenSet().WithClock(func() time.Time { return base })

	set.Revoke("", base.Add(time.Minute))
	set.Revoke("stale", base.Add(-time.Minute))

	if set.IsRevoked("") || set.IsRevoked("stale") {
		t.Fatal("empty and already-expired ids must not be recorded")
	}
}

func TestRevokedTokenSetPrune(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	set := NewRevokedTokenSet().WithClock(func() time.Time { return base })

	set.Revoke("short", base.Add(time.Minute))
	set.Revoke("long", base.Add(time.Hour))

	set.WithClock(func() time.Time { return base.Add(30 * time.Minute) })
	set.Prune()

	if set.IsRevoked("short") {
		t.Fatal("pruned entry must not report as revoked")
	}
	if !set.IsRevoked("long") {
		t.Fatal("live entry must survive pruning")
	}
}
