package lock

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestManager returns a manager with a controllable clock. The sweep
// goroutine still runs on real time but the long interval keeps it out of
// the way; expiry behavior is exercised through the fake clock.
func newTestManager(ttl time.Duration) (*Manager, *time.Time) {
	m := NewManager(ttl, time.Hour, zerolog.Nop())
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestAcquireAndStatus(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	res := m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	if !res.Success {
		t.Fatalf("Acquire: got success=false, reason %q", res.Reason)
	}
	if res.Lock == nil || res.Lock.DeviceID != "POS-A" {
		t.Fatalf("Acquire: lock record %+v", res.Lock)
	}
	if got := res.Lock.ExpiresAt.Sub(res.Lock.AcquiredAt); got != 5*time.Minute {
		t.Fatalf("TTL window: got %v, want 5m", got)
	}

	l := m.Status("demo", "store_001", "O1")
	if l == nil || l.DeviceID != "POS-A" || l.UserName != "Alice" {
		t.Fatalf("Status: got %+v", l)
	}
	if m.Status("demo", "store_001", "O2") != nil {
		t.Fatal("Status of unlocked aggregate: expected nil")
	}
}

func TestAcquireContention(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	res := m.Acquire("demo", "store_001", "O1", "POS-B", "u2", "Bob")
	if res.Success {
		t.Fatal("contended Acquire: got success=true")
	}
	if res.Reason != "held_by:POS-A" {
		t.Fatalf("contention reason: got %q", res.Reason)
	}
	if res.Lock == nil || res.Lock.DeviceID != "POS-A" {
		t.Fatalf("contention should return holder record, got %+v", res.Lock)
	}
	// The loser's attempt must not touch the holder's expiry.
	if l := m.Status("demo", "store_001", "O1"); l.DeviceID != "POS-A" {
		t.Fatalf("holder changed: %+v", l)
	}
}

func TestOwnerReacquireSlidesExpiry(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	first := m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	*now = now.Add(2 * time.Minute)
	second := m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	if !second.Success {
		t.Fatal("owner re-acquire: got success=false")
	}
	if !second.Lock.ExpiresAt.After(first.Lock.ExpiresAt) {
		t.Fatalf("expiry did not slide: first %v, second %v",
			first.Lock.ExpiresAt, second.Lock.ExpiresAt)
	}
	if got := second.Lock.ExpiresAt.Sub(*now); got != 5*time.Minute {
		t.Fatalf("renewed window: got %v, want 5m", got)
	}
}

func TestRenew(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")

	*now = now.Add(time.Minute)
	res := m.Renew("demo", "store_001", "O1", "POS-A")
	if !res.Success {
		t.Fatal("owner Renew: got success=false")
	}
	if got := res.Lock.ExpiresAt.Sub(*now); got != 5*time.Minute {
		t.Fatalf("renewed window: got %v, want 5m", got)
	}

	if res := m.Renew("demo", "store_001", "O1", "POS-B"); res.Success {
		t.Fatal("non-owner Renew: got success=true")
	}
	if res := m.Renew("demo", "store_001", "missing", "POS-A"); res.Success {
		t.Fatal("Renew of missing lock: got success=true")
	}
}

func TestRelease(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")

	if res := m.Release("demo", "store_001", "O1", "POS-B"); res.Success {
		t.Fatal("non-owner Release: got success=true")
	}
	if m.Status("demo", "store_001", "O1") == nil {
		t.Fatal("non-owner Release removed the lock")
	}

	res := m.Release("demo", "store_001", "O1", "POS-A")
	if !res.Success {
		t.Fatal("owner Release: got success=false")
	}
	if m.Status("demo", "store_001", "O1") != nil {
		t.Fatal("lock still present after release")
	}
	// Second release finds nothing.
	if res := m.Release("demo", "store_001", "O1", "POS-A"); res.Success {
		t.Fatal("double Release: got success=true")
	}
}

func TestTTLExpiry(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")

	*now = now.Add(5*time.Minute + time.Second)
	if l := m.Status("demo", "store_001", "O1"); l != nil {
		t.Fatalf("expired lock visible via Status: %+v", l)
	}
	// The expired record was lazily removed; a new device acquires freely.
	res := m.Acquire("demo", "store_001", "O1", "POS-B", "u2", "Bob")
	if !res.Success {
		t.Fatalf("Acquire after expiry: got success=false, reason %q", res.Reason)
	}
	if res.Lock.DeviceID != "POS-B" {
		t.Fatalf("new holder: got %s, want POS-B", res.Lock.DeviceID)
	}
}

func TestAcquireOverExpiredLock(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	*now = now.Add(6 * time.Minute)

	// No Status call in between: Acquire itself must treat the stale
	// record as free.
	res := m.Acquire("demo", "store_001", "O1", "POS-B", "u2", "Bob")
	if !res.Success {
		t.Fatalf("Acquire over stale record: success=false, reason %q", res.Reason)
	}
}

func TestSweepRemovesExpired(t *testing.T) {
	m, now := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	m.Acquire("demo", "store_001", "O2", "POS-B", "u2", "Bob")
	*now = now.Add(3 * time.Minute)
	m.Renew("demo", "store_001", "O2", "POS-B")
	*now = now.Add(3 * time.Minute)

	m.sweep()

	if m.Status("demo", "store_001", "O1") != nil {
		t.Fatal("sweep left expired lock O1")
	}
	if m.Status("demo", "store_001", "O2") == nil {
		t.Fatal("sweep removed renewed lock O2")
	}
}

func TestReleaseDeviceLocks(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice")
	m.Acquire("demo", "store_001", "O2", "POS-A", "u1", "Alice")
	m.Acquire("demo", "store_001", "O3", "POS-B", "u2", "Bob")

	released := m.ReleaseDeviceLocks("POS-A")
	if len(released) != 2 {
		t.Fatalf("ReleaseDeviceLocks: got %d records, want 2", len(released))
	}
	for _, l := range released {
		if l.DeviceID != "POS-A" {
			t.Fatalf("released record for wrong device: %+v", l)
		}
	}
	if m.Status("demo", "store_001", "O1") != nil || m.Status("demo", "store_001", "O2") != nil {
		t.Fatal("device locks still held after ReleaseDeviceLocks")
	}
	if m.Status("demo", "store_001", "O3") == nil {
		t.Fatal("other device's lock was released")
	}
	if again := m.ReleaseDeviceLocks("POS-A"); again != nil {
		t.Fatalf("second ReleaseDeviceLocks: got %d records, want none", len(again))
	}
}

func TestScopeIsolation(t *testing.T) {
	m, _ := newTestManager(5 * time.Minute)
	defer m.Shutdown()

	// Same aggregate id in different scopes never contends.
	if res := m.Acquire("demo", "store_001", "O1", "POS-A", "u1", "Alice"); !res.Success {
		t.Fatal("first scope acquire failed")
	}
	if res := m.Acquire("demo", "store_002", "O1", "POS-B", "u2", "Bob"); !res.Success {
		t.Fatal("second store scope contended unexpectedly")
	}
	if res := m.Acquire("acme", "store_001", "O1", "POS-C", "u3", "Cara"); !res.Success {
		t.Fatal("second tenant scope contended unexpectedly")
	}

	locks := m.ActiveLocks("demo", "store_001")
	if len(locks) != 1 || locks[0].DeviceID != "POS-A" {
		t.Fatalf("ActiveLocks scope: got %+v", locks)
	}

	st := m.Stats()
	if st.TotalLocks != 3 {
		t.Fatalf("Stats.TotalLocks: got %d, want 3", st.TotalLocks)
	}
	if st.PerTenant["demo"] != 2 || st.PerTenant["acme"] != 1 {
		t.Fatalf("Stats.PerTenant: got %v", st.PerTenant)
	}
	if st.PerStore["demo:store_001"] != 1 {
		t.Fatalf("Stats.PerStore: got %v", st.PerStore)
	}
}
