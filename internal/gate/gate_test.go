package gate

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ent0n29/turnstile/internal/clock"
)

func newFakeClock() *clock.Fake {
	return clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func mustUnlock(t *testing.T, g *Gate, phrase string) {
	t.Helper()
	if !g.TryUnlock(phrase) {
		t.Fatalf("TryUnlock(%q) = false, want true", phrase)
	}
}

func TestGateWithoutPassphraseIsAlwaysUnlocked(t *testing.T) {
	c := newFakeClock()
	g := New("", time.Minute, c)

	if g.Enabled() {
		t.Fatalf("Enabled() = true without passphrase")
	}
	g.Lock()
	c.Advance(time.Hour)
	if !g.IsUnlocked() {
		t.Fatalf("IsUnlocked() = false, want always unlocked")
	}
	if !g.TryUnlock("anything") {
		t.Fatalf("TryUnlock() = false on a disabled gate")
	}
}

func TestGateStartsLockedAndUnlocksOnMatch(t *testing.T) {
	g := New("open sesame", 15*time.Minute, newFakeClock())

	if g.IsUnlocked() {
		t.Fatalf("new gate is unlocked")
	}
	if g.TryUnlock("wrong") || g.IsUnlocked() {
		t.Fatalf("wrong passphrase unlocked the gate")
	}
	mustUnlock(t, g, "  open sesame \n")
	if !g.IsUnlocked() {
		t.Fatalf("IsUnlocked() = false after a matching passphrase")
	}
}

func TestGateLazyIdleLock(t *testing.T) {
	c := newFakeClock()
	g := New("pw", 15*time.Minute, c)
	var reasons []Reason
	g.SetLockHook(func(r Reason) { reasons = append(reasons, r) })

	mustUnlock(t, g, "pw")
	c.Advance(15 * time.Minute)
	if !g.IsUnlocked() {
		t.Fatalf("locked at exactly the idle threshold")
	}

	c.Advance(time.Second)
	if g.IsUnlocked() {
		t.Fatalf("IsUnlocked() = true past the idle threshold")
	}
	if want := []Reason{ReasonIdle}; !reflect.DeepEqual(reasons, want) {
		t.Fatalf("lock reasons = %v, want %v", reasons, want)
	}
}

func TestGateTouchKeepsAlive(t *testing.T) {
	c := newFakeClock()
	g := New("pw", 10*time.Minute, c)
	mustUnlock(t, g, "pw")

	for i := 0; i < 5; i++ {
		c.Advance(9 * time.Minute)
		g.Touch()
	}
	if !g.IsUnlocked() {
		t.Fatalf("IsUnlocked() = false although activity kept touching the gate")
	}
}

func TestGateManualLock(t *testing.T) {
	g := New("pw", 0, newFakeClock())
	var reasons []Reason
	g.SetLockHook(func(r Reason) { reasons = append(reasons, r) })

	mustUnlock(t, g, "pw")
	g.Lock()
	g.Lock()
	if g.IsUnlocked() {
		t.Fatalf("IsUnlocked() = true after Lock")
	}
	// The hook fires only on the transition.
	if want := []Reason{ReasonManual}; !reflect.DeepEqual(reasons, want) {
		t.Fatalf("lock reasons = %v, want %v", reasons, want)
	}
}

func TestGateZeroIdleTimeoutNeverAutoLocks(t *testing.T) {
	c := newFakeClock()
	g := New("pw", 0, c)
	mustUnlock(t, g, "pw")
	c.Advance(72 * time.Hour)
	if !g.IsUnlocked() {
		t.Fatalf("auto-locked with idle timeout disabled")
	}
	if g.Sweep() {
		t.Fatalf("Sweep() = true with idle timeout disabled")
	}
}

func TestGateSweeperLocksWithoutTraffic(t *testing.T) {
	c := newFakeClock()
	g := New("pw", 15*time.Minute, c)

	var mu sync.Mutex
	var reasons []Reason
	g.SetLockHook(func(r Reason) {
		mu.Lock()
		reasons = append(reasons, r)
		mu.Unlock()
	})
	mustUnlock(t, g, "pw")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g.StartSweeper(ctx, time.Minute)

	for i := 0; i < 16; i++ {
		c.Advance(time.Minute)
	}
	deadline := time.Now().Add(time.Second)
	for g.State().Unlocked {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not lock an idle gate")
		}
		c.Advance(time.Minute)
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if want := []Reason{ReasonIdle}; !reflect.DeepEqual(reasons, want) {
		t.Fatalf("lock reasons = %v, want %v", reasons, want)
	}
}
