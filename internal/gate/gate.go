// Package gate implements the passphrase lock that decides whether operator
// input is accepted.
package gate

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/turnstile/internal/clock"
)

// Reason explains a transition to Locked.
type Reason string

const (
	ReasonIdle   Reason = "idle"
	ReasonManual Reason = "manual"
)

// State is the externally visible gate state.
type State struct {
	Enabled      bool          `json:"enabled"`
	Unlocked     bool          `json:"unlocked"`
	IdleTimeout  time.Duration `json:"idle_timeout_ns"`
	LastActivity time.Time     `json:"last_activity"`
}

// Gate is Locked or Unlocked. Without a passphrase it is permanently
// Unlocked and every mutation is a no-op.
type Gate struct {
	mu           sync.Mutex
	passphrase   string
	idleTimeout  time.Duration
	clock        clock.Clock
	unlocked     bool
	lastActivity time.Time
	onLock       func(Reason)
	onUnlock     func()
}

// New creates a gate. A zero idleTimeout disables auto-lock.
func New(passphrase string, idleTimeout time.Duration, c clock.Clock) *Gate {
	c = clock.OrReal(c)
	if idleTimeout < 0 {
		idleTimeout = 0
	}
	return &Gate{
		passphrase:   passphrase,
		idleTimeout:  idleTimeout,
		clock:        c,
		unlocked:     passphrase == "",
		lastActivity: c.Now(),
	}
}

// SetLockHook registers a callback fired on every Unlocked to Locked transition.
func (g *Gate) SetLockHook(hook func(Reason)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onLock = hook
}

// SetUnlockHook registers a callback fired on every successful unlock.
func (g *Gate) SetUnlockHook(hook func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onUnlock = hook
}

// Enabled reports whether a passphrase is configured.
func (g *Gate) Enabled() bool {
	return g.passphrase != ""
}

// IsUnlocked reports the current state, locking lazily when the idle
// threshold has been exceeded.
func (g *Gate) IsUnlocked() bool {
	if !g.Enabled() {
		return true
	}
	g.mu.Lock()
	if !g.unlocked {
		g.mu.Unlock()
		return false
	}
	if g.idleExceededLocked() {
		g.unlocked = false
		hook := g.onLock
		g.mu.Unlock()
		if hook != nil {
			hook(ReasonIdle)
		}
		return false
	}
	g.mu.Unlock()
	return true
}

// TryUnlock compares the trimmed input with the passphrase. On a match the
// gate unlocks and the idle clock resets.
func (g *Gate) TryUnlock(input string) bool {
	if !g.Enabled() {
		return true
	}
	if strings.TrimSpace(input) != g.passphrase {
		return false
	}
	g.mu.Lock()
	g.unlocked = true
	g.lastActivity = g.clock.Now()
	hook := g.onUnlock
	g.mu.Unlock()
	if hook != nil {
		hook()
	}
	return true
}

// Touch resets the idle clock.
func (g *Gate) Touch() {
	if !g.Enabled() {
		return
	}
	g.mu.Lock()
	g.lastActivity = g.clock.Now()
	g.mu.Unlock()
}

// Lock forces the Locked state.
func (g *Gate) Lock() {
	if !g.Enabled() {
		return
	}
	g.mu.Lock()
	was := g.unlocked
	g.unlocked = false
	hook := g.onLock
	g.mu.Unlock()
	if was && hook != nil {
		hook(ReasonManual)
	}
}

// State returns a snapshot without triggering a lazy lock.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Enabled:      g.Enabled(),
		Unlocked:     g.unlocked,
		IdleTimeout:  g.idleTimeout,
		LastActivity: g.lastActivity,
	}
}

// Sweep re-checks the idle threshold and locks proactively. It reports
// whether the gate transitioned.
func (g *Gate) Sweep() bool {
	if !g.Enabled() {
		return false
	}
	g.mu.Lock()
	if !g.unlocked || !g.idleExceededLocked() {
		g.mu.Unlock()
		return false
	}
	g.unlocked = false
	hook := g.onLock
	g.mu.Unlock()
	if hook != nil {
		hook(ReasonIdle)
	}
	return true
}

// StartSweeper runs Sweep every interval until ctx is done. It does nothing
// when the gate is disabled or auto-lock is off.
func (g *Gate) StartSweeper(ctx context.Context, interval time.Duration) {
	if !g.Enabled() || g.idleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := g.clock.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				g.Sweep()
			}
		}
	}()
}

func (g *Gate) idleExceededLocked() bool {
	return g.idleTimeout > 0 && g.clock.Now().Sub(g.lastActivity) > g.idleTimeout
}
