// Package enforce derives the single "should enforcement be active" decision
// from the independent trigger flags and drives the platform blocking
// backend on edge transitions only.
package enforce

import (
	"context"
	"sync"

	"github.com/fokuslabs/focusgate/internal/logging"
)

// Flag is one independent reason enforcement should be active. Each flag is
// owned by exactly one upstream component and mutated only through SetFlag.
type Flag string

const (
	FlagTimer            Flag = "timer"
	FlagSchedule         Flag = "schedule"
	FlagRegretPrevention Flag = "regretPrevention"
	FlagAccountability   Flag = "accountability"
	FlagFamilyLock       Flag = "familyLock"
)

// Backend is the platform-specific blocking capability. Every call is
// best-effort: the aggregator's logical state is authoritative regardless of
// backend success.
type Backend interface {
	ApplyBlocks(ctx context.Context, apps []string, domains []string) error
	UpdateWebsites(ctx context.Context, domains []string) error
	RemoveAllBlocks(ctx context.Context) error
}

// Aggregator combines the trigger flags into one enforcement decision.
//
// Strict edge-triggering: the backend is invoked only on the false→true and
// true→false transitions of the OR over all flags. Clearing one flag while
// another remains set produces no backend call; deactivation waits for the
// last active flag.
type Aggregator struct {
	mu      sync.Mutex
	flags   map[Flag]bool
	apps    []string
	domains []string
	backend Backend
	lastErr error
	log     logging.Logger
}

func NewAggregator(backend Backend, log logging.Logger) *Aggregator {
	return &Aggregator{
		flags:   make(map[Flag]bool),
		backend: backend,
		log:     log.With("module", "enforce"),
	}
}

func (a *Aggregator) anyActiveLocked() bool {
	for _, v := range a.flags {
		if v {
			return true
		}
	}
	return false
}

// SetFlag records one trigger's state and recomputes the decision.
// Re-asserting the current value is a no-op. The returned error is the
// captured backend failure, if any; the flag transition itself always
// sticks.
func (a *Aggregator) SetFlag(ctx context.Context, flag Flag, active bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	before := a.anyActiveLocked()
	a.flags[flag] = active
	after := a.anyActiveLocked()

	if before == after {
		return nil
	}

	var err error
	if after {
		a.log.Info(ctx, "enforcement activating", "flag", string(flag))
		err = a.backend.ApplyBlocks(ctx, a.apps, a.domains)
	} else {
		a.log.Info(ctx, "enforcement deactivating", "flag", string(flag))
		err = a.backend.RemoveAllBlocks(ctx)
	}

	a.lastErr = err
	if err != nil {
		a.log.Error(ctx, "enforcement backend call failed", "error", err)
	}
	return err
}

// SetWebsites records the blocked-domain set. While enforcement is active
// the change is pushed to the backend immediately; while inactive it is only
// recorded for the next activation.
func (a *Aggregator) SetWebsites(ctx context.Context, domains []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.domains = append([]string(nil), domains...)
	if !a.anyActiveLocked() {
		return nil
	}

	err := a.backend.UpdateWebsites(ctx, a.domains)
	a.lastErr = err
	if err != nil {
		a.log.Error(ctx, "website update failed", "error", err)
	}
	return err
}

// SetApps records the app selection used on the next activation.
func (a *Aggregator) SetApps(apps []string) {
	a.mu.Lock()
	a.apps = append([]string(nil), apps...)
	a.mu.Unlock()
}

// AnyActive reports the current logical decision.
func (a *Aggregator) AnyActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.anyActiveLocked()
}

// FlagState returns the last-set value of one flag.
func (a *Aggregator) FlagState(flag Flag) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flags[flag]
}

// LastError returns the most recent captured backend failure. The logical
// state and the physical enforcement may diverge until Reapply or the next
// transition.
func (a *Aggregator) LastError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastErr
}

// Reapply pushes the current logical decision to the backend again; the
// retry path after a captured failure.
func (a *Aggregator) Reapply(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	if a.anyActiveLocked() {
		err = a.backend.ApplyBlocks(ctx, a.apps, a.domains)
	} else {
		err = a.backend.RemoveAllBlocks(ctx)
	}
	a.lastErr = err
	return err
}
