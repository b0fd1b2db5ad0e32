// Package syncmgr owns the account session: it fans sign-in out to every
// registered synchronizer in parallel and aggregates their health into a
// single status.
package syncmgr

import (
	"context"
	"errors"
	"sync"

	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/syncer"
)

// Status is the aggregate session state.
type Status string

const (
	// StatusDisconnected means no session: nothing is subscribed.
	StatusDisconnected Status = "disconnected"
	// StatusConnecting means SignIn is in flight.
	StatusConnecting Status = "connecting"
	// StatusSynced means every synchronizer reconciled and holds a live feed.
	StatusSynced Status = "synced"
	// StatusDegraded means some synchronizers fell back to cache-only
	// operation; local use continues, remote convergence is pending.
	StatusDegraded Status = "degraded"
	// StatusError means no synchronizer reached the remote.
	StatusError Status = "error"
)

// Syncable is the slice of the synchronizer surface the coordinator drives.
// Every Synchronizer[T] instantiation satisfies it.
type Syncable interface {
	Subscribe(ctx context.Context, userID string) error
	Unsubscribe()
}

type Coordinator struct {
	log logging.Logger

	mu     sync.Mutex
	syncs  []Syncable
	status Status
	userID string
}

func New(log logging.Logger, syncs ...Syncable) *Coordinator {
	return &Coordinator{
		log:    log.With("module", "syncmgr"),
		syncs:  syncs,
		status: StatusDisconnected,
	}
}

// Register adds a synchronizer. Must happen before SignIn.
func (c *Coordinator) Register(s Syncable) {
	c.mu.Lock()
	c.syncs = append(c.syncs, s)
	c.mu.Unlock()
}

// SignIn subscribes every synchronizer concurrently and settles the
// aggregate status. Cache-only fallbacks degrade the session instead of
// failing it; the returned error is non-nil only when nothing reached the
// remote. Calling SignIn on a live session is a no-op.
func (c *Coordinator) SignIn(ctx context.Context, userID string) error {
	c.mu.Lock()
	if c.status == StatusSynced || c.status == StatusDegraded || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusConnecting
	c.userID = userID
	syncs := c.syncs
	c.mu.Unlock()

	errs := make([]error, len(syncs))
	var wg sync.WaitGroup
	for i, s := range syncs {
		wg.Add(1)
		go func(i int, s Syncable) {
			defer wg.Done()
			errs[i] = s.Subscribe(ctx, userID)
		}(i, s)
	}
	wg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			c.log.Warn(ctx, "synchronizer degraded to cache", "error", err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case failed == 0:
		c.status = StatusSynced
		return nil
	case failed < len(syncs):
		c.status = StatusDegraded
		return nil
	default:
		c.status = StatusError
		return errors.Join(errs...)
	}
}

// SignOut tears down every subscription. The cache is retained so the
// device keeps enforcing from local state. Safe to call repeatedly.
func (c *Coordinator) SignOut() {
	c.mu.Lock()
	if c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	syncs := c.syncs
	c.status = StatusDisconnected
	c.userID = ""
	c.mu.Unlock()

	for _, s := range syncs {
		s.Unsubscribe()
	}
}

func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Coordinator) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

var _ Syncable = (*syncer.Synchronizer[sessionProbe])(nil)

type sessionProbe struct{}

func (sessionProbe) EntityID() string { return "" }
func (sessionProbe) OwnerID() string  { return "" }
