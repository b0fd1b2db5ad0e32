// Package schedule owns the scheduled-window trigger: recurring blocking
// windows evaluated lazily against the wall clock.
package schedule

import (
	"context"
	"time"

	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/syncer"
)

type Checker struct {
	sync *syncer.Synchronizer[models.Schedule]
	agg  *enforce.Aggregator
	log  logging.Logger
	now  func() time.Time
}

func NewChecker(s *syncer.Synchronizer[models.Schedule], agg *enforce.Aggregator, log logging.Logger) *Checker {
	return &Checker{
		sync: s,
		agg:  agg,
		log:  log.With("module", "schedule"),
		now:  time.Now,
	}
}

// Recheck sets the schedule flag to whether any enabled window covers now.
func (c *Checker) Recheck(ctx context.Context) error {
	schedules, err := c.sync.List(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	active := false
	for _, s := range schedules {
		if s.ActiveAt(now) {
			active = true
			break
		}
	}
	return c.agg.SetFlag(ctx, enforce.FlagSchedule, active)
}

// Run rechecks on a ticker and on every schedule entity change until ctx is
// done. The ticker is what catches window boundaries; entity changes catch
// edits from any device.
func (c *Checker) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	updates := c.sync.Updates()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Recheck(ctx); err != nil {
				c.log.Warn(ctx, "schedule recheck failed", "error", err)
			}
		case _, open := <-updates:
			if !open {
				return
			}
			if err := c.Recheck(ctx); err != nil {
				c.log.Warn(ctx, "schedule recheck failed", "error", err)
			}
		}
	}
}
