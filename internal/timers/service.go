// Package timers owns the focus-timer trigger: start/extend/stop intents
// from this device plus timer rows arriving from other devices, both feeding
// the timer enforcement flag.
package timers

import (
	"context"
	"errors"
	"time"

	"github.com/fokuslabs/focusgate/internal/cache"
	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/syncer"
)

var (
	ErrTimerAlreadyRunning = errors.New("timer already running")
	ErrNoActiveTimer       = errors.New("no active timer")
	ErrInvalidDuration     = errors.New("invalid duration")
)

type Service struct {
	sync     *syncer.Synchronizer[models.TimerState]
	agg      *enforce.Aggregator
	userID   string
	deviceID string
	log      logging.Logger
	now      func() time.Time

	// OnEarlyStop fires when this device stops a timer before its planned
	// end; the regret-prevention service hooks in here.
	OnEarlyStop func(ctx context.Context, plannedEnd time.Time)
}

func New(s *syncer.Synchronizer[models.TimerState], agg *enforce.Aggregator, userID, deviceID string, log logging.Logger) *Service {
	return &Service{
		sync:     s,
		agg:      agg,
		userID:   userID,
		deviceID: deviceID,
		log:      log.With("module", "timers"),
		now:      time.Now,
	}
}

// Current returns the user's timer row; ok is false when none exists yet.
func (s *Service) Current(ctx context.Context) (models.TimerState, bool, error) {
	t, err := s.sync.Get(ctx, s.userID)
	if errors.Is(err, cache.ErrNotFound) {
		return models.TimerState{}, false, nil
	}
	if err != nil {
		return models.TimerState{}, false, err
	}
	return t, true, nil
}

// IsActive reports whether the timer is running right now. An active row
// whose end time already passed counts as stopped even before any device has
// swept it.
func (s *Service) IsActive(ctx context.Context) (bool, error) {
	cur, ok, err := s.Current(ctx)
	if err != nil || !ok {
		return false, err
	}
	return cur.ActiveAt(s.now()), nil
}

// Start begins a focus timer of the given duration. At most one timer may be
// running per user; the row id equals the user id so a second Start from any
// device lands on the same row.
func (s *Service) Start(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}

	now := s.now()
	cur, ok, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if ok && cur.ActiveAt(now) {
		return ErrTimerAlreadyRunning
	}

	t := models.TimerState{
		ID:                   s.userID,
		UserID:               s.userID,
		IsActive:             true,
		StartTime:            now,
		EndTime:              now.Add(d),
		PlannedDurationSecs:  int64(d / time.Second),
		LastModifiedByDevice: s.deviceID,
		LastModifiedAt:       now,
	}
	if err := s.sync.Push(ctx, t); err != nil {
		return err
	}
	return s.agg.SetFlag(ctx, enforce.FlagTimer, true)
}

// Extend pushes the end of the running timer out by delta. EndTime only ever
// grows while a timer is active.
func (s *Service) Extend(ctx context.Context, delta time.Duration) error {
	if delta <= 0 {
		return ErrInvalidDuration
	}

	now := s.now()
	cur, ok, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if !ok || !cur.ActiveAt(now) {
		return ErrNoActiveTimer
	}

	cur.EndTime = cur.EndTime.Add(delta)
	cur.LastModifiedByDevice = s.deviceID
	cur.LastModifiedAt = now
	return s.sync.Update(ctx, cur)
}

// Stop ends the running timer. Stopping before the planned end fires the
// early-stop hook (regret prevention).
func (s *Service) Stop(ctx context.Context) error {
	now := s.now()
	cur, ok, err := s.Current(ctx)
	if err != nil {
		return err
	}
	if !ok || !cur.IsActive {
		return ErrNoActiveTimer
	}

	early := now.Before(cur.EndTime)
	plannedEnd := cur.EndTime

	cur.IsActive = false
	cur.LastModifiedByDevice = s.deviceID
	cur.LastModifiedAt = now
	if err := s.sync.Update(ctx, cur); err != nil {
		return err
	}

	if err := s.agg.SetFlag(ctx, enforce.FlagTimer, false); err != nil {
		return err
	}

	if early && s.OnEarlyStop != nil {
		s.OnEarlyStop(ctx, plannedEnd)
	}
	return nil
}

// Recheck recomputes the timer flag from the cached row. Expiry is lazy:
// a row that is still marked active past its EndTime deactivates the flag
// here, whichever device looks first.
func (s *Service) Recheck(ctx context.Context) error {
	now := s.now()
	cur, ok, err := s.Current(ctx)
	if err != nil {
		return err
	}

	active := ok && cur.ActiveAt(now)
	if err := s.agg.SetFlag(ctx, enforce.FlagTimer, active); err != nil {
		return err
	}

	// Sweep the expired row to inactive so other devices converge; the
	// update is conditional on our cached view, redundant sweeps are
	// payload-equal no-ops.
	if ok && cur.IsActive && !active {
		cur.IsActive = false
		cur.LastModifiedByDevice = s.deviceID
		cur.LastModifiedAt = now
		return s.sync.Update(ctx, cur)
	}
	return nil
}

// Run drives the flag from remote timer changes and from lazy expiry until
// ctx is done.
func (s *Service) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	updates := s.sync.Updates()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Recheck(ctx); err != nil {
				s.log.Warn(ctx, "timer recheck failed", "error", err)
			}
		case _, open := <-updates:
			if !open {
				return
			}
			if err := s.Recheck(ctx); err != nil {
				s.log.Warn(ctx, "timer recheck failed", "error", err)
			}
		}
	}
}
