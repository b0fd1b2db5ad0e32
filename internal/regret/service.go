// Package regret owns the regret-prevention trigger: when a timer is
// abandoned early and the user has regret prevention enabled, enforcement
// stays on for a configured window so the abandonment cannot be impulsive.
package regret

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

type Service struct {
	windows  *syncer.Synchronizer[models.RegretWindow]
	settings *syncer.Synchronizer[models.UserSettings]
	agg      *enforce.Aggregator
	userID   string
	deviceID string
	log      logging.Logger
	now      func() time.Time
}

func New(windows *syncer.Synchronizer[models.RegretWindow], settings *syncer.Synchronizer[models.UserSettings],
	agg *enforce.Aggregator, userID, deviceID string, log logging.Logger) *Service {
	return &Service{
		windows:  windows,
		settings: settings,
		agg:      agg,
		userID:   userID,
		deviceID: deviceID,
		log:      log.With("module", "regret"),
		now:      time.Now,
	}
}

// ArmOnEarlyStop is wired as the timer service's early-stop hook. It arms a
// regret window when the user's settings ask for one; with the feature off
// it does nothing.
func (s *Service) ArmOnEarlyStop(ctx context.Context, _ time.Time) {
	settings, err := s.settings.Get(ctx, s.userID)
	if errors.Is(err, cache.ErrNotFound) {
		return
	}
	if err != nil {
		s.log.Warn(ctx, "failed to read settings, skipping regret window", "error", err)
		return
	}
	if !settings.RegretPreventionEnabled || settings.RegretWindowMinutes <= 0 {
		return
	}

	now := s.now()
	w := models.RegretWindow{
		ID:       s.userID,
		UserID:   s.userID,
		ArmedAt:  now,
		EndsAt:   now.Add(time.Duration(settings.RegretWindowMinutes) * time.Minute),
		DeviceID: s.deviceID,
	}
	if err := s.windows.Push(ctx, w); err != nil {
		s.log.Warn(ctx, "failed to arm regret window", "error", err)
		return
	}
	if err := s.agg.SetFlag(ctx, enforce.FlagRegretPrevention, true); err != nil {
		s.log.Warn(ctx, "failed to raise regret flag", "error", err)
	}
}

// Recheck recomputes the flag from the cached window; expiry is lazy.
func (s *Service) Recheck(ctx context.Context) error {
	w, err := s.windows.Get(ctx, s.userID)
	if errors.Is(err, cache.ErrNotFound) {
		return s.agg.SetFlag(ctx, enforce.FlagRegretPrevention, false)
	}
	if err != nil {
		return err
	}
	return s.agg.SetFlag(ctx, enforce.FlagRegretPrevention, w.ActiveAt(s.now()))
}

// Run keeps the flag honest across window expiry and windows armed by other
// devices.
func (s *Service) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 15 * time.Second
	}
	updates := s.windows.Updates()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Recheck(ctx); err != nil {
				s.log.Warn(ctx, "regret recheck failed", "error", err)
			}
		case _, open := <-updates:
			if !open {
				return
			}
			if err := s.Recheck(ctx); err != nil {
				s.log.Warn(ctx, "regret recheck failed", "error", err)
			}
		}
	}
}
