// Package familylock implements family-initiated enforcement locks: a family
// member requests a lock on a target, the target approves (single approval),
// and the lock holds until its deadline, swept lazily to completed from any
// device.
package familylock

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/remote"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/google/uuid"
)

// Precondition errors, raised before any write.
var (
	ErrGroupFull       = errors.New("family group is full")
	ErrAlreadyMember   = errors.New("user already belongs to a family group")
	ErrNotMember       = errors.New("user is not in the family group")
	ErrLockNotFound    = errors.New("family lock not found")
	ErrNotLockTarget   = errors.New("only the lock target may decide")
	ErrNotRequester    = errors.New("only the requester may cancel")
	ErrLockNotPending  = errors.New("family lock is not pending")
	ErrInvalidDuration = errors.New("invalid lock duration")
)

type Coordinator struct {
	locks    *syncer.Synchronizer[models.FamilyLock]
	members  *syncer.Synchronizer[models.FamilyMember]
	store    remote.Store
	agg      *enforce.Aggregator
	userID   string
	deviceID string
	log      logging.Logger
	now      func() time.Time

	mu      sync.Mutex
	expired map[string]struct{}

	// OnLockExpired fires once per lock id when this device's sweep retires
	// an elapsed lock.
	OnLockExpired func(lockID string)
}

func New(locks *syncer.Synchronizer[models.FamilyLock], members *syncer.Synchronizer[models.FamilyMember],
	store remote.Store, agg *enforce.Aggregator, userID, deviceID string, log logging.Logger) *Coordinator {
	return &Coordinator{
		locks:    locks,
		members:  members,
		store:    store,
		agg:      agg,
		userID:   userID,
		deviceID: deviceID,
		log:      log.With("module", "familylock"),
		now:      time.Now,
		expired:  make(map[string]struct{}),
	}
}

// CreateGroup creates a family group owned by the local user and joins it.
func (c *Coordinator) CreateGroup(ctx context.Context, name, displayName string) (models.FamilyGroup, error) {
	if _, err := c.membershipOf(ctx, c.userID); err == nil {
		return models.FamilyGroup{}, ErrAlreadyMember
	} else if !errors.Is(err, ErrNotMember) {
		return models.FamilyGroup{}, err
	}

	g := models.FamilyGroup{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerUser: c.userID,
		CreatedAt: c.now(),
	}
	payload, err := json.Marshal(g)
	if err != nil {
		return models.FamilyGroup{}, err
	}
	if err := c.store.Upsert(ctx, models.KindFamilyGroup, g.ID, payload); err != nil {
		return models.FamilyGroup{}, err
	}

	if err := c.join(ctx, g.ID, displayName); err != nil {
		return models.FamilyGroup{}, err
	}
	return g, nil
}

// Join adds the local user to an existing group, enforcing the size cap and
// the one-membership-per-user rule.
func (c *Coordinator) Join(ctx context.Context, groupID, displayName string) error {
	if _, err := c.membershipOf(ctx, c.userID); err == nil {
		return ErrAlreadyMember
	} else if !errors.Is(err, ErrNotMember) {
		return err
	}

	rows, err := c.store.SelectEq(ctx, models.KindFamilyMember, "family_group_id", groupID)
	if err != nil {
		return err
	}
	if len(rows) >= models.MaxFamilyMembers {
		return ErrGroupFull
	}

	return c.join(ctx, groupID, displayName)
}

func (c *Coordinator) join(ctx context.Context, groupID, displayName string) error {
	m := models.FamilyMember{
		ID:            uuid.NewString(),
		FamilyGroupID: groupID,
		UserID:        c.userID,
		DisplayName:   displayName,
		JoinedAt:      c.now(),
	}
	return c.members.Push(ctx, m)
}

// membershipOf finds a user's membership on the remote; ErrNotMember when
// there is none.
func (c *Coordinator) membershipOf(ctx context.Context, userID string) (models.FamilyMember, error) {
	rows, err := c.store.SelectEq(ctx, models.KindFamilyMember, "user_id", userID)
	if err != nil {
		return models.FamilyMember{}, err
	}
	for _, raw := range rows {
		var m models.FamilyMember
		if err := json.Unmarshal(raw, &m); err == nil && m.UserID == userID {
			return m, nil
		}
	}
	return models.FamilyMember{}, ErrNotMember
}

// RequestLock asks for an enforcement lock on another member of the
// requester's group. The lock is pending until the target approves.
func (c *Coordinator) RequestLock(ctx context.Context, targetUserID string, durationMinutes int) (models.FamilyLock, error) {
	if durationMinutes <= 0 {
		return models.FamilyLock{}, ErrInvalidDuration
	}

	mine, err := c.membershipOf(ctx, c.userID)
	if err != nil {
		return models.FamilyLock{}, err
	}
	target, err := c.membershipOf(ctx, targetUserID)
	if err != nil {
		return models.FamilyLock{}, err
	}
	if mine.FamilyGroupID != target.FamilyGroupID {
		return models.FamilyLock{}, ErrNotMember
	}

	l := models.FamilyLock{
		ID:              uuid.NewString(),
		FamilyGroupID:   mine.FamilyGroupID,
		RequesterID:     c.userID,
		TargetUserID:    targetUserID,
		Status:          models.FamilyLockPending,
		DurationMinutes: durationMinutes,
		CreatedAt:       c.now(),
	}
	payload, err := json.Marshal(l)
	if err != nil {
		return models.FamilyLock{}, err
	}
	// The lock is owner-scoped to the target, so it rides the target's feed.
	if err := c.store.Upsert(ctx, models.KindFamilyLock, l.ID, payload); err != nil {
		return models.FamilyLock{}, err
	}
	return l, nil
}

// ApproveLock is the target accepting the lock: pending→active, deadline
// starts now, enforcement begins on this device immediately.
func (c *Coordinator) ApproveLock(ctx context.Context, lockID string) error {
	l, err := c.locks.Get(ctx, lockID)
	if err != nil {
		return ErrLockNotFound
	}
	if l.TargetUserID != c.userID {
		return ErrNotLockTarget
	}
	if l.Status != models.FamilyLockPending {
		return ErrLockNotPending
	}

	now := c.now()
	l.Status = models.FamilyLockActive
	l.ApprovedAt = now
	l.ExpiresAt = now.Add(time.Duration(l.DurationMinutes) * time.Minute)
	if err := c.locks.Update(ctx, l); err != nil {
		return err
	}
	return c.agg.SetFlag(ctx, enforce.FlagFamilyLock, true)
}

// RejectLock is the target declining a pending lock.
func (c *Coordinator) RejectLock(ctx context.Context, lockID string) error {
	l, err := c.locks.Get(ctx, lockID)
	if err != nil {
		return ErrLockNotFound
	}
	if l.TargetUserID != c.userID {
		return ErrNotLockTarget
	}
	if l.Status != models.FamilyLockPending {
		return ErrLockNotPending
	}

	l.Status = models.FamilyLockRejected
	return c.locks.Update(ctx, l)
}

// CancelLock is the requester withdrawing a still-pending lock. The row
// lives on the target's scope, so the write goes straight to the remote.
func (c *Coordinator) CancelLock(ctx context.Context, lockID string) error {
	rows, err := c.store.SelectEq(ctx, models.KindFamilyLock, "id", lockID)
	if err != nil {
		return err
	}

	var l *models.FamilyLock
	for _, raw := range rows {
		var cand models.FamilyLock
		if err := json.Unmarshal(raw, &cand); err == nil && cand.ID == lockID {
			l = &cand
			break
		}
	}
	if l == nil {
		return ErrLockNotFound
	}
	if l.RequesterID != c.userID {
		return ErrNotRequester
	}
	if l.Status != models.FamilyLockPending {
		return ErrLockNotPending
	}

	l.Status = models.FamilyLockCancelled
	payload, err := json.Marshal(*l)
	if err != nil {
		return err
	}
	return c.store.Update(ctx, models.KindFamilyLock, lockID, payload)
}

// SweepExpired retires active locks whose deadline has passed: conditional
// update to completed, flag recompute, one expiry notification per lock id.
// Safe to run redundantly from any number of devices; a second sweep finds
// nothing active to retire.
func (c *Coordinator) SweepExpired(ctx context.Context) error {
	locks, err := c.locks.List(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	for _, l := range locks {
		if !l.ExpiredAt(now) {
			continue
		}

		l.Status = models.FamilyLockCompleted
		if err := c.locks.Update(ctx, l); err != nil {
			c.log.Warn(ctx, "failed to sweep expired lock", "lock_id", l.ID, "error", err)
			continue
		}

		c.mu.Lock()
		_, seen := c.expired[l.ID]
		c.expired[l.ID] = struct{}{}
		c.mu.Unlock()

		if !seen {
			c.log.Info(ctx, "family lock expired", "lock_id", l.ID)
			if c.OnLockExpired != nil {
				c.OnLockExpired(l.ID)
			}
		}
	}

	return c.recomputeFlag(ctx)
}

// recomputeFlag raises the family-lock flag iff any cached lock targeting
// the local user is active and unexpired.
func (c *Coordinator) recomputeFlag(ctx context.Context) error {
	locks, err := c.locks.List(ctx)
	if err != nil {
		return err
	}

	now := c.now()
	active := false
	for _, l := range locks {
		if l.TargetUserID == c.userID && l.Status == models.FamilyLockActive && now.Before(l.ExpiresAt) {
			active = true
			break
		}
	}
	return c.agg.SetFlag(ctx, enforce.FlagFamilyLock, active)
}

// PendingLocks lists pending locks targeting the local user.
func (c *Coordinator) PendingLocks(ctx context.Context) ([]models.FamilyLock, error) {
	locks, err := c.locks.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.FamilyLock
	for _, l := range locks {
		if l.TargetUserID == c.userID && l.Status == models.FamilyLockPending {
			out = append(out, l)
		}
	}
	return out, nil
}

// Run reacts to lock rows arriving over the feed (another family member's
// request went active, a sweep elsewhere completed one) and sweeps on a
// ticker.
func (c *Coordinator) Run(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	updates := c.locks.Updates()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SweepExpired(ctx); err != nil {
				c.log.Warn(ctx, "lock sweep failed", "error", err)
			}
		case _, open := <-updates:
			if !open {
				return
			}
			if err := c.SweepExpired(ctx); err != nil {
				c.log.Warn(ctx, "lock sweep failed", "error", err)
			}
		}
	}
}
