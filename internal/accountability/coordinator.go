// Package accountability implements the partner-approval unlock protocol on
// top of the partnership, config, unlock-request and unlock-approval
// synchronizers.
//
// The approval count and the pending→approved flip live on the remote; this
// coordinator only raises preconditions before writes and reflects persisted
// rows afterwards. A successful approval insert proves nothing about the
// threshold.
package accountability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fokuslabs/focusgate/internal/cache"
	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/remote"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/google/uuid"
)

// Precondition errors, raised before any write.
var (
	ErrInviteNotFound        = errors.New("invite not found")
	ErrInviteExpired         = errors.New("invite expired")
	ErrCannotPartnerWithSelf = errors.New("cannot partner with self")
	ErrCooldownActive        = errors.New("cooldown active")
	ErrRequestAlreadyPending = errors.New("unlock request already pending")
	ErrNotConfigured         = errors.New("accountability not configured")
	ErrNotPartner            = errors.New("not an active partner")
	ErrRequestNotFound       = errors.New("unlock request not found")
)

const inviteValidity = 72 * time.Hour

// Coordinator is the per-device accountability state machine.
type Coordinator struct {
	partnerships *syncer.Synchronizer[models.Partnership]
	configs      *syncer.Synchronizer[models.AccountabilityConfig]
	requests     *syncer.Synchronizer[models.UnlockRequest]
	approvals    *syncer.Synchronizer[models.UnlockApproval]
	store        remote.Store // cross-user reads/writes outside our feed scope
	agg          *enforce.Aggregator
	userID       string
	deviceID     string
	log          logging.Logger
	now          func() time.Time

	mu       sync.Mutex
	notified map[string]struct{}

	// OnUnlockApproved fires exactly once per request id when this user's
	// request is observed approved.
	OnUnlockApproved func(requestID string)
}

func New(
	partnerships *syncer.Synchronizer[models.Partnership],
	configs *syncer.Synchronizer[models.AccountabilityConfig],
	requests *syncer.Synchronizer[models.UnlockRequest],
	approvals *syncer.Synchronizer[models.UnlockApproval],
	store remote.Store,
	agg *enforce.Aggregator,
	userID, deviceID string,
	log logging.Logger,
) *Coordinator {
	return &Coordinator{
		partnerships: partnerships,
		configs:      configs,
		requests:     requests,
		approvals:    approvals,
		store:        store,
		agg:          agg,
		userID:       userID,
		deviceID:     deviceID,
		log:          log.With("module", "accountability"),
		now:          time.Now,
		notified:     make(map[string]struct{}),
	}
}

// Config returns the user's accountability config; ErrNotConfigured when the
// row has never been created.
func (c *Coordinator) Config(ctx context.Context) (models.AccountabilityConfig, error) {
	cfg, err := c.configs.Get(ctx, c.userID)
	if errors.Is(err, cache.ErrNotFound) {
		return models.AccountabilityConfig{}, ErrNotConfigured
	}
	return cfg, err
}

// Configure creates or replaces the user's config row.
func (c *Coordinator) Configure(ctx context.Context, enabled bool, requiredApprovals, timeoutMinutes, cooldownMinutes int) error {
	if requiredApprovals < 1 {
		requiredApprovals = 1
	}
	cfg := models.AccountabilityConfig{
		ID:                    c.userID,
		UserID:                c.userID,
		IsEnabled:             enabled,
		RequiredApprovals:     requiredApprovals,
		RequestTimeoutMinutes: timeoutMinutes,
		CooldownMinutes:       cooldownMinutes,
	}
	return c.configs.Push(ctx, cfg)
}

// CreateInvite mints a pending partnership row with the local user on both
// sides as a placeholder until someone accepts.
func (c *Coordinator) CreateInvite(ctx context.Context) (models.Partnership, error) {
	now := c.now()
	p := models.Partnership{
		ID:              uuid.NewString(),
		UserID:          c.userID,
		PartnerUserID:   c.userID,
		Status:          models.PartnershipPending,
		InviteCode:      uuid.NewString(),
		InviteExpiresAt: now.Add(inviteValidity),
	}
	if err := c.partnerships.Push(ctx, p); err != nil {
		return models.Partnership{}, err
	}
	return p, nil
}

// AcceptInvite binds the local user as partner on the inviter's pending row.
// The row belongs to the inviter, so the write goes straight to the remote;
// the inviter's devices pick it up off their feed.
func (c *Coordinator) AcceptInvite(ctx context.Context, code string) error {
	rows, err := c.store.SelectEq(ctx, models.KindPartnership, "invite_code", code)
	if err != nil {
		return fmt.Errorf("invite lookup failed: %w", err)
	}

	var invite *models.Partnership
	for _, raw := range rows {
		p, err := decodePartnership(raw)
		if err != nil {
			continue
		}
		if p.Status == models.PartnershipPending && p.InviteCode == code {
			invite = &p
			break
		}
	}
	if invite == nil {
		return ErrInviteNotFound
	}
	if invite.UserID == c.userID {
		return ErrCannotPartnerWithSelf
	}
	if invite.InviteExpired(c.now()) {
		return ErrInviteExpired
	}

	invite.PartnerUserID = c.userID
	invite.Status = models.PartnershipActive
	invite.AcceptedAt = c.now()
	invite.InviteCode = ""

	payload, err := marshalEntity(*invite)
	if err != nil {
		return err
	}
	return c.store.Update(ctx, models.KindPartnership, invite.ID, payload)
}

// Revoke ends one of the user's own partnerships.
func (c *Coordinator) Revoke(ctx context.Context, partnershipID string) error {
	p, err := c.partnerships.Get(ctx, partnershipID)
	if err != nil {
		return err
	}
	p.Status = models.PartnershipRevoked
	p.RevokedAt = c.now()
	return c.partnerships.Update(ctx, p)
}

// Partners lists the user ids of currently active partners.
func (c *Coordinator) Partners(ctx context.Context) ([]string, error) {
	rows, err := c.partnerships.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range rows {
		if p.Status == models.PartnershipActive {
			out = append(out, p.PartnerUserID)
		}
	}
	return out, nil
}

// ArmSession raises the accountability flag: enforcement now requires
// partner approval to end.
func (c *Coordinator) ArmSession(ctx context.Context) error {
	return c.agg.SetFlag(ctx, enforce.FlagAccountability, true)
}

// lastRequestTime returns the newest CreatedAt across the user's requests,
// zero when there are none.
func (c *Coordinator) lastRequestTime(ctx context.Context) (time.Time, error) {
	rows, err := c.requests.List(ctx)
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, r := range rows {
		if r.UserID == c.userID && r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}
	return last, nil
}

// CanRequestUnlock reports whether CreateRequest would pass its
// preconditions, with the blocking error when not.
func (c *Coordinator) CanRequestUnlock(ctx context.Context) error {
	cfg, err := c.Config(ctx)
	if err != nil {
		return err
	}
	if !cfg.IsEnabled {
		return ErrNotConfigured
	}

	partners, err := c.Partners(ctx)
	if err != nil {
		return err
	}
	if len(partners) == 0 {
		return ErrNotConfigured
	}

	now := c.now()
	rows, err := c.requests.List(ctx)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if r.UserID == c.userID && r.PendingAt(now) {
			return ErrRequestAlreadyPending
		}
	}

	last, err := c.lastRequestTime(ctx)
	if err != nil {
		return err
	}
	if !last.IsZero() && now.Before(last.Add(time.Duration(cfg.CooldownMinutes)*time.Minute)) {
		return ErrCooldownActive
	}
	return nil
}

// CreateRequest persists a new pending unlock request. Preconditions are
// checked synchronously; nothing is written when one fails.
func (c *Coordinator) CreateRequest(ctx context.Context, reason string) (models.UnlockRequest, error) {
	if err := c.CanRequestUnlock(ctx); err != nil {
		return models.UnlockRequest{}, err
	}

	cfg, err := c.Config(ctx)
	if err != nil {
		return models.UnlockRequest{}, err
	}

	now := c.now()
	r := models.UnlockRequest{
		ID:                 uuid.NewString(),
		UserID:             c.userID,
		Status:             models.UnlockRequestPending,
		Reason:             reason,
		RequiredApprovals:  cfg.RequiredApprovals,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Duration(cfg.RequestTimeoutMinutes) * time.Minute),
		RequestingDeviceID: c.deviceID,
	}
	if err := c.requests.Push(ctx, r); err != nil {
		return models.UnlockRequest{}, err
	}
	return r, nil
}

// Cancel marks the user's own pending request cancelled.
func (c *Coordinator) Cancel(ctx context.Context, requestID string) error {
	r, err := c.requests.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if r.Status != models.UnlockRequestPending {
		return ErrRequestNotFound
	}
	r.Status = models.UnlockRequestCancelled
	r.ResolvedAt = c.now()
	return c.requests.Update(ctx, r)
}

// Approve records the local user's approval of another user's request. Only
// the approval row is written; the remote owns the count and the status
// flip, so callers must not infer approval success from a nil return.
func (c *Coordinator) Approve(ctx context.Context, requestID, method string) error {
	req, err := c.fetchRequest(ctx, requestID)
	if err != nil {
		return err
	}

	if !req.PendingAt(c.now()) {
		return ErrRequestNotFound
	}

	ok, err := c.isActivePartnerOf(ctx, req.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotPartner
	}

	a := models.UnlockApproval{
		ID:                uuid.NewString(),
		RequestID:         requestID,
		UserID:            req.UserID, // owner-scoped so the owner's feed carries it
		PartnerUserID:     c.userID,
		Method:            method,
		ApprovedAt:        c.now(),
		ApprovingDeviceID: c.deviceID,
	}
	payload, err := marshalEntity(a)
	if err != nil {
		return err
	}
	// A duplicate (request, partner) pair is absorbed remotely as a no-op.
	return c.store.Upsert(ctx, models.KindUnlockApproval, a.ID, payload)
}

// PendingRequestsToApprove lists other users' requests the local user can
// act on, lazily filtering rows past their deadline.
func (c *Coordinator) PendingRequestsToApprove(ctx context.Context) ([]models.UnlockRequest, error) {
	rows, err := c.store.SelectEq(ctx, models.KindPartnership, "partner_user_id", c.userID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	var out []models.UnlockRequest
	for _, raw := range rows {
		p, err := decodePartnership(raw)
		if err != nil || p.Status != models.PartnershipActive || p.UserID == c.userID {
			continue
		}

		reqRows, err := c.store.SelectEq(ctx, models.KindUnlockRequest, "user_id", p.UserID)
		if err != nil {
			return nil, err
		}
		for _, rr := range reqRows {
			r, err := decodeRequest(rr)
			if err != nil {
				continue
			}
			if r.PendingAt(now) {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Run consumes merged request updates: an approved request of the local
// user clears the accountability flag and fires OnUnlockApproved once.
func (c *Coordinator) Run(ctx context.Context) {
	updates := c.requests.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case u, open := <-updates:
			if !open {
				return
			}
			if u.Op != syncer.OpPut {
				continue
			}
			c.observeRequest(ctx, u.Entity)
		}
	}
}

// observeRequest reflects one persisted request row. The same final state
// may arrive several times over an at-least-once feed; the notified set
// dedups by request id.
func (c *Coordinator) observeRequest(ctx context.Context, r models.UnlockRequest) {
	if r.UserID != c.userID || r.Status != models.UnlockRequestApproved {
		return
	}

	c.mu.Lock()
	if _, seen := c.notified[r.ID]; seen {
		c.mu.Unlock()
		return
	}
	c.notified[r.ID] = struct{}{}
	c.mu.Unlock()

	if err := c.agg.SetFlag(ctx, enforce.FlagAccountability, false); err != nil {
		c.log.Warn(ctx, "failed to clear accountability flag", "error", err)
	}
	c.log.Info(ctx, "unlock request approved", "request_id", r.ID)
	if c.OnUnlockApproved != nil {
		c.OnUnlockApproved(r.ID)
	}
}

func (c *Coordinator) fetchRequest(ctx context.Context, requestID string) (models.UnlockRequest, error) {
	rows, err := c.store.SelectEq(ctx, models.KindUnlockRequest, "id", requestID)
	if err != nil {
		return models.UnlockRequest{}, err
	}
	for _, raw := range rows {
		r, err := decodeRequest(raw)
		if err == nil && r.ID == requestID {
			return r, nil
		}
	}
	return models.UnlockRequest{}, ErrRequestNotFound
}

func (c *Coordinator) isActivePartnerOf(ctx context.Context, ownerID string) (bool, error) {
	rows, err := c.store.SelectEq(ctx, models.KindPartnership, "user_id", ownerID)
	if err != nil {
		return false, err
	}
	for _, raw := range rows {
		p, err := decodePartnership(raw)
		if err == nil && p.Status == models.PartnershipActive && p.PartnerUserID == c.userID {
			return true, nil
		}
	}
	return false, nil
}
