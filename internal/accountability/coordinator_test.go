package accountability

import (
	"context"
	"testing"
	"time"

	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/feed"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/fokuslabs/focusgate/internal/syncer/syncertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	coord  *Coordinator
	agg    *enforce.Aggregator
	remote *syncertest.FakeRemote
	feed   *syncertest.FakeFeed
	now    time.Time
}

func (f *fixture) setNow(t time.Time) { f.now = t }

func newFixture(t *testing.T, userID string) *fixture {
	t.Helper()

	r := syncertest.NewFakeRemote()
	fd := syncertest.NewFakeFeed()
	return newFixtureOn(t, userID, r, fd)
}

func newFixtureOn(t *testing.T, userID string, r *syncertest.FakeRemote, fd *syncertest.FakeFeed) *fixture {
	t.Helper()

	c := syncertest.NewCache(t)
	log := logging.NewNop()

	partnerships := syncer.New[models.Partnership](models.KindPartnership, c, r, fd, log)
	configs := syncer.New[models.AccountabilityConfig](models.KindAccountabilityConfig, c, r, fd, log)
	requests := syncer.New[models.UnlockRequest](models.KindUnlockRequest, c, r, fd, log)
	approvals := syncer.New[models.UnlockApproval](models.KindUnlockApproval, c, r, fd, log)

	ctx := context.Background()
	for _, sub := range []interface {
		Subscribe(context.Context, string) error
		Unsubscribe()
	}{partnerships, configs, requests, approvals} {
		require.NoError(t, sub.Subscribe(ctx, userID))
		t.Cleanup(sub.Unsubscribe)
	}

	agg := enforce.NewAggregator(enforce.NewLogBackend(log), log)
	coord := New(partnerships, configs, requests, approvals, r, agg, userID, "dev1", log)

	f := &fixture{coord: coord, agg: agg, remote: r, feed: fd,
		now: time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)}
	coord.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) enable(t *testing.T, requiredApprovals, timeoutMin, cooldownMin int) {
	t.Helper()
	require.NoError(t, f.coord.Configure(context.Background(), true, requiredApprovals, timeoutMin, cooldownMin))
}

func (f *fixture) addActivePartner(t *testing.T, partnerID string) {
	t.Helper()
	p := models.Partnership{
		ID:            "pt-" + partnerID,
		UserID:        f.coord.userID,
		PartnerUserID: partnerID,
		Status:        models.PartnershipActive,
		AcceptedAt:    f.now,
	}
	require.NoError(t, f.coord.partnerships.Push(context.Background(), p))
}

func TestCreateRequest_Preconditions(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	// No config row at all.
	_, err := f.coord.CreateRequest(ctx, "need my phone")
	assert.ErrorIs(t, err, ErrNotConfigured)

	// Configured but disabled.
	require.NoError(t, f.coord.Configure(ctx, false, 1, 30, 60))
	_, err = f.coord.CreateRequest(ctx, "need my phone")
	assert.ErrorIs(t, err, ErrNotConfigured)

	// Enabled but no partners.
	f.enable(t, 1, 30, 60)
	_, err = f.coord.CreateRequest(ctx, "need my phone")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestCreateRequest_PendingAndCooldown(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	f.enable(t, 1, 30, 60)
	f.addActivePartner(t, "p1")

	req, err := f.coord.CreateRequest(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, models.UnlockRequestPending, req.Status)
	assert.Equal(t, 1, req.RequiredApprovals)
	assert.Equal(t, f.now.Add(30*time.Minute), req.ExpiresAt)

	_, err = f.coord.CreateRequest(ctx, "two")
	assert.ErrorIs(t, err, ErrRequestAlreadyPending)

	// Past the deadline the stale pending row is inert, but the cooldown
	// since the last request still gates.
	f.setNow(f.now.Add(31 * time.Minute))
	_, err = f.coord.CreateRequest(ctx, "three")
	assert.ErrorIs(t, err, ErrCooldownActive)

	// At exactly lastRequest + cooldown the request goes through.
	f.setNow(time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC))
	_, err = f.coord.CreateRequest(ctx, "four")
	assert.NoError(t, err)
}

func TestAcceptInvite(t *testing.T) {
	inviter := newFixture(t, "u1")
	ctx := context.Background()

	invite, err := inviter.coord.CreateInvite(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", invite.PartnerUserID, "placeholder until accepted")

	// Inviter accepting their own invite.
	assert.ErrorIs(t, inviter.coord.AcceptInvite(ctx, invite.InviteCode), ErrCannotPartnerWithSelf)

	// A different user on the same remote.
	accepter := newFixtureOn(t, "u2", inviter.remote, inviter.feed)
	require.NoError(t, accepter.coord.AcceptInvite(ctx, invite.InviteCode))

	var row models.Partnership
	require.True(t, inviter.remote.Row(models.KindPartnership, invite.ID, &row))
	assert.Equal(t, models.PartnershipActive, row.Status)
	assert.Equal(t, "u2", row.PartnerUserID)
	assert.Empty(t, row.InviteCode)

	// Unknown and expired codes.
	assert.ErrorIs(t, accepter.coord.AcceptInvite(ctx, "nope"), ErrInviteNotFound)

	invite2, err := inviter.coord.CreateInvite(ctx)
	require.NoError(t, err)
	accepter.setNow(accepter.now.Add(73 * time.Hour))
	assert.ErrorIs(t, accepter.coord.AcceptInvite(ctx, invite2.InviteCode), ErrInviteExpired)
}

func TestApprove_InsertsOwnerScopedRowOnly(t *testing.T) {
	owner := newFixture(t, "u1")
	ctx := context.Background()
	owner.enable(t, 2, 30, 0)
	owner.addActivePartner(t, "p1")

	req, err := owner.coord.CreateRequest(ctx, "deadline")
	require.NoError(t, err)

	partner := newFixtureOn(t, "p1", owner.remote, owner.feed)
	require.NoError(t, partner.coord.Approve(ctx, req.ID, "tap"))

	// The approval row is scoped to the request owner.
	rows, err := owner.remote.SelectEq(ctx, models.KindUnlockApproval, "request_id", req.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// The request itself is untouched by the client: the remote owns the
	// count and the status flip.
	var row models.UnlockRequest
	require.True(t, owner.remote.Row(models.KindUnlockRequest, req.ID, &row))
	assert.Equal(t, models.UnlockRequestPending, row.Status)
	assert.Equal(t, 0, row.ReceivedApprovals)
}

func TestApprove_RejectsNonPartner(t *testing.T) {
	owner := newFixture(t, "u1")
	ctx := context.Background()
	owner.enable(t, 1, 30, 0)
	owner.addActivePartner(t, "p1")

	req, err := owner.coord.CreateRequest(ctx, "x")
	require.NoError(t, err)

	stranger := newFixtureOn(t, "p2", owner.remote, owner.feed)
	assert.ErrorIs(t, stranger.coord.Approve(ctx, req.ID, "tap"), ErrNotPartner)

	assert.ErrorIs(t, stranger.coord.Approve(ctx, "missing", "tap"), ErrRequestNotFound)
}

func TestObserveApproved_ClearsFlagAndNotifiesOnce(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	f.enable(t, 2, 30, 0)
	f.addActivePartner(t, "p1")

	require.NoError(t, f.coord.ArmSession(ctx))
	require.True(t, f.agg.FlagState(enforce.FlagAccountability))

	req, err := f.coord.CreateRequest(ctx, "x")
	require.NoError(t, err)

	var notifications []string
	f.coord.OnUnlockApproved = func(id string) { notifications = append(notifications, id) }

	go f.coord.Run(ctx)
	// Run must register its Updates subscriber before the emit below, or the
	// notification is dropped; on GOMAXPROCS=1 the goroutine won't be
	// scheduled until we yield.
	time.Sleep(50 * time.Millisecond)

	// The remote flips the request after the threshold; the same final
	// state arrives twice over the at-least-once feed.
	req.Status = models.UnlockRequestApproved
	req.ReceivedApprovals = 2
	req.ResolvedAt = f.now
	payload, err := marshalEntity(req)
	require.NoError(t, err)

	topic := feed.Topic(models.KindUnlockRequest, "u1")
	f.feed.Emit(topic, feed.Event{Action: feed.ActionUpdate, Kind: models.KindUnlockRequest, Row: payload})

	require.Eventually(t, func() bool {
		return !f.agg.FlagState(enforce.FlagAccountability)
	}, 2*time.Second, 5*time.Millisecond)

	// Duplicate delivery: the payload-equal event is absorbed by the
	// synchronizer, and even a direct re-observation is deduped by id.
	f.coord.observeRequest(ctx, req)
	f.coord.observeRequest(ctx, req)

	assert.Equal(t, []string{req.ID}, notifications)
}

func TestPendingRequestsToApprove_FiltersExpired(t *testing.T) {
	owner := newFixture(t, "u1")
	ctx := context.Background()
	owner.enable(t, 1, 30, 0)
	owner.addActivePartner(t, "p1")

	req, err := owner.coord.CreateRequest(ctx, "x")
	require.NoError(t, err)

	partner := newFixtureOn(t, "p1", owner.remote, owner.feed)

	pending, err := partner.coord.PendingRequestsToApprove(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	// Past the deadline the row is inert even though the remote still says
	// pending.
	partner.setNow(partner.now.Add(31 * time.Minute))
	pending, err = partner.coord.PendingRequestsToApprove(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()
	f.addActivePartner(t, "p1")

	partners, err := f.coord.Partners(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, partners)

	require.NoError(t, f.coord.Revoke(ctx, "pt-p1"))

	partners, err = f.coord.Partners(ctx)
	require.NoError(t, err)
	assert.Empty(t, partners)
}
