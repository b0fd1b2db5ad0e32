package websites

import (
	"context"
	"testing"

	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/fokuslabs/focusgate/internal/syncer/syncertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, r *syncertest.FakeRemote) (*Service, *syncer.Synchronizer[models.BlockedWebsite], *enforce.Aggregator) {
	t.Helper()

	c := syncertest.NewCache(t)
	fd := syncertest.NewFakeFeed()
	log := logging.NewNop()

	sync := syncer.New[models.BlockedWebsite](models.KindBlockedWebsite, c, r, fd, log)
	require.NoError(t, sync.Subscribe(context.Background(), "u1"))
	t.Cleanup(sync.Unsubscribe)

	agg := enforce.NewAggregator(enforce.NewLogBackend(log), log)
	return New(sync, agg, "u1", log), sync, agg
}

func TestAdd_NormalizesAndDeduplicates(t *testing.T) {
	r := syncertest.NewFakeRemote()
	svc, _, _ := newService(t, r)
	ctx := context.Background()

	w, err := svc.Add(ctx, "HTTPS://WWW.Reddit.com/r/all")
	require.NoError(t, err)
	assert.Equal(t, "reddit.com", w.Domain)
	assert.True(t, r.Row(models.KindBlockedWebsite, w.ID, nil))

	_, err = svc.Add(ctx, "reddit.com")
	assert.ErrorIs(t, err, ErrDuplicateDomain)

	_, err = svc.Add(ctx, "not a domain")
	assert.ErrorIs(t, err, models.ErrInvalidDomain)
}

func TestRemove(t *testing.T) {
	r := syncertest.NewFakeRemote()
	svc, _, _ := newService(t, r)
	ctx := context.Background()

	w, err := svc.Add(ctx, "twitter.com")
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, w.ID))
	domains, err := svc.Domains(ctx)
	require.NoError(t, err)
	assert.Empty(t, domains)
	assert.False(t, r.Row(models.KindBlockedWebsite, w.ID, nil))

	// Re-adding after removal is not a duplicate.
	_, err = svc.Add(ctx, "twitter.com")
	require.NoError(t, err)
}

func TestAdd_OfflineThenCatchUp(t *testing.T) {
	r := syncertest.NewFakeRemote()
	svc, sync, _ := newService(t, r)
	ctx := context.Background()

	r.SetDown(true)
	w, err := svc.Add(ctx, "news.ycombinator.com")
	require.NoError(t, err, "offline add is local-first")
	assert.Error(t, sync.LastSyncError())
	assert.False(t, r.Row(models.KindBlockedWebsite, w.ID, nil))

	// Reconnect: resubscribing reconciles and pushes the local-only row
	// exactly once.
	r.SetDown(false)
	sync.Unsubscribe()
	require.NoError(t, sync.Subscribe(ctx, "u1"))

	var stored models.BlockedWebsite
	require.True(t, r.Row(models.KindBlockedWebsite, w.ID, &stored))
	assert.Equal(t, "news.ycombinator.com", stored.Domain)

	domains, err := svc.Domains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"news.ycombinator.com"}, domains)
}

func TestDomains_SortedAndDeduplicated(t *testing.T) {
	r := syncertest.NewFakeRemote()
	// Two devices blocked the same domain under different row ids.
	r.Seed(models.KindBlockedWebsite, "w1", models.BlockedWebsite{ID: "w1", UserID: "u1", Domain: "reddit.com"})
	r.Seed(models.KindBlockedWebsite, "w2", models.BlockedWebsite{ID: "w2", UserID: "u1", Domain: "reddit.com"})
	r.Seed(models.KindBlockedWebsite, "w3", models.BlockedWebsite{ID: "w3", UserID: "u1", Domain: "instagram.com"})

	svc, _, _ := newService(t, r)

	domains, err := svc.Domains(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"instagram.com", "reddit.com"}, domains)
}
