package timers

import (
	"context"
	"testing"
	"time"

	"github.com/fokuslabs/focusgate/internal/enforce"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/syncer"
	"github.com/fokuslabs/focusgate/internal/syncer/syncertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Service, *enforce.Aggregator, *syncertest.FakeRemote, func(time.Time)) {
	t.Helper()

	r := syncertest.NewFakeRemote()
	f := syncertest.NewFakeFeed()
	s := syncer.New[models.TimerState](models.KindTimerState, syncertest.NewCache(t), r, f, logging.NewNop())
	t.Cleanup(s.Unsubscribe)
	require.NoError(t, s.Subscribe(context.Background(), "u1"))

	agg := enforce.NewAggregator(enforce.NewLogBackend(logging.NewNop()), logging.NewNop())

	svc := New(s, agg, "u1", "dev1", logging.NewNop())
	now := time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	setNow := func(tm time.Time) { now = tm }

	return svc, agg, r, setNow
}

func TestStart_SetsFlagAndPushes(t *testing.T) {
	svc, agg, r, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, 25*time.Minute))
	assert.True(t, agg.FlagState(enforce.FlagTimer))

	var row models.TimerState
	require.True(t, r.Row(models.KindTimerState, "u1", &row))
	assert.True(t, row.IsActive)
	assert.Equal(t, int64(25*60), row.PlannedDurationSecs)
	assert.Equal(t, "dev1", row.LastModifiedByDevice)
}

func TestStart_RejectsSecondTimer(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, 25*time.Minute))
	assert.ErrorIs(t, svc.Start(ctx, 10*time.Minute), ErrTimerAlreadyRunning)
}

func TestStart_AllowedAfterStaleActiveRow(t *testing.T) {
	svc, _, _, setNow := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, 25*time.Minute))

	// The old row still says active, but its end has passed.
	setNow(time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC))
	assert.NoError(t, svc.Start(ctx, 25*time.Minute))
}

func TestExtend_EndTimeMonotonic(t *testing.T) {
	svc, _, _, _ := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, 25*time.Minute))
	before, ok, err := svc.Current(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, svc.Extend(ctx, 10*time.Minute))
	after, _, err := svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.EndTime.Add(10*time.Minute), after.EndTime)

	assert.ErrorIs(t, svc.Extend(ctx, -time.Minute), ErrInvalidDuration)
}

func TestExtend_RequiresActiveTimer(t *testing.T) {
	svc, _, _, _ := setup(t)
	assert.ErrorIs(t, svc.Extend(context.Background(), time.Minute), ErrNoActiveTimer)
}

func TestStop_EarlyFiresHook(t *testing.T) {
	svc, agg, _, _ := setup(t)
	ctx := context.Background()

	var hookCalls int
	svc.OnEarlyStop = func(context.Context, time.Time) { hookCalls++ }

	require.NoError(t, svc.Start(ctx, 25*time.Minute))
	require.NoError(t, svc.Stop(ctx))

	assert.False(t, agg.FlagState(enforce.FlagTimer))
	assert.Equal(t, 1, hookCalls)

	assert.ErrorIs(t, svc.Stop(ctx), ErrNoActiveTimer)
}

func TestStop_AtPlannedEndDoesNotFireHook(t *testing.T) {
	svc, _, _, setNow := setup(t)
	ctx := context.Background()

	var hookCalls int
	svc.OnEarlyStop = func(context.Context, time.Time) { hookCalls++ }

	require.NoError(t, svc.Start(ctx, 25*time.Minute))
	setNow(time.Date(2026, 8, 26, 10, 25, 0, 0, time.UTC))
	require.NoError(t, svc.Stop(ctx))

	assert.Equal(t, 0, hookCalls)
}

func TestRecheck_LazyExpiry(t *testing.T) {
	svc, agg, r, setNow := setup(t)
	ctx := context.Background()

	require.NoError(t, svc.Start(ctx, 25*time.Minute))
	require.True(t, agg.FlagState(enforce.FlagTimer))

	setNow(time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC))
	require.NoError(t, svc.Recheck(ctx))

	assert.False(t, agg.FlagState(enforce.FlagTimer))

	// The sweep also flips the shared row so other devices converge.
	var row models.TimerState
	require.True(t, r.Row(models.KindTimerState, "u1", &row))
	assert.False(t, row.IsActive)
}
