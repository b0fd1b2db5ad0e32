package enforce

import (
	"context"
	"errors"
	"testing"

	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend counts calls and can be made to fail.
type recordingBackend struct {
	applies     int
	removes     int
	updates     int
	lastApps    []string
	lastDomains []string
	fail        error
}

func (b *recordingBackend) ApplyBlocks(_ context.Context, apps, domains []string) error {
	b.applies++
	b.lastApps = apps
	b.lastDomains = domains
	return b.fail
}

func (b *recordingBackend) UpdateWebsites(_ context.Context, domains []string) error {
	b.updates++
	b.lastDomains = domains
	return b.fail
}

func (b *recordingBackend) RemoveAllBlocks(_ context.Context) error {
	b.removes++
	return b.fail
}

func newAggregator() (*Aggregator, *recordingBackend) {
	b := &recordingBackend{}
	return NewAggregator(b, logging.NewNop()), b
}

func TestSetFlag_EdgeTriggering(t *testing.T) {
	a, b := newAggregator()
	ctx := context.Background()

	require.NoError(t, a.SetFlag(ctx, FlagTimer, true))
	assert.Equal(t, 1, b.applies)
	assert.True(t, a.AnyActive())

	// Re-asserting true is a no-op.
	require.NoError(t, a.SetFlag(ctx, FlagTimer, true))
	assert.Equal(t, 1, b.applies)

	require.NoError(t, a.SetFlag(ctx, FlagTimer, false))
	assert.Equal(t, 1, b.removes)
	assert.False(t, a.AnyActive())

	// Re-asserting false is a no-op.
	require.NoError(t, a.SetFlag(ctx, FlagTimer, false))
	assert.Equal(t, 1, b.removes)
}

func TestSetFlag_DeactivationDeferredToLastFlag(t *testing.T) {
	a, b := newAggregator()
	ctx := context.Background()

	require.NoError(t, a.SetFlag(ctx, FlagTimer, true))
	require.NoError(t, a.SetFlag(ctx, FlagRegretPrevention, true))
	assert.Equal(t, 1, b.applies, "second flag must not re-apply")

	// Timer clears but regret prevention still holds the line.
	require.NoError(t, a.SetFlag(ctx, FlagTimer, false))
	assert.Equal(t, 0, b.removes)
	assert.True(t, a.AnyActive())

	require.NoError(t, a.SetFlag(ctx, FlagRegretPrevention, false))
	assert.Equal(t, 1, b.removes)
	assert.False(t, a.AnyActive())
}

func TestAnyActive_IsOrOfLastSetValues(t *testing.T) {
	a, _ := newAggregator()
	ctx := context.Background()

	flags := []Flag{FlagTimer, FlagSchedule, FlagRegretPrevention, FlagAccountability, FlagFamilyLock}
	state := map[Flag]bool{}

	seq := []struct {
		flag Flag
		val  bool
	}{
		{FlagSchedule, true}, {FlagTimer, true}, {FlagSchedule, false},
		{FlagFamilyLock, true}, {FlagTimer, false}, {FlagFamilyLock, false},
		{FlagAccountability, true}, {FlagAccountability, false},
	}

	for _, step := range seq {
		require.NoError(t, a.SetFlag(ctx, step.flag, step.val))
		state[step.flag] = step.val

		want := false
		for _, f := range flags {
			want = want || state[f]
		}
		assert.Equal(t, want, a.AnyActive())
	}
}

func TestSetWebsites_PushedOnlyWhileActive(t *testing.T) {
	a, b := newAggregator()
	ctx := context.Background()

	require.NoError(t, a.SetWebsites(ctx, []string{"twitter.com"}))
	assert.Equal(t, 0, b.updates, "inactive: recorded but not pushed")

	require.NoError(t, a.SetFlag(ctx, FlagTimer, true))
	assert.Equal(t, []string{"twitter.com"}, b.lastDomains, "activation uses the recorded set")

	require.NoError(t, a.SetWebsites(ctx, []string{"twitter.com", "reddit.com"}))
	assert.Equal(t, 1, b.updates, "active: pushed immediately")
	assert.Equal(t, []string{"twitter.com", "reddit.com"}, b.lastDomains)
}

func TestBackendFailure_DoesNotRollBackFlag(t *testing.T) {
	a, b := newAggregator()
	ctx := context.Background()

	boom := errors.New("shield unavailable")
	b.fail = boom

	err := a.SetFlag(ctx, FlagFamilyLock, true)
	assert.ErrorIs(t, err, boom)
	assert.True(t, a.AnyActive(), "logical decision is authoritative")
	assert.ErrorIs(t, a.LastError(), boom)

	// Reapply is the retry path.
	b.fail = nil
	require.NoError(t, a.Reapply(ctx))
	assert.NoError(t, a.LastError())
	assert.Equal(t, 2, b.applies)
}
