package enforce

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempHosts(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte("127.0.0.1 localhost\n"), 0o644))
	return path
}

func TestProcBackend_HostsRoundTrip(t *testing.T) {
	path := tempHosts(t)
	b := NewProcBackend(path, 0, logging.NewNop())
	ctx := context.Background()

	require.NoError(t, b.ApplyBlocks(ctx, nil, []string{"twitter.com"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "0.0.0.0 twitter.com")
	assert.Contains(t, string(data), "0.0.0.0 www.twitter.com")
	assert.Contains(t, string(data), "127.0.0.1 localhost")

	// Updating replaces the managed block instead of appending.
	require.NoError(t, b.UpdateWebsites(ctx, []string{"reddit.com"}))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "twitter.com")
	assert.Contains(t, string(data), "0.0.0.0 reddit.com")
	assert.Equal(t, 1, strings.Count(string(data), hostsMarkerBegin))

	require.NoError(t, b.RemoveAllBlocks(ctx))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), hostsMarkerBegin)
	assert.Contains(t, string(data), "127.0.0.1 localhost")
}

func TestDetectBackend_FallsBackToLog(t *testing.T) {
	b := DetectBackend(filepath.Join(t.TempDir(), "missing", "hosts"), 0, logging.NewNop())
	_, ok := b.(*LogBackend)
	assert.True(t, ok)
}

func TestDetectBackend_PicksProcWhenWritable(t *testing.T) {
	b := DetectBackend(tempHosts(t), 0, logging.NewNop())
	_, ok := b.(*ProcBackend)
	assert.True(t, ok)
}
