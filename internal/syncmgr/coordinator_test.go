package syncmgr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSync struct {
	subscribeErr error
	subscribed   atomic.Int32
	unsubscribed atomic.Int32
}

func (s *stubSync) Subscribe(ctx context.Context, userID string) error {
	s.subscribed.Add(1)
	return s.subscribeErr
}

func (s *stubSync) Unsubscribe() { s.unsubscribed.Add(1) }

func TestSignIn_AllHealthy(t *testing.T) {
	a, b := &stubSync{}, &stubSync{}
	c := New(logging.NewNop(), a, b)
	require.Equal(t, StatusDisconnected, c.Status())

	require.NoError(t, c.SignIn(context.Background(), "u1"))
	assert.Equal(t, StatusSynced, c.Status())
	assert.Equal(t, "u1", c.UserID())
	assert.Equal(t, int32(1), a.subscribed.Load())
	assert.Equal(t, int32(1), b.subscribed.Load())

	// Signing in again is a no-op on a live session.
	require.NoError(t, c.SignIn(context.Background(), "u1"))
	assert.Equal(t, int32(1), a.subscribed.Load())
}

func TestSignIn_PartialFailureDegrades(t *testing.T) {
	a := &stubSync{}
	b := &stubSync{subscribeErr: errors.New("remote down")}
	c := New(logging.NewNop(), a, b)

	require.NoError(t, c.SignIn(context.Background(), "u1"))
	assert.Equal(t, StatusDegraded, c.Status())
}

func TestSignIn_TotalFailure(t *testing.T) {
	a := &stubSync{subscribeErr: errors.New("remote down")}
	b := &stubSync{subscribeErr: errors.New("remote down")}
	c := New(logging.NewNop(), a, b)

	err := c.SignIn(context.Background(), "u1")
	require.Error(t, err)
	assert.Equal(t, StatusError, c.Status())
}

func TestSignOut_Idempotent(t *testing.T) {
	a, b := &stubSync{}, &stubSync{}
	c := New(logging.NewNop(), a, b)
	require.NoError(t, c.SignIn(context.Background(), "u1"))

	c.SignOut()
	c.SignOut()
	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Empty(t, c.UserID())
	assert.Equal(t, int32(1), a.unsubscribed.Load())
	assert.Equal(t, int32(1), b.unsubscribed.Load())

	// A failed session can sign in again.
	require.NoError(t, c.SignIn(context.Background(), "u2"))
	assert.Equal(t, StatusSynced, c.Status())
	assert.Equal(t, "u2", c.UserID())
}
