package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE cache_rows (
  kind TEXT NOT NULL,
  id TEXT NOT NULL,
  payload BLOB NOT NULL,
  device_local BLOB,
  updated_at INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (kind, id)
);
`)
	require.NoError(t, err)

	return New(db)
}

func TestUpsertAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.KindBlockedWebsite, "w1", json.RawMessage(`{"domain":"twitter.com"}`)))

	got, err := s.Get(ctx, models.KindBlockedWebsite, "w1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":"twitter.com"}`, string(got))

	// Overwrite.
	require.NoError(t, s.Upsert(ctx, models.KindBlockedWebsite, "w1", json.RawMessage(`{"domain":"reddit.com"}`)))
	got, err = s.Get(ctx, models.KindBlockedWebsite, "w1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"domain":"reddit.com"}`, string(got))
}

func TestGet_NotFound(t *testing.T) {
	s := setupStore(t)
	_, err := s.Get(context.Background(), models.KindTimerState, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_IsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.KindSchedule, "s1", json.RawMessage(`{}`)))
	require.NoError(t, s.Delete(ctx, models.KindSchedule, "s1"))
	require.NoError(t, s.Delete(ctx, models.KindSchedule, "s1"))

	_, err := s.Get(ctx, models.KindSchedule, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListKind_ScopedAndOrdered(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.KindBlockedWebsite, "b", json.RawMessage(`{"n":2}`)))
	require.NoError(t, s.Upsert(ctx, models.KindBlockedWebsite, "a", json.RawMessage(`{"n":1}`)))
	require.NoError(t, s.Upsert(ctx, models.KindSchedule, "z", json.RawMessage(`{"n":3}`)))

	rows, err := s.ListKind(ctx, models.KindBlockedWebsite)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].ID)
	assert.Equal(t, "b", rows[1].ID)
}

func TestUpsert_PreservesDeviceLocal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.KindFocusMode, "f1", json.RawMessage(`{"name":"work"}`)))
	require.NoError(t, s.SetDeviceLocal(ctx, models.KindFocusMode, "f1", json.RawMessage(`{"app_token":"opaque"}`)))

	// A remote-sourced overwrite of the payload must not clobber the blob.
	require.NoError(t, s.Upsert(ctx, models.KindFocusMode, "f1", json.RawMessage(`{"name":"deep work"}`)))

	blob, err := s.DeviceLocal(ctx, models.KindFocusMode, "f1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"app_token":"opaque"}`, string(blob))
}

func TestSetDeviceLocal_RequiresRow(t *testing.T) {
	s := setupStore(t)
	err := s.SetDeviceLocal(context.Background(), models.KindFocusMode, "nope", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClear_KeepsOtherKinds(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, models.KindBlockedWebsite, "w1", json.RawMessage(`{}`)))
	require.NoError(t, s.Upsert(ctx, models.KindTimerState, "u1", json.RawMessage(`{}`)))
	require.NoError(t, s.Clear(ctx, models.KindBlockedWebsite))

	rows, err := s.ListKind(ctx, models.KindBlockedWebsite)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = s.Get(ctx, models.KindTimerState, "u1")
	assert.NoError(t, err)
}
