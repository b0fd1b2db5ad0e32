// Package syncertest provides in-memory stand-ins for the remote store and
// the change feed, used by feature-coordinator tests.
package syncertest

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"testing"

	"github.com/fokuslabs/focusgate/internal/cache"
	"github.com/fokuslabs/focusgate/internal/feed"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/remote"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// NewCache opens a fresh in-memory cache store for one test.
func NewCache(t *testing.T) *cache.Store {
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

	return cache.New(db)
}

// FakeRemote is an in-memory remote.Store shared across synchronizers in a
// test, with switchable failure.
type FakeRemote struct {
	mu   sync.Mutex
	rows map[models.Kind]map[string]json.RawMessage
	down bool
}

func NewFakeRemote() *FakeRemote {
	return &FakeRemote{rows: make(map[models.Kind]map[string]json.RawMessage)}
}

// SetDown toggles simulated unreachability.
func (f *FakeRemote) SetDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

// Seed installs a row without going through the store API.
func (f *FakeRemote) Seed(kind models.Kind, id string, row any) {
	payload, err := json.Marshal(row)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[kind] == nil {
		f.rows[kind] = make(map[string]json.RawMessage)
	}
	f.rows[kind][id] = payload
}

// Row decodes the remote copy of one row into out; reports presence.
func (f *FakeRemote) Row(kind models.Kind, id string, out any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.rows[kind][id]
	if !ok {
		return false
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			panic(err)
		}
	}
	return true
}

func (f *FakeRemote) SelectEq(_ context.Context, kind models.Kind, field, value string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, remote.ErrUnavailable
	}

	var out []json.RawMessage
	for _, raw := range f.rows[kind] {
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			continue
		}
		if v, ok := generic[field].(string); ok && v == value {
			out = append(out, raw)
		}
	}
	return out, nil
}

func (f *FakeRemote) Upsert(_ context.Context, kind models.Kind, id string, row json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return remote.ErrUnavailable
	}
	if f.rows[kind] == nil {
		f.rows[kind] = make(map[string]json.RawMessage)
	}
	f.rows[kind][id] = row
	return nil
}

func (f *FakeRemote) Update(ctx context.Context, kind models.Kind, id string, row json.RawMessage) error {
	f.mu.Lock()
	if !f.down {
		if _, ok := f.rows[kind][id]; !ok {
			f.mu.Unlock()
			return remote.ErrNotFound
		}
	}
	f.mu.Unlock()
	return f.Upsert(ctx, kind, id, row)
}

func (f *FakeRemote) Delete(_ context.Context, kind models.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return remote.ErrUnavailable
	}
	delete(f.rows[kind], id)
	return nil
}

// FakeFeed hands out per-topic channels the test writes events into.
type FakeFeed struct {
	mu     sync.Mutex
	topics map[string]chan feed.Event
}

func NewFakeFeed() *FakeFeed {
	return &FakeFeed{topics: make(map[string]chan feed.Event)}
}

// Emit delivers an event to the topic's subscriber, creating the channel if
// the subscription has not happened yet.
func (f *FakeFeed) Emit(topic string, ev feed.Event) {
	f.channel(topic) <- ev
}

func (f *FakeFeed) channel(topic string) chan feed.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.topics[topic]
	if !ok {
		ch = make(chan feed.Event, 64)
		f.topics[topic] = ch
	}
	return ch
}

func (f *FakeFeed) Subscribe(_ context.Context, topic string) (<-chan feed.Event, func(), error) {
	ch := f.channel(topic)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.topics, topic)
			f.mu.Unlock()
			close(ch)
		})
	}
	return ch, stop, nil
}
