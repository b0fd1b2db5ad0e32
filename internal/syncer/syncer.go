// Package syncer implements the per-entity-kind synchronizer: it owns the
// merge logic between the local cache, the initial remote reconcile, and the
// live change feed for exactly one entity kind.
//
// Concurrency model: all mutable state is guarded by one mutex per
// synchronizer, so operations on the same kind never interleave while
// different kinds proceed independently. Writes are optimistic: the cache is
// mutated first and the remote write is best-effort; a remote failure is
// recorded, never rolled back.
package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fokuslabs/focusgate/internal/cache"
	"github.com/fokuslabs/focusgate/internal/feed"
	"github.com/fokuslabs/focusgate/internal/logging"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/fokuslabs/focusgate/internal/remote"
)

// ErrSyncUnavailable means the remote could not be reached during subscribe;
// the synchronizer keeps serving the local cache and the caller decides
// whether to retry.
var ErrSyncUnavailable = errors.New("sync unavailable")

type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Update is one merged entity change fanned out to consumers. Entity is the
// zero value for deletes.
type Update[T models.Entity] struct {
	Op     Op
	ID     string
	Entity T
}

type Synchronizer[T models.Entity] struct {
	kind   models.Kind
	cache  *cache.Store
	remote remote.Store
	feed   feed.Subscriber
	log    logging.Logger

	mu          sync.Mutex
	userID      string
	stopFeed    func()
	pumpDone    chan struct{}
	lastSyncErr error
	subs        []chan Update[T]
}

func New[T models.Entity](kind models.Kind, c *cache.Store, r remote.Store, f feed.Subscriber, log logging.Logger) *Synchronizer[T] {
	return &Synchronizer[T]{
		kind:   kind,
		cache:  c,
		remote: r,
		feed:   f,
		log:    log.With("module", "syncer", "kind", string(kind)),
	}
}

func (s *Synchronizer[T]) Kind() models.Kind { return s.kind }

// canonical re-marshals an entity so stored payloads always share one byte
// form; equality checks below rely on this.
func canonical[T models.Entity](v T) (json.RawMessage, error) {
	return json.Marshal(v)
}

func decode[T models.Entity](raw json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(raw, &v)
	return v, err
}

// Subscribe performs the initial reconcile for userID and opens the live
// feed. On a remote failure it returns ErrSyncUnavailable and the cache
// keeps serving; nothing is torn down.
func (s *Synchronizer[T]) Subscribe(ctx context.Context, userID string) error {
	s.mu.Lock()
	if s.stopFeed != nil {
		s.mu.Unlock()
		return nil // already live
	}
	s.userID = userID
	s.mu.Unlock()

	if err := s.reconcile(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	events, stop, err := s.feed.Subscribe(ctx, feed.Topic(s.kind, userID))
	if err != nil {
		s.setSyncErr(err)
		return fmt.Errorf("%w: %v", ErrSyncUnavailable, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.stopFeed = stop
	s.pumpDone = done
	s.mu.Unlock()

	go s.pump(ctx, events, done)
	return nil
}

// Unsubscribe closes the feed. The cache is retained so the device stays
// usable offline and signed out.
func (s *Synchronizer[T]) Unsubscribe() {
	s.mu.Lock()
	stop := s.stopFeed
	done := s.pumpDone
	s.stopFeed = nil
	s.pumpDone = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if done != nil {
		<-done
	}
}

// reconcile fetches the remote baseline, merges it into the cache (remote
// wins for synced fields, the cache leaves device-local blobs untouched),
// and pushes locally-created rows the remote has never seen.
// Merging the same snapshot twice is a no-op the second time.
func (s *Synchronizer[T]) reconcile(ctx context.Context) error {
	s.mu.Lock()
	userID := s.userID
	s.mu.Unlock()

	rows, err := s.remote.SelectEq(ctx, s.kind, models.OwnerField(s.kind), userID)
	if err != nil {
		s.setSyncErr(err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	local, err := s.cache.ListKind(ctx, s.kind)
	if err != nil {
		return err
	}
	localByID := make(map[string]json.RawMessage, len(local))
	for _, row := range local {
		localByID[row.ID] = row.Payload
	}

	remoteSeen := make(map[string]struct{}, len(rows))
	for _, raw := range rows {
		entity, err := decode[T](raw)
		if err != nil {
			s.log.Error(ctx, "skipping undecodable remote row", "error", err)
			continue
		}
		payload, err := canonical(entity)
		if err != nil {
			return err
		}

		id := entity.EntityID()
		remoteSeen[id] = struct{}{}

		if existing, ok := localByID[id]; ok && bytes.Equal(existing, payload) {
			continue
		}
		if err := s.cache.Upsert(ctx, s.kind, id, payload); err != nil {
			return err
		}
		s.notify(Update[T]{Op: OpPut, ID: id, Entity: entity})
	}

	// Catch-up: rows created offline are pushed, best-effort.
	for id, payload := range localByID {
		if _, ok := remoteSeen[id]; ok {
			continue
		}
		if err := s.remote.Upsert(ctx, s.kind, id, payload); err != nil {
			s.lastSyncErr = err
			s.log.Warn(ctx, "catch-up push failed", "id", id, "error", err)
		}
	}

	s.lastSyncErr = nil
	return nil
}

func (s *Synchronizer[T]) pump(ctx context.Context, events <-chan feed.Event, done chan struct{}) {
	defer close(done)

	for ev := range events {
		if ctx.Err() != nil {
			return
		}
		if ev.Action == feed.ActionReset {
			if err := s.reconcile(ctx); err != nil {
				s.log.Warn(ctx, "re-reconcile after feed reset failed", "error", err)
			}
			continue
		}
		if err := s.apply(ctx, ev); err != nil {
			s.log.Error(ctx, "failed to apply feed event", "action", string(ev.Action), "error", err)
		}
	}
}

// apply merges one live event. Echoes of this device's own optimistic writes
// land here as payload-equal rows and are dropped without notification.
func (s *Synchronizer[T]) apply(ctx context.Context, ev feed.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Action {
	case feed.ActionInsert, feed.ActionUpdate:
		entity, err := decode[T](ev.Row)
		if err != nil {
			return fmt.Errorf("failed to decode feed row: %w", err)
		}
		payload, err := canonical(entity)
		if err != nil {
			return err
		}
		id := entity.EntityID()

		existing, err := s.cache.Get(ctx, s.kind, id)
		if err != nil && !errors.Is(err, cache.ErrNotFound) {
			return err
		}

		if err == nil {
			// Insert adds only if absent (echo protection); update
			// overwrites unless nothing changed.
			if ev.Action == feed.ActionInsert || bytes.Equal(existing, payload) {
				return nil
			}
		}

		if err := s.cache.Upsert(ctx, s.kind, id, payload); err != nil {
			return err
		}
		s.notify(Update[T]{Op: OpPut, ID: id, Entity: entity})
		return nil

	case feed.ActionDelete:
		raw := ev.OldRow
		if raw == nil {
			raw = ev.Row
		}
		entity, err := decode[T](raw)
		if err != nil {
			return fmt.Errorf("failed to decode feed delete: %w", err)
		}
		id := entity.EntityID()

		if _, err := s.cache.Get(ctx, s.kind, id); errors.Is(err, cache.ErrNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		if err := s.cache.Delete(ctx, s.kind, id); err != nil {
			return err
		}
		s.notify(Update[T]{Op: OpDelete, ID: id})
		return nil

	default:
		return fmt.Errorf("unknown feed action %q", ev.Action)
	}
}

// Push writes a new or replacing row: cache first, then best-effort remote
// upsert. A remote failure is recorded in LastSyncError and not returned.
func (s *Synchronizer[T]) Push(ctx context.Context, entity T) error {
	return s.write(ctx, entity, s.remote.Upsert)
}

// Update mirrors Push but issues a remote update-by-id.
func (s *Synchronizer[T]) Update(ctx context.Context, entity T) error {
	return s.write(ctx, entity, s.remote.Update)
}

func (s *Synchronizer[T]) write(ctx context.Context, entity T, remoteWrite func(context.Context, models.Kind, string, json.RawMessage) error) error {
	payload, err := canonical(entity)
	if err != nil {
		return err
	}
	id := entity.EntityID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Upsert(ctx, s.kind, id, payload); err != nil {
		return err
	}
	s.notify(Update[T]{Op: OpPut, ID: id, Entity: entity})

	if err := remoteWrite(ctx, s.kind, id, payload); err != nil {
		s.lastSyncErr = err
		s.log.Warn(ctx, "remote write failed, keeping local state", "id", id, "error", err)
	} else {
		s.lastSyncErr = nil
	}
	return nil
}

// Delete removes the row locally and best-effort remotely.
func (s *Synchronizer[T]) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.cache.Delete(ctx, s.kind, id); err != nil {
		return err
	}
	s.notify(Update[T]{Op: OpDelete, ID: id})

	if err := s.remote.Delete(ctx, s.kind, id); err != nil {
		s.lastSyncErr = err
		s.log.Warn(ctx, "remote delete failed, keeping local state", "id", id, "error", err)
	}
	return nil
}

// Get returns one entity from the cache.
func (s *Synchronizer[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	raw, err := s.cache.Get(ctx, s.kind, id)
	if err != nil {
		return zero, err
	}
	return decode[T](raw)
}

// List returns all cached entities of this kind, id-ordered.
func (s *Synchronizer[T]) List(ctx context.Context) ([]T, error) {
	rows, err := s.cache.ListKind(ctx, s.kind)
	if err != nil {
		return nil, err
	}
	result := make([]T, 0, len(rows))
	for _, row := range rows {
		entity, err := decode[T](row.Payload)
		if err != nil {
			return nil, err
		}
		result = append(result, entity)
	}
	return result, nil
}

// Updates registers a consumer of merged entity changes. Sends never block:
// a consumer that falls more than a buffer behind misses updates, which is
// acceptable because every consumer here re-reads the cache on wake.
func (s *Synchronizer[T]) Updates() <-chan Update[T] {
	ch := make(chan Update[T], 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Synchronizer[T]) notify(u Update[T]) {
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// LastSyncError reports the most recent remote failure, nil after the next
// successful remote exchange.
func (s *Synchronizer[T]) LastSyncError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSyncErr
}

func (s *Synchronizer[T]) setSyncErr(err error) {
	s.mu.Lock()
	s.lastSyncErr = err
	s.mu.Unlock()
}

// UserID returns the currently subscribed user, empty before Subscribe.
func (s *Synchronizer[T]) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}
