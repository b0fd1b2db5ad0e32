// Package cache is the durable per-device store for the latest known value of
// every synced entity. It must be readable while offline and before any
// remote reconcile has happened; sign-out never clears it.
//
// Each row is addressed by (kind, id) and carries two blobs: payload, the
// canonical JSON of the synced entity, and device_local, an opaque blob owned
// exclusively by this device (e.g. raw platform app-selection tokens).
// Remote-sourced writes replace payload but never touch device_local.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fokuslabs/focusgate/internal/cache/migrations"
	"github.com/fokuslabs/focusgate/internal/models"
	"github.com/pressly/goose/v3"
)

var ErrNotFound = errors.New("cache row not found")

// Row is one cached entity.
type Row struct {
	ID      string
	Payload json.RawMessage
}

type Store struct {
	db *sql.DB
}

// New wraps an already-open database handle. Callers own migrations.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the cache database at dsn and applies
// pending migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache open error: %w", err)
	}

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("cache migration error: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the payload for (kind, id) or ErrNotFound.
func (s *Store) Get(ctx context.Context, kind models.Kind, id string) (json.RawMessage, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM cache_rows WHERE kind=? AND id=?`, string(kind), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select cache row: %w", err)
	}
	return payload, nil
}

// Upsert writes the payload for (kind, id). An existing device_local blob is
// preserved, which is what keeps remote merges from clobbering device-owned
// fields.
func (s *Store) Upsert(ctx context.Context, kind models.Kind, id string, payload json.RawMessage) error {
	query := `INSERT INTO cache_rows (kind, id, payload, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(kind, id) DO UPDATE SET payload = excluded.payload,
				updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query, string(kind), id, []byte(payload), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert cache row: %w", err)
	}
	return nil
}

// Delete removes (kind, id). Deleting an absent row is a no-op.
func (s *Store) Delete(ctx context.Context, kind models.Kind, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_rows WHERE kind=? AND id=?`, string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to delete cache row: %w", err)
	}
	return nil
}

// ListKind returns all rows of one kind ordered by id.
func (s *Store) ListKind(ctx context.Context, kind models.Kind) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM cache_rows WHERE kind=? ORDER BY id`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to select cache rows: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var item Row
		var payload []byte
		if err := rows.Scan(&item.ID, &payload); err != nil {
			return nil, err
		}
		item.Payload = payload
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Clear drops all rows of one kind.
func (s *Store) Clear(ctx context.Context, kind models.Kind) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_rows WHERE kind=?`, string(kind))
	if err != nil {
		return fmt.Errorf("failed to clear cache rows: %w", err)
	}
	return nil
}

// SetDeviceLocal attaches a device-owned blob to (kind, id). The row must
// already exist; device-local data has no meaning without a synced entity.
func (s *Store) SetDeviceLocal(ctx context.Context, kind models.Kind, id string, blob json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_rows SET device_local=? WHERE kind=? AND id=?`, []byte(blob), string(kind), id)
	if err != nil {
		return fmt.Errorf("failed to set device-local blob: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return ErrNotFound
	}
	return nil
}

// DeviceLocal returns the device-owned blob for (kind, id); nil when the row
// exists but carries none.
func (s *Store) DeviceLocal(ctx context.Context, kind models.Kind, id string) (json.RawMessage, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT device_local FROM cache_rows WHERE kind=? AND id=?`, string(kind), id).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select device-local blob: %w", err)
	}
	return blob, nil
}
