package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fokuslabs/focusgate/internal/dbx"
	"github.com/fokuslabs/focusgate/internal/gateway/migrations"
	"github.com/fokuslabs/focusgate/internal/models"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepository persists rows in one jsonb-typed table keyed by
// (kind, id), with the owning user denormalized into a column for the
// scoping index.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	r := &PostgresRepository{db: db}
	if err := r.RunMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return r, nil
}

func (r *PostgresRepository) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, r.db, "."); err != nil {
		return err
	}
	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

func (r *PostgresRepository) SelectEq(ctx context.Context, kind models.Kind, field, value string) ([]json.RawMessage, error) {
	// user_id has its own column and index; every other field is matched
	// inside the jsonb document.
	var (
		rows *sql.Rows
		err  error
	)
	if field == "user_id" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT data FROM rows WHERE kind = $1 AND user_id = $2 ORDER BY id`, string(kind), value)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT data FROM rows WHERE kind = $1 AND data->>$2 = $3 ORDER BY id`, string(kind), field, value)
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Get(ctx context.Context, kind models.Kind, id string) (json.RawMessage, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM rows WHERE kind = $1 AND id = $2`, string(kind), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return data, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, kind models.Kind, id, userID string, data json.RawMessage) (bool, error) {
	query := `
		INSERT INTO rows (kind, id, user_id, data, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (kind, id) DO UPDATE
		SET user_id = excluded.user_id, data = excluded.data, updated_at = excluded.updated_at
		RETURNING (xmax = 0)`

	var inserted bool
	if err := r.db.QueryRowContext(ctx, query, string(kind), id, userID, []byte(data)).Scan(&inserted); err != nil {
		return false, fmt.Errorf("error performing sql request: %w", err)
	}
	return inserted, nil
}

func (r *PostgresRepository) Update(ctx context.Context, kind models.Kind, id string, data json.RawMessage) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE rows SET data = $3, updated_at = now() WHERE kind = $1 AND id = $2`,
		string(kind), id, []byte(data))
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, kind models.Kind, id string) (json.RawMessage, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`DELETE FROM rows WHERE kind = $1 AND id = $2 RETURNING data`, string(kind), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error performing sql request: %w", err)
	}
	return data, nil
}

// RecordApproval runs the whole approval protocol in one transaction: the
// row insert observes the unique (request_id, partner_user_id) index, the
// request row is locked, its counter bumped, and the status flipped once the
// threshold is met.
func (r *PostgresRepository) RecordApproval(ctx context.Context, approvalID string, data json.RawMessage, requestID, partnerUserID string) (ApprovalResult, error) {
	var approval models.UnlockApproval
	if err := json.Unmarshal(data, &approval); err != nil {
		return ApprovalResult{}, fmt.Errorf("malformed approval row: %w", err)
	}

	var result ApprovalResult
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO rows (kind, id, user_id, data)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			string(models.KindUnlockApproval), approvalID, approval.UserID, []byte(data))
		if err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil // partner already approved this request
		}
		result.Inserted = true

		var raw []byte
		err = tx.QueryRowContext(ctx,
			`SELECT data FROM rows WHERE kind = $1 AND id = $2 FOR UPDATE`,
			string(models.KindUnlockRequest), requestID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		var req models.UnlockRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("malformed request row: %w", err)
		}

		req.ReceivedApprovals++
		if req.Status == models.UnlockRequestPending && req.ReceivedApprovals >= req.RequiredApprovals {
			req.Status = models.UnlockRequestApproved
			req.ResolvedAt = time.Now().UTC()
		}

		updated, err := json.Marshal(req)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE rows SET data = $3, updated_at = now() WHERE kind = $1 AND id = $2`,
			string(models.KindUnlockRequest), requestID, updated); err != nil {
			return fmt.Errorf("error performing sql request: %w", err)
		}

		result.Request = updated
		result.RequestOwner = req.UserID
		return nil
	})
	if err != nil {
		return ApprovalResult{}, err
	}
	return result, nil
}

func (r *PostgresRepository) CreateDevice(ctx context.Context, d Device) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (id, user_id, secret_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`, d.ID, d.UserID, d.SecretHash)
	if err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrDeviceExists
	}
	return nil
}

func (r *PostgresRepository) GetDevice(ctx context.Context, id string) (Device, error) {
	d := Device{ID: id}
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, secret_hash, created_at FROM devices WHERE id = $1`, id).
		Scan(&d.UserID, &d.SecretHash, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrDeviceNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("error performing sql request: %w", err)
	}
	return d, nil
}
