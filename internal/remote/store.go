// Package remote defines the remote-store capability the sync engine
// consumes, plus its HTTP/JSON implementation against the sync gateway.
// Every call is best-effort from the engine's point of view: failures map to
// sentinel errors and the caller keeps serving from the local cache.
package remote

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fokuslabs/focusgate/internal/models"
)

var (
	// ErrUnavailable means the remote could not be reached or answered with
	// a server-side failure; local state remains authoritative for now.
	ErrUnavailable = errors.New("remote store unavailable")

	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("remote row not found")
)

// Store is the filtered select / upsert / update / delete surface the
// synchronizers need. Implementations must scope every row by its owning
// user server-side; the engine only narrows, never widens.
type Store interface {
	// SelectEq fetches all rows of kind where field equals value.
	SelectEq(ctx context.Context, kind models.Kind, field, value string) ([]json.RawMessage, error)

	// Upsert writes a full row; the conflict key is the row id.
	Upsert(ctx context.Context, kind models.Kind, id string, row json.RawMessage) error

	// Update overwrites the row with the given id; ErrNotFound if absent.
	Update(ctx context.Context, kind models.Kind, id string, row json.RawMessage) error

	// Delete removes the row with the given id. Deleting an absent row is
	// a no-op.
	Delete(ctx context.Context, kind models.Kind, id string) error
}
