// Package feed defines the change-data-capture capability the sync engine
// consumes: a per-user, per-kind stream of insert/update/delete events, each
// carrying the full new row (old row only on delete). Delivery is
// at-least-once with per-row ordering inside a connection; a reconnect is
// surfaced as a reset event so the owner can re-reconcile the gap.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fokuslabs/focusgate/internal/models"
)

type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionReset is synthesized locally after a feed reconnect; events may
	// have been missed, so the subscriber must run a fresh reconcile.
	ActionReset Action = "reset"
)

// Event is one change notification.
type Event struct {
	Action Action          `json:"action"`
	Kind   models.Kind     `json:"kind"`
	Row    json.RawMessage `json:"row,omitempty"`
	OldRow json.RawMessage `json:"old_row,omitempty"`
}

// Topic names the per-user per-kind subscription channel, e.g.
// "timer_state-u1".
func Topic(kind models.Kind, userID string) string {
	return fmt.Sprintf("%s-%s", kind, userID)
}

// Subscriber opens filtered event streams. The returned stop function closes
// the stream and releases the event channel; it is safe to call more than
// once.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error)
}
