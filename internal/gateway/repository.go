// Package gateway is the reference sync backend: a Postgres-backed row store
// with a JSON HTTP API, bearer-token device auth, server-side unlock-approval
// counting, and a websocket change feed.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fokuslabs/focusgate/internal/models"
)

var (
	ErrNotFound        = errors.New("row not found")
	ErrDeviceExists    = errors.New("device already registered")
	ErrDeviceNotFound  = errors.New("device not found")
	ErrRequestNotFound = errors.New("unlock request not found")
)

// Device is one enrolled agent installation. Secret is stored bcrypt-hashed.
type Device struct {
	ID         string
	UserID     string
	SecretHash []byte
	CreatedAt  time.Time
}

// ApprovalResult reports what the approval transaction changed.
type ApprovalResult struct {
	// Inserted is false for a duplicate (request_id, partner_user_id) pair.
	Inserted bool
	// Request is the request row after the counter bump, nil when the
	// approval was a duplicate.
	Request json.RawMessage
	// RequestOwner scopes the request-update broadcast.
	RequestOwner string
}

// Repository persists synced rows and devices. Implementations must make
// RecordApproval atomic: the duplicate check, the counter bump, and the
// threshold flip happen in one transaction.
type Repository interface {
	SelectEq(ctx context.Context, kind models.Kind, field, value string) ([]json.RawMessage, error)
	Get(ctx context.Context, kind models.Kind, id string) (json.RawMessage, error)

	// Upsert stores the row and reports whether it was newly inserted.
	Upsert(ctx context.Context, kind models.Kind, id, userID string, data json.RawMessage) (bool, error)
	// Update overwrites an existing row; ErrNotFound when absent.
	Update(ctx context.Context, kind models.Kind, id string, data json.RawMessage) error
	// Delete removes the row and returns its last value; ErrNotFound when absent.
	Delete(ctx context.Context, kind models.Kind, id string) (json.RawMessage, error)

	// RecordApproval inserts an unlock_approval row unless the partner
	// already approved this request, increments the request's
	// received_approvals, and flips its status to approved at the
	// configured threshold.
	RecordApproval(ctx context.Context, approvalID string, data json.RawMessage, requestID, partnerUserID string) (ApprovalResult, error)

	CreateDevice(ctx context.Context, d Device) error
	GetDevice(ctx context.Context, id string) (Device, error)
}
