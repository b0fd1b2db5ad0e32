package models

import "time"

// PartnershipStatus is the lifecycle of an accountability pairing.
type PartnershipStatus string

const (
	PartnershipPending PartnershipStatus = "pending"
	PartnershipActive  PartnershipStatus = "active"
	PartnershipRevoked PartnershipStatus = "revoked"
)

// Partnership pairs two users so one can gate the other's unlock requests.
// While the invite is pending, PartnerUserID equals UserID as a placeholder
// and InviteCode is set; accepting fills in the real partner.
type Partnership struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	PartnerUserID   string            `json:"partner_user_id"`
	Status          PartnershipStatus `json:"status"`
	InviteCode      string            `json:"invite_code,omitempty"`
	InviteExpiresAt time.Time         `json:"invite_expires_at"`
	AcceptedAt      time.Time         `json:"accepted_at"`
	RevokedAt       time.Time         `json:"revoked_at"`
}

func (p Partnership) EntityID() string { return p.ID }
func (p Partnership) OwnerID() string  { return p.UserID }

// InviteExpired reports whether a still-pending invite can no longer be
// accepted.
func (p Partnership) InviteExpired(now time.Time) bool {
	return p.Status == PartnershipPending && now.After(p.InviteExpiresAt)
}

// AccountabilityConfig is the per-user knob set for the unlock protocol
// (row id == user id).
type AccountabilityConfig struct {
	ID                    string `json:"id"`
	UserID                string `json:"user_id"`
	IsEnabled             bool   `json:"is_enabled"`
	RequiredApprovals     int    `json:"required_approvals"`
	RequestTimeoutMinutes int    `json:"request_timeout_minutes"`
	CooldownMinutes       int    `json:"cooldown_minutes"`
}

func (c AccountabilityConfig) EntityID() string { return c.ID }
func (c AccountabilityConfig) OwnerID() string  { return c.UserID }

// UnlockRequestStatus transitions pending → approved|expired|cancelled; the
// non-pending states are terminal.
type UnlockRequestStatus string

const (
	UnlockRequestPending   UnlockRequestStatus = "pending"
	UnlockRequestApproved  UnlockRequestStatus = "approved"
	UnlockRequestExpired   UnlockRequestStatus = "expired"
	UnlockRequestCancelled UnlockRequestStatus = "cancelled"
)

func (s UnlockRequestStatus) Terminal() bool { return s != UnlockRequestPending }

// UnlockRequest asks accountability partners to end an enforcement session.
// ReceivedApprovals and the pending→approved flip are maintained by the
// remote; devices only ever reflect the persisted row.
type UnlockRequest struct {
	ID                 string              `json:"id"`
	UserID             string              `json:"user_id"`
	Status             UnlockRequestStatus `json:"status"`
	Reason             string              `json:"reason"`
	RequiredApprovals  int                 `json:"required_approvals"`
	ReceivedApprovals  int                 `json:"received_approvals"`
	CreatedAt          time.Time           `json:"created_at"`
	ExpiresAt          time.Time           `json:"expires_at"`
	ResolvedAt         time.Time           `json:"resolved_at"`
	RequestingDeviceID string              `json:"requesting_device_id"`
}

func (r UnlockRequest) EntityID() string { return r.ID }
func (r UnlockRequest) OwnerID() string  { return r.UserID }

// PendingAt reports whether the request is still actionable: pending on the
// row and not past its deadline. A row the remote has not yet marked expired
// is treated as inert locally once ExpiresAt passes.
func (r UnlockRequest) PendingAt(now time.Time) bool {
	return r.Status == UnlockRequestPending && now.Before(r.ExpiresAt)
}

// UnlockApproval records one partner's approval of one request. The pair
// (RequestID, PartnerUserID) is unique remotely; duplicate inserts are
// benign no-ops.
type UnlockApproval struct {
	ID                string    `json:"id"`
	RequestID         string    `json:"request_id"`
	UserID            string    `json:"user_id"`
	PartnerUserID     string    `json:"partner_user_id"`
	Method            string    `json:"method"`
	ApprovedAt        time.Time `json:"approved_at"`
	ApprovingDeviceID string    `json:"approving_device_id"`
}

func (a UnlockApproval) EntityID() string { return a.ID }
func (a UnlockApproval) OwnerID() string  { return a.UserID }
