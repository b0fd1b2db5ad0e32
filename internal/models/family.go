package models

import "time"

// MaxFamilyMembers caps family group size.
const MaxFamilyMembers = 5

// FamilyGroup is a named set of up to MaxFamilyMembers users.
type FamilyGroup struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerUser string    `json:"owner_user_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (g FamilyGroup) EntityID() string { return g.ID }
func (g FamilyGroup) OwnerID() string  { return g.OwnerUser }

// FamilyMember is one user's membership; a user belongs to at most one group.
type FamilyMember struct {
	ID            string    `json:"id"`
	FamilyGroupID string    `json:"family_group_id"`
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	JoinedAt      time.Time `json:"joined_at"`
}

func (m FamilyMember) EntityID() string { return m.ID }
func (m FamilyMember) OwnerID() string  { return m.UserID }

// FamilyLockStatus transitions pending → active|rejected|cancelled, and
// active → completed once the lock's deadline passes.
type FamilyLockStatus string

const (
	FamilyLockPending   FamilyLockStatus = "pending"
	FamilyLockActive    FamilyLockStatus = "active"
	FamilyLockRejected  FamilyLockStatus = "rejected"
	FamilyLockCompleted FamilyLockStatus = "completed"
	FamilyLockCancelled FamilyLockStatus = "cancelled"
)

func (s FamilyLockStatus) Terminal() bool {
	return s == FamilyLockRejected || s == FamilyLockCompleted || s == FamilyLockCancelled
}

// FamilyLock is a family-initiated enforcement session on TargetUserID.
// It becomes active only after the target approves, and completes once
// ExpiresAt passes (swept lazily, idempotently, from any device).
type FamilyLock struct {
	ID              string           `json:"id"`
	FamilyGroupID   string           `json:"family_group_id"`
	RequesterID     string           `json:"requester_id"`
	TargetUserID    string           `json:"target_user_id"`
	Status          FamilyLockStatus `json:"status"`
	DurationMinutes int              `json:"duration_minutes"`
	CreatedAt       time.Time        `json:"created_at"`
	ApprovedAt      time.Time        `json:"approved_at"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

func (l FamilyLock) EntityID() string { return l.ID }

// OwnerID scopes the lock to the target: it is the target's device that must
// enforce it, so the target's feed topic carries it.
func (l FamilyLock) OwnerID() string { return l.TargetUserID }

// ExpiredAt reports an active lock whose deadline has passed but which no
// device has swept to completed yet.
func (l FamilyLock) ExpiredAt(now time.Time) bool {
	return l.Status == FamilyLockActive && now.After(l.ExpiresAt)
}
