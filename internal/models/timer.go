package models

import "time"

// TimerState is the single focus-timer row per user (row id == user id, so
// the "at most one active timer" invariant holds structurally).
type TimerState struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	IsActive             bool      `json:"is_active"`
	StartTime            time.Time `json:"start_time"`
	EndTime              time.Time `json:"end_time"`
	PlannedDurationSecs  int64     `json:"planned_duration_seconds"`
	LastModifiedByDevice string    `json:"last_modified_by_device"`
	LastModifiedAt       time.Time `json:"last_modified_at"`
}

func (t TimerState) EntityID() string { return t.ID }
func (t TimerState) OwnerID() string  { return t.UserID }

// ActiveAt reports whether the timer is running at the given instant.
// A row may still carry IsActive=true after EndTime has passed when no
// device has observed the expiry yet; callers must treat that as inactive.
func (t TimerState) ActiveAt(now time.Time) bool {
	return t.IsActive && now.Before(t.EndTime)
}

// RegretWindow keeps enforcement on for a while after a timer is abandoned
// early (row id == user id).
type RegretWindow struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	ArmedAt  time.Time `json:"armed_at"`
	EndsAt   time.Time `json:"ends_at"`
	DeviceID string    `json:"device_id"`
}

func (r RegretWindow) EntityID() string { return r.ID }
func (r RegretWindow) OwnerID() string  { return r.UserID }

func (r RegretWindow) ActiveAt(now time.Time) bool {
	return now.Before(r.EndsAt)
}
