package models

import "time"

// FocusMode is a named preset of apps/websites to block together.
// AppSelection is an opaque, device-local token (e.g. a platform app-picker
// blob) and is never synced verbatim; only the label and domain list travel.
type FocusMode struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Domains   []string  `json:"domains"`
	CreatedAt time.Time `json:"created_at"`
}

func (f FocusMode) EntityID() string { return f.ID }
func (f FocusMode) OwnerID() string  { return f.UserID }

// UserSettings is the per-user feature toggle row (row id == user id).
type UserSettings struct {
	ID                      string `json:"id"`
	UserID                  string `json:"user_id"`
	RegretPreventionEnabled bool   `json:"regret_prevention_enabled"`
	RegretWindowMinutes     int    `json:"regret_window_minutes"`
	StrictMode              bool   `json:"strict_mode"`
}

func (s UserSettings) EntityID() string { return s.ID }
func (s UserSettings) OwnerID() string  { return s.UserID }

// UserStats is an aggregate row maintained remotely; the engine syncs it
// generically and never interprets it beyond ownership.
type UserStats struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	TotalFocusSeconds int64     `json:"total_focus_seconds"`
	SessionsCompleted int       `json:"sessions_completed"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (s UserStats) EntityID() string { return s.ID }
func (s UserStats) OwnerID() string  { return s.UserID }
