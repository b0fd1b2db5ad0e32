package models

import "time"

// Schedule is one recurring blocking window: a weekday bitmask plus start and
// end expressed as minutes of the local day. End < Start means the window
// wraps past midnight (e.g. 22:00–06:00).
type Schedule struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	DaysMask    uint8  `json:"days_mask"` // bit 0 = Sunday, matching time.Weekday
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	IsEnabled   bool   `json:"is_enabled"`
}

func (s Schedule) EntityID() string { return s.ID }
func (s Schedule) OwnerID() string  { return s.UserID }

// ActiveAt reports whether now falls within the window. For wrapping windows
// the weekday test applies to the day the window started.
func (s Schedule) ActiveAt(now time.Time) bool {
	if !s.IsEnabled {
		return false
	}

	minute := now.Hour()*60 + now.Minute()

	if s.StartMinute <= s.EndMinute {
		return s.dayEnabled(now.Weekday()) && minute >= s.StartMinute && minute < s.EndMinute
	}

	// Overnight wrap: tonight's tail belongs to today, this morning's head
	// belongs to yesterday.
	if minute >= s.StartMinute {
		return s.dayEnabled(now.Weekday())
	}
	if minute < s.EndMinute {
		yesterday := (now.Weekday() + 6) % 7
		return s.dayEnabled(yesterday)
	}
	return false
}

func (s Schedule) dayEnabled(d time.Weekday) bool {
	return s.DaysMask&(1<<uint(d)) != 0
}
