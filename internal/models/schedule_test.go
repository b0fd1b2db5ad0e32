package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Monday 2026-01-05 is a convenient anchor.
func mondayAt(hour, min int) time.Time {
	return time.Date(2026, 1, 5, hour, min, 0, 0, time.UTC)
}

func TestScheduleActiveAt_SameDayWindow(t *testing.T) {
	s := Schedule{
		DaysMask:    1 << uint(time.Monday),
		StartMinute: 9 * 60,
		EndMinute:   17 * 60,
		IsEnabled:   true,
	}

	assert.False(t, s.ActiveAt(mondayAt(8, 59)))
	assert.True(t, s.ActiveAt(mondayAt(9, 0)))
	assert.True(t, s.ActiveAt(mondayAt(12, 30)))
	assert.False(t, s.ActiveAt(mondayAt(17, 0)), "end is exclusive")

	// Same times on Tuesday are outside the mask.
	tuesday := mondayAt(12, 30).AddDate(0, 0, 1)
	assert.False(t, s.ActiveAt(tuesday))
}

func TestScheduleActiveAt_OvernightWrap(t *testing.T) {
	s := Schedule{
		DaysMask:    1 << uint(time.Monday),
		StartMinute: 22 * 60,
		EndMinute:   6 * 60,
		IsEnabled:   true,
	}

	assert.True(t, s.ActiveAt(mondayAt(23, 0)))
	assert.False(t, s.ActiveAt(mondayAt(21, 59)))

	// Tuesday 05:00 belongs to Monday's window.
	tuesdayMorning := mondayAt(5, 0).AddDate(0, 0, 1)
	assert.True(t, s.ActiveAt(tuesdayMorning))

	// Monday 05:00 belongs to Sunday's window, which is not in the mask.
	assert.False(t, s.ActiveAt(mondayAt(5, 0)))
}

func TestScheduleActiveAt_Disabled(t *testing.T) {
	s := Schedule{DaysMask: 0x7f, StartMinute: 0, EndMinute: 24 * 60}
	assert.False(t, s.ActiveAt(mondayAt(12, 0)))
}

func TestUnlockRequestPendingAt(t *testing.T) {
	now := mondayAt(12, 0)
	r := UnlockRequest{Status: UnlockRequestPending, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, r.PendingAt(now))
	assert.False(t, r.PendingAt(now.Add(2*time.Minute)), "past deadline is inert even while remote still says pending")

	r.Status = UnlockRequestApproved
	assert.False(t, r.PendingAt(now))
}

func TestFamilyLockExpiredAt(t *testing.T) {
	now := mondayAt(12, 0)
	l := FamilyLock{Status: FamilyLockActive, ExpiresAt: now.Add(-time.Second)}
	assert.True(t, l.ExpiredAt(now))

	l.Status = FamilyLockCompleted
	assert.False(t, l.ExpiredAt(now))
}
