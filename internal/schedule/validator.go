package schedule

import (
	"errors"

	"github.com/google/uuid"
)

// DefaultDurationMins is assumed when a booking carries no duration.
const DefaultDurationMins = 60

var (
	// ErrNoScheduleForDay means the doctor has no active window on the weekday.
	ErrNoScheduleForDay = errors.New("schedule: doctor has no schedule for that day")
	// ErrOutsideWorkingHours means the candidate slot leaves the window.
	ErrOutsideWorkingHours = errors.New("schedule: slot is outside working hours")
	// ErrScheduleConflict means the candidate slot overlaps an existing booking.
	ErrScheduleConflict = errors.New("schedule: slot conflicts with an existing appointment")
)

// FitsWindow checks that [startMins, startMins+durationMins) lies fully inside
// the window. A nil window fails with ErrNoScheduleForDay.
func FitsWindow(w *Window, startMins, durationMins int) error {
	if w == nil || !w.Active {
		return ErrNoScheduleForDay
	}
	if durationMins <= 0 {
		durationMins = DefaultDurationMins
	}
	end := startMins + durationMins
	if startMins < w.StartMins || end > w.EndMins {
		return ErrOutsideWorkingHours
	}
	return nil
}

// Overlaps is the half-open-interval overlap test. It covers containment,
// partial overlap, and exact-match in one comparison.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return max(aStart, bStart) < min(aEnd, bEnd)
}

// FindConflict returns ErrScheduleConflict when the candidate slot overlaps any
// non-cancelled booking. Bookings matching excludeID are skipped so a
// reschedule does not conflict with itself.
func FindConflict(startMins, durationMins int, others []Booking, excludeID uuid.UUID) error {
	if durationMins <= 0 {
		durationMins = DefaultDurationMins
	}
	end := startMins + durationMins
	for _, b := range others {
		if b.Cancelled || (excludeID != uuid.Nil && b.ID == excludeID) {
			continue
		}
		dur := b.DurationMins
		if dur <= 0 {
			dur = DefaultDurationMins
		}
		if Overlaps(startMins, end, b.StartMins, b.StartMins+dur) {
			return ErrScheduleConflict
		}
	}
	return nil
}
