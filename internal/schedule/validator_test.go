package schedule

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func monday0800to1200() *Window {
	return &Window{
		ID:        uuid.New(),
		DoctorID:  uuid.New(),
		Weekday:   "Monday",
		StartMins: 8 * 60,
		EndMins:   12 * 60,
		Active:    true,
	}
}

func TestFitsWindow(t *testing.T) {
	w := monday0800to1200()

	tests := []struct {
		name     string
		start    int
		duration int
		wantErr  error
	}{
		{"inside window", 9 * 60, 60, nil},
		{"flush against start", 8 * 60, 60, nil},
		{"flush against end", 11 * 60, 60, nil},
		{"starts before window", 7*60 + 30, 60, ErrOutsideWorkingHours},
		{"ends after window", 11*60 + 30, 60, ErrOutsideWorkingHours},
		{"fully outside", 14 * 60, 60, ErrOutsideWorkingHours},
		{"default duration applied", 11*60 + 30, 0, ErrOutsideWorkingHours},
		{"whole window", 8 * 60, 240, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FitsWindow(w, tt.start, tt.duration)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestFitsWindowMissingOrInactive(t *testing.T) {
	assert.ErrorIs(t, FitsWindow(nil, 9*60, 60), ErrNoScheduleForDay)

	w := monday0800to1200()
	w.Active = false
	assert.ErrorIs(t, FitsWindow(w, 9*60, 60), ErrNoScheduleForDay)
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		name                           string
		aStart, aEnd, bStart, bEnd int
		want                           bool
	}{
		{"disjoint before", 480, 540, 540, 600, false},
		{"disjoint after", 600, 660, 480, 540, false},
		{"partial overlap", 510, 570, 540, 600, true},
		{"containment", 480, 600, 510, 540, true},
		{"exact match", 540, 600, 540, 600, true},
		{"touching edges only", 480, 540, 540, 600, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(tt.aStart, tt.aEnd, tt.bStart, tt.bEnd))
		})
	}
}

func TestFindConflict(t *testing.T) {
	nineToTen := Booking{ID: uuid.New(), StartMins: 9 * 60, DurationMins: 60}

	t.Run("overlap flagged", func(t *testing.T) {
		err := FindConflict(9*60+30, 30, []Booking{nineToTen}, uuid.Nil)
		assert.ErrorIs(t, err, ErrScheduleConflict)
	})

	t.Run("adjacent slot allowed", func(t *testing.T) {
		assert.NoError(t, FindConflict(10*60, 60, []Booking{nineToTen}, uuid.Nil))
	})

	t.Run("cancelled bookings ignored", func(t *testing.T) {
		cancelled := nineToTen
		cancelled.Cancelled = true
		assert.NoError(t, FindConflict(9*60+30, 30, []Booking{cancelled}, uuid.Nil))
	})

	t.Run("excluded id ignored", func(t *testing.T) {
		assert.NoError(t, FindConflict(9*60+30, 30, []Booking{nineToTen}, nineToTen.ID))
	})

	t.Run("missing duration defaults to an hour", func(t *testing.T) {
		noDuration := Booking{ID: uuid.New(), StartMins: 9 * 60}
		err := FindConflict(9*60+45, 15, []Booking{noDuration}, uuid.Nil)
		assert.ErrorIs(t, err, ErrScheduleConflict)
	})
}

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"08:00", 480, false},
		{"23:59", 1439, false},
		{"00:00", 0, false},
		{" 09:30 ", 570, false},
		{"24:00", 0, true},
		{"08:60", 0, true},
		{"0800", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatTimeOfDayRoundTrip(t *testing.T) {
	for _, mins := range []int{0, 480, 570, 1439} {
		got, err := ParseTimeOfDay(FormatTimeOfDay(mins))
		assert.NoError(t, err)
		assert.Equal(t, mins, got)
	}
}
