package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidClock    = errors.New("invalid clock value")
	ErrInvalidInterval = errors.New("interval start must be before end")
)

// MinuteOfDay is a time of day in minutes since midnight, 0..1440.
// Working-hours comparisons are always done on this type, never on
// "HH:MM" strings.
type MinuteOfDay int

const MinutesPerDay = 24 * 60

// ParseClock parses a zero-padded 24-hour "HH:MM" string. "24:00" is
// accepted as the exclusive end-of-day boundary, so every value Clock
// can produce parses back.
func ParseClock(s string) (MinuteOfDay, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	for _, i := range [...]int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h > 24 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	return MinuteOfDay(h*60 + m), nil
}

// Clock formats the value as zero-padded "HH:MM". 1440 renders as "24:00"
// so a window ending at midnight round-trips.
func (m MinuteOfDay) Clock() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m MinuteOfDay) valid() bool {
	return m >= 0 && m <= MinutesPerDay
}

// Interval is a half-open [Start, End) time-of-day range.
type Interval struct {
	Start MinuteOfDay
	End   MinuteOfDay
}

func (i Interval) Validate() error {
	if !i.Start.valid() || !i.End.valid() {
		return fmt.Errorf("%w: %s-%s out of range", ErrInvalidClock, i.Start.Clock(), i.End.Clock())
	}
	if i.Start >= i.End {
		return fmt.Errorf("%w: %s >= %s", ErrInvalidInterval, i.Start.Clock(), i.End.Clock())
	}
	return nil
}

// Overlaps reports whether two half-open intervals intersect. An interval
// ending at 10:00 and one starting at 10:00 do not overlap.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Contains reports whether other lies entirely within i.
func (i Interval) Contains(other Interval) bool {
	return other.Start >= i.Start && other.End <= i.End
}

func (i Interval) Minutes() int {
	return int(i.End - i.Start)
}

// ISOWeekday maps a calendar date to 1..7 with Monday=1.
func ISOWeekday(date time.Time) int16 {
	wd := date.Weekday()
	if wd == time.Sunday {
		return 7
	}
	return int16(wd)
}

// DayStart truncates a timestamp to midnight UTC, the day-bucket boundary.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
