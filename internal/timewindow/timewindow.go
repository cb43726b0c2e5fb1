// Package timewindow holds the pure time arithmetic shared by the
// availability and scheduling layers: clock parsing, minutes-since-midnight
// conversion and slot generation. Nothing here touches storage.
package timewindow

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotStepMinutes is the granularity of generated pickup/delivery slots.
const SlotStepMinutes = 30

// MinutesOfDay returns t's clock time as minutes since local midnight.
func MinutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ParseClock parses "HH:MM" (or "HH:MM:SS", seconds ignored) into minutes
// since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(mins int) string {
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}

// DayName returns the lower-case English weekday name used by opening-hours
// and item-availability records.
func DayName(t time.Time) string {
	return strings.ToLower(t.Weekday().String())
}

// AtMinutes returns the instant on date's calendar day at the given clock
// minutes, in date's location.
func AtMinutes(date time.Time, mins int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), mins/60, mins%60, 0, 0, date.Location())
}

// Slots lists "HH:MM" labels every SlotStepMinutes within [from, to].
// notBefore trims leading slots, used to drop already-past slots for today;
// pass a negative value to keep all.
func Slots(from, to, notBefore int) []string {
	var out []string
	for m := from; m <= to; m += SlotStepMinutes {
		if m < notBefore {
			continue
		}
		out = append(out, FormatClock(m))
	}
	return out
}

// Overlaps reports whether the half-open intervals [aFrom, aTo) and
// [bFrom, bTo) intersect.
func Overlaps(aFrom, aTo, bFrom, bTo time.Time) bool {
	return aFrom.Before(bTo) && bFrom.Before(aTo)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock struct{ T time.Time }

func (f FixedClock) Now() time.Time { return f.T }
