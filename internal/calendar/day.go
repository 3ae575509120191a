// Package calendar resolves instants onto zone-local calendar days and
// provides whole-day arithmetic over them.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownTimeZone is returned when an IANA zone identifier cannot be resolved.
var ErrUnknownTimeZone = errors.New("unknown time zone")

const dayFormat = "2006-01-02"

// Day is a date with no time-of-day component, printable as YYYY-MM-DD.
// The zero value means "no day". A Day is normalised to midnight UTC
// internally so that ordering and subtraction are plain calendar
// arithmetic, unaffected by DST transitions in the zone it came from.
type Day struct {
	t time.Time
}

// DayOf projects an instant onto the local calendar date of loc.
// Any two instants within the same local day in loc map to the same Day.
func DayOf(t time.Time, loc *time.Location) Day {
	year, month, day := t.In(loc).Date()
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Parse reads a YYYY-MM-DD day key.
func Parse(value string) (Day, error) {
	t, err := time.Parse(dayFormat, value)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day key %q: %w", value, err)
	}
	return Day{t: t}, nil
}

// FromTime interprets a DATE value scanned from storage as a Day.
func FromTime(t time.Time) Day {
	if t.IsZero() {
		return Day{}
	}
	year, month, day := t.Date()
	return Day{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// String renders the day key, or "" for the zero Day.
func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(dayFormat)
}

// IsZero reports whether the Day is the "no day" value.
func (d Day) IsZero() bool { return d.t.IsZero() }

func (d Day) Before(other Day) bool { return d.t.Before(other.t) }
func (d Day) After(other Day) bool  { return d.t.After(other.t) }
func (d Day) Equal(other Day) bool  { return d.t.Equal(other.t) }

// AddDays returns the day n calendar days after d. n may be negative.
func (d Day) AddDays(n int) Day {
	return Day{t: d.t.AddDate(0, 0, n)}
}

// Time returns the day as midnight UTC, suitable for DATE columns.
func (d Day) Time() time.Time { return d.t }

// MarshalText renders the day key for JSON encoding.
func (d Day) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText accepts a YYYY-MM-DD day key, or "" for the zero Day.
func (d *Day) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*d = Day{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween returns b minus a in whole calendar days. Both days are
// midnight UTC, so the division is exact regardless of the zone either
// day was resolved in.
func DaysBetween(a, b Day) int {
	return int(b.t.Sub(a.t) / (24 * time.Hour))
}

// MonthBounds returns the inclusive first and last day of a month.
func MonthBounds(year int, month time.Month) (Day, Day) {
	first := Day{t: time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)}
	return first, Day{t: first.t.AddDate(0, 1, -1)}
}

// YearBounds returns the inclusive first and last day of a year.
func YearBounds(year int) (Day, Day) {
	return Day{t: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)},
		Day{t: time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)}
}

// LoadZone resolves an IANA zone identifier such as "Asia/Tokyo".
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrUnknownTimeZone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTimeZone, name)
	}
	return loc, nil
}
