// Package streak implements the reading streak engine: the state machine
// that turns per-day reading totals into consecutive-day streak state.
package streak

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/reading/internal/calendar"
)

var (
	// ErrInvalidThreshold is returned when a daily threshold is not positive.
	ErrInvalidThreshold = errors.New("daily threshold must be positive")
	// ErrInvalidDay is returned when an operation requires a concrete day key.
	ErrInvalidDay = errors.New("day key is required")
	// ErrInvalidMonth is returned for month values outside January..December.
	ErrInvalidMonth = errors.New("month out of range")
)

// State is the single persisted streak row per owner.
//
// CurrentStreak counts consecutive qualifying days ending at LastActivityDay
// and is only meaningful while the streak has not expired; LongestStreak and
// TotalDaysActive are historical facts and survive resets.
type State struct {
	OwnerID         string
	CurrentStreak   int
	LongestStreak   int
	LastActivityDay calendar.Day
	StreakStartDay  calendar.Day
	TotalDaysActive int
	DailyThreshold  int
	Enabled         bool
	TimeZone        string
	LastCheckedDay  calendar.Day
	UpdatedAt       time.Time
}

// InvariantError reports a streak state that fails an internal consistency
// check. It indicates a logic bug; the offending write is aborted.
type InvariantError struct {
	OwnerID string
	Detail  string
	State   State
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("streak invariant violated for owner %s: %s", e.OwnerID, e.Detail)
}

// DayTotal pairs a calendar day with its summed reading quantity.
type DayTotal struct {
	Day      calendar.Day
	Quantity int
}

// ActivitySource provides read-only access to per-day activity aggregates.
type ActivitySource interface {
	// SumForDay returns the summed quantity for one owner-day, zero if none.
	SumForDay(ctx context.Context, ownerID string, day calendar.Day) (int, error)
	// AggregateRange returns one entry per day that has at least one record,
	// ascending by day. Days without activity are omitted.
	AggregateRange(ctx context.Context, ownerID string, start, end calendar.Day) ([]DayTotal, error)
	// QualifyingDays returns every distinct day whose summed quantity meets
	// the threshold, ascending by day.
	QualifyingDays(ctx context.Context, ownerID string, threshold int) ([]calendar.Day, error)
}

// StateStore persists one State row per owner. Mutate must serialise
// concurrent calls for the same owner and must leave the prior row intact
// when fn returns an error.
type StateStore interface {
	Load(ctx context.Context, ownerID string) (State, bool, error)
	Mutate(ctx context.Context, ownerID string, defaults State, fn func(*State) error) (State, error)
	Owners(ctx context.Context) ([]string, error)
}

// Clock supplies the current instant; injectable for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (s State) checkInvariants() error {
	switch {
	case s.CurrentStreak < 0 || s.LongestStreak < 0 || s.TotalDaysActive < 0:
		return &InvariantError{OwnerID: s.OwnerID, Detail: "negative counter", State: s}
	case s.CurrentStreak > s.LongestStreak:
		return &InvariantError{OwnerID: s.OwnerID, Detail: fmt.Sprintf("current streak %d exceeds longest %d", s.CurrentStreak, s.LongestStreak), State: s}
	case s.TotalDaysActive < s.CurrentStreak:
		return &InvariantError{OwnerID: s.OwnerID, Detail: fmt.Sprintf("total active days %d below current streak %d", s.TotalDaysActive, s.CurrentStreak), State: s}
	case s.CurrentStreak > 0 && s.LastActivityDay.IsZero():
		return &InvariantError{OwnerID: s.OwnerID, Detail: "current streak without last activity day", State: s}
	case s.CurrentStreak > 0 && s.StreakStartDay.IsZero():
		return &InvariantError{OwnerID: s.OwnerID, Detail: "current streak without start day", State: s}
	}
	return nil
}
