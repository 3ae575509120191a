package streak

import (
	"context"
	"log"
	"time"

	"example.com/reading/internal/calendar"
)

// Engine is the streak transition state machine. All transition logic is
// centralised here; callers go through exactly the public operations below
// and never mutate State directly.
type Engine struct {
	source ActivitySource
	states StateStore
	clock  Clock
	logger *log.Logger

	defaultThreshold int
	defaultTimeZone  string
}

// Option configures optional behaviour for the Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger overrides the logger used for invariant reports.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithDefaults sets the threshold and time zone applied to lazily created states.
func WithDefaults(threshold int, timeZone string) Option {
	return func(e *Engine) {
		e.defaultThreshold = threshold
		e.defaultTimeZone = timeZone
	}
}

// NewEngine constructs an Engine over the injected collaborators.
func NewEngine(source ActivitySource, states StateStore, opts ...Option) *Engine {
	e := &Engine{
		source:           source,
		states:           states,
		clock:            systemClock{},
		logger:           log.New(log.Writer(), "[streak] ", log.LstdFlags),
		defaultThreshold: 1,
		defaultTimeZone:  "UTC",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) defaultState(ownerID string) State {
	return State{
		OwnerID:        ownerID,
		DailyThreshold: e.defaultThreshold,
		Enabled:        true,
		TimeZone:       e.defaultTimeZone,
	}
}

// State returns the current streak state, or the default zero state when the
// owner has no row yet. Read-only; the lazily built default is not persisted.
func (e *Engine) State(ctx context.Context, ownerID string) (State, error) {
	state, found, err := e.states.Load(ctx, ownerID)
	if err != nil {
		return State{}, err
	}
	if !found {
		return e.defaultState(ownerID), nil
	}
	return state, nil
}

// RecordActivity re-evaluates one owner-day after an activity record was
// written for it and applies the resulting transition. The day may be today
// or a backdated day; backdating and same-day disqualification both fall back
// to a full rebuild because an incremental patch is not reliably correct.
func (e *Engine) RecordActivity(ctx context.Context, ownerID string, day calendar.Day, quantityDelta int) (State, error) {
	if day.IsZero() {
		return State{}, ErrInvalidDay
	}
	_ = quantityDelta // the authoritative total is always re-read from the source

	return e.states.Mutate(ctx, ownerID, e.defaultState(ownerID), func(s *State) error {
		if s.DailyThreshold <= 0 {
			return ErrInvalidThreshold
		}

		sum, err := e.source.SumForDay(ctx, ownerID, day)
		if err != nil {
			return err
		}
		qualifies := sum >= s.DailyThreshold

		switch {
		case s.LastActivityDay.IsZero() || day.After(s.LastActivityDay):
			if !qualifies {
				// A logged-but-below-threshold day never breaks a streak on
				// its own; expiry is detected by CheckAndResetIfNeeded.
				return nil
			}
			if s.LastActivityDay.IsZero() || calendar.DaysBetween(s.LastActivityDay, day) == 1 {
				s.CurrentStreak++
				if s.StreakStartDay.IsZero() {
					s.StreakStartDay = day
				}
				recordTransition(transitionExtended)
			} else {
				s.CurrentStreak = 1
				s.StreakStartDay = day
				recordTransition(transitionStarted)
			}
			s.LastActivityDay = day
			// First time this day qualifies; same-day re-evaluations take the
			// day.Equal branch below and never double count.
			s.TotalDaysActive++
			if s.CurrentStreak > s.LongestStreak {
				s.LongestStreak = s.CurrentStreak
			}

		case day.Equal(s.LastActivityDay):
			if qualifies {
				// Already counted when it became LastActivityDay.
				return nil
			}
			// The most recent counted day no longer meets the threshold
			// (raised mid-day). A plain decrement is not always correct, so
			// reconsult history.
			if err := e.applyRebuild(ctx, s, rebuildParams{}); err != nil {
				return err
			}
			recordTransition(transitionRebuilt)

		default:
			// Backdated activity older than the most recent run: older gaps
			// may have closed, so longest streak and totals need a rebuild.
			if err := e.applyRebuild(ctx, s, rebuildParams{}); err != nil {
				return err
			}
			recordTransition(transitionRebuilt)
		}

		if err := s.checkInvariants(); err != nil {
			e.logger.Printf("aborting write: %v (state=%+v)", err, *s)
			return err
		}
		s.UpdatedAt = e.clock.Now().UTC()
		return nil
	})
}

// CheckResult reports the outcome of a reset check.
type CheckResult struct {
	Changed bool
	State   State
}

// CheckAndResetIfNeeded expires streaks whose grace period has elapsed with
// no qualifying activity. It is idempotent within a calendar day and safe to
// call arbitrarily often.
func (e *Engine) CheckAndResetIfNeeded(ctx context.Context, ownerID string) (CheckResult, error) {
	changed := false
	state, err := e.states.Mutate(ctx, ownerID, e.defaultState(ownerID), func(s *State) error {
		loc, err := calendar.LoadZone(s.TimeZone)
		if err != nil {
			return err
		}
		today := calendar.DayOf(e.clock.Now(), loc)

		if s.LastCheckedDay.Equal(today) {
			return nil
		}
		s.LastCheckedDay = today
		s.UpdatedAt = e.clock.Now().UTC()

		if s.LastActivityDay.IsZero() || s.CurrentStreak == 0 {
			return nil
		}
		if calendar.DaysBetween(s.LastActivityDay, today) <= 1 {
			// Today or yesterday: the streak survives the grace period.
			return nil
		}

		s.CurrentStreak = 0
		s.StreakStartDay = calendar.Day{}
		changed = true
		recordTransition(transitionReset)
		return nil
	})
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{Changed: changed, State: state}, nil
}

// ActivityCalendar returns a dense, zero-filled day-by-day aggregate covering
// exactly the requested month, or the whole year when month is zero.
// Read-only; streak state is not touched.
func (e *Engine) ActivityCalendar(ctx context.Context, ownerID string, year int, month time.Month) ([]DayTotal, error) {
	var start, end calendar.Day
	switch {
	case month == 0:
		start, end = calendar.YearBounds(year)
	case month >= time.January && month <= time.December:
		start, end = calendar.MonthBounds(year, month)
	default:
		return nil, ErrInvalidMonth
	}

	sparse, err := e.source.AggregateRange(ctx, ownerID, start, end)
	if err != nil {
		return nil, err
	}

	dense := make([]DayTotal, 0, calendar.DaysBetween(start, end)+1)
	i := 0
	for day := start; !day.After(end); day = day.AddDays(1) {
		quantity := 0
		if i < len(sparse) && sparse[i].Day.Equal(day) {
			quantity = sparse[i].Quantity
			i++
		}
		dense = append(dense, DayTotal{Day: day, Quantity: quantity})
	}
	return dense, nil
}
