package streak

import (
	"context"

	"example.com/reading/internal/calendar"
)

// RebuildOptions parameterise a full recomputation.
type RebuildOptions struct {
	// AsOf is the day the grace period is evaluated against. Zero means
	// today in the owner's zone.
	AsOf calendar.Day
	// Threshold overrides the stored daily threshold when non-nil.
	Threshold *int
	// Enabled overrides the stored enabled flag when non-nil.
	Enabled *bool
}

type rebuildParams struct {
	asOf      calendar.Day
	threshold *int
	enabled   *bool
}

// Rebuild recomputes the whole streak state from activity history and
// persists it as one atomic write. It is deterministic: the same history and
// parameters always produce the same state, which makes it both the ground
// truth the incremental transitions must agree with and the correction
// mechanism for cases they cannot safely patch.
func (e *Engine) Rebuild(ctx context.Context, ownerID string, opts RebuildOptions) (State, error) {
	state, err := e.states.Mutate(ctx, ownerID, e.defaultState(ownerID), func(s *State) error {
		if err := e.applyRebuild(ctx, s, rebuildParams{asOf: opts.AsOf, threshold: opts.Threshold, enabled: opts.Enabled}); err != nil {
			return err
		}
		if err := s.checkInvariants(); err != nil {
			e.logger.Printf("aborting write: %v (state=%+v)", err, *s)
			return err
		}
		s.UpdatedAt = e.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return State{}, err
	}
	recordTransition(transitionRebuilt)
	return state, nil
}

// Settings captures user-facing streak configuration changes.
type Settings struct {
	Threshold *int
	TimeZone  *string
	Enabled   *bool
}

// UpdateSettings applies configuration changes and rebuilds, since a new
// threshold or zone can change which historical days qualify.
func (e *Engine) UpdateSettings(ctx context.Context, ownerID string, settings Settings) (State, error) {
	if settings.Threshold != nil && *settings.Threshold <= 0 {
		return State{}, ErrInvalidThreshold
	}
	if settings.TimeZone != nil {
		if _, err := calendar.LoadZone(*settings.TimeZone); err != nil {
			return State{}, err
		}
	}

	state, err := e.states.Mutate(ctx, ownerID, e.defaultState(ownerID), func(s *State) error {
		if settings.TimeZone != nil {
			s.TimeZone = *settings.TimeZone
		}
		if err := e.applyRebuild(ctx, s, rebuildParams{threshold: settings.Threshold, enabled: settings.Enabled}); err != nil {
			return err
		}
		if err := s.checkInvariants(); err != nil {
			e.logger.Printf("aborting write: %v (state=%+v)", err, *s)
			return err
		}
		s.UpdatedAt = e.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return State{}, err
	}
	recordTransition(transitionRebuilt)
	return state, nil
}

// applyRebuild derives the full state from history and writes it into s.
// It runs inside a StateStore.Mutate callback so the surrounding row lock
// serialises it against concurrent transitions for the same owner.
func (e *Engine) applyRebuild(ctx context.Context, s *State, p rebuildParams) error {
	threshold := s.DailyThreshold
	if p.threshold != nil {
		threshold = *p.threshold
	}
	if threshold <= 0 {
		return ErrInvalidThreshold
	}

	asOf := p.asOf
	if asOf.IsZero() {
		loc, err := calendar.LoadZone(s.TimeZone)
		if err != nil {
			return err
		}
		asOf = calendar.DayOf(e.clock.Now(), loc)
	}

	days, err := e.source.QualifyingDays(ctx, s.OwnerID, threshold)
	if err != nil {
		return err
	}

	var (
		longest      int
		current      int
		currentStart calendar.Day
		runLen       int
		runStart     calendar.Day
		prev         calendar.Day
	)

	closeRun := func() {
		if runLen == 0 {
			return
		}
		if runLen > longest {
			longest = runLen
		}
		// The run feeds CurrentStreak only if it ends within the grace
		// period of asOf.
		if gap := calendar.DaysBetween(prev, asOf); gap == 0 || gap == 1 {
			current = runLen
			currentStart = runStart
		}
	}

	for _, day := range days {
		if runLen > 0 && calendar.DaysBetween(prev, day) == 1 {
			runLen++
		} else {
			closeRun()
			runLen = 1
			runStart = day
		}
		prev = day
	}
	closeRun()

	s.CurrentStreak = current
	s.LongestStreak = longest
	s.TotalDaysActive = len(days)
	s.DailyThreshold = threshold
	if current > 0 {
		s.StreakStartDay = currentStart
	} else {
		s.StreakStartDay = calendar.Day{}
	}
	// LastActivityDay records history even when the streak itself is dead.
	if len(days) > 0 {
		s.LastActivityDay = days[len(days)-1]
	} else {
		s.LastActivityDay = calendar.Day{}
	}
	if p.enabled != nil {
		s.Enabled = *p.enabled
	}
	return nil
}
