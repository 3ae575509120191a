package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/reading/internal/calendar"
	"example.com/reading/internal/events"
	"example.com/reading/internal/streak"
)

const streakColumns = `owner_id, current_streak, longest_streak, last_activity_day, streak_start_day,
        total_days_active, daily_threshold, enabled, time_zone, last_checked_day, updated_at`

// Load implements streak.StateStore.
func (r *Repository) Load(ctx context.Context, ownerID string) (streak.State, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+streakColumns+` FROM streak_states WHERE owner_id=$1`, ownerID)
	state, err := scanStreakState(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return streak.State{}, false, nil
		}
		return streak.State{}, false, err
	}
	return state, true, nil
}

// Mutate implements streak.StateStore. It locks the owner's row for the
// duration of fn, inserting one with the supplied defaults if absent, and
// writes back the result. A streak_changed outbox row is enqueued in the same
// transaction whenever the streak counters moved.
func (r *Repository) Mutate(ctx context.Context, ownerID string, defaults streak.State, fn func(*streak.State) error) (streak.State, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return streak.State{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	state, err := lockStreakState(ctx, tx, ownerID, defaults)
	if err != nil {
		return streak.State{}, err
	}
	prev := state

	if err = fn(&state); err != nil {
		return streak.State{}, err
	}

	const update = `UPDATE streak_states SET
            current_streak=$2, longest_streak=$3, last_activity_day=$4, streak_start_day=$5,
            total_days_active=$6, daily_threshold=$7, enabled=$8, time_zone=$9,
            last_checked_day=$10, updated_at=$11
        WHERE owner_id=$1`

	_, err = tx.Exec(ctx, update,
		state.OwnerID,
		state.CurrentStreak,
		state.LongestStreak,
		dayParam(state.LastActivityDay),
		dayParam(state.StreakStartDay),
		state.TotalDaysActive,
		state.DailyThreshold,
		state.Enabled,
		state.TimeZone,
		dayParam(state.LastCheckedDay),
		state.UpdatedAt,
	)
	if err != nil {
		return streak.State{}, err
	}

	if streakMoved(prev, state) {
		err = insertOutbox(ctx, tx, outboxEvent{
			OwnerID:       state.OwnerID,
			AggregateType: "streak_state",
			AggregateID:   state.OwnerID,
			EventType:     "reading.streak_changed",
			DedupeKey:     state.OwnerID + ":reading.streak_changed:" + state.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}, events.StreakChanged{
			OwnerID:         state.OwnerID,
			CurrentStreak:   state.CurrentStreak,
			LongestStreak:   state.LongestStreak,
			PreviousStreak:  prev.CurrentStreak,
			LastActivityDay: state.LastActivityDay.String(),
			TotalDaysActive: state.TotalDaysActive,
			OccurredAt:      state.UpdatedAt,
			Version:         "v1",
		})
		if err != nil {
			return streak.State{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return streak.State{}, err
	}
	return state, nil
}

// Owners implements streak.StateStore.
func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT owner_id FROM streak_states ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make([]string, 0)
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// lockStreakState selects the owner's row FOR UPDATE, inserting one first if
// it does not exist yet. The insert uses ON CONFLICT DO NOTHING so concurrent
// first writes converge on the same row.
func lockStreakState(ctx context.Context, tx pgx.Tx, ownerID string, defaults streak.State) (streak.State, error) {
	query := `SELECT ` + streakColumns + ` FROM streak_states WHERE owner_id=$1 FOR UPDATE`

	row := tx.QueryRow(ctx, query, ownerID)
	state, err := scanStreakState(row)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return streak.State{}, err
	}

	const insert = `INSERT INTO streak_states (owner_id, daily_threshold, enabled, time_zone, updated_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (owner_id) DO NOTHING`

	if _, err := tx.Exec(ctx, insert, ownerID, defaults.DailyThreshold, defaults.Enabled, defaults.TimeZone, defaults.UpdatedAt); err != nil {
		return streak.State{}, err
	}

	row = tx.QueryRow(ctx, query, ownerID)
	return scanStreakState(row)
}

func scanStreakState(row rowScanner) (streak.State, error) {
	var (
		state           streak.State
		lastActivityDay *time.Time
		streakStartDay  *time.Time
		lastCheckedDay  *time.Time
	)
	err := row.Scan(
		&state.OwnerID,
		&state.CurrentStreak,
		&state.LongestStreak,
		&lastActivityDay,
		&streakStartDay,
		&state.TotalDaysActive,
		&state.DailyThreshold,
		&state.Enabled,
		&state.TimeZone,
		&lastCheckedDay,
		&state.UpdatedAt,
	)
	if err != nil {
		return streak.State{}, err
	}
	state.LastActivityDay = dayFrom(lastActivityDay)
	state.StreakStartDay = dayFrom(streakStartDay)
	state.LastCheckedDay = dayFrom(lastCheckedDay)
	return state, nil
}

func streakMoved(prev, next streak.State) bool {
	return prev.CurrentStreak != next.CurrentStreak ||
		prev.LongestStreak != next.LongestStreak ||
		prev.TotalDaysActive != next.TotalDaysActive ||
		!prev.LastActivityDay.Equal(next.LastActivityDay)
}

func dayParam(day calendar.Day) interface{} {
	if day.IsZero() {
		return nil
	}
	return day.Time()
}

func dayFrom(t *time.Time) calendar.Day {
	if t == nil {
		return calendar.Day{}
	}
	return calendar.FromTime(*t)
}
