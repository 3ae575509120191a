//go:build integration

package postgres

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/reading/internal/calendar"
	"example.com/reading/internal/domain"
	"example.com/reading/internal/streak"
)

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	ownerID := uuid.NewString()
	day, err := calendar.Parse("2025-06-10")
	require.NoError(t, err)

	record := domain.ProgressRecord{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		BookID:    uuid.NewString(),
		Day:       day,
		Pages:     12,
		Source:    "manual",
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, record, "key-1"))

	stored, err := repo.FindByIdempotency(ctx, ownerID, "key-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, record.ID, stored.ID)
	require.True(t, stored.Day.Equal(day))

	missing, err := repo.FindByIdempotency(ctx, uuid.NewString(), "key-1")
	require.NoError(t, err)
	require.Nil(t, missing, "idempotency keys are scoped per owner")

	sum, err := repo.SumForDay(ctx, ownerID, day)
	require.NoError(t, err)
	require.Equal(t, 12, sum)

	// Same day again; the aggregate should accumulate.
	second := record
	second.ID = uuid.NewString()
	second.Pages = 8
	require.NoError(t, repo.Create(ctx, second, "key-2"))

	sum, err = repo.SumForDay(ctx, ownerID, day)
	require.NoError(t, err)
	require.Equal(t, 20, sum)

	qualifying, err := repo.QualifyingDays(ctx, ownerID, 15)
	require.NoError(t, err)
	require.Len(t, qualifying, 1)
	require.True(t, qualifying[0].Equal(day))

	// Both creates should have enqueued an outbox event.
	var pending int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE owner_id=$1 AND event_type='reading.progress_logged' AND published_at IS NULL`,
		ownerID,
	).Scan(&pending))
	require.Equal(t, 2, pending)
}

func TestStateStoreMutateIsAtomic(t *testing.T) {
	ctx := context.Background()

	pool := startDatabase(t, ctx)
	repo := NewRepository(pool)

	ownerID := uuid.NewString()
	defaults := streak.State{
		OwnerID:        ownerID,
		DailyThreshold: 1,
		Enabled:        true,
		TimeZone:       "UTC",
		UpdatedAt:      time.Now().UTC(),
	}

	day, err := calendar.Parse("2025-06-10")
	require.NoError(t, err)

	state, err := repo.Mutate(ctx, ownerID, defaults, func(s *streak.State) error {
		s.CurrentStreak = 1
		s.LongestStreak = 1
		s.TotalDaysActive = 1
		s.LastActivityDay = day
		s.StreakStartDay = day
		s.UpdatedAt = time.Now().UTC()
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, state.CurrentStreak)

	loaded, found, err := repo.Load(ctx, ownerID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, loaded.CurrentStreak)
	require.True(t, loaded.LastActivityDay.Equal(day))

	// A failing mutation must leave the prior row intact.
	_, err = repo.Mutate(ctx, ownerID, defaults, func(s *streak.State) error {
		s.CurrentStreak = 99
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	loaded, found, err = repo.Load(ctx, ownerID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, loaded.CurrentStreak)

	// Counter movement enqueues a streak_changed event.
	var changes int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE owner_id=$1 AND event_type='reading.streak_changed'`,
		ownerID,
	).Scan(&changes))
	require.Equal(t, 1, changes)

	owners, err := repo.Owners(ctx)
	require.NoError(t, err)
	require.Contains(t, owners, ownerID)
}

func startDatabase(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("reading"),
		postgrescontainer.WithUsername("reading"),
		postgrescontainer.WithPassword("reading"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
		"../../../db/postgres/migrations/0002_outbox_dlq_retry.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
