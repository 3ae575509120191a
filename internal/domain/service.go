package domain

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/reading/internal/calendar"
	"example.com/reading/internal/observability"
	"example.com/reading/internal/streak"
)

// Clock supplies the current instant; injectable for testability.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Service orchestrates progress logging and the streak engine.
type Service struct {
	repo   ProgressRepository
	engine *streak.Engine
	clock  Clock
}

// NewService constructs a Service.
func NewService(repo ProgressRepository, engine *streak.Engine) *Service {
	return &Service{repo: repo, engine: engine, clock: systemClock{}}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(clock Clock) *Service {
	s.clock = clock
	return s
}

// LogProgressInput captures the payload from the API or consumer layer.
type LogProgressInput struct {
	OwnerID        string
	BookID         string
	Day            calendar.Day // zero means today in the owner's zone
	Pages          int
	Source         string
	IdempotencyKey string
}

// LogProgress persists one reading-progress record and drives the streak
// transition for its day. Replays of an idempotency key return the stored
// record without re-running the transition.
func (s *Service) LogProgress(ctx context.Context, input LogProgressInput) (*ProgressRecord, streak.State, bool, error) {
	if existing, err := s.repo.FindByIdempotency(ctx, input.OwnerID, input.IdempotencyKey); err == nil && existing != nil {
		state, stateErr := s.engine.State(ctx, input.OwnerID)
		if stateErr != nil {
			return nil, streak.State{}, false, stateErr
		}
		return existing, state, true, nil
	}

	day := input.Day
	if day.IsZero() {
		resolved, err := s.todayFor(ctx, input.OwnerID)
		if err != nil {
			return nil, streak.State{}, false, err
		}
		day = resolved
	}

	record := ProgressRecord{
		ID:        uuid.NewString(),
		OwnerID:   input.OwnerID,
		BookID:    strings.TrimSpace(input.BookID),
		Day:       day,
		Pages:     input.Pages,
		Source:    input.Source,
		CreatedAt: s.clock.Now().UTC(),
	}

	if err := s.repo.Create(ctx, record, input.IdempotencyKey); err != nil {
		return nil, streak.State{}, false, err
	}
	observability.RecordProgressPersisted(record.CreatedAt)

	state, err := s.engine.RecordActivity(ctx, input.OwnerID, day, input.Pages)
	if err != nil {
		// The record is durable; the streak row can be repaired by a rebuild.
		return &record, streak.State{}, false, err
	}
	return &record, state, false, nil
}

// ListProgress fetches progress records with cursor pagination.
func (s *Service) ListProgress(ctx context.Context, ownerID string, cursor *Cursor, limit int) ([]ProgressRecord, *Cursor, error) {
	return s.repo.ListByOwner(ctx, ownerID, cursor, limit)
}

// Streak runs the idempotent reset check and returns the resulting state, so
// callers never see a streak that silently expired.
func (s *Service) Streak(ctx context.Context, ownerID string) (streak.State, error) {
	result, err := s.engine.CheckAndResetIfNeeded(ctx, ownerID)
	if err != nil {
		return streak.State{}, err
	}
	return result.State, nil
}

// Recalculate rebuilds the streak state from full history.
func (s *Service) Recalculate(ctx context.Context, ownerID string, opts streak.RebuildOptions) (streak.State, error) {
	return s.engine.Rebuild(ctx, ownerID, opts)
}

// UpdateStreakSettings applies configuration changes, rebuilding history.
func (s *Service) UpdateStreakSettings(ctx context.Context, ownerID string, settings streak.Settings) (streak.State, error) {
	return s.engine.UpdateSettings(ctx, ownerID, settings)
}

// Calendar returns a dense month (or whole-year) activity view.
func (s *Service) Calendar(ctx context.Context, ownerID string, year int, month time.Month) ([]streak.DayTotal, error) {
	return s.engine.ActivityCalendar(ctx, ownerID, year, month)
}

func (s *Service) todayFor(ctx context.Context, ownerID string) (calendar.Day, error) {
	state, err := s.engine.State(ctx, ownerID)
	if err != nil {
		return calendar.Day{}, err
	}
	loc, err := calendar.LoadZone(state.TimeZone)
	if err != nil {
		return calendar.Day{}, err
	}
	return calendar.DayOf(s.clock.Now(), loc), nil
}
