// Package postgres provides pgx-backed persistence for progress records,
// per-day aggregates, and the streak state row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/reading/internal/calendar"
	"example.com/reading/internal/domain"
	"example.com/reading/internal/events"
	"example.com/reading/internal/streak"
)

// Repository provides Postgres-backed persistence for the reading service.
// It implements domain.ProgressRepository, streak.ActivitySource, and
// streak.StateStore.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByIdempotency checks if a progress record already exists for the supplied idempotency key.
func (r *Repository) FindByIdempotency(ctx context.Context, ownerID, idempotencyKey string) (*domain.ProgressRecord, error) {
	if idempotencyKey == "" {
		return nil, nil
	}

	const query = `SELECT record_id, owner_id, book_id, day_key, pages, source, created_at
        FROM progress_records WHERE owner_id=$1 AND idempotency_key=$2`

	row := r.pool.QueryRow(ctx, query, ownerID, idempotencyKey)
	record, err := scanProgressRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

// Create persists the record and its outbox event inside a single transaction.
func (r *Repository) Create(ctx context.Context, record domain.ProgressRecord, idempotencyKey string) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const insertRecord = `INSERT INTO progress_records (record_id, owner_id, book_id, day_key, pages, source, idempotency_key, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	_, err = tx.Exec(ctx, insertRecord,
		record.ID,
		record.OwnerID,
		nullIfEmpty(record.BookID),
		record.Day.Time(),
		record.Pages,
		record.Source,
		nullIfEmpty(idempotencyKey),
		record.CreatedAt,
	)
	if err != nil {
		return err
	}

	err = insertOutbox(ctx, tx, outboxEvent{
		OwnerID:       record.OwnerID,
		AggregateType: "progress_record",
		AggregateID:   record.ID,
		EventType:     "reading.progress_logged",
		DedupeKey:     fmt.Sprintf("%s:reading.progress_logged", record.ID),
	}, events.ProgressLogged{
		RecordID: record.ID,
		OwnerID:  record.OwnerID,
		BookID:   record.BookID,
		Day:      record.Day.String(),
		Pages:    record.Pages,
		Source:   record.Source,
		LoggedAt: record.CreatedAt,
		Version:  "v1",
	})
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListByOwner returns progress records for an owner ordered by recency.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, cursor *domain.Cursor, limit int) ([]domain.ProgressRecord, *domain.Cursor, error) {
	args := []interface{}{ownerID, limit}
	query := `SELECT record_id, owner_id, book_id, day_key, pages, source, created_at
        FROM progress_records WHERE owner_id=$1`

	if cursor != nil {
		query += ` AND (created_at, record_id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}

	query += ` ORDER BY created_at DESC, record_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ProgressRecord, 0, limit)
	for rows.Next() {
		record, err := scanProgressRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	return results, nextCursor, nil
}

// SumForDay implements streak.ActivitySource.
func (r *Repository) SumForDay(ctx context.Context, ownerID string, day calendar.Day) (int, error) {
	const query = `SELECT COALESCE(SUM(pages), 0) FROM progress_records WHERE owner_id=$1 AND day_key=$2`

	var sum int
	if err := r.pool.QueryRow(ctx, query, ownerID, day.Time()).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

// AggregateRange implements streak.ActivitySource. Days without records are
// omitted; callers needing a dense calendar zero-fill the gaps themselves.
func (r *Repository) AggregateRange(ctx context.Context, ownerID string, start, end calendar.Day) ([]streak.DayTotal, error) {
	const query = `SELECT day_key, SUM(pages)
        FROM progress_records
        WHERE owner_id=$1 AND day_key BETWEEN $2 AND $3
        GROUP BY day_key
        ORDER BY day_key`

	rows, err := r.pool.Query(ctx, query, ownerID, start.Time(), end.Time())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]streak.DayTotal, 0)
	for rows.Next() {
		var (
			day time.Time
			sum int
		)
		if err := rows.Scan(&day, &sum); err != nil {
			return nil, err
		}
		totals = append(totals, streak.DayTotal{Day: calendar.FromTime(day), Quantity: sum})
	}
	return totals, rows.Err()
}

// QualifyingDays implements streak.ActivitySource.
func (r *Repository) QualifyingDays(ctx context.Context, ownerID string, threshold int) ([]calendar.Day, error) {
	const query = `SELECT day_key
        FROM progress_records
        WHERE owner_id=$1
        GROUP BY day_key
        HAVING SUM(pages) >= $2
        ORDER BY day_key`

	rows, err := r.pool.Query(ctx, query, ownerID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	days := make([]calendar.Day, 0)
	for rows.Next() {
		var day time.Time
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, calendar.FromTime(day))
	}
	return days, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgressRecord(row rowScanner) (*domain.ProgressRecord, error) {
	var (
		record domain.ProgressRecord
		bookID *string
		day    time.Time
	)
	if err := row.Scan(&record.ID, &record.OwnerID, &bookID, &day, &record.Pages, &record.Source, &record.CreatedAt); err != nil {
		return nil, err
	}
	if bookID != nil {
		record.BookID = *bookID
	}
	record.Day = calendar.FromTime(day)
	return &record, nil
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

// outboxEvent describes routing for one outbox row; topic and subject come
// from the event catalog.
type outboxEvent struct {
	OwnerID       string
	AggregateType string
	AggregateID   string
	EventType     string
	DedupeKey     string
}

func insertOutbox(ctx context.Context, tx pgx.Tx, event outboxEvent, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[event.EventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", event.EventType)
	}

	const stmt = `INSERT INTO outbox (owner_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err = tx.Exec(ctx, stmt,
		event.OwnerID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		meta.Topic,
		meta.SchemaSubject,
		event.OwnerID, // owner-keyed partitions keep per-owner ordering
		body,
		event.DedupeKey,
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	"reading.progress_logged": {
		Topic:         "reading_activity_events",
		SchemaSubject: "reading_activity_events-value",
	},
	"reading.streak_changed": {
		Topic:         "reading_streak_events",
		SchemaSubject: "reading_streak_events-value",
	},
}
