// Package domain defines the business logic for the reading service.
package domain

import (
	"context"
	"errors"
	"time"

	"example.com/reading/internal/calendar"
)

var (
	// ErrIdempotentReplay indicates an existing record was found for the provided idempotency key.
	ErrIdempotentReplay = errors.New("progress record already exists for idempotency key")
	// ErrRecordNotFound is returned when a progress record cannot be located.
	ErrRecordNotFound = errors.New("progress record not found")
)

// ProgressRecord is the immutable per-event reading activity row stored in
// Postgres. Multiple records may share an owner-day; the aggregator sums them.
type ProgressRecord struct {
	ID        string
	OwnerID   string
	BookID    string
	Day       calendar.Day
	Pages     int
	Source    string
	CreatedAt time.Time
}

// ProgressRepository captures persistence operations for progress records.
type ProgressRepository interface {
	FindByIdempotency(ctx context.Context, ownerID, idempotencyKey string) (*ProgressRecord, error)
	Create(ctx context.Context, record ProgressRecord, idempotencyKey string) error
	ListByOwner(ctx context.Context, ownerID string, cursor *Cursor, limit int) ([]ProgressRecord, *Cursor, error)
}

// Cursor models the keyset pagination token for progress listings.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
