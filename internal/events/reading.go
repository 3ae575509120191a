// Package events defines the payloads published to Kafka via the outbox.
package events

import "time"

// ProgressLogged is emitted when a reading-progress record is persisted.
type ProgressLogged struct {
	RecordID string    `json:"record_id"`
	OwnerID  string    `json:"owner_id"`
	BookID   string    `json:"book_id,omitempty"`
	Day      string    `json:"day"`
	Pages    int       `json:"pages"`
	Source   string    `json:"source"`
	LoggedAt time.Time `json:"logged_at"`
	Version  string    `json:"version"`
}

// StreakChanged is emitted when a streak transition alters the counters.
type StreakChanged struct {
	OwnerID         string    `json:"owner_id"`
	CurrentStreak   int       `json:"current_streak"`
	PreviousStreak  int       `json:"previous_streak"`
	LongestStreak   int       `json:"longest_streak"`
	TotalDaysActive int       `json:"total_days_active"`
	LastActivityDay string    `json:"last_activity_day,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
	Version         string    `json:"version"`
}
