package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"example.com/reading/internal/calendar"
	"example.com/reading/internal/domain"
	"example.com/reading/internal/streak"
)

// progressRecorder is the slice of the domain service the handler needs.
type progressRecorder interface {
	LogProgress(ctx context.Context, input domain.LogProgressInput) (*domain.ProgressRecord, streak.State, bool, error)
}

// ProgressHandler records reading-progress events synced from e-readers and
// companion apps.
type ProgressHandler struct {
	service progressRecorder
}

// NewProgressHandler constructs a handler backed by the domain service.
func NewProgressHandler(service progressRecorder) *ProgressHandler {
	return &ProgressHandler{service: service}
}

// progressEvent mirrors the reading.progress_synced payload on the wire.
type progressEvent struct {
	OwnerID        string `json:"owner_id"`
	BookID         string `json:"book_id"`
	Day            string `json:"day"`
	Pages          int    `json:"pages"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Handle records the event through the domain service. Validation failures
// are permanent and reported as errors so the processor can count them;
// replays are absorbed by the service's idempotency check.
func (h *ProgressHandler) Handle(ctx context.Context, msg Message) error {
	var event progressEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("malformed progress payload: %w", err)
	}

	if strings.TrimSpace(event.OwnerID) == "" {
		return errors.New("progress event missing owner_id")
	}
	if event.Pages <= 0 {
		return fmt.Errorf("progress event has non-positive pages: %d", event.Pages)
	}

	var day calendar.Day
	if event.Day != "" {
		parsed, err := calendar.Parse(event.Day)
		if err != nil {
			return err
		}
		day = parsed
	}

	source := event.Source
	if source == "" {
		source = "sync"
	}

	_, _, _, err := h.service.LogProgress(ctx, domain.LogProgressInput{
		OwnerID:        event.OwnerID,
		BookID:         event.BookID,
		Day:            day,
		Pages:          event.Pages,
		Source:         source,
		IdempotencyKey: event.IdempotencyKey,
	})
	return err
}
