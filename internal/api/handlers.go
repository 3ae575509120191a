// Package api exposes HTTP handlers for the reading service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/reading/internal/auth"
	"example.com/reading/internal/calendar"
	"example.com/reading/internal/domain"
	"example.com/reading/internal/persistence"
	"example.com/reading/internal/streak"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/progress", h.progress)
	mux.HandleFunc("/v1/streak", h.streak)
	mux.HandleFunc("/v1/streak/rebuild", h.rebuild)
	mux.HandleFunc("/v1/streak/settings", h.settings)
	mux.HandleFunc("/v1/calendar", h.calendar)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.logProgress(w, r)
	case http.MethodGet:
		h.listProgress(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) logProgress(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeReadingWrite)
	if !ok {
		return
	}

	var req LogProgressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var day calendar.Day
	if req.Day != "" {
		parsed, err := calendar.Parse(req.Day)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "day must be formatted YYYY-MM-DD")
			return
		}
		day = parsed
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}

	record, state, replay, err := h.service.LogProgress(r.Context(), domain.LogProgressInput{
		OwnerID:        claims.Subject,
		BookID:         req.BookID,
		Day:            day,
		Pages:          req.Pages,
		Source:         source,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeStreakError(w, err)
		return
	}

	resp := LogProgressResponse{
		Record: toProgressView(*record),
		Streak: toStreakView(state),
		Replay: replay,
	}

	status := http.StatusAccepted
	if replay {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (h *Handler) listProgress(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeReadingRead, auth.ScopeReadingWrite)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			if parsed > 100 {
				parsed = 100
			}
			limit = parsed
		}
	}

	cursorToken := r.URL.Query().Get("cursor")
	cursor, err := persistence.DecodeCursor(cursorToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListProgress(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]ProgressView, 0, len(records))
	for _, record := range records {
		items = append(items, toProgressView(record))
	}

	writeJSON(w, http.StatusOK, ListProgressResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) streak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeReadingRead, auth.ScopeReadingWrite)
	if !ok {
		return
	}

	state, err := h.service.Streak(r.Context(), claims.Subject)
	if err != nil {
		writeStreakError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStreakView(state))
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeReadingWrite)
	if !ok {
		return
	}

	var req RebuildRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
			return
		}
	}

	opts := streak.RebuildOptions{
		Threshold: req.Threshold,
		Enabled:   req.Enabled,
	}
	if req.AsOf != "" {
		asOf, err := calendar.Parse(req.AsOf)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "as_of must be formatted YYYY-MM-DD")
			return
		}
		opts.AsOf = asOf
	}

	state, err := h.service.Recalculate(r.Context(), claims.Subject, opts)
	if err != nil {
		writeStreakError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStreakView(state))
}

func (h *Handler) settings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeReadingWrite)
	if !ok {
		return
	}

	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if req.Threshold == nil && req.TimeZone == nil && req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "at least one setting is required")
		return
	}

	state, err := h.service.UpdateStreakSettings(r.Context(), claims.Subject, streak.Settings{
		Threshold: req.Threshold,
		TimeZone:  req.TimeZone,
		Enabled:   req.Enabled,
	})
	if err != nil {
		writeStreakError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toStreakView(state))
}

func (h *Handler) calendar(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := requireScope(w, r, auth.ScopeReadingRead, auth.ScopeReadingWrite)
	if !ok {
		return
	}

	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing or invalid year parameter")
		return
	}

	var month time.Month
	if raw := r.URL.Query().Get("month"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid month parameter")
			return
		}
		month = time.Month(parsed)
	}

	totals, err := h.service.Calendar(r.Context(), claims.Subject, year, month)
	if err != nil {
		writeStreakError(w, err)
		return
	}

	days := make([]CalendarDayView, 0, len(totals))
	for _, total := range totals {
		days = append(days, CalendarDayView{
			Day:   total.Day.String(),
			Pages: total.Quantity,
		})
	}

	resp := CalendarResponse{Year: year, Days: days}
	if month != 0 {
		resp.Month = int(month)
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireScope resolves claims from the request and checks that any of the
// accepted scopes is present, writing the error response itself when not.
func requireScope(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	for _, scope := range scopes {
		if claims.HasScope(scope) {
			return claims, true
		}
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
	return nil, false
}

func writeStreakError(w http.ResponseWriter, err error) {
	var invariantErr *streak.InvariantError
	switch {
	case errors.Is(err, streak.ErrInvalidThreshold),
		errors.Is(err, streak.ErrInvalidDay),
		errors.Is(err, streak.ErrInvalidMonth),
		errors.Is(err, calendar.ErrUnknownTimeZone):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.As(err, &invariantErr):
		writeError(w, http.StatusInternalServerError, "inconsistent_state", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

// LogProgressRequest is the payload for POST /v1/progress.
type LogProgressRequest struct {
	BookID string `json:"book_id"`
	Day    string `json:"day"`
	Pages  int    `json:"pages"`
	Source string `json:"source"`
}

// Validate ensures request correctness.
func (r LogProgressRequest) Validate() error {
	if r.Pages <= 0 {
		return errors.New("pages must be > 0")
	}
	if strings.TrimSpace(r.Source) != r.Source {
		return errors.New("source must not contain leading or trailing whitespace")
	}
	return nil
}

// LogProgressResponse describes the response body for progress logging.
type LogProgressResponse struct {
	Record ProgressView `json:"record"`
	Streak StreakView   `json:"streak"`
	Replay bool         `json:"idempotent_replay"`
}

// ProgressView exposes one stored progress record.
type ProgressView struct {
	RecordID  string    `json:"record_id"`
	BookID    string    `json:"book_id,omitempty"`
	Day       string    `json:"day"`
	Pages     int       `json:"pages"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// ListProgressResponse packages list results.
type ListProgressResponse struct {
	Items      []ProgressView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StreakView exposes the streak state. Counters are omitted while streak
// tracking is disabled; the state keeps updating underneath.
type StreakView struct {
	OwnerID         string    `json:"owner_id"`
	Enabled         bool      `json:"enabled"`
	DailyThreshold  int       `json:"daily_threshold"`
	TimeZone        string    `json:"time_zone"`
	CurrentStreak   *int      `json:"current_streak,omitempty"`
	LongestStreak   *int      `json:"longest_streak,omitempty"`
	TotalDaysActive *int      `json:"total_days_active,omitempty"`
	LastActivityDay string    `json:"last_activity_day,omitempty"`
	StreakStartDay  string    `json:"streak_start_day,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RebuildRequest is the payload for POST /v1/streak/rebuild.
type RebuildRequest struct {
	AsOf      string `json:"as_of"`
	Threshold *int   `json:"daily_threshold"`
	Enabled   *bool  `json:"enabled"`
}

// SettingsRequest is the payload for PUT /v1/streak/settings.
type SettingsRequest struct {
	Threshold *int    `json:"daily_threshold"`
	TimeZone  *string `json:"time_zone"`
	Enabled   *bool   `json:"enabled"`
}

// CalendarDayView is one entry of the dense activity calendar.
type CalendarDayView struct {
	Day   string `json:"day"`
	Pages int    `json:"pages"`
}

// CalendarResponse packages the dense calendar.
type CalendarResponse struct {
	Year  int               `json:"year"`
	Month int               `json:"month,omitempty"`
	Days  []CalendarDayView `json:"days"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toProgressView(record domain.ProgressRecord) ProgressView {
	return ProgressView{
		RecordID:  record.ID,
		BookID:    record.BookID,
		Day:       record.Day.String(),
		Pages:     record.Pages,
		Source:    record.Source,
		CreatedAt: record.CreatedAt,
	}
}

func toStreakView(state streak.State) StreakView {
	view := StreakView{
		OwnerID:        state.OwnerID,
		Enabled:        state.Enabled,
		DailyThreshold: state.DailyThreshold,
		TimeZone:       state.TimeZone,
		UpdatedAt:      state.UpdatedAt,
	}
	if !state.Enabled {
		return view
	}
	current, longest, total := state.CurrentStreak, state.LongestStreak, state.TotalDaysActive
	view.CurrentStreak = &current
	view.LongestStreak = &longest
	view.TotalDaysActive = &total
	if !state.LastActivityDay.IsZero() {
		view.LastActivityDay = state.LastActivityDay.String()
	}
	if !state.StreakStartDay.IsZero() {
		view.StreakStartDay = state.StreakStartDay.String()
	}
	return view
}
