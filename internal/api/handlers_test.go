package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/reading/internal/auth"
	"example.com/reading/internal/domain"
	"example.com/reading/internal/streak"
)

func TestLogProgressStartsStreak(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"book_id":"book-1","day":"2025-06-10","pages":25,"source":"manual"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(body)), auth.ScopeReadingWrite)

	rr := httptest.NewRecorder()
	handler.logProgress(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp LogProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Record.Day != "2025-06-10" {
		t.Fatalf("unexpected record day %s", resp.Record.Day)
	}
	if resp.Streak.CurrentStreak == nil || *resp.Streak.CurrentStreak != 1 {
		t.Fatalf("expected current streak 1 got %+v", resp.Streak.CurrentStreak)
	}
	if resp.Replay {
		t.Fatal("first write must not be a replay")
	}
}

func TestLogProgressIdempotentReplay(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"book_id":"book-1","day":"2025-06-10","pages":25}`
	first := authed(httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(body)), auth.ScopeReadingWrite)
	first.Header.Set("Idempotency-Key", "key-1")

	rr := httptest.NewRecorder()
	handler.logProgress(rr, first)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}

	second := authed(httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(body)), auth.ScopeReadingWrite)
	second.Header.Set("Idempotency-Key", "key-1")

	rr = httptest.NewRecorder()
	handler.logProgress(rr, second)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay got %d: %s", rr.Code, rr.Body.String())
	}

	var resp LogProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Replay {
		t.Fatal("expected idempotent_replay true")
	}
	if resp.Streak.CurrentStreak == nil || *resp.Streak.CurrentStreak != 1 {
		t.Fatal("replay must not extend the streak")
	}
}

func TestLogProgressRejectsNonPositivePages(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"day":"2025-06-10","pages":0}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(body)), auth.ScopeReadingWrite)

	rr := httptest.NewRecorder()
	handler.logProgress(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestLogProgressRequiresWriteScope(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"day":"2025-06-10","pages":5}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(body)), auth.ScopeReadingRead)

	rr := httptest.NewRecorder()
	handler.logProgress(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestListProgressPaginates(t *testing.T) {
	handler, fixture := newTestHandler(t)
	for i := 0; i < 3; i++ {
		fixture.log(t, handler, "2025-06-1"+string(rune('0'+i)), 10)
	}

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/progress?limit=2", nil), auth.ScopeReadingRead)
	rr := httptest.NewRecorder()
	handler.listProgress(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var page ListProgressResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(page.Items) != 2 {
		t.Fatalf("expected 2 items got %d", len(page.Items))
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	req = authed(httptest.NewRequest(http.MethodGet, "/v1/progress?limit=2&cursor="+page.NextCursor, nil), auth.ScopeReadingRead)
	rr = httptest.NewRecorder()
	handler.listProgress(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected final page of 1 got %d", len(page.Items))
	}
}

func TestGetStreakRunsResetCheck(t *testing.T) {
	handler, fixture := newTestHandler(t)
	fixture.log(t, handler, "2025-06-05", 20)

	// The grace period for June 5 ended on June 6; it is now June 10.
	req := authed(httptest.NewRequest(http.MethodGet, "/v1/streak", nil), auth.ScopeReadingRead)
	rr := httptest.NewRecorder()
	handler.streak(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var view StreakView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.CurrentStreak == nil || *view.CurrentStreak != 0 {
		t.Fatalf("expected expired streak, got %+v", view.CurrentStreak)
	}
	if view.LongestStreak == nil || *view.LongestStreak != 1 {
		t.Fatalf("longest streak must survive the reset, got %+v", view.LongestStreak)
	}
	if view.LastActivityDay != "2025-06-05" {
		t.Fatalf("unexpected last activity day %s", view.LastActivityDay)
	}
}

func TestRebuildEndpoint(t *testing.T) {
	handler, fixture := newTestHandler(t)
	fixture.log(t, handler, "2025-06-08", 20)
	fixture.log(t, handler, "2025-06-09", 20)
	fixture.log(t, handler, "2025-06-10", 20)

	body := `{"as_of":"2025-06-10"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/streak/rebuild", strings.NewReader(body)), auth.ScopeReadingWrite)
	rr := httptest.NewRecorder()
	handler.rebuild(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var view StreakView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.CurrentStreak == nil || *view.CurrentStreak != 3 {
		t.Fatalf("expected rebuilt streak 3 got %+v", view.CurrentStreak)
	}
}

func TestSettingsUpdateRequalifiesHistory(t *testing.T) {
	handler, fixture := newTestHandler(t)
	fixture.log(t, handler, "2025-06-09", 5)
	fixture.log(t, handler, "2025-06-10", 30)

	body := `{"daily_threshold":10}`
	req := authed(httptest.NewRequest(http.MethodPut, "/v1/streak/settings", strings.NewReader(body)), auth.ScopeReadingWrite)
	rr := httptest.NewRecorder()
	handler.settings(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var view StreakView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.DailyThreshold != 10 {
		t.Fatalf("unexpected threshold %d", view.DailyThreshold)
	}
	// June 9 no longer qualifies under the raised threshold.
	if view.CurrentStreak == nil || *view.CurrentStreak != 1 {
		t.Fatalf("expected requalified streak 1 got %+v", view.CurrentStreak)
	}
}

func TestSettingsRejectsUnknownTimeZone(t *testing.T) {
	handler, _ := newTestHandler(t)

	body := `{"time_zone":"Mars/Olympus_Mons"}`
	req := authed(httptest.NewRequest(http.MethodPut, "/v1/streak/settings", strings.NewReader(body)), auth.ScopeReadingWrite)
	rr := httptest.NewRecorder()
	handler.settings(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestDisabledStreakHidesCounters(t *testing.T) {
	handler, fixture := newTestHandler(t)
	fixture.log(t, handler, "2025-06-10", 20)

	body := `{"enabled":false}`
	req := authed(httptest.NewRequest(http.MethodPut, "/v1/streak/settings", strings.NewReader(body)), auth.ScopeReadingWrite)
	rr := httptest.NewRecorder()
	handler.settings(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var view StreakView
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.Enabled {
		t.Fatal("expected enabled false")
	}
	if view.CurrentStreak != nil || view.LongestStreak != nil {
		t.Fatal("disabled streak must not surface counters")
	}
}

func TestCalendarDenseMonth(t *testing.T) {
	handler, fixture := newTestHandler(t)
	fixture.log(t, handler, "2025-06-03", 15)
	fixture.log(t, handler, "2025-06-10", 40)

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/calendar?year=2025&month=6", nil), auth.ScopeReadingRead)
	rr := httptest.NewRecorder()
	handler.calendar(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp CalendarResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Days) != 30 {
		t.Fatalf("expected 30 dense days got %d", len(resp.Days))
	}
	if resp.Days[2].Pages != 15 || resp.Days[9].Pages != 40 {
		t.Fatalf("unexpected aggregates: %+v %+v", resp.Days[2], resp.Days[9])
	}
	if resp.Days[0].Pages != 0 {
		t.Fatal("empty days must be zero-filled")
	}
}

func TestCalendarRequiresYear(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := authed(httptest.NewRequest(http.MethodGet, "/v1/calendar", nil), auth.ScopeReadingRead)
	rr := httptest.NewRecorder()
	handler.calendar(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

const testOwnerID = "owner-1"

type apiFixture struct {
	source *streak.MemoryActivitySource
}

// log drives a progress write through the real handler so the repo fake and
// the activity source stay in sync.
func (f *apiFixture) log(t *testing.T, handler *Handler, day string, pages int) {
	t.Helper()
	body, _ := json.Marshal(LogProgressRequest{Day: day, Pages: pages, Source: "manual"})
	req := authed(httptest.NewRequest(http.MethodPost, "/v1/progress", strings.NewReader(string(body))), auth.ScopeReadingWrite)
	rr := httptest.NewRecorder()
	handler.logProgress(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("seed write failed: %d %s", rr.Code, rr.Body.String())
	}
}

func newTestHandler(t *testing.T) (*Handler, *apiFixture) {
	t.Helper()

	source := streak.NewMemoryActivitySource()
	states := streak.NewMemoryStateStore()
	clock := fixedClock{now: time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)}
	engine := streak.NewEngine(source, states, streak.WithClock(clock))
	repo := &fakeProgressRepo{source: source}
	service := domain.NewService(repo, engine).WithClock(clock)

	return NewHandler(service), &apiFixture{source: source}
}

func authed(req *http.Request, scopes ...string) *http.Request {
	scopeSet := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		scopeSet[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   testOwnerID,
		Scopes:    scopeSet,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// fakeProgressRepo stores records in memory and mirrors writes into the
// activity source the engine aggregates over.
type fakeProgressRepo struct {
	source  *streak.MemoryActivitySource
	records []domain.ProgressRecord
	keys    map[string]string // idempotency key -> record ID
}

func (f *fakeProgressRepo) FindByIdempotency(_ context.Context, ownerID, idempotencyKey string) (*domain.ProgressRecord, error) {
	if idempotencyKey == "" || f.keys == nil {
		return nil, nil
	}
	id, ok := f.keys[ownerID+"|"+idempotencyKey]
	if !ok {
		return nil, nil
	}
	for i := range f.records {
		if f.records[i].ID == id {
			record := f.records[i]
			return &record, nil
		}
	}
	return nil, nil
}

func (f *fakeProgressRepo) Create(_ context.Context, record domain.ProgressRecord, idempotencyKey string) error {
	f.records = append(f.records, record)
	if idempotencyKey != "" {
		if f.keys == nil {
			f.keys = make(map[string]string)
		}
		f.keys[record.OwnerID+"|"+idempotencyKey] = record.ID
	}
	f.source.Add(record.OwnerID, record.Day, record.Pages)
	return nil
}

func (f *fakeProgressRepo) ListByOwner(_ context.Context, ownerID string, cursor *domain.Cursor, limit int) ([]domain.ProgressRecord, *domain.Cursor, error) {
	matched := make([]domain.ProgressRecord, 0)
	skipping := cursor != nil
	for i := len(f.records) - 1; i >= 0; i-- {
		record := f.records[i]
		if record.OwnerID != ownerID {
			continue
		}
		if skipping {
			if record.ID == cursor.ID {
				skipping = false
			}
			continue
		}
		matched = append(matched, record)
		if len(matched) == limit {
			break
		}
	}
	var next *domain.Cursor
	if len(matched) == limit {
		last := matched[len(matched)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return matched, next, nil
}
