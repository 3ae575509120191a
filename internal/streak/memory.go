package streak

import (
	"context"
	"sort"
	"sync"

	"example.com/reading/internal/calendar"
)

// MemoryActivitySource is an in-memory ActivitySource used by tests and
// local development. Quantities accumulate per owner-day.
type MemoryActivitySource struct {
	mu      sync.RWMutex
	records map[string]map[string]int // ownerID -> day key -> summed quantity
}

// NewMemoryActivitySource constructs an empty source.
func NewMemoryActivitySource() *MemoryActivitySource {
	return &MemoryActivitySource{records: make(map[string]map[string]int)}
}

// Add accumulates quantity onto an owner-day.
func (m *MemoryActivitySource) Add(ownerID string, day calendar.Day, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	byDay, ok := m.records[ownerID]
	if !ok {
		byDay = make(map[string]int)
		m.records[ownerID] = byDay
	}
	byDay[day.String()] += quantity
}

// SumForDay implements ActivitySource.
func (m *MemoryActivitySource) SumForDay(_ context.Context, ownerID string, day calendar.Day) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[ownerID][day.String()], nil
}

// AggregateRange implements ActivitySource.
func (m *MemoryActivitySource) AggregateRange(_ context.Context, ownerID string, start, end calendar.Day) ([]DayTotal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make([]DayTotal, 0)
	for key, quantity := range m.records[ownerID] {
		day, err := calendar.Parse(key)
		if err != nil {
			return nil, err
		}
		if day.Before(start) || day.After(end) {
			continue
		}
		totals = append(totals, DayTotal{Day: day, Quantity: quantity})
	}
	sort.Slice(totals, func(i, j int) bool { return totals[i].Day.Before(totals[j].Day) })
	return totals, nil
}

// QualifyingDays implements ActivitySource.
func (m *MemoryActivitySource) QualifyingDays(_ context.Context, ownerID string, threshold int) ([]calendar.Day, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	days := make([]calendar.Day, 0)
	for key, quantity := range m.records[ownerID] {
		if quantity < threshold {
			continue
		}
		day, err := calendar.Parse(key)
		if err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// MemoryStateStore is an in-memory StateStore. A single mutex stands in for
// the per-owner row lock the Postgres implementation takes.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]State
}

// NewMemoryStateStore constructs an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

// Load implements StateStore.
func (m *MemoryStateStore) Load(_ context.Context, ownerID string) (State, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[ownerID]
	return state, ok, nil
}

// Mutate implements StateStore. The prior state is kept when fn fails.
func (m *MemoryStateStore) Mutate(_ context.Context, ownerID string, defaults State, fn func(*State) error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[ownerID]
	if !ok {
		state = defaults
	}
	if err := fn(&state); err != nil {
		return State{}, err
	}
	m.states[ownerID] = state
	return state, nil
}

// Owners implements StateStore.
func (m *MemoryStateStore) Owners(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make([]string, 0, len(m.states))
	for ownerID := range m.states {
		owners = append(owners, ownerID)
	}
	sort.Strings(owners)
	return owners, nil
}
