package stubs

import (
	"context"
	"sort"
	"sync"
	"time"

	"sessionbot/internal/models"
)

// MockDB is an in-memory implementation of the Registry interface
type MockDB struct {
	mu       sync.RWMutex
	users    map[int64]models.User
	outcomes []models.FlowOutcome
}

// NewMockDB creates a new mock database
func NewMockDB() *MockDB {
	return &MockDB{
		users:    make(map[int64]models.User),
		outcomes: make([]models.FlowOutcome, 0),
	}
}

// Initialize does nothing for mock DB
func (m *MockDB) Initialize(ctx context.Context) error {
	return nil
}

// Ping always succeeds
func (m *MockDB) Ping(ctx context.Context) error {
	return nil
}

// RegisterUser stores the user once; later calls keep the first sighting
func (m *MockDB) RegisterUser(ctx context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.users[user.ID]; exists {
		return nil
	}
	if user.FirstSeen.IsZero() {
		user.FirstSeen = time.Now()
	}
	m.users[user.ID] = user
	return nil
}

// ListUserIDs returns known users sorted by id
func (m *MockDB) ListUserIDs(ctx context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.users))
	for id := range m.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CountUsers returns the number of known users
func (m *MockDB) CountUsers(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// RecordOutcome appends a finished flow
func (m *MockDB) RecordOutcome(ctx context.Context, outcome models.FlowOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if outcome.At.IsZero() {
		outcome.At = time.Now()
	}
	m.outcomes = append(m.outcomes, outcome)
	return nil
}

// OutcomeStats returns flow counts grouped by outcome
func (m *MockDB) OutcomeStats(ctx context.Context) ([]models.OutcomeStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, o := range m.outcomes {
		counts[o.Outcome]++
	}

	stats := make([]models.OutcomeStat, 0, len(counts))
	for outcome, count := range counts {
		stats = append(stats, models.OutcomeStat{Outcome: outcome, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Outcome < stats[j].Outcome
	})
	return stats, nil
}

// Outcomes returns a copy of recorded outcomes
func (m *MockDB) Outcomes() []models.FlowOutcome {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.FlowOutcome, len(m.outcomes))
	copy(out, m.outcomes)
	return out
}

// Close does nothing for mock DB
func (m *MockDB) Close() error {
	return nil
}
