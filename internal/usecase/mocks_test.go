package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

// MockStore keeps cloned records in memory.
type MockStore struct {
	mu      sync.Mutex
	States  map[domain.PositionKey]*domain.PositionState
	LoadErr error
	SaveErr error
	Saves   int
}

func NewMockStore(states ...*domain.PositionState) *MockStore {
	m := &MockStore{States: make(map[domain.PositionKey]*domain.PositionState)}
	for _, s := range states {
		m.States[s.Key()] = s.Clone()
	}
	return m
}

func (m *MockStore) Load(ctx context.Context, key domain.PositionKey) (*domain.PositionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	s, ok := m.States[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrStateNotFound, key)
	}
	return s.Clone(), nil
}

func (m *MockStore) Save(ctx context.Context, state *domain.PositionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Saves++
	m.States[state.Key()] = state.Clone()
	return nil
}

func (m *MockStore) List(ctx context.Context) ([]domain.PositionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]domain.PositionKey, 0, len(m.States))
	for k := range m.States {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func (m *MockStore) Get(key domain.PositionKey) *domain.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.States[key].Clone()
}

// MockLocker grants every lock unless Held or Err is set.
type MockLocker struct {
	mu       sync.Mutex
	Held     bool
	Err      error
	Acquired int
	Released int
}

func (m *MockLocker) TryLock(ctx context.Context, key domain.PositionKey) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Held {
		return nil, fmt.Errorf("%w: %s", domain.ErrLockHeld, key)
	}
	m.Acquired++
	return func() {
		m.mu.Lock()
		m.Released++
		m.mu.Unlock()
	}, nil
}

// MockFeed returns Prices in order, repeating the last one.
type MockFeed struct {
	mu     sync.Mutex
	Prices []float64
	Err    error
	Calls  int
}

func (m *MockFeed) GetPrice(ctx context.Context, asset string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return 0, m.Err
	}
	if len(m.Prices) == 0 {
		return 0, errors.New("no price")
	}
	p := m.Prices[0]
	if len(m.Prices) > 1 {
		m.Prices = m.Prices[1:]
	}
	return p, nil
}

func (m *MockFeed) Set(prices ...float64) {
	m.mu.Lock()
	m.Prices = prices
	m.mu.Unlock()
}

// MockCloser fails the first Failures calls, then returns Status.
type MockCloser struct {
	mu       sync.Mutex
	Failures int
	Status   domain.CloseStatus
	Requests []domain.CloseRequest
}

func (m *MockCloser) ClosePosition(ctx context.Context, req domain.CloseRequest) (domain.CloseStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.Requests) <= m.Failures {
		return "", errors.New("exchange unavailable")
	}
	if m.Status == "" {
		return domain.CloseStatusClosed, nil
	}
	return m.Status, nil
}

func (m *MockCloser) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

type MockObserver struct {
	mu      sync.Mutex
	Results []*domain.CycleResult
}

func (m *MockObserver) ObserveCycle(ctx context.Context, state *domain.PositionState, r *domain.CycleResult) {
	m.mu.Lock()
	m.Results = append(m.Results, r)
	m.mu.Unlock()
}

type MockHistory struct {
	Records []*domain.PositionHistory
}

func (m *MockHistory) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	m.Records = append(m.Records, h)
	return nil
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fptr(v float64) *float64 { return &v }

// newState returns an active phase-1 record with no tier reached.
func newState(dir domain.Direction, entry, leverage float64) *domain.PositionState {
	return &domain.PositionState{
		SchemaVersion: domain.SchemaVersion,
		StrategyID:    "strat-1",
		WalletID:      "wallet-1",
		Asset:         "ETH",
		Direction:     dir,
		Leverage:      leverage,
		EntryPrice:    entry,
		Size:          1,
		Active:        true,
		Phase:         1,
		Phase1: domain.Phase1Config{
			RetraceThreshold:            0.03,
			ConsecutiveBreachesRequired: 3,
		},
		Phase2: domain.Phase2Config{
			RetraceThreshold:            0.015,
			ConsecutiveBreachesRequired: 1,
			TriggerTier:                 0,
		},
		BreachDecay:      domain.DecayHard,
		CurrentTierIndex: -1,
		HighWaterPrice:   entry,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
}
