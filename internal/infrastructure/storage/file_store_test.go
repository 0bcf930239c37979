package storage_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newState(strategy, asset string) *domain.PositionState {
	floor := 2010.0
	return &domain.PositionState{
		StrategyID: strategy,
		WalletID:   "wallet-1",
		Asset:      asset,
		Direction:  domain.DirectionLong,
		Leverage:   10,
		EntryPrice: 2000,
		Size:       1.5,
		Active:     true,
		Phase:      2,
		Phase1: domain.Phase1Config{
			RetraceThreshold:            0.03,
			ConsecutiveBreachesRequired: 3,
			AbsoluteFloor:               1940,
		},
		Phase2: domain.Phase2Config{
			RetraceThreshold:            0.015,
			ConsecutiveBreachesRequired: 1,
		},
		Tiers:            []domain.Tier{{TriggerPct: 10, LockPct: 5}, {TriggerPct: 20, LockPct: 14}},
		BreachDecay:      domain.DecaySoft,
		CurrentTierIndex: 0,
		TierFloorPrice:   &floor,
		HighWaterPrice:   2250,
		FloorPrice:       2216.25,
		LastPrice:        2240,
		LastROEPct:       120,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
}

func newStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestFileStore_SaveLoad(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	state := newState("strat-1", "ETH")

	require.NoError(t, store.Save(ctx, state))
	assert.Equal(t, filepath.Join(store.Dir(), "strat-1__ETH.json"), store.Path(state.Key()))

	got, err := store.Load(ctx, state.Key())
	require.NoError(t, err)
	state.SchemaVersion = domain.SchemaVersion
	assert.Equal(t, state, got)
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	state := newState("strat-1", "ETH")

	for i := 0; i < 5; i++ {
		state.CurrentBreachCount = i
		require.NoError(t, store.Save(ctx, state))
	}

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "strat-1__ETH.json", entries[0].Name())

	got, err := store.Load(ctx, state.Key())
	require.NoError(t, err)
	assert.Equal(t, 4, got.CurrentBreachCount)
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.Load(context.Background(), domain.PositionKey{StrategyID: "nope", Asset: "BTC"})

	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}

func TestFileStore_LoadRejectsIdentityMismatch(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newState("strat-1", "ETH")))

	// copy the ETH record under the BTC file name
	raw, err := os.ReadFile(store.Path(domain.PositionKey{StrategyID: "strat-1", Asset: "ETH"}))
	require.NoError(t, err)
	btc := domain.PositionKey{StrategyID: "strat-1", Asset: "BTC"}
	require.NoError(t, os.WriteFile(store.Path(btc), raw, 0o644))

	_, err = store.Load(ctx, btc)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFileStore_LoadRejectsMalformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m map[string]any)
	}{
		{"unknown field", func(m map[string]any) { m["stop_loss"] = 1 }},
		{"bad direction", func(m map[string]any) { m["direction"] = "UP" }},
		{"missing entry", func(m map[string]any) { delete(m, "entry_price") }},
		{"future schema", func(m map[string]any) { m["schema_version"] = 3 }},
		{"retrace above one", func(m map[string]any) {
			m["phase1"].(map[string]any)["retrace_threshold"] = 1.2
		}},
		{"phase two below trigger tier", func(m map[string]any) {
			m["current_tier_index"] = -1
			m["tier_floor_price"] = nil
		}},
		{"absolute floor above long entry", func(m map[string]any) {
			m["phase1"].(map[string]any)["absolute_floor"] = 2000
		}},
		{"descending tiers", func(m map[string]any) {
			m["tiers"] = []any{
				map[string]any{"trigger_pct": 20, "lock_pct": 10},
				map[string]any{"trigger_pct": 10, "lock_pct": 5},
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			ctx := context.Background()
			state := newState("strat-1", "ETH")
			require.NoError(t, store.Save(ctx, state))

			path := store.Path(state.Key())
			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			var m map[string]any
			require.NoError(t, json.Unmarshal(raw, &m))
			tt.mutate(m)
			raw, err = json.Marshal(m)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(path, raw, 0o644))

			_, err = store.Load(ctx, state.Key())
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		})
	}
}

func TestFileStore_LoadRejectsGarbage(t *testing.T) {
	store := newStore(t)
	key := domain.PositionKey{StrategyID: "strat-1", Asset: "ETH"}
	require.NoError(t, os.WriteFile(store.Path(key), []byte("{not json"), 0o644))

	_, err := store.Load(context.Background(), key)

	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFileStore_List(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, newState("strat-1", "ETH")))
	require.NoError(t, store.Save(ctx, newState("strat-1", "BTC")))
	require.NoError(t, store.Save(ctx, newState("alpha", "SOL")))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "broken.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "notes.txt"), []byte("x"), 0o644))

	keys, err := store.List(ctx)

	assert.Error(t, err, "broken.json is reported")
	assert.Equal(t, []domain.PositionKey{
		{StrategyID: "alpha", Asset: "SOL"},
		{StrategyID: "strat-1", Asset: "BTC"},
		{StrategyID: "strat-1", Asset: "ETH"},
	}, keys)
}
