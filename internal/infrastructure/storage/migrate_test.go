package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/infrastructure/storage"
)

const v1Record = `{
  "strategyId": "strat-1",
  "wallet": "wallet-1",
  "coin": "ETH",
  "direction": "long",
  "leverage": 10,
  "entryPrice": 2000,
  "size": 1.5,
  "active": true,
  "pendingClose": false,
  "phase": 2,
  "phase1": {"retraceThreshold": 0.03, "consecutiveBreachesRequired": 3, "absoluteFloor": 1940},
  "phase2": {"retraceThreshold": 0.015, "consecutiveBreachesRequired": 1},
  "phase2TriggerTier": 0,
  "tiers": [
    {"triggerPct": 10, "lockPct": 5, "retrace": 0.012},
    {"triggerPct": 20, "lockPct": 14}
  ],
  "currentTierIndex": 0,
  "tierFloorPrice": 2010,
  "highWaterPrice": 2250,
  "floorPrice": 2216.25,
  "currentBreachCount": 1,
  "consecutiveFailures": 2,
  "lastPrice": 2240,
  "createdAt": "2025-01-01T00:00:00Z",
  "lastCheck": "2025-01-02T00:00:00Z"
}`

func TestMigrate_V1ToCurrent(t *testing.T) {
	out, changed, err := storage.Migrate([]byte(v1Record))
	require.NoError(t, err)
	assert.True(t, changed)

	res := gjson.ParseBytes(out)
	assert.Equal(t, int64(domain.SchemaVersion), res.Get("schema_version").Int())
	assert.Equal(t, "strat-1", res.Get("strategy_id").String())
	assert.Equal(t, "wallet-1", res.Get("wallet_id").String())
	assert.Equal(t, "ETH", res.Get("asset").String())
	assert.Equal(t, "LONG", res.Get("direction").String())
	assert.Equal(t, int64(0), res.Get("phase2.trigger_tier").Int())
	assert.Equal(t, 5.0, res.Get("tiers.0.lock_pct").Float())
	assert.Equal(t, 0.012, res.Get("tier_retrace").Float())
	assert.Equal(t, "hard", res.Get("breach_decay").String())
	assert.False(t, res.Get("strategyId").Exists())
	assert.False(t, res.Get("phase2TriggerTier").Exists())

	state, err := storage.DecodeState([]byte(v1Record))
	require.NoError(t, err)
	assert.Equal(t, 2, state.Phase)
	assert.Equal(t, 1, state.CurrentBreachCount)
	assert.Equal(t, 2, state.ConsecutiveFailures)
	require.NotNil(t, state.TierRetrace)
	assert.Equal(t, 0.012, state.ActiveRetrace())
	require.NotNil(t, state.LastCheckedAt)
	assert.True(t, state.LastCheckedAt.Equal(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, state.UpdatedAt.Equal(state.CreatedAt))
}

func TestMigrate_CurrentUnchanged(t *testing.T) {
	raw := []byte(`{"schema_version": 2, "strategy_id": "s"}`)

	out, changed, err := storage.Migrate(raw)

	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, raw, out)
}

func TestMigrate_Rejects(t *testing.T) {
	for name, raw := range map[string]string{
		"future version": `{"schema_version": 9}`,
		"string version": `{"schema_version": "2"}`,
		"not json":       `{"strategyId": `,
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := storage.Migrate([]byte(raw))
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		})
	}
}

func TestMigrate_UnknownV1FieldFailsSchema(t *testing.T) {
	raw := []byte(`{"strategyId": "s", "coin": "ETH", "legacyStop": 1}`)

	_, err := storage.DecodeState(raw)

	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestFileStore_LoadMigratesAndSaveUpgrades(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	key := domain.PositionKey{StrategyID: "strat-1", Asset: "ETH"}
	require.NoError(t, os.WriteFile(store.Path(key), []byte(v1Record), 0o644))

	keys, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.PositionKey{key}, keys)

	state, err := store.Load(ctx, key)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, state))

	raw, err := os.ReadFile(store.Path(key))
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.GetBytes(raw, "schema_version").Int())
	assert.Equal(t, "strat-1", gjson.GetBytes(raw, "strategy_id").String())
	assert.False(t, gjson.GetBytes(raw, "strategyId").Exists())
}
