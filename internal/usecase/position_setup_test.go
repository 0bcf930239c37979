package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
	"go.uber.org/zap"
)

func validSpec() usecase.PositionSpec {
	return usecase.PositionSpec{
		StrategyID: "strat-1",
		WalletID:   "wallet-1",
		Asset:      "eth",
		Direction:  "long",
		Leverage:   10,
		EntryPrice: 2000,
		Size:       1.5,
		Phase1:     usecase.Phase1Spec{RetraceThreshold: 0.03},
		Phase2:     domain.Phase2Config{RetraceThreshold: 0.015, TriggerTier: 1},
		Tiers: []domain.Tier{
			{TriggerPct: 10, LockPct: 5},
			{TriggerPct: 20, LockPct: 14},
		},
	}
}

func TestBuildState_Defaults(t *testing.T) {
	state, err := usecase.BuildState(validSpec(), testNow)
	require.NoError(t, err)

	assert.Equal(t, "ETH", state.Asset)
	assert.Equal(t, domain.DirectionLong, state.Direction)
	assert.True(t, state.Active)
	assert.Equal(t, 1, state.Phase)
	assert.Equal(t, -1, state.CurrentTierIndex)
	assert.Equal(t, 2000.0, state.HighWaterPrice)
	assert.Equal(t, usecase.DefaultPhase1Breaches, state.Phase1.ConsecutiveBreachesRequired)
	assert.Equal(t, usecase.DefaultPhase2Breaches, state.Phase2.ConsecutiveBreachesRequired)
	assert.Equal(t, domain.DecayHard, state.BreachDecay)
	assert.InDelta(t, 1940, state.FloorPrice, 1e-9)
	assert.Equal(t, domain.StateNew, state.Lifecycle())
}

func TestBuildState_AbsoluteFloorFromMaxLoss(t *testing.T) {
	spec := validSpec()
	spec.Direction = "SHORT"
	spec.EntryPrice = 1955
	spec.Leverage = 7
	spec.Phase1.MaxLossPct = 3

	state, err := usecase.BuildState(spec, testNow)
	require.NoError(t, err)

	assert.InDelta(t, 1955*(1+0.03/7), state.Phase1.AbsoluteFloor, 1e-9)
	assert.InDelta(t, state.Phase1.AbsoluteFloor, state.FloorPrice, 1e-9)
}

func TestBuildState_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*usecase.PositionSpec)
	}{
		{"bad direction", func(s *usecase.PositionSpec) { s.Direction = "UP" }},
		{"zero leverage", func(s *usecase.PositionSpec) { s.Leverage = 0 }},
		{"descending tiers", func(s *usecase.PositionSpec) {
			s.Tiers = []domain.Tier{{TriggerPct: 20, LockPct: 10}, {TriggerPct: 10, LockPct: 5}}
		}},
		{"duplicate tiers", func(s *usecase.PositionSpec) {
			s.Tiers = []domain.Tier{{TriggerPct: 10, LockPct: 5}, {TriggerPct: 10, LockPct: 6}}
		}},
		{"retrace out of range", func(s *usecase.PositionSpec) { s.Phase1.RetraceThreshold = 1.5 }},
		{"trigger tier out of range", func(s *usecase.PositionSpec) { s.Phase2.TriggerTier = 5 }},
		{"bad decay", func(s *usecase.PositionSpec) { s.BreachDecay = "linear" }},
		{"absolute floor at long entry", func(s *usecase.PositionSpec) { s.Phase1.AbsoluteFloor = 2000 }},
		{"absolute floor below short entry", func(s *usecase.PositionSpec) {
			s.Direction = "SHORT"
			s.Phase1.AbsoluteFloor = 1990
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := validSpec()
			tt.mutate(&spec)
			_, err := usecase.BuildState(spec, testNow)
			assert.ErrorIs(t, err, domain.ErrInvalidState)
		})
	}
}

func TestPositionSetup_CreateRefusesActiveOverwrite(t *testing.T) {
	store := NewMockStore()
	setup := usecase.NewPositionSetup(store, &MockLocker{}, zap.NewNop())
	ctx := context.Background()

	state, err := setup.Create(ctx, validSpec())
	require.NoError(t, err)
	assert.Equal(t, 1, store.Saves)

	_, err = setup.Create(ctx, validSpec())
	assert.ErrorIs(t, err, domain.ErrStateExists)
	assert.Equal(t, 1, store.Saves)

	// a deactivated record may be replaced
	_, err = setup.Deactivate(ctx, state.Key(), "rotate")
	require.NoError(t, err)
	_, err = setup.Create(ctx, validSpec())
	assert.NoError(t, err)
	assert.True(t, store.Get(state.Key()).Active)
}

func TestPositionSetup_Deactivate(t *testing.T) {
	state := newState(domain.DirectionLong, 100, 10)
	state.PendingClose = true
	store := NewMockStore(state)
	setup := usecase.NewPositionSetup(store, &MockLocker{}, nil)

	got, err := setup.Deactivate(context.Background(), state.Key(), "")
	require.NoError(t, err)

	assert.False(t, got.Active)
	assert.False(t, got.PendingClose)
	assert.Equal(t, "deactivated: manual", got.CloseReason)
	assert.Equal(t, domain.StateDeactivated, got.Lifecycle())
	assert.Equal(t, domain.StateDeactivated, store.Get(state.Key()).Lifecycle())

	// no-op the second time
	saves := store.Saves
	_, err = setup.Deactivate(context.Background(), state.Key(), "again")
	require.NoError(t, err)
	assert.Equal(t, saves, store.Saves)
}

func TestPositionSetup_DeactivateMissing(t *testing.T) {
	setup := usecase.NewPositionSetup(NewMockStore(), &MockLocker{}, nil)

	_, err := setup.Deactivate(context.Background(), domain.PositionKey{StrategyID: "x", Asset: "BTC"}, "")

	assert.ErrorIs(t, err, domain.ErrStateNotFound)
}
