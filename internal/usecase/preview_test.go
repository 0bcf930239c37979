package usecase_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
	"github.com/vitos/crypto_trade_dsl/internal/usecase"
)

func TestPreviewCycle_LeavesStateUntouched(t *testing.T) {
	state := newState(domain.DirectionLong, 100, 10)
	state.CurrentBreachCount = 2

	p := usecase.PreviewCycle(state, 90)

	assert.True(t, p.Breach.Breached)
	assert.True(t, p.WouldClose)
	assert.InDelta(t, 97, p.Floor.Effective, 1e-9)
	assert.InDelta(t, -100, p.Tier.ROEPct, 1e-9)
	assert.Equal(t, 3, p.State.CurrentBreachCount)

	assert.Equal(t, 2, state.CurrentBreachCount)
	assert.Equal(t, 0.0, state.LastPrice)
}

func TestPreviewCycle_NoBreach(t *testing.T) {
	state := newState(domain.DirectionShort, 100, 10)

	p := usecase.PreviewCycle(state, 99)

	assert.False(t, p.Breach.Breached)
	assert.False(t, p.WouldClose)
	assert.InDelta(t, 10, p.Tier.ROEPct, 1e-9)
}
