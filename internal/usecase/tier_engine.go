package usecase

import (
	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

// TierUpdate describes what the tier engine changed on a tick.
type TierUpdate struct {
	ROEPct        float64
	PreviousIndex int
	TierChanged   bool
	PhaseChanged  bool
}

// TierEngine advances the profit-lock tier of a position from its ROE.
type TierEngine struct{}

func NewTierEngine() *TierEngine {
	return &TierEngine{}
}

// ROE returns unrealized profit as a whole percent of margin, where
// margin = size * entry / leverage.
func (e *TierEngine) ROE(state *domain.PositionState, price float64) float64 {
	return decToFloat(e.roe(state, price))
}

func (e *TierEngine) roe(state *domain.PositionState, price float64) decimal.Decimal {
	entry := decFromFloat(state.EntryPrice)
	size := decFromFloat(state.Size)
	leverage := decFromFloat(state.Leverage)
	if entry.IsZero() || size.IsZero() || leverage.IsZero() {
		return decimal.Zero
	}

	move := decFromFloat(price).Sub(entry)
	if state.Direction == domain.DirectionShort {
		move = move.Neg()
	}
	upnl := move.Mul(size)
	margin := size.Mul(entry).Div(leverage)
	return upnl.Div(margin).Mul(decHundred).Round(roePlaces)
}

// TierFloor returns the lock-in price of tier idx.
func (e *TierEngine) TierFloor(state *domain.PositionState, idx int) float64 {
	lock := decFromFloat(state.Tiers[idx].LockPct).Div(decHundred).Div(decFromFloat(state.Leverage))
	return offsetFromEntry(state.Direction, state.EntryPrice, lock)
}

// Apply updates tier index, tier floor, tier retrace and phase for price.
// Nothing ever moves backwards: a lower ROE leaves the tier state as is.
func (e *TierEngine) Apply(state *domain.PositionState, price float64) TierUpdate {
	roe := e.roe(state, price)
	upd := TierUpdate{
		ROEPct:        decToFloat(roe),
		PreviousIndex: state.CurrentTierIndex,
	}

	reached := -1
	for i, t := range state.Tiers {
		if decFromFloat(t.TriggerPct).Cmp(roe) > 0 {
			break
		}
		reached = i
	}

	if reached > state.CurrentTierIndex {
		for i := state.CurrentTierIndex + 1; i <= reached; i++ {
			if r := state.Tiers[i].Retrace; r != nil {
				v := *r
				state.TierRetrace = &v
			}
		}
		state.CurrentTierIndex = reached

		floor := e.TierFloor(state, reached)
		if state.TierFloorPrice == nil || moreProtective(state.Direction, floor, *state.TierFloorPrice) {
			state.TierFloorPrice = &floor
		}
		upd.TierChanged = true
	}

	if state.Phase == 1 && len(state.Tiers) > 0 && state.CurrentTierIndex >= state.Phase2.TriggerTier {
		state.Phase = 2
		upd.PhaseChanged = true
	}
	return upd
}

// DistanceToNextTier returns the ROE points still needed for the next tier,
// or nil when the last tier has been reached.
func (e *TierEngine) DistanceToNextTier(state *domain.PositionState, roePct float64) *float64 {
	next := state.CurrentTierIndex + 1
	if next >= len(state.Tiers) {
		return nil
	}
	d := decToFloat(decFromFloat(state.Tiers[next].TriggerPct).Sub(decFromFloat(roePct)).Round(4))
	return &d
}
