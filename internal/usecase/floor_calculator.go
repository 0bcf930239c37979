package usecase

import "github.com/vitos/crypto_trade_dsl/internal/domain"

// FloorSnapshot holds every floor candidate of one evaluation.
type FloorSnapshot struct {
	HighWater       float64
	Trailing        float64
	Tier            *float64
	Absolute        float64
	AbsoluteApplied bool
	Retrace         float64
	Effective       float64
}

// FloorCalculator derives the protective floor of a position.
type FloorCalculator struct{}

func NewFloorCalculator() *FloorCalculator {
	return &FloorCalculator{}
}

// Apply moves the high-water mark with price and caches the effective floor
// on the state.
func (c *FloorCalculator) Apply(state *domain.PositionState, price float64) FloorSnapshot {
	if price > 0 && moreFavorable(state.Direction, price, state.HighWaterPrice) {
		state.HighWaterPrice = price
	}
	snap := c.Compute(state)
	state.FloorPrice = snap.Effective
	return snap
}

// Compute evaluates the floor from the state as it is, without touching it.
func (c *FloorCalculator) Compute(state *domain.PositionState) FloorSnapshot {
	snap := FloorSnapshot{
		HighWater: state.HighWaterPrice,
		Retrace:   state.ActiveRetrace(),
		Absolute:  state.Phase1.AbsoluteFloor,
	}
	snap.Trailing = c.TrailingFloor(state.Direction, state.HighWaterPrice, snap.Retrace)
	snap.Effective = snap.Trailing

	if state.TierFloorPrice != nil {
		tier := *state.TierFloorPrice
		snap.Tier = &tier
		if moreProtective(state.Direction, tier, snap.Effective) {
			snap.Effective = tier
		}
	}

	// The absolute floor only guards the position until the first tier locks in.
	if state.Phase == 1 && state.TierFloorPrice == nil && state.Phase1.AbsoluteFloor > 0 {
		snap.AbsoluteApplied = true
		if moreProtective(state.Direction, state.Phase1.AbsoluteFloor, snap.Effective) {
			snap.Effective = state.Phase1.AbsoluteFloor
		}
	}
	return snap
}

// TrailingFloor is highWater*(1-retrace) for LONG and highWater*(1+retrace) for SHORT.
func (c *FloorCalculator) TrailingFloor(dir domain.Direction, highWater, retrace float64) float64 {
	r := decFromFloat(retrace)
	hw := decFromFloat(highWater)
	if dir == domain.DirectionShort {
		return decToFloat(hw.Mul(decOne.Add(r)))
	}
	return decToFloat(hw.Mul(decOne.Sub(r)))
}
