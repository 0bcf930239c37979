package usecase

import "github.com/vitos/crypto_trade_dsl/internal/domain"

// Preview is what a cycle at a given price would do, computed on a copy.
type Preview struct {
	State              *domain.PositionState
	Tier               TierUpdate
	Floor              FloorSnapshot
	Breach             BreachOutcome
	DistanceToNextTier *float64
	WouldClose         bool
}

// PreviewCycle runs the tier, floor and breach steps against a clone of state.
// Nothing is persisted and no close is attempted.
func PreviewCycle(state *domain.PositionState, price float64) Preview {
	s := state.Clone()
	s.LastPrice = price

	tier := NewTierEngine().Apply(s, price)
	floor := NewFloorCalculator().Apply(s, price)
	breach := NewBreachDetector().Apply(s, price)
	s.LastROEPct = tier.ROEPct

	return Preview{
		State:              s,
		Tier:               tier,
		Floor:              floor,
		Breach:             breach,
		DistanceToNextTier: NewTierEngine().DistanceToNextTier(s, tier.ROEPct),
		WouldClose:         breach.Triggered,
	}
}
