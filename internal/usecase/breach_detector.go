package usecase

import "github.com/vitos/crypto_trade_dsl/internal/domain"

type BreachOutcome struct {
	Breached  bool
	Count     int
	Required  int
	Triggered bool
}

// BreachDetector keeps the consecutive breach counter of a position.
type BreachDetector struct{}

func NewBreachDetector() *BreachDetector {
	return &BreachDetector{}
}

// IsBreach reports whether price reached or passed floor in the losing direction.
func (d *BreachDetector) IsBreach(dir domain.Direction, price, floor float64) bool {
	return breachesFloor(dir, price, floor)
}

// Apply checks price against the cached effective floor and updates the
// counter according to the position's decay mode.
func (d *BreachDetector) Apply(state *domain.PositionState, price float64) BreachOutcome {
	out := BreachOutcome{Required: state.BreachesRequired()}

	if d.IsBreach(state.Direction, price, state.FloorPrice) {
		out.Breached = true
		state.CurrentBreachCount++
	} else {
		state.CurrentBreachCount = d.decay(state.BreachDecay, state.CurrentBreachCount)
	}

	out.Count = state.CurrentBreachCount
	out.Triggered = out.Breached && out.Count >= out.Required
	return out
}

func (d *BreachDetector) decay(mode domain.DecayMode, count int) int {
	if mode == domain.DecaySoft {
		if count > 0 {
			return count - 1
		}
		return 0
	}
	return 0
}
