package usecase

import (
	"math"

	"github.com/shopspring/decimal"
	"github.com/vitos/crypto_trade_dsl/internal/domain"
)

var (
	decOne     = decimal.NewFromInt(1)
	decHundred = decimal.NewFromInt(100)
)

// roePlaces bounds ROE precision so a price landing exactly on a trigger
// compares equal instead of a hair below it.
const roePlaces = 10

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// moreProtective reports whether candidate is a tighter floor than current.
func moreProtective(dir domain.Direction, candidate, current float64) bool {
	c := decFromFloat(candidate).Cmp(decFromFloat(current))
	if dir == domain.DirectionShort {
		return c < 0
	}
	return c > 0
}

// moreFavorable reports whether price improves on the high-water mark.
func moreFavorable(dir domain.Direction, price, mark float64) bool {
	return moreProtective(dir, price, mark)
}

// breachesFloor is true when price has reached or passed the floor.
func breachesFloor(dir domain.Direction, price, floor float64) bool {
	if floor <= 0 || price <= 0 {
		return false
	}
	c := decFromFloat(price).Cmp(decFromFloat(floor))
	if dir == domain.DirectionShort {
		return c >= 0
	}
	return c <= 0
}

// offsetFromEntry returns entry moved by pct in the protective direction:
// up for LONG, down for SHORT.
func offsetFromEntry(dir domain.Direction, entry float64, pct decimal.Decimal) float64 {
	base := decFromFloat(entry)
	factor := decOne.Add(pct)
	if dir == domain.DirectionShort {
		factor = decOne.Sub(pct)
	}
	return decToFloat(base.Mul(factor))
}
