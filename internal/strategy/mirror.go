package strategy

import "github.com/shopspring/decimal"

// oscillatorMidpoints lists indicators bounded around a known midpoint.
// Their short-side threshold is the long threshold mirrored about that
// midpoint.
var oscillatorMidpoints = map[string]decimal.Decimal{
	"rsi":        decimal.NewFromInt(50),
	"stoch":      decimal.NewFromInt(50),
	"stoch_rsi":  decimal.NewFromInt(50),
	"mfi":        decimal.NewFromInt(50),
	"williams_r": decimal.NewFromInt(-50),
}

// zeroCentered lists sign-oriented indicators centered at zero. Their
// short-side threshold is the negated long threshold.
var zeroCentered = map[string]struct{}{
	"macd":     {},
	"momentum": {},
	"roc":      {},
	"cci":      {},
	"awesome":  {},
}

// MirrorCondition derives the economically-equivalent short-side trigger
// from a long-side condition. Oscillators mirror the threshold about their
// midpoint and flip the comparison; zero-centered indicators negate the
// threshold and flip; unrecognized indicators flip only the comparison and
// keep the threshold, a documented degraded behavior rather than an error.
//
// The input is copied, never mutated: callers reuse the long-side condition
// afterward. Mirroring twice returns the original condition.
func MirrorCondition(c Condition) Condition {
	mirrored := Condition{
		Indicator: c.Indicator,
		Operator:  flipOperator(c.Operator),
		Threshold: c.Threshold,
	}

	if midpoint, ok := oscillatorMidpoints[c.Indicator]; ok {
		// threshold' = 2*midpoint - threshold
		mirrored.Threshold = midpoint.Add(midpoint).Sub(c.Threshold)
		return mirrored
	}
	if _, ok := zeroCentered[c.Indicator]; ok {
		mirrored.Threshold = c.Threshold.Neg()
		return mirrored
	}
	return mirrored
}

func flipOperator(op string) string {
	switch op {
	case OpCrossingAbove:
		return OpCrossingBelow
	case OpCrossingBelow:
		return OpCrossingAbove
	case OpGreaterThan:
		return OpLessThan
	case OpLessThan:
		return OpGreaterThan
	default:
		return op
	}
}
