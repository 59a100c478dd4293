package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"dca-trade-bot-go/internal/exchange"
)

// Snapshot holds the indicator values computed from recent candles for one
// evaluation pass. Two consecutive values per indicator are kept so crossing
// operators can compare against the previous bar.
type Snapshot struct {
	values map[string][2]decimal.Decimal // [previous, current]
}

// Value returns the current value of an indicator.
func (s *Snapshot) Value(indicator string) (decimal.Decimal, bool) {
	v, ok := s.values[indicator]
	return v[1], ok
}

// Previous returns the value of an indicator one bar earlier.
func (s *Snapshot) Previous(indicator string) (decimal.Decimal, bool) {
	v, ok := s.values[indicator]
	return v[0], ok
}

// ComputeSnapshot derives the supported indicator values from candle
// history. The condition schema is deliberately small; anything beyond the
// fields sizing and mirroring depend on lives outside this core.
func ComputeSnapshot(candles []exchange.Candle) (*Snapshot, error) {
	const rsiPeriod = 14
	if len(candles) < rsiPeriod+2 {
		return nil, fmt.Errorf("need at least %d candles, got %d", rsiPeriod+2, len(candles))
	}

	closes := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	snap := &Snapshot{values: make(map[string][2]decimal.Decimal)}
	snap.values["rsi"] = [2]decimal.Decimal{
		rsi(closes[:len(closes)-1], rsiPeriod),
		rsi(closes, rsiPeriod),
	}
	snap.values["momentum"] = [2]decimal.Decimal{
		momentum(closes[:len(closes)-1], rsiPeriod),
		momentum(closes, rsiPeriod),
	}
	return snap, nil
}

// rsi computes a simple-average RSI over the trailing period.
func rsi(closes []decimal.Decimal, period int) decimal.Decimal {
	gains := decimal.Zero
	losses := decimal.Zero
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i].Sub(closes[i-1])
		if delta.IsPositive() {
			gains = gains.Add(delta)
		} else {
			losses = losses.Add(delta.Neg())
		}
	}
	if losses.IsZero() {
		return decimal.NewFromInt(100)
	}
	rs := gains.Div(losses)
	hundred := decimal.NewFromInt(100)
	return hundred.Sub(hundred.Div(decimal.NewFromInt(1).Add(rs)))
}

// momentum is the close-over-close change across the period.
func momentum(closes []decimal.Decimal, period int) decimal.Decimal {
	return closes[len(closes)-1].Sub(closes[len(closes)-1-period])
}

// Met evaluates a condition against an indicator snapshot. Unknown
// indicators simply do not trigger.
func Met(c Condition, snap *Snapshot) bool {
	current, ok := snap.Value(c.Indicator)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpGreaterThan:
		return current.GreaterThan(c.Threshold)
	case OpLessThan:
		return current.LessThan(c.Threshold)
	case OpCrossingAbove:
		prev, ok := snap.Previous(c.Indicator)
		return ok && prev.LessThanOrEqual(c.Threshold) && current.GreaterThan(c.Threshold)
	case OpCrossingBelow:
		prev, ok := snap.Previous(c.Indicator)
		return ok && prev.GreaterThanOrEqual(c.Threshold) && current.LessThan(c.Threshold)
	default:
		return false
	}
}
