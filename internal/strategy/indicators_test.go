package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dca-trade-bot-go/internal/exchange"
)

func candlesFromCloses(closes ...float64) []exchange.Candle {
	candles := make([]exchange.Candle, len(closes))
	for i, c := range closes {
		candles[i] = exchange.Candle{Close: decimal.NewFromFloat(c)}
	}
	return candles
}

func TestComputeSnapshotNeedsHistory(t *testing.T) {
	_, err := ComputeSnapshot(candlesFromCloses(1, 2, 3))
	assert.Error(t, err)
}

func TestComputeSnapshotRSI(t *testing.T) {
	// Sixteen monotonically rising closes: no losses, RSI pegs at 100.
	closes := make([]float64, 16)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	snap, err := ComputeSnapshot(candlesFromCloses(closes...))
	require.NoError(t, err)

	value, ok := snap.Value("rsi")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(100).Equal(value))

	mom, ok := snap.Value("momentum")
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(14).Equal(mom))
}

func TestMet(t *testing.T) {
	snap := &Snapshot{values: map[string][2]decimal.Decimal{
		"rsi": {decimal.NewFromInt(35), decimal.NewFromInt(28)},
	}}

	testCases := []struct {
		name      string
		condition Condition
		expected  bool
	}{
		{
			name:      "Less than met",
			condition: Condition{Indicator: "rsi", Operator: OpLessThan, Threshold: decimal.NewFromInt(30)},
			expected:  true,
		},
		{
			name:      "Greater than not met",
			condition: Condition{Indicator: "rsi", Operator: OpGreaterThan, Threshold: decimal.NewFromInt(30)},
			expected:  false,
		},
		{
			// Previous 35 was at-or-above 30, current 28 is below.
			name:      "Crossing below met",
			condition: Condition{Indicator: "rsi", Operator: OpCrossingBelow, Threshold: decimal.NewFromInt(30)},
			expected:  true,
		},
		{
			// Previous 35 was already below 40; no cross happened this bar.
			name:      "Crossing below requires the cross on this bar",
			condition: Condition{Indicator: "rsi", Operator: OpCrossingBelow, Threshold: decimal.NewFromInt(40)},
			expected:  false,
		},
		{
			name:      "Crossing above not met on a falling value",
			condition: Condition{Indicator: "rsi", Operator: OpCrossingAbove, Threshold: decimal.NewFromInt(30)},
			expected:  false,
		},
		{
			name:      "Unknown indicator never triggers",
			condition: Condition{Indicator: "obv", Operator: OpLessThan, Threshold: decimal.NewFromInt(30)},
			expected:  false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Met(tc.condition, snap))
		})
	}
}
