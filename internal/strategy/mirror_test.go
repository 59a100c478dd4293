package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMirrorCondition(t *testing.T) {
	testCases := []struct {
		name     string
		input    Condition
		expected Condition
	}{
		{
			name:     "RSI mirrors about 50",
			input:    Condition{Indicator: "rsi", Operator: OpCrossingBelow, Threshold: decimal.NewFromInt(30)},
			expected: Condition{Indicator: "rsi", Operator: OpCrossingAbove, Threshold: decimal.NewFromInt(70)},
		},
		{
			name:     "Stochastic mirrors about 50",
			input:    Condition{Indicator: "stoch", Operator: OpLessThan, Threshold: decimal.NewFromInt(20)},
			expected: Condition{Indicator: "stoch", Operator: OpGreaterThan, Threshold: decimal.NewFromInt(80)},
		},
		{
			name:     "Williams %R mirrors about -50",
			input:    Condition{Indicator: "williams_r", Operator: OpCrossingBelow, Threshold: decimal.NewFromInt(-80)},
			expected: Condition{Indicator: "williams_r", Operator: OpCrossingAbove, Threshold: decimal.NewFromInt(-20)},
		},
		{
			name:     "MACD negates its threshold",
			input:    Condition{Indicator: "macd", Operator: OpCrossingAbove, Threshold: decimal.NewFromFloat(0.5)},
			expected: Condition{Indicator: "macd", Operator: OpCrossingBelow, Threshold: decimal.NewFromFloat(-0.5)},
		},
		{
			name:     "CCI negates its threshold",
			input:    Condition{Indicator: "cci", Operator: OpGreaterThan, Threshold: decimal.NewFromInt(100)},
			expected: Condition{Indicator: "cci", Operator: OpLessThan, Threshold: decimal.NewFromInt(-100)},
		},
		{
			name:     "Unknown indicator flips only the operator",
			input:    Condition{Indicator: "supertrend", Operator: OpGreaterThan, Threshold: decimal.NewFromInt(42)},
			expected: Condition{Indicator: "supertrend", Operator: OpLessThan, Threshold: decimal.NewFromInt(42)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := MirrorCondition(tc.input)
			assert.Equal(t, tc.expected.Indicator, got.Indicator)
			assert.Equal(t, tc.expected.Operator, got.Operator)
			assert.True(t, tc.expected.Threshold.Equal(got.Threshold),
				"expected threshold %s, got %s", tc.expected.Threshold, got.Threshold)
		})
	}
}

// Mirroring twice must give back the original condition.
func TestMirrorConditionIsInvolution(t *testing.T) {
	conditions := []Condition{
		{Indicator: "rsi", Operator: OpCrossingBelow, Threshold: decimal.NewFromInt(30)},
		{Indicator: "williams_r", Operator: OpLessThan, Threshold: decimal.NewFromInt(-80)},
		{Indicator: "momentum", Operator: OpCrossingAbove, Threshold: decimal.NewFromFloat(1.25)},
		{Indicator: "unknown_indicator", Operator: OpGreaterThan, Threshold: decimal.NewFromInt(7)},
	}

	for _, c := range conditions {
		twice := MirrorCondition(MirrorCondition(c))
		assert.Equal(t, c.Indicator, twice.Indicator)
		assert.Equal(t, c.Operator, twice.Operator)
		assert.True(t, c.Threshold.Equal(twice.Threshold))
	}
}

func TestMirrorConditionDoesNotMutateInput(t *testing.T) {
	original := Condition{Indicator: "rsi", Operator: OpCrossingBelow, Threshold: decimal.NewFromInt(30)}
	_ = MirrorCondition(original)

	assert.Equal(t, "rsi", original.Indicator)
	assert.Equal(t, OpCrossingBelow, original.Operator)
	assert.True(t, decimal.NewFromInt(30).Equal(original.Threshold))
}

func TestParseConfig(t *testing.T) {
	valid := `{
		"order_mode": "percentage",
		"base_order_pct": "0.1",
		"safety_order_count": 3,
		"safety_mode": "percent_of_base",
		"safety_order_pct": "0.5",
		"volume_scale": "1.5",
		"price_deviation_pct": "0.02",
		"take_profit_pct": "0.015",
		"entry_condition": {"indicator": "rsi", "operator": "crossing_below", "threshold": "30"}
	}`

	t.Run("Valid config", func(t *testing.T) {
		cfg, err := ParseConfig(TypeDCALong, valid)
		assert.NoError(t, err)
		assert.Equal(t, 3, cfg.SafetyOrderCount)
		assert.Equal(t, "1m", cfg.CandleInterval) // default
		assert.Equal(t, "GTC", cfg.TimeInForce)   // default
		assert.False(t, cfg.UsesLimitOrders())
	})

	t.Run("Unknown strategy type", func(t *testing.T) {
		_, err := ParseConfig("grid", valid)
		assert.ErrorIs(t, err, ErrInvalidStrategy)
	})

	t.Run("Safety orders without price deviation", func(t *testing.T) {
		raw := `{
			"order_mode": "percentage",
			"base_order_pct": "0.1",
			"safety_order_count": 2,
			"safety_mode": "percent_of_base",
			"safety_order_pct": "0.5",
			"take_profit_pct": "0.015",
			"entry_condition": {"indicator": "rsi", "operator": "less_than", "threshold": "30"}
		}`
		_, err := ParseConfig(TypeDCAShort, raw)
		assert.ErrorIs(t, err, ErrInvalidStrategy)
	})

	t.Run("Unknown operator", func(t *testing.T) {
		raw := `{
			"order_mode": "fixed",
			"base_order_amount": "100",
			"take_profit_pct": "0.02",
			"entry_condition": {"indicator": "rsi", "operator": "equals", "threshold": "30"}
		}`
		_, err := ParseConfig(TypeDCALong, raw)
		assert.ErrorIs(t, err, ErrInvalidStrategy)
	})
}
