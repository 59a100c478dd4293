package exchange

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundSize(t *testing.T) {
	rules := PairRules{SizePrecision: 3}

	testCases := []struct {
		input    string
		expected string
	}{
		{"0.123456", "0.123"},
		{"0.1239", "0.123"}, // always floors, never rounds up
		{"1", "1"},
		{"0.0001", "0"},
	}

	for _, tc := range testCases {
		got := rules.RoundSize(decimal.RequireFromString(tc.input))
		assert.True(t, decimal.RequireFromString(tc.expected).Equal(got),
			"RoundSize(%s): expected %s, got %s", tc.input, tc.expected, got)
	}
}

func TestSplitPair(t *testing.T) {
	base, quote, err := SplitPair("BTC/USD")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "USD", quote)

	for _, bad := range []string{"BTCUSD", "BTC/", "/USD", "BTC/USD/EUR", ""} {
		_, _, err := SplitPair(bad)
		assert.Error(t, err, "expected error for %q", bad)
	}
}

func TestSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSD", Symbol("BTC/USD"))
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, StatusFilled.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusPartiallyFilled.Terminal())
}
