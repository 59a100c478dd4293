package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPairList(t *testing.T) {
	testCases := []struct {
		pairs    string
		expected []string
	}{
		{"BTC/USD", []string{"BTC/USD"}},
		{"BTC/USD,ETH/USD", []string{"BTC/USD", "ETH/USD"}},
		{"BTC/USD, ETH/USD ,", []string{"BTC/USD", "ETH/USD"}},
		{"", nil},
	}

	for _, tc := range testCases {
		bot := Bot{Pairs: tc.pairs}
		assert.Equal(t, tc.expected, bot.PairList(), "pairs %q", tc.pairs)
	}
}

func TestBotDue(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	never := Bot{CheckInterval: 60}
	assert.True(t, never.Due(now))

	recent := now.Add(-30 * time.Second)
	bot := Bot{CheckInterval: 60, LastCheckedAt: &recent}
	assert.False(t, bot.Due(now))

	stale := now.Add(-61 * time.Second)
	bot = Bot{CheckInterval: 60, LastCheckedAt: &stale}
	assert.True(t, bot.Due(now))
}

func TestReservationFor(t *testing.T) {
	bot := Bot{
		LongReserveCurrency:  "BTC",
		LongReserveAmount:    decimal.RequireFromString("0.5"),
		LongNettedAmount:     decimal.RequireFromString("0.1"),
		ShortReserveCurrency: "USD",
		ShortReserveAmount:   decimal.RequireFromString("1000"),
	}

	assert.True(t, decimal.RequireFromString("0.4").Equal(bot.ReservationFor("BTC")))
	assert.True(t, decimal.RequireFromString("1000").Equal(bot.ReservationFor("USD")))
	assert.True(t, bot.ReservationFor("ETH").IsZero())
}

func TestReservationForSharedCurrency(t *testing.T) {
	// Both sides reserve the same currency; both contribute.
	bot := Bot{
		LongReserveCurrency:  "USD",
		LongReserveAmount:    decimal.RequireFromString("300"),
		ShortReserveCurrency: "USD",
		ShortReserveAmount:   decimal.RequireFromString("700"),
		ShortNettedAmount:    decimal.RequireFromString("200"),
	}
	assert.True(t, decimal.RequireFromString("800").Equal(bot.ReservationFor("USD")))
}

func TestReservationForNeverNegative(t *testing.T) {
	bot := Bot{
		LongReserveCurrency: "BTC",
		LongReserveAmount:   decimal.RequireFromString("0.1"),
		LongNettedAmount:    decimal.RequireFromString("0.5"),
	}
	assert.True(t, bot.ReservationFor("BTC").IsZero())
}

func TestPositionHelpers(t *testing.T) {
	long := Position{
		Direction:    DirectionLong,
		BaseAcquired: decimal.RequireFromString("2"),
		BaseSold:     decimal.RequireFromString("0.5"),
		AvgBuyPrice:  decimal.RequireFromString("100"),
		AvgSellPrice: decimal.RequireFromString("110"),
	}
	assert.True(t, decimal.RequireFromString("1.5").Equal(long.HeldBase()))
	assert.True(t, decimal.RequireFromString("100").Equal(long.EntryAvgPrice()))

	short := Position{
		Direction:    DirectionShort,
		BaseSold:     decimal.RequireFromString("3"),
		BaseAcquired: decimal.RequireFromString("1"),
		AvgSellPrice: decimal.RequireFromString("110"),
	}
	assert.True(t, decimal.RequireFromString("2").Equal(short.ShortExposure()))
	assert.True(t, decimal.RequireFromString("110").Equal(short.EntryAvgPrice()))
}

func TestPendingOrderExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	gtc := PendingOrder{TimeInForce: TIFGoodTilCancelled, ExpiresAt: &past}
	assert.False(t, gtc.Expired(now))

	gtd := PendingOrder{TimeInForce: TIFGoodTilDate, ExpiresAt: &past}
	assert.True(t, gtd.Expired(now))

	gtd.ExpiresAt = &future
	assert.False(t, gtd.Expired(now))

	noExpiry := PendingOrder{TimeInForce: TIFGoodTilDate}
	assert.False(t, noExpiry.Expired(now))
}
