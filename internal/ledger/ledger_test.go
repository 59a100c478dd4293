package ledger

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/marketdata"
	"dca-trade-bot-go/internal/models"
)

var dbSeq atomic.Int64

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Bot{}, &models.Position{}))
	return db
}

type fakeClient struct {
	balances map[string]decimal.Decimal
	prices   map[string]decimal.Decimal
}

func (f *fakeClient) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return f.balances[currency], nil
}

func (f *fakeClient) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	price, ok := f.prices[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("no market for %s", pair)
	}
	return price, nil
}

func (f *fakeClient) GetTicker(ctx context.Context, pair string) (*exchange.Ticker, error) {
	return nil, nil
}

func (f *fakeClient) GetOrderBook(ctx context.Context, pair string, depth int) (*exchange.OrderBook, error) {
	return nil, nil
}

func (f *fakeClient) GetCandles(ctx context.Context, pair, interval string, limit int) ([]exchange.Candle, error) {
	return nil, nil
}

func (f *fakeClient) CreateMarketOrder(ctx context.Context, pair, side string, size decimal.Decimal) (*exchange.OrderResult, error) {
	return nil, nil
}

func (f *fakeClient) CreateLimitOrder(ctx context.Context, pair, side string, price, size decimal.Decimal, timeInForce string) (*exchange.OrderResult, error) {
	return nil, nil
}

func (f *fakeClient) GetOrder(ctx context.Context, pair, orderID string) (*exchange.FillDetails, error) {
	return nil, exchange.ErrOrderNotFound
}

func (f *fakeClient) CancelOrder(ctx context.Context, pair, orderID string) error {
	return nil
}

func (f *fakeClient) PairRules(ctx context.Context, pair string) (exchange.PairRules, error) {
	return exchange.PairRules{}, nil
}

func newTestLedger(t *testing.T, db *gorm.DB, client *fakeClient) *Ledger {
	t.Helper()
	cache := marketdata.NewCache(client, 5*time.Second)
	return NewLedger(db, client, cache, zap.NewNop())
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestAvailableBalanceNetsOtherBots(t *testing.T) {
	db := newTestDB(t)
	client := &fakeClient{balances: map[string]decimal.Decimal{"BTC": d("1.0")}}

	other := models.Bot{
		UserID: 1, Name: "other", Enabled: true, Bidirectional: true,
		StrategyType: "dca_bidirectional", Pairs: "ETH/BTC",
		LongReserveCurrency: "BTC", LongReserveAmount: d("0.3"),
	}
	require.NoError(t, db.Create(&other).Error)

	asking := models.Bot{
		UserID: 1, Name: "asking", Enabled: true, Bidirectional: true,
		StrategyType: "dca_bidirectional", Pairs: "ETH/BTC",
		LongReserveCurrency: "BTC", LongReserveAmount: d("0.5"),
	}
	require.NoError(t, db.Create(&asking).Error)

	l := newTestLedger(t, db, client)

	// The asking bot's own reservation is excluded; only the other bot's
	// 0.3 BTC is netted out of the 1.0 BTC balance.
	available, err := l.AvailableBalance(context.Background(), "BTC", asking.ID)
	require.NoError(t, err)
	assert.True(t, d("0.7").Equal(available), "got %s", available)
}

func TestAvailableBalanceIgnoresInactiveBots(t *testing.T) {
	db := newTestDB(t)
	client := &fakeClient{balances: map[string]decimal.Decimal{"USD": d("1000")}}

	disabled := models.Bot{
		UserID: 1, Name: "disabled", Enabled: false, Bidirectional: true,
		StrategyType: "dca_bidirectional", Pairs: "BTC/USD",
		ShortReserveCurrency: "USD", ShortReserveAmount: d("400"),
	}
	oneWay := models.Bot{
		UserID: 1, Name: "one-way", Enabled: true, Bidirectional: false,
		StrategyType: "dca_long", Pairs: "BTC/USD",
		ShortReserveCurrency: "USD", ShortReserveAmount: d("300"),
	}
	require.NoError(t, db.Create(&disabled).Error)
	require.NoError(t, db.Create(&oneWay).Error)

	l := newTestLedger(t, db, client)

	available, err := l.AvailableBalance(context.Background(), "USD", 99)
	require.NoError(t, err)
	assert.True(t, d("1000").Equal(available), "got %s", available)
}

func TestAvailableBalanceIncludesOpenPositions(t *testing.T) {
	db := newTestDB(t)
	client := &fakeClient{
		balances: map[string]decimal.Decimal{"BTC": d("2.0")},
		prices:   map[string]decimal.Decimal{"ETH/BTC": d("0.05")},
	}

	other := models.Bot{
		UserID: 1, Name: "other", Enabled: true, Bidirectional: true,
		StrategyType: "dca_bidirectional", Pairs: "ETH/BTC",
	}
	require.NoError(t, db.Create(&other).Error)

	// Long position holding 4 ETH, valued at 0.05 BTC each.
	pos := models.Position{
		BotID: other.ID, UserID: 1, Pair: "ETH/BTC",
		Direction: models.DirectionLong, Status: models.PositionOpen,
		BaseAcquired: d("4"),
	}
	require.NoError(t, db.Create(&pos).Error)

	l := newTestLedger(t, db, client)

	available, err := l.AvailableBalance(context.Background(), "BTC", 99)
	require.NoError(t, err)
	assert.True(t, d("1.8").Equal(available), "got %s", available)
}

func TestAvailableBalanceClampsAtZero(t *testing.T) {
	db := newTestDB(t)
	client := &fakeClient{balances: map[string]decimal.Decimal{"USD": d("100")}}

	greedy := models.Bot{
		UserID: 1, Name: "greedy", Enabled: true, Bidirectional: true,
		StrategyType: "dca_bidirectional", Pairs: "BTC/USD",
		ShortReserveCurrency: "USD", ShortReserveAmount: d("250"),
	}
	require.NoError(t, db.Create(&greedy).Error)

	l := newTestLedger(t, db, client)

	available, err := l.AvailableBalance(context.Background(), "USD", 99)
	require.NoError(t, err)
	assert.True(t, available.IsZero())
}

func TestAvailableBalanceFailsWithoutReferencePrice(t *testing.T) {
	db := newTestDB(t)
	client := &fakeClient{
		balances: map[string]decimal.Decimal{"USD": d("1000")},
		prices:   map[string]decimal.Decimal{}, // no ETH/USD market
	}

	other := models.Bot{
		UserID: 1, Name: "other", Enabled: true, Bidirectional: true,
		StrategyType: "dca_bidirectional", Pairs: "ETH/BTC",
	}
	require.NoError(t, db.Create(&other).Error)

	pos := models.Position{
		BotID: other.ID, UserID: 1, Pair: "ETH/BTC",
		Direction: models.DirectionLong, Status: models.PositionOpen,
		BaseAcquired: d("1"),
	}
	require.NoError(t, db.Create(&pos).Error)

	l := newTestLedger(t, db, client)

	// The ETH position must be valued in USD but no ETH/USD price exists;
	// the whole check fails rather than treating the position as worthless.
	_, err := l.AvailableBalance(context.Background(), "USD", 99)
	assert.ErrorIs(t, err, ErrNoReferencePrice)
}
