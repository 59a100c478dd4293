package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is returned by GetOrder when the exchange has no record
// of the order id.
var ErrOrderNotFound = errors.New("order not found")

// Client is the uniform interface every real exchange adapter implements.
// The core consumes exchanges only through this port.
type Client interface {
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error)
	GetTicker(ctx context.Context, pair string) (*Ticker, error)
	GetOrderBook(ctx context.Context, pair string, depth int) (*OrderBook, error)
	GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error)

	CreateMarketOrder(ctx context.Context, pair, side string, size decimal.Decimal) (*OrderResult, error)
	CreateLimitOrder(ctx context.Context, pair, side string, price, size decimal.Decimal, timeInForce string) (*OrderResult, error)
	GetOrder(ctx context.Context, pair, orderID string) (*FillDetails, error)
	CancelOrder(ctx context.Context, pair, orderID string) error

	PairRules(ctx context.Context, pair string) (PairRules, error)
}
