package exchange

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Order sides and types shared across the core.
const (
	OrderSideBuy    = "BUY"
	OrderSideSell   = "SELL"
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// OrderStatus is the normalized status of an order at the exchange.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusFilled          OrderStatus = "filled"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusFailed          OrderStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusFailed
}

// OrderResult is what order placement returns. For market orders the fill
// fields are usually populated immediately; limit orders start pending.
type OrderResult struct {
	OrderID       string
	ClientOrderID string
	Status        OrderStatus
	ExecutedSize  decimal.Decimal
	ExecutedValue decimal.Decimal
	TransactTime  int64
}

// FillDetails is the authoritative post-placement view of an order, fetched
// during reconciliation.
type FillDetails struct {
	OrderID      string
	Status       OrderStatus
	FilledSize   decimal.Decimal
	FilledValue  decimal.Decimal
	AveragePrice decimal.Decimal
	Fee          decimal.Decimal
	FeeCurrency  string
}

// Ticker is a best bid/ask snapshot for a pair.
type Ticker struct {
	Pair      string
	BidPrice  decimal.Decimal
	AskPrice  decimal.Decimal
	LastPrice decimal.Decimal
}

// OrderBookLevel is one price level of an order book side.
type OrderBookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a depth snapshot for a pair.
type OrderBook struct {
	Pair string
	Bids []OrderBookLevel
	Asks []OrderBookLevel
}

// Candle is one OHLCV bar.
type Candle struct {
	OpenTime int64
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// PairRules describes the exchange's constraints for one trading pair. The
// sizing calculator depends on these: order sizes are floored to
// SizePrecision decimals and rejected below MinOrderSize.
type PairRules struct {
	Pair           string
	MinOrderSize   decimal.Decimal
	SizePrecision  int32
	PricePrecision int32
}

// RoundSize floors a size to the pair's allowed decimal precision. Rounding
// is always down: rounding up could request more than is actually available.
func (r PairRules) RoundSize(size decimal.Decimal) decimal.Decimal {
	return size.RoundFloor(r.SizePrecision)
}

// RoundPrice floors a price to the pair's allowed decimal precision.
func (r PairRules) RoundPrice(price decimal.Decimal) decimal.Decimal {
	return price.RoundFloor(r.PricePrecision)
}

// SplitPair splits a "BASE/QUOTE" pair into its two currencies.
func SplitPair(pair string) (base, quote string, err error) {
	parts := strings.Split(pair, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair %q", pair)
	}
	return parts[0], parts[1], nil
}

// Symbol converts a "BASE/QUOTE" pair into the exchange's concatenated
// symbol form, e.g. "BTC/USD" -> "BTCUSD".
func Symbol(pair string) string {
	return strings.ReplaceAll(pair, "/", "")
}
