package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/marketdata"
	"dca-trade-bot-go/internal/models"
)

// ErrNoReferencePrice is returned when a cross-currency valuation is needed
// but no reference price is available. The whole availability check fails in
// that case; a missing price is never treated as zero.
var ErrNoReferencePrice = errors.New("reference price unavailable")

// Ledger computes the balance actually available to one bot in a given
// currency, netting out the reservations held by every other active
// bidirectional bot. Values are recomputed on every call; balances change
// every few seconds, so a cached snapshot would be stale by the time it was
// used. The check is advisory: nothing locks the exchange balance, two
// racing passes can still both pass it.
type Ledger struct {
	db     *gorm.DB
	client exchange.Client
	prices *marketdata.Cache
	logger *zap.Logger
}

// NewLedger creates a capital ledger.
func NewLedger(db *gorm.DB, client exchange.Client, prices *marketdata.Cache, logger *zap.Logger) *Ledger {
	return &Ledger{db: db, client: client, prices: prices, logger: logger}
}

// AvailableBalance returns the exchange balance for currency minus the total
// reservation of every other active bidirectional bot, clamped at zero.
func (l *Ledger) AvailableBalance(ctx context.Context, currency string, excludeBotID uint) (decimal.Decimal, error) {
	balance, err := l.client.GetBalance(ctx, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not get %s balance: %w", currency, err)
	}

	var bots []models.Bot
	err = l.db.
		Where("enabled = ? AND bidirectional = ? AND id != ?", true, true, excludeBotID).
		Find(&bots).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not load active bots: %w", err)
	}

	reserved := decimal.Zero
	for i := range bots {
		botReserved, err := l.botReservation(ctx, &bots[i], currency)
		if err != nil {
			return decimal.Zero, err
		}
		reserved = reserved.Add(botReserved)
	}

	available := balance.Sub(reserved)
	if available.IsNegative() {
		l.logger.Debug("Reservations exceed raw balance, clamping availability to zero",
			zap.String("currency", currency),
			zap.String("balance", balance.String()),
			zap.String("reserved", reserved.String()),
		)
		return decimal.Zero, nil
	}
	return available, nil
}

// botReservation is one bot's total claim on the currency: its configured
// initial reservation (already netted between long and short sides) plus the
// currency-equivalent value locked in its open positions.
func (l *Ledger) botReservation(ctx context.Context, bot *models.Bot, currency string) (decimal.Decimal, error) {
	total := bot.ReservationFor(currency)

	var positions []models.Position
	err := l.db.
		Where("bot_id = ? AND status = ?", bot.ID, models.PositionOpen).
		Find(&positions).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("could not load open positions for bot %d: %w", bot.ID, err)
	}

	for i := range positions {
		value, err := l.positionValue(ctx, &positions[i], currency)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(value)
	}
	return total, nil
}

// positionValue values the capital a single open position locks up, in the
// requested currency. A long position locks the base it holds; a short
// position locks the quote proceeds earmarked for the buy-back.
func (l *Ledger) positionValue(ctx context.Context, pos *models.Position, currency string) (decimal.Decimal, error) {
	base, quote, err := exchange.SplitPair(pos.Pair)
	if err != nil {
		return decimal.Zero, err
	}

	var amount decimal.Decimal
	var denominated string
	if pos.Direction == models.DirectionShort {
		amount = pos.QuoteReceived.Sub(pos.QuoteSpent)
		denominated = quote
	} else {
		amount = pos.HeldBase()
		denominated = base
	}
	if !amount.IsPositive() {
		return decimal.Zero, nil
	}

	if denominated == currency {
		return amount, nil
	}

	refPrice, err := l.prices.Price(ctx, denominated+"/"+currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s priced in %s: %v", ErrNoReferencePrice, denominated, currency, err)
	}
	if !refPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: zero price for %s/%s", ErrNoReferencePrice, denominated, currency)
	}
	return amount.Mul(refPrice), nil
}
