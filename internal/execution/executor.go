package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/marketdata"
	"dca-trade-bot-go/internal/models"
	"dca-trade-bot-go/internal/notifier"
	"dca-trade-bot-go/internal/shutdown"
)

// ErrBelowMinimum is a validation failure: the rounded order size is under
// the exchange minimum. Nothing is submitted; only an order-history row is
// written.
var ErrBelowMinimum = errors.New("order size below exchange minimum")

// Events collects fill notifications staged during a database transaction.
// Nothing is delivered until PublishEvents runs after the commit, so
// subscribers never see a fill that was rolled back.
type Events struct {
	staged []notifier.FillEvent
}

func (e *Events) add(event notifier.FillEvent) {
	e.staged = append(e.staged, event)
}

// PublishEvents delivers events staged during a committed transaction to the
// notification hub.
func (x *Executor) PublishEvents(events *Events) {
	for _, event := range events.staged {
		x.hub.Publish(event)
	}
}

// Executor drives a single position through its buy/sell attempts,
// reconciles exchange fills and records audit history. Every external order
// call is wrapped by the shutdown coordinator. Database writes go through
// the transaction handle supplied per call, so one processing pass commits
// together.
type Executor struct {
	client      exchange.Client
	prices      *marketdata.Cache
	coordinator *shutdown.Coordinator
	hub         *notifier.Hub
	logger      *zap.Logger

	refCurrency string
	dryRun      bool
	now         func() time.Time
}

// NewExecutor creates an order executor.
func NewExecutor(
	client exchange.Client,
	prices *marketdata.Cache,
	coordinator *shutdown.Coordinator,
	hub *notifier.Hub,
	refCurrency string,
	dryRun bool,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		client:      client,
		prices:      prices,
		coordinator: coordinator,
		hub:         hub,
		logger:      logger,
		refCurrency: refCurrency,
		dryRun:      dryRun,
		now:         time.Now,
	}
}

// entrySide returns the order side that opens or grows a position.
func entrySide(direction string) string {
	if direction == models.DirectionShort {
		return exchange.OrderSideSell
	}
	return exchange.OrderSideBuy
}

// exitSide returns the order side that closes a position.
func exitSide(direction string) string {
	if direction == models.DirectionShort {
		return exchange.OrderSideBuy
	}
	return exchange.OrderSideSell
}

// nextAttemptNumber advances the per-user attempt counter. It counts every
// base-order attempt, successful or not.
func nextAttemptNumber(tx *gorm.DB, userID uint) (int64, error) {
	counter, err := lockCounter(tx, userID)
	if err != nil {
		return 0, err
	}
	counter.AttemptCount++
	if err := tx.Save(counter).Error; err != nil {
		return 0, fmt.Errorf("failed to advance attempt counter: %w", err)
	}
	return counter.AttemptCount, nil
}

// nextDealNumber advances the per-user deal counter. It is only called on
// the first successful base-order fill of a position.
func nextDealNumber(tx *gorm.DB, userID uint) (int64, error) {
	counter, err := lockCounter(tx, userID)
	if err != nil {
		return 0, err
	}
	counter.DealCount++
	if err := tx.Save(counter).Error; err != nil {
		return 0, fmt.Errorf("failed to advance deal counter: %w", err)
	}
	return counter.DealCount, nil
}

func lockCounter(tx *gorm.DB, userID uint) (*models.UserCounter, error) {
	var counter models.UserCounter
	err := tx.Where(models.UserCounter{UserID: userID}).FirstOrCreate(&counter).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load user counter: %w", err)
	}
	return &counter, nil
}

// recordAttempt writes the append-only audit row for one order attempt. For
// failed base orders this is the only durable record.
func (x *Executor) recordAttempt(tx *gorm.DB, bot *models.Bot, positionID *uint, pair, side, orderType, purpose string, size decimal.Decimal, status, errMsg, orderID string) error {
	row := models.OrderHistory{
		UserID:        bot.UserID,
		BotID:         bot.ID,
		PositionID:    positionID,
		Pair:          pair,
		Side:          side,
		OrderType:     orderType,
		Purpose:       purpose,
		RequestedSize: size,
		Status:        status,
		ErrorMessage:  errMsg,
		OrderID:       orderID,
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record order attempt: %w", err)
	}
	return nil
}

// usdEquivalent converts a quote-currency amount into the reference currency
// using a price snapshot taken now.
func (x *Executor) usdEquivalent(ctx context.Context, amount decimal.Decimal, quoteCurrency string) (decimal.Decimal, error) {
	if quoteCurrency == x.refCurrency || amount.IsZero() {
		return amount, nil
	}
	price, err := x.prices.Price(ctx, quoteCurrency+"/"+x.refCurrency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("no %s/%s reference price: %w", quoteCurrency, x.refCurrency, err)
	}
	return amount.Mul(price), nil
}
