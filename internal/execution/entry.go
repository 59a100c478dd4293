package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/models"
	"dca-trade-bot-go/internal/notifier"
	"dca-trade-bot-go/internal/strategy"
)

// OpenPosition attempts the base order for a new position. The attempt
// counter advances whether or not the order succeeds; a position row is only
// created once the exchange accepts the order. On placement failure the
// order-history row is the only state left behind.
func (x *Executor) OpenPosition(ctx context.Context, tx *gorm.DB, bot *models.Bot, pair string, cfg *strategy.DCAConfig, direction string, quoteSize decimal.Decimal, events *Events) (*models.Position, error) {
	if err := x.coordinator.BeginOperation(); err != nil {
		return nil, err
	}
	defer x.coordinator.EndOperation()

	side := entrySide(direction)
	l := x.logger.With(
		zap.Uint("bot_id", bot.ID),
		zap.String("pair", pair),
		zap.String("side", side),
		zap.String("purpose", models.OrderPurposeBase),
	)

	attempt, err := nextAttemptNumber(tx, bot.UserID)
	if err != nil {
		return nil, err
	}

	plan, err := x.planOrder(ctx, pair, side, cfg, quoteSize)
	if err != nil {
		// Validation failure: no external call was made, but the attempt is
		// still audited.
		histErr := x.recordAttempt(tx, bot, nil, pair, side, exchange.OrderTypeMarket,
			models.OrderPurposeBase, quoteSize, models.OrderAttemptFailed, err.Error(), "")
		if histErr != nil {
			return nil, histErr
		}
		l.Warn("Base order rejected before submission", zap.Error(err))
		return nil, err
	}

	result, err := x.submit(ctx, plan)
	if err != nil {
		if histErr := x.recordAttempt(tx, bot, nil, pair, side, plan.orderType,
			models.OrderPurposeBase, plan.baseSize, models.OrderAttemptFailed, err.Error(), ""); histErr != nil {
			return nil, histErr
		}
		l.Error("Base order submission failed", zap.Error(err))
		return nil, err
	}

	position := &models.Position{
		BotID:          bot.ID,
		UserID:         bot.UserID,
		Pair:           pair,
		Direction:      direction,
		Status:         models.PositionOpen,
		ConfigSnapshot: bot.StrategyConfig,
		StrategyType:   bot.StrategyType,
		AttemptNumber:  attempt,
	}
	if err := tx.Create(position).Error; err != nil {
		return nil, fmt.Errorf("failed to create position: %w", err)
	}

	if plan.orderType == exchange.OrderTypeLimit {
		if err := x.deferToPolling(tx, bot, position, plan, result, models.OrderPurposeBase); err != nil {
			return nil, err
		}
		l.Info("Base limit order submitted, reconciliation deferred",
			zap.String("order_id", result.OrderID))
		return position, nil
	}

	fill, err := x.fetchFill(ctx, pair, result)
	if err != nil {
		// The order is at the exchange but its fill state is unknown. Keep
		// the position open and let the polling pass settle it.
		position.SetError(err.Error(), x.now())
		if err := tx.Save(position).Error; err != nil {
			return nil, err
		}
		if err := x.deferToPolling(tx, bot, position, plan, result, models.OrderPurposeBase); err != nil {
			return nil, err
		}
		l.Warn("Base order reconciliation deferred", zap.Error(err))
		return position, nil
	}

	if err := x.applyFill(ctx, tx, bot, position, plan, fill, models.OrderPurposeBase, events); err != nil {
		return nil, err
	}
	l.Info("Base order filled",
		zap.String("order_id", fill.OrderID),
		zap.String("filled_size", fill.FilledSize.String()),
		zap.String("avg_price", fill.AveragePrice.String()),
	)
	return position, nil
}

// PlaceSafetyOrder attempts one DCA order on an open position. A failure
// here never fails the position permanently: the error is recorded on the
// position and it stays open, eligible for retry on the next scheduling
// pass.
func (x *Executor) PlaceSafetyOrder(ctx context.Context, tx *gorm.DB, bot *models.Bot, position *models.Position, cfg *strategy.DCAConfig, quoteSize decimal.Decimal, events *Events) error {
	if err := x.coordinator.BeginOperation(); err != nil {
		return err
	}
	defer x.coordinator.EndOperation()

	side := entrySide(position.Direction)
	l := x.logger.With(
		zap.Uint("bot_id", bot.ID),
		zap.Uint("position_id", position.ID),
		zap.String("pair", position.Pair),
		zap.String("side", side),
		zap.String("purpose", models.OrderPurposeSafety),
	)

	plan, err := x.planOrder(ctx, position.Pair, side, cfg, quoteSize)
	if err != nil {
		return x.recordSafetyFailure(tx, bot, position, side, quoteSize, err, l)
	}

	result, err := x.submit(ctx, plan)
	if err != nil {
		return x.recordSafetyFailure(tx, bot, position, side, plan.baseSize, err, l)
	}

	if plan.orderType == exchange.OrderTypeLimit {
		if err := x.deferToPolling(tx, bot, position, plan, result, models.OrderPurposeSafety); err != nil {
			return err
		}
		l.Info("Safety limit order submitted", zap.String("order_id", result.OrderID))
		return nil
	}

	fill, err := x.fetchFill(ctx, position.Pair, result)
	if err != nil {
		position.SetError(err.Error(), x.now())
		if err := tx.Save(position).Error; err != nil {
			return err
		}
		return x.deferToPolling(tx, bot, position, plan, result, models.OrderPurposeSafety)
	}

	if err := x.applyFill(ctx, tx, bot, position, plan, fill, models.OrderPurposeSafety, events); err != nil {
		return err
	}

	// One ladder rung per order. The counter is advanced here rather than per
	// applied fill, and only when the order actually executed.
	if fill.Status != exchange.StatusCancelled && fill.Status != exchange.StatusFailed {
		position.SafetyOrdersFilled++
		if err := tx.Save(position).Error; err != nil {
			return fmt.Errorf("failed to count safety order: %w", err)
		}
	}
	l.Info("Safety order filled",
		zap.Int("safety_orders_filled", position.SafetyOrdersFilled),
		zap.String("avg_price", position.EntryAvgPrice().String()),
	)
	return nil
}

func (x *Executor) recordSafetyFailure(tx *gorm.DB, bot *models.Bot, position *models.Position, side string, size decimal.Decimal, cause error, l *zap.Logger) error {
	posID := position.ID
	if err := x.recordAttempt(tx, bot, &posID, position.Pair, side, exchange.OrderTypeMarket,
		models.OrderPurposeSafety, size, models.OrderAttemptFailed, cause.Error(), ""); err != nil {
		return err
	}
	position.SetError(cause.Error(), x.now())
	if err := tx.Save(position).Error; err != nil {
		return fmt.Errorf("failed to record safety-order error: %w", err)
	}
	l.Warn("Safety order failed, position stays open for retry", zap.Error(cause))
	return nil
}

// orderPlan is a fully validated, precision-rounded order ready to submit.
type orderPlan struct {
	pair        string
	side        string
	orderType   string
	baseSize    decimal.Decimal
	limitPrice  decimal.Decimal
	marketPrice decimal.Decimal
	timeInForce string
	gtdSeconds  int
}

// planOrder converts a quote budget into a precision-rounded base size and
// validates it against the pair's minimum. Sizes always round down; rounding
// up could request more than is available.
func (x *Executor) planOrder(ctx context.Context, pair, side string, cfg *strategy.DCAConfig, quoteSize decimal.Decimal) (*orderPlan, error) {
	rules, err := x.client.PairRules(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("could not get pair rules for %s: %w", pair, err)
	}

	price, err := x.prices.Price(ctx, pair)
	if err != nil {
		return nil, fmt.Errorf("could not price %s: %w", pair, err)
	}
	if !price.IsPositive() {
		return nil, fmt.Errorf("non-positive price for %s", pair)
	}

	baseSize := rules.RoundSize(quoteSize.Div(price))
	if baseSize.LessThan(rules.MinOrderSize) {
		return nil, fmt.Errorf("%w: %s < %s on %s",
			ErrBelowMinimum, baseSize.String(), rules.MinOrderSize.String(), pair)
	}

	plan := &orderPlan{
		pair:        pair,
		side:        side,
		orderType:   exchange.OrderTypeMarket,
		baseSize:    baseSize,
		marketPrice: price,
	}

	if cfg != nil && cfg.UsesLimitOrders() {
		offset := price.Mul(cfg.LimitOffsetPct)
		limit := price.Sub(offset)
		if side == exchange.OrderSideSell {
			limit = price.Add(offset)
		}
		plan.orderType = exchange.OrderTypeLimit
		plan.limitPrice = rules.RoundPrice(limit)
		plan.timeInForce = cfg.TimeInForce
		plan.gtdSeconds = cfg.GTDSeconds
	}
	return plan, nil
}

// submit places the planned order, or fabricates an immediately-filled
// result in dry-run mode.
func (x *Executor) submit(ctx context.Context, plan *orderPlan) (*exchange.OrderResult, error) {
	if x.dryRun {
		return &exchange.OrderResult{
			OrderID:       "dry-" + uuid.NewString(),
			Status:        exchange.StatusFilled,
			ExecutedSize:  plan.baseSize,
			ExecutedValue: plan.baseSize.Mul(plan.marketPrice),
			TransactTime:  x.now().UnixMilli(),
		}, nil
	}

	if plan.orderType == exchange.OrderTypeLimit {
		return x.client.CreateLimitOrder(ctx, plan.pair, plan.side, plan.limitPrice, plan.baseSize, plan.timeInForce)
	}
	return x.client.CreateMarketOrder(ctx, plan.pair, plan.side, plan.baseSize)
}

// fetchFill polls the exchange for authoritative fill details of a market
// order. Dry-run orders reconcile against their own simulated result.
func (x *Executor) fetchFill(ctx context.Context, pair string, result *exchange.OrderResult) (*exchange.FillDetails, error) {
	if x.dryRun {
		avg := decimal.Zero
		if result.ExecutedSize.IsPositive() {
			avg = result.ExecutedValue.Div(result.ExecutedSize)
		}
		return &exchange.FillDetails{
			OrderID:      result.OrderID,
			Status:       exchange.StatusFilled,
			FilledSize:   result.ExecutedSize,
			FilledValue:  result.ExecutedValue,
			AveragePrice: avg,
		}, nil
	}
	return x.client.GetOrder(ctx, pair, result.OrderID)
}

// deferToPolling records a pending order so a later reconciliation pass can
// settle it. Good-til-date orders carry their expiry.
func (x *Executor) deferToPolling(tx *gorm.DB, bot *models.Bot, position *models.Position, plan *orderPlan, result *exchange.OrderResult, purpose string) error {
	pending := models.PendingOrder{
		BotID:       bot.ID,
		PositionID:  position.ID,
		OrderID:     result.OrderID,
		Pair:        plan.pair,
		Side:        plan.side,
		Purpose:     purpose,
		Size:        plan.baseSize,
		Price:       plan.limitPrice,
		TimeInForce: plan.timeInForce,
	}
	if plan.timeInForce == models.TIFGoodTilDate && plan.gtdSeconds > 0 {
		expires := x.now().Add(time.Duration(plan.gtdSeconds) * time.Second)
		pending.ExpiresAt = &expires
	}
	if err := tx.Create(&pending).Error; err != nil {
		return fmt.Errorf("failed to persist pending order: %w", err)
	}

	posID := position.ID
	return x.recordAttempt(tx, bot, &posID, plan.pair, plan.side, plan.orderType,
		purpose, plan.baseSize, models.OrderAttemptPending, "", result.OrderID)
}

// fillType maps an order purpose onto the notification fill type.
func fillType(purpose string) string {
	switch purpose {
	case models.OrderPurposeSafety:
		return notifier.FillTypeSafety
	case models.OrderPurposeExit:
		return notifier.FillTypeExit
	default:
		return notifier.FillTypeBase
	}
}
