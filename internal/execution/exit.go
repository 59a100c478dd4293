package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/models"
	"dca-trade-bot-go/internal/notifier"
	"dca-trade-bot-go/internal/strategy"
)

// ClosePosition exits an open position: take-profit, stop-loss or manual
// close. Market exits reconcile and finalize immediately; limit exits flag
// the position as closing and finalize once the polling pass sees the fill.
func (x *Executor) ClosePosition(ctx context.Context, tx *gorm.DB, bot *models.Bot, position *models.Position, cfg *strategy.DCAConfig, reason string, events *Events) error {
	if err := x.coordinator.BeginOperation(); err != nil {
		return err
	}
	defer x.coordinator.EndOperation()

	side := exitSide(position.Direction)
	l := x.logger.With(
		zap.Uint("bot_id", bot.ID),
		zap.Uint("position_id", position.ID),
		zap.String("pair", position.Pair),
		zap.String("side", side),
		zap.String("close_reason", reason),
	)

	plan, err := x.planExit(ctx, position, cfg, side)
	if err != nil {
		return x.recordExitFailure(tx, bot, position, side, decimal.Zero, err, l)
	}

	result, err := x.submit(ctx, plan)
	if err != nil {
		return x.recordExitFailure(tx, bot, position, side, plan.baseSize, err, l)
	}

	position.CloseReason = reason

	if plan.orderType == exchange.OrderTypeLimit {
		position.ClosingViaLimit = true
		position.CloseOrderID = result.OrderID
		if err := tx.Save(position).Error; err != nil {
			return fmt.Errorf("failed to flag closing position: %w", err)
		}
		if err := x.deferToPolling(tx, bot, position, plan, result, models.OrderPurposeExit); err != nil {
			return err
		}
		l.Info("Exit limit order submitted, close deferred", zap.String("order_id", result.OrderID))
		return nil
	}

	fill, err := x.fetchFill(ctx, position.Pair, result)
	if err != nil {
		// Order is live but unconfirmed; treat like a limit close and let
		// the polling pass finalize.
		position.ClosingViaLimit = true
		position.CloseOrderID = result.OrderID
		position.SetError(err.Error(), x.now())
		if err := tx.Save(position).Error; err != nil {
			return err
		}
		if err := x.deferToPolling(tx, bot, position, plan, result, models.OrderPurposeExit); err != nil {
			return err
		}
		l.Warn("Exit reconciliation deferred", zap.Error(err))
		return nil
	}

	if err := x.applyFill(ctx, tx, bot, position, plan, fill, models.OrderPurposeExit, events); err != nil {
		return err
	}
	return x.finalizeClose(ctx, tx, position, l)
}

// planExit sizes the closing order from what the position actually holds.
func (x *Executor) planExit(ctx context.Context, position *models.Position, cfg *strategy.DCAConfig, side string) (*orderPlan, error) {
	rules, err := x.client.PairRules(ctx, position.Pair)
	if err != nil {
		return nil, fmt.Errorf("could not get pair rules for %s: %w", position.Pair, err)
	}
	price, err := x.prices.Price(ctx, position.Pair)
	if err != nil {
		return nil, fmt.Errorf("could not price %s: %w", position.Pair, err)
	}

	held := position.HeldBase()
	if position.Direction == models.DirectionShort {
		held = position.ShortExposure()
	}
	baseSize := rules.RoundSize(held)
	if baseSize.LessThan(rules.MinOrderSize) {
		return nil, fmt.Errorf("%w: close size %s < %s on %s",
			ErrBelowMinimum, baseSize.String(), rules.MinOrderSize.String(), position.Pair)
	}

	plan := &orderPlan{
		pair:        position.Pair,
		side:        side,
		orderType:   exchange.OrderTypeMarket,
		baseSize:    baseSize,
		marketPrice: price,
	}
	if cfg != nil && cfg.UsesLimitOrders() {
		offset := price.Mul(cfg.LimitOffsetPct)
		limit := price.Add(offset)
		if side == exchange.OrderSideBuy {
			limit = price.Sub(offset)
		}
		plan.orderType = exchange.OrderTypeLimit
		plan.limitPrice = rules.RoundPrice(limit)
		plan.timeInForce = cfg.TimeInForce
		plan.gtdSeconds = cfg.GTDSeconds
	}
	return plan, nil
}

func (x *Executor) recordExitFailure(tx *gorm.DB, bot *models.Bot, position *models.Position, side string, size decimal.Decimal, cause error, l *zap.Logger) error {
	posID := position.ID
	if err := x.recordAttempt(tx, bot, &posID, position.Pair, side, exchange.OrderTypeMarket,
		models.OrderPurposeExit, size, models.OrderAttemptFailed, cause.Error(), ""); err != nil {
		return err
	}
	position.SetError(cause.Error(), x.now())
	if err := tx.Save(position).Error; err != nil {
		return fmt.Errorf("failed to record exit error: %w", err)
	}
	l.Warn("Exit failed, position stays open for retry", zap.Error(cause))
	return nil
}

// finalizeClose computes realized profit in quote and reference-currency
// terms and marks the position closed. The reference price is snapshotted at
// close time.
func (x *Executor) finalizeClose(ctx context.Context, tx *gorm.DB, position *models.Position, l *zap.Logger) error {
	_, quote, err := exchange.SplitPair(position.Pair)
	if err != nil {
		return err
	}

	profit := position.QuoteReceived.Sub(position.QuoteSpent)
	profitUSD, err := x.usdEquivalent(ctx, profit, quote)
	if err != nil {
		// Profit in quote terms is exact; only the reference conversion is
		// missing. Close anyway and leave the reference figure zero.
		l.Warn("No reference price at close, recording quote profit only", zap.Error(err))
		profitUSD = decimal.Zero
	}

	now := x.now()
	position.Status = models.PositionClosed
	position.ProfitQuote = profit
	position.ProfitUSD = profitUSD
	position.ClosingViaLimit = false
	position.CloseOrderID = ""
	position.ClosedAt = &now
	position.ClearError()
	if err := tx.Save(position).Error; err != nil {
		return fmt.Errorf("failed to close position: %w", err)
	}

	l.Info("Position closed",
		zap.String("profit_quote", profit.String()),
		zap.String("profit_ref", profitUSD.String()),
		zap.String("reason", position.CloseReason),
	)
	return nil
}

// entryQuoteTotal is the quote amount the position put at risk, used as the
// denominator for profit percentage.
func entryQuoteTotal(position *models.Position) decimal.Decimal {
	if position.Direction == models.DirectionShort {
		return position.QuoteReceived
	}
	return position.QuoteSpent
}

// publishExit emits the exit fill event including realized profit.
func (x *Executor) publishExit(position *models.Position, fill *exchange.FillDetails, at time.Time, events *Events) {
	profit := position.QuoteReceived.Sub(position.QuoteSpent)
	event := notifier.FillEvent{
		FillType:    notifier.FillTypeExit,
		Pair:        position.Pair,
		BaseAmount:  fill.FilledSize,
		QuoteAmount: fill.FilledValue,
		Price:       fill.AveragePrice,
		PositionID:  position.ID,
		UserID:      position.UserID,
		Timestamp:   at,
	}
	event.Profit = &profit
	if denom := entryQuoteTotal(position); denom.IsPositive() {
		pct := profit.Div(denom).Mul(decimal.NewFromInt(100))
		event.ProfitPct = &pct
	}
	events.add(event)
}
