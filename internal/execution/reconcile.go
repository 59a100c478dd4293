package execution

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/models"
	"dca-trade-bot-go/internal/notifier"
)

// applyFill folds authoritative fill details into the position: cumulative
// totals, a trade row, an audit row, counters and the fill notification.
// Average prices are recomputed from the full trade history every time, not
// incrementally, so they cannot drift.
func (x *Executor) applyFill(ctx context.Context, tx *gorm.DB, bot *models.Bot, position *models.Position, plan *orderPlan, fill *exchange.FillDetails, purpose string, events *Events) error {
	if fill.Status == exchange.StatusFailed || fill.Status == exchange.StatusCancelled {
		return x.applyTerminalFailure(tx, bot, position, plan, fill, purpose)
	}
	if !fill.FilledSize.IsPositive() {
		// Unknown or pending with nothing executed: never assume either
		// fully filled or fully failed. The caller keeps the order pending.
		return fmt.Errorf("order %s has no executed quantity yet (status %s)", fill.OrderID, fill.Status)
	}

	now := x.now()
	trade := models.TradeFill{
		PositionID:   position.ID,
		Side:         plan.side,
		BaseAmount:   fill.FilledSize,
		QuoteAmount:  fill.FilledValue,
		Price:        fill.AveragePrice,
		Fee:          fill.Fee,
		OrderID:      fill.OrderID,
		IsSimulation: x.dryRun,
		Timestamp:    now.Unix(),
	}
	if err := tx.Create(&trade).Error; err != nil {
		return fmt.Errorf("failed to append trade fill: %w", err)
	}

	if plan.side == exchange.OrderSideBuy {
		position.BaseAcquired = position.BaseAcquired.Add(fill.FilledSize)
		position.QuoteSpent = position.QuoteSpent.Add(fill.FilledValue)
	} else {
		position.BaseSold = position.BaseSold.Add(fill.FilledSize)
		position.QuoteReceived = position.QuoteReceived.Add(fill.FilledValue)
	}

	if err := x.recomputeAverages(tx, position); err != nil {
		return err
	}

	status := models.OrderAttemptFilled
	if fill.Status == exchange.StatusPartiallyFilled {
		status = models.OrderAttemptPartiallyFilled
	}
	posID := position.ID
	if err := x.recordAttempt(tx, bot, &posID, plan.pair, plan.side, plan.orderType,
		purpose, plan.baseSize, status, "", fill.OrderID); err != nil {
		return err
	}

	// The deal number exists only once a base order has actually filled.
	if purpose == models.OrderPurposeBase && position.DealNumber == nil {
		deal, err := nextDealNumber(tx, bot.UserID)
		if err != nil {
			return err
		}
		position.DealNumber = &deal
	}

	position.ClearError()
	if err := tx.Save(position).Error; err != nil {
		return fmt.Errorf("failed to update position totals: %w", err)
	}

	if purpose == models.OrderPurposeExit {
		x.publishExit(position, fill, now, events)
	} else {
		events.add(notifier.FillEvent{
			FillType:    fillType(purpose),
			Pair:        position.Pair,
			BaseAmount:  fill.FilledSize,
			QuoteAmount: fill.FilledValue,
			Price:       fill.AveragePrice,
			PositionID:  position.ID,
			UserID:      position.UserID,
			Timestamp:   now,
		})
	}
	return nil
}

// applyTerminalFailure settles an order the exchange reports as failed or
// cancelled. A failed base order with no prior fills fails the whole
// position; later orders leave it open.
func (x *Executor) applyTerminalFailure(tx *gorm.DB, bot *models.Bot, position *models.Position, plan *orderPlan, fill *exchange.FillDetails, purpose string) error {
	msg := fmt.Sprintf("order %s ended %s", fill.OrderID, fill.Status)
	posID := position.ID
	if err := x.recordAttempt(tx, bot, &posID, plan.pair, plan.side, plan.orderType,
		purpose, plan.baseSize, models.OrderAttemptFailed, msg, fill.OrderID); err != nil {
		return err
	}

	if purpose == models.OrderPurposeBase && position.BaseAcquired.IsZero() && position.BaseSold.IsZero() {
		position.Status = models.PositionFailed
	}
	if purpose == models.OrderPurposeExit {
		position.ClosingViaLimit = false
		position.CloseOrderID = ""
		position.CloseReason = ""
	}
	position.SetError(msg, x.now())
	if err := tx.Save(position).Error; err != nil {
		return fmt.Errorf("failed to record order failure: %w", err)
	}
	return nil
}

// recomputeAverages rebuilds both average prices from the position's entire
// fill history.
func (x *Executor) recomputeAverages(tx *gorm.DB, position *models.Position) error {
	var fills []models.TradeFill
	if err := tx.Where("position_id = ?", position.ID).Find(&fills).Error; err != nil {
		return fmt.Errorf("failed to load fill history: %w", err)
	}

	buyBase, buyQuote := decimal.Zero, decimal.Zero
	sellBase, sellQuote := decimal.Zero, decimal.Zero
	for _, f := range fills {
		if f.Side == exchange.OrderSideBuy {
			buyBase = buyBase.Add(f.BaseAmount)
			buyQuote = buyQuote.Add(f.QuoteAmount)
		} else {
			sellBase = sellBase.Add(f.BaseAmount)
			sellQuote = sellQuote.Add(f.QuoteAmount)
		}
	}

	if buyBase.IsPositive() {
		position.AvgBuyPrice = buyQuote.Div(buyBase)
	}
	if sellBase.IsPositive() {
		position.AvgSellPrice = sellQuote.Div(sellBase)
	}
	return nil
}

// ReconcilePending is the polling pass over deferred limit orders: it
// settles fills, applies partial fills exactly once, cancels expired
// good-til-date orders and finalizes limit closes.
func (x *Executor) ReconcilePending(ctx context.Context, db *gorm.DB) {
	var pendings []models.PendingOrder
	if err := db.Find(&pendings).Error; err != nil {
		x.logger.Error("Failed to load pending orders", zap.Error(err))
		return
	}

	for i := range pendings {
		pending := &pendings[i]
		if err := x.reconcileOne(ctx, db, pending); err != nil {
			x.logger.Warn("Pending order reconciliation failed",
				zap.String("order_id", pending.OrderID),
				zap.Error(err),
			)
		}
	}
}

func (x *Executor) reconcileOne(ctx context.Context, db *gorm.DB, pending *models.PendingOrder) error {
	if err := x.coordinator.BeginOperation(); err != nil {
		return err
	}
	defer x.coordinator.EndOperation()

	if pending.Expired(x.now()) {
		if err := x.client.CancelOrder(ctx, pending.Pair, pending.OrderID); err != nil {
			return fmt.Errorf("failed to cancel expired order: %w", err)
		}
	}

	fill, err := x.client.GetOrder(ctx, pending.Pair, pending.OrderID)
	if err != nil {
		return err
	}

	// Only the portion not yet applied counts this round.
	delta := fill.FilledSize.Sub(pending.FilledSoFar)
	if !fill.Status.Terminal() && !delta.IsPositive() {
		return nil // still working, nothing new
	}

	events := &Events{}
	err = db.Transaction(func(tx *gorm.DB) error {
		var position models.Position
		if err := tx.First(&position, pending.PositionID).Error; err != nil {
			return fmt.Errorf("failed to load position %d: %w", pending.PositionID, err)
		}
		var bot models.Bot
		if err := tx.First(&bot, pending.BotID).Error; err != nil {
			return fmt.Errorf("failed to load bot %d: %w", pending.BotID, err)
		}

		plan := &orderPlan{
			pair:      pending.Pair,
			side:      pending.Side,
			orderType: exchange.OrderTypeLimit,
			baseSize:  pending.Size,
		}

		if delta.IsPositive() {
			deltaValue := fill.FilledValue
			if pending.FilledSoFar.IsPositive() && fill.AveragePrice.IsPositive() {
				deltaValue = delta.Mul(fill.AveragePrice)
			}
			partial := &exchange.FillDetails{
				OrderID:      fill.OrderID,
				Status:       fill.Status,
				FilledSize:   delta,
				FilledValue:  deltaValue,
				AveragePrice: fill.AveragePrice,
				Fee:          fill.Fee,
			}
			if err := x.applyFill(ctx, tx, &bot, &position, plan, partial, pending.Purpose, events); err != nil {
				return err
			}
			pending.FilledSoFar = fill.FilledSize
			if err := tx.Save(pending).Error; err != nil {
				return fmt.Errorf("failed to update pending order progress: %w", err)
			}
		}

		if !fill.Status.Terminal() {
			return nil
		}

		if fill.Status == exchange.StatusCancelled || fill.Status == exchange.StatusFailed {
			if !pending.FilledSoFar.IsPositive() {
				if err := x.applyTerminalFailure(tx, &bot, &position, plan, fill, pending.Purpose); err != nil {
					return err
				}
			}
		}

		// A safety order consumes its ladder rung exactly once, when the
		// order settles, regardless of how many partial fills it took.
		if pending.Purpose == models.OrderPurposeSafety && pending.FilledSoFar.IsPositive() {
			position.SafetyOrdersFilled++
			if err := tx.Save(&position).Error; err != nil {
				return fmt.Errorf("failed to count safety order: %w", err)
			}
		}

		if pending.Purpose == models.OrderPurposeExit && fill.Status == exchange.StatusFilled {
			l := x.logger.With(zap.Uint("position_id", position.ID))
			if err := x.finalizeClose(ctx, tx, &position, l); err != nil {
				return err
			}
		}

		if err := tx.Delete(pending).Error; err != nil {
			return fmt.Errorf("failed to remove settled pending order: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	x.PublishEvents(events)
	return nil
}
