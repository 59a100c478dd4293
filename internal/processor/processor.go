package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"dca-trade-bot-go/internal/exchange"
	"dca-trade-bot-go/internal/execution"
	"dca-trade-bot-go/internal/ledger"
	"dca-trade-bot-go/internal/marketdata"
	"dca-trade-bot-go/internal/models"
	"dca-trade-bot-go/internal/shutdown"
	"dca-trade-bot-go/internal/sizing"
	"dca-trade-bot-go/internal/strategy"
)

// candleLookback is how many bars the indicator snapshot needs.
const candleLookback = 64

// Processor evaluates one bot against one trading pair per scheduling pass:
// market data from the cache, strategy evaluation, capital check, then
// dispatch to the execution state machine. All database writes for one pass
// are staged on a single transaction and committed together at the end.
type Processor struct {
	db       *gorm.DB
	cache    *marketdata.Cache
	ledger   *ledger.Ledger
	executor *execution.Executor
	logger   *zap.Logger
}

// NewProcessor creates a pair/bot processor.
func NewProcessor(db *gorm.DB, cache *marketdata.Cache, l *ledger.Ledger, executor *execution.Executor, logger *zap.Logger) *Processor {
	return &Processor{
		db:       db,
		cache:    cache,
		ledger:   l,
		executor: executor,
		logger:   logger,
	}
}

// ProcessPair runs one scheduling pass for a (bot, pair) combination.
// pairCount is how many pairs share this bot's budget in the same pass.
// Declining to trade is a normal outcome, not an error.
func (p *Processor) ProcessPair(ctx context.Context, bot *models.Bot, pair string, pairCount int) (strategy.Decision, error) {
	l := p.logger.With(zap.Uint("bot_id", bot.ID), zap.String("pair", pair))

	var decision strategy.Decision
	events := &execution.Events{}
	err := p.db.Transaction(func(tx *gorm.DB) error {
		var err error
		decision, err = p.processPairTx(ctx, tx, bot, pair, pairCount, events)
		return err
	})
	if err != nil {
		return strategy.Decision{}, err
	}
	// Only fills that actually committed are announced.
	p.executor.PublishEvents(events)

	switch decision.Action {
	case strategy.ActionEnter:
		l.Info("Pass complete: entered", zap.String("size", decision.Size.String()))
	case strategy.ActionDecline:
		l.Info("Pass complete: declined", zap.String("reason", decision.Reason))
	default:
		l.Debug("Pass complete: holding", zap.String("reason", decision.Reason))
	}
	return decision, nil
}

func (p *Processor) processPairTx(ctx context.Context, tx *gorm.DB, bot *models.Bot, pair string, pairCount int, events *execution.Events) (strategy.Decision, error) {
	position, err := p.openPosition(tx, bot.ID, pair)
	if err != nil {
		return strategy.Decision{}, err
	}

	// An in-flight limit close is awaiting the reconciliation pass; nothing
	// to decide here.
	if position != nil && position.ClosingViaLimit {
		return strategy.Hold("close order pending reconciliation"), nil
	}

	cfg, err := p.effectiveConfig(bot, position)
	if err != nil {
		return strategy.Decision{}, err
	}

	if position == nil {
		return p.considerEntry(ctx, tx, bot, pair, cfg, pairCount, events)
	}
	return p.managePosition(ctx, tx, bot, position, cfg, events)
}

// effectiveConfig returns the strategy config governing this pass. An
// existing position is ruled by its frozen snapshot and the strategy type
// the snapshot was written under, so later bot edits never reshape it.
func (p *Processor) effectiveConfig(bot *models.Bot, position *models.Position) (*strategy.DCAConfig, error) {
	raw := bot.StrategyConfig
	strategyType := bot.StrategyType
	if position != nil {
		if position.ConfigSnapshot != "" {
			raw = position.ConfigSnapshot
		}
		if position.StrategyType != "" {
			strategyType = position.StrategyType
		}
	}
	cfg, err := strategy.ParseConfig(strategyType, raw)
	if err != nil {
		return nil, fmt.Errorf("bot %d has invalid strategy config: %w", bot.ID, err)
	}
	return cfg, nil
}

func (p *Processor) openPosition(tx *gorm.DB, botID uint, pair string) (*models.Position, error) {
	var position models.Position
	err := tx.Where("bot_id = ? AND pair = ? AND status = ?", botID, pair, models.PositionOpen).
		First(&position).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not load open position: %w", err)
	}
	return &position, nil
}

// entryDirection resolves which side the bot would enter on this snapshot.
// Long bots check the condition as written, short bots check its mirror,
// and bidirectional bots check both sides, long first.
func entryDirection(strategyType string, cfg *strategy.DCAConfig, snap *strategy.Snapshot) (string, bool) {
	switch strategyType {
	case strategy.TypeDCAShort:
		return models.DirectionShort, strategy.Met(strategy.MirrorCondition(cfg.EntryCondition), snap)
	case strategy.TypeDCABidirectional:
		if strategy.Met(cfg.EntryCondition, snap) {
			return models.DirectionLong, true
		}
		if strategy.Met(strategy.MirrorCondition(cfg.EntryCondition), snap) {
			return models.DirectionShort, true
		}
		return "", false
	default:
		return models.DirectionLong, strategy.Met(cfg.EntryCondition, snap)
	}
}

// considerEntry checks the entry trigger and pooled capital, then hands off
// to the executor for the base order.
func (p *Processor) considerEntry(ctx context.Context, tx *gorm.DB, bot *models.Bot, pair string, cfg *strategy.DCAConfig, pairCount int, events *execution.Events) (strategy.Decision, error) {
	candles, err := p.cache.Candles(ctx, pair, cfg.CandleInterval, candleLookback)
	if err != nil {
		return strategy.Decision{}, err
	}
	snap, err := strategy.ComputeSnapshot(candles)
	if err != nil {
		return strategy.Decision{}, err
	}

	direction, triggered := entryDirection(bot.StrategyType, cfg, snap)
	if !triggered {
		return strategy.Hold("entry condition not met"), nil
	}

	_, quote, err := exchange.SplitPair(pair)
	if err != nil {
		return strategy.Decision{}, err
	}

	available, err := p.ledger.AvailableBalance(ctx, quote, bot.ID)
	if err != nil {
		// Mispricing risk: abstain from trading rather than guessing.
		return strategy.Decision{}, fmt.Errorf("capital check failed: %w", err)
	}

	budget := p.budgetFor(bot, quote, available, pairCount)
	if !budget.IsPositive() {
		return strategy.Decline("insufficient pooled capital"), nil
	}

	size, err := sizing.BaseOrderSize(cfg.SizingConfig(), budget)
	if err != nil {
		return strategy.Decision{}, fmt.Errorf("could not size base order: %w", err)
	}
	if size.GreaterThan(available) {
		return strategy.Decline("base order exceeds available balance"), nil
	}

	_, err = p.executor.OpenPosition(ctx, tx, bot, pair, cfg, direction, size, events)
	switch {
	case errors.Is(err, shutdown.ErrShuttingDown):
		return strategy.Decline("shutdown in progress"), nil
	case errors.Is(err, execution.ErrBelowMinimum):
		return strategy.Decline("sized below exchange minimum"), nil
	case err != nil:
		return strategy.Decision{}, err
	}
	return strategy.Enter(size), nil
}

// budgetFor bounds the pooled availability by the bot's own budget policy:
// either a fraction of what the pool currently holds or the bot's absolute
// reservation in this pair's quote currency. Bots that split their budget
// divide the result evenly across the pairs traded this pass.
func (p *Processor) budgetFor(bot *models.Bot, quote string, available decimal.Decimal, pairCount int) decimal.Decimal {
	budget := available
	if bot.BudgetMode == models.BudgetModePercentage && bot.BudgetPct.IsPositive() {
		budget = available.Mul(bot.BudgetPct)
	} else if reserved := bot.ReservationFor(quote); reserved.IsPositive() && reserved.LessThan(budget) {
		budget = reserved
	}
	if bot.SplitBudget && pairCount > 1 {
		budget = budget.Div(decimal.NewFromInt(int64(pairCount)))
	}
	return budget
}

// managePosition evaluates safety-order and exit conditions for an open
// position.
func (p *Processor) managePosition(ctx context.Context, tx *gorm.DB, bot *models.Bot, position *models.Position, cfg *strategy.DCAConfig, events *execution.Events) (strategy.Decision, error) {
	price, err := p.cache.Price(ctx, position.Pair)
	if err != nil {
		return strategy.Decision{}, err
	}
	avgEntry := position.EntryAvgPrice()
	if !avgEntry.IsPositive() {
		// Base order hasn't reconciled yet (limit entry still pending).
		return strategy.Hold("awaiting base order fill"), nil
	}

	if position.CloseRequested {
		if err := p.executor.ClosePosition(ctx, tx, bot, position, cfg, models.CloseReasonManual, events); err != nil {
			return p.declineOnShutdown(err)
		}
		return strategy.Hold("manual close executed"), nil
	}

	if reason, hit := exitTriggered(position.Direction, cfg, avgEntry, price); hit {
		if err := p.executor.ClosePosition(ctx, tx, bot, position, cfg, reason, events); err != nil {
			return p.declineOnShutdown(err)
		}
		return strategy.Hold("exit executed: " + reason), nil
	}

	if ok, orderNo := safetyTriggered(position, cfg, avgEntry, price); ok {
		size, err := p.safetyBudget(ctx, tx, bot, position, cfg, orderNo)
		if err != nil {
			return strategy.Decision{}, err
		}
		if !size.IsPositive() {
			return strategy.Decline("insufficient capital for safety order"), nil
		}
		if err := p.executor.PlaceSafetyOrder(ctx, tx, bot, position, cfg, size, events); err != nil {
			return p.declineOnShutdown(err)
		}
		return strategy.Hold(fmt.Sprintf("safety order %d placed", orderNo)), nil
	}

	return strategy.Hold("no trigger"), nil
}

func (p *Processor) declineOnShutdown(err error) (strategy.Decision, error) {
	if errors.Is(err, shutdown.ErrShuttingDown) {
		return strategy.Decline("shutdown in progress"), nil
	}
	return strategy.Decision{}, err
}

// safetyBudget sizes the next safety order and bounds it by pooled capital.
func (p *Processor) safetyBudget(ctx context.Context, tx *gorm.DB, bot *models.Bot, position *models.Position, cfg *strategy.DCAConfig, orderNo int) (decimal.Decimal, error) {
	_, quote, err := exchange.SplitPair(position.Pair)
	if err != nil {
		return decimal.Zero, err
	}
	available, err := p.ledger.AvailableBalance(ctx, quote, bot.ID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("capital check failed: %w", err)
	}

	// The ladder is anchored to the base order's quote amount.
	baseQuote := position.QuoteSpent
	if position.Direction == models.DirectionShort {
		baseQuote = position.QuoteReceived
	}
	if position.SafetyOrdersFilled > 0 {
		// Derive the original base amount from the first fill rather than
		// the drifting cumulative total.
		var first models.TradeFill
		err := tx.Where("position_id = ?", position.ID).Order("id asc").First(&first).Error
		if err == nil {
			baseQuote = first.QuoteAmount
		}
	}

	size, err := sizing.SafetyOrderSize(cfg.SizingConfig(), baseQuote, orderNo)
	if err != nil {
		return decimal.Zero, err
	}
	if size.GreaterThan(available) {
		return decimal.Zero, nil
	}
	return size, nil
}

// exitTriggered checks take-profit and stop-loss levels against the current
// price. For shorts the comparisons invert.
func exitTriggered(direction string, cfg *strategy.DCAConfig, avgEntry, price decimal.Decimal) (string, bool) {
	one := decimal.NewFromInt(1)
	if direction == models.DirectionShort {
		tp := avgEntry.Mul(one.Sub(cfg.TakeProfitPct))
		if price.LessThanOrEqual(tp) {
			return models.CloseReasonTakeProfit, true
		}
		if cfg.StopLossPct.IsPositive() {
			sl := avgEntry.Mul(one.Add(cfg.StopLossPct))
			if price.GreaterThanOrEqual(sl) {
				return models.CloseReasonStopLoss, true
			}
		}
		return "", false
	}

	tp := avgEntry.Mul(one.Add(cfg.TakeProfitPct))
	if price.GreaterThanOrEqual(tp) {
		return models.CloseReasonTakeProfit, true
	}
	if cfg.StopLossPct.IsPositive() {
		sl := avgEntry.Mul(one.Sub(cfg.StopLossPct))
		if price.LessThanOrEqual(sl) {
			return models.CloseReasonStopLoss, true
		}
	}
	return "", false
}

// safetyTriggered reports whether the adverse move from the entry average
// warrants the next safety order, and which one.
func safetyTriggered(position *models.Position, cfg *strategy.DCAConfig, avgEntry, price decimal.Decimal) (bool, int) {
	next := position.SafetyOrdersFilled + 1
	if next > cfg.SafetyOrderCount {
		return false, 0
	}

	// Each safety order requires one further deviation step from the entry
	// average.
	step := cfg.PriceDeviationPct.Mul(decimal.NewFromInt(int64(next)))
	one := decimal.NewFromInt(1)
	if position.Direction == models.DirectionShort {
		trigger := avgEntry.Mul(one.Add(step))
		return price.GreaterThanOrEqual(trigger), next
	}
	trigger := avgEntry.Mul(one.Sub(step))
	return price.LessThanOrEqual(trigger), next
}
