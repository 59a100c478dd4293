package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Position directions.
const (
	DirectionLong  = "long"
	DirectionShort = "short"
)

// Position statuses. Closed and failed are terminal.
const (
	PositionOpen   = "open"
	PositionClosed = "closed"
	PositionFailed = "failed"
)

// Close reasons recorded when a position exits.
const (
	CloseReasonTakeProfit = "take_profit"
	CloseReasonStopLoss   = "stop_loss"
	CloseReasonManual     = "manual"
)

// Position is one open-or-closed trade lifecycle for a (bot, pair)
// combination. Cumulative totals are updated on every fill; the average
// prices are always recomputed from the full fill history rather than
// incrementally, so they never drift.
type Position struct {
	gorm.Model
	BotID  uint   `gorm:"index;not null"`
	UserID uint   `gorm:"index;not null"`
	Pair   string `gorm:"not null"`

	Direction string `gorm:"not null"`
	Status    string `gorm:"index;default:open"`

	QuoteSpent    decimal.Decimal `gorm:"type:decimal(32,16)"`
	QuoteReceived decimal.Decimal `gorm:"type:decimal(32,16)"`
	BaseAcquired  decimal.Decimal `gorm:"type:decimal(32,16)"`
	BaseSold      decimal.Decimal `gorm:"type:decimal(32,16)"`
	AvgBuyPrice   decimal.Decimal `gorm:"type:decimal(32,16)"`
	AvgSellPrice  decimal.Decimal `gorm:"type:decimal(32,16)"`

	SafetyOrdersFilled int

	// ConfigSnapshot and StrategyType freeze the bot's strategy at position
	// creation time. Later bot edits never alter an in-flight position, and
	// the snapshot is always interpreted under the type it was written for.
	ConfigSnapshot string `gorm:"type:text"`
	StrategyType   string `gorm:"size:32"`

	// AttemptNumber counts every base-order attempt for the owning user;
	// DealNumber is assigned only once the base order actually fills.
	AttemptNumber int64
	DealNumber    *int64

	LastError   string
	LastErrorAt *time.Time

	ProfitQuote decimal.Decimal `gorm:"type:decimal(32,16)"`
	ProfitUSD   decimal.Decimal `gorm:"type:decimal(32,16)"`
	CloseReason string

	// Limit-order exits keep the position flagged until reconciliation.
	ClosingViaLimit bool
	CloseOrderID    string

	// CloseRequested is set by external configuration surfaces to ask for a
	// manual close on the next scheduling pass.
	CloseRequested bool

	ClosedAt *time.Time
}

// HeldBase returns the base amount currently held by a long position.
func (p *Position) HeldBase() decimal.Decimal {
	return p.BaseAcquired.Sub(p.BaseSold)
}

// ShortExposure returns the base amount a short position still owes.
func (p *Position) ShortExposure() decimal.Decimal {
	return p.BaseSold.Sub(p.BaseAcquired)
}

// EntryAvgPrice returns the average price of the entry side: buys for a long
// position, sells for a short one.
func (p *Position) EntryAvgPrice() decimal.Decimal {
	if p.Direction == DirectionShort {
		return p.AvgSellPrice
	}
	return p.AvgBuyPrice
}

// SetError records a failure on the position without failing it permanently.
func (p *Position) SetError(msg string, at time.Time) {
	p.LastError = msg
	p.LastErrorAt = &at
}

// ClearError resets the last-error fields after a successful fill.
func (p *Position) ClearError() {
	p.LastError = ""
	p.LastErrorAt = nil
}
