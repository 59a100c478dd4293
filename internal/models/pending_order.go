package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Time-in-force values for limit orders.
const (
	TIFGoodTilCancelled = "GTC"
	TIFGoodTilDate      = "GTD"
)

// PendingOrder is a limit order awaiting reconciliation on a later polling
// pass. It is deleted once the order reaches a terminal status.
type PendingOrder struct {
	gorm.Model
	BotID      uint `gorm:"index;not null"`
	PositionID uint `gorm:"index;not null"`

	OrderID string `gorm:"uniqueIndex;not null"`
	Pair    string `gorm:"not null"`
	Side    string `gorm:"not null"`
	Purpose string

	Size  decimal.Decimal `gorm:"type:decimal(32,16)"`
	Price decimal.Decimal `gorm:"type:decimal(32,16)"`

	// FilledSoFar tracks how much of the order has already been applied to
	// the position, so partial fills are recorded exactly once.
	FilledSoFar decimal.Decimal `gorm:"type:decimal(32,16)"`

	TimeInForce string `gorm:"default:GTC"`
	ExpiresAt   *time.Time
}

// Expired reports whether a good-til-date order has passed its expiry.
func (p *PendingOrder) Expired(now time.Time) bool {
	return p.TimeInForce == TIFGoodTilDate && p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}
