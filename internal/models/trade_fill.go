package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// TradeFill is one executed fill belonging to a position. Rows are
// append-only; cumulative position totals are derived from them.
type TradeFill struct {
	gorm.Model
	PositionID uint   `gorm:"index;not null"`
	Side       string `gorm:"not null"` // "BUY" or "SELL"

	BaseAmount  decimal.Decimal `gorm:"type:decimal(32,16)"`
	QuoteAmount decimal.Decimal `gorm:"type:decimal(32,16)"`
	Price       decimal.Decimal `gorm:"type:decimal(32,16)"`
	Fee         decimal.Decimal `gorm:"type:decimal(32,16)"`

	OrderID      string `gorm:"index"`
	IsSimulation bool
	Timestamp    int64
}
