package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order attempt outcomes recorded in the history.
const (
	OrderAttemptFilled          = "filled"
	OrderAttemptPartiallyFilled = "partially_filled"
	OrderAttemptPending         = "pending"
	OrderAttemptFailed          = "failed"
)

// Order purposes, i.e. which step of the position lifecycle placed it.
const (
	OrderPurposeBase   = "base"
	OrderPurposeSafety = "safety"
	OrderPurposeExit   = "exit"
)

// OrderHistory is the append-only audit record of every order attempt,
// successful or not. A row exists even when no position does; it is the only
// durable record of a failed base order.
type OrderHistory struct {
	gorm.Model
	UserID     uint  `gorm:"index;not null"`
	BotID      uint  `gorm:"index;not null"`
	PositionID *uint `gorm:"index"`

	Pair      string `gorm:"not null"`
	Side      string `gorm:"not null"`
	OrderType string // "MARKET" or "LIMIT"
	Purpose   string

	RequestedSize decimal.Decimal `gorm:"type:decimal(32,16)"`
	Status        string          `gorm:"index;not null"`
	ErrorMessage  string
	OrderID       string
}
