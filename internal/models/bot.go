package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Budget policy modes.
const (
	BudgetModeAbsolute   = "absolute"
	BudgetModePercentage = "percentage"
)

// Bot represents one independently-configured trading bot owned by a user.
// Strategy configuration is stored as raw JSON and validated once at save
// time; the scheduler only ever touches the last-check timestamp.
type Bot struct {
	gorm.Model
	UserID        uint   `gorm:"index;not null"`
	Name          string `gorm:"not null"`
	Enabled       bool   `gorm:"default:true"`
	Bidirectional bool   `gorm:"default:false"`

	StrategyType   string `gorm:"not null"`
	StrategyConfig string `gorm:"type:text"` // JSON, schema owned by internal/strategy

	// Pairs is a comma-separated list of trading pairs, e.g. "BTC/USD,ETH/USD".
	Pairs string `gorm:"not null"`

	// Budget policy: either an absolute reservation or a percentage of the
	// available balance, optionally divided across the bot's pairs.
	BudgetMode  string          `gorm:"default:absolute"`
	BudgetPct   decimal.Decimal `gorm:"type:decimal(32,16)"`
	SplitBudget bool            `gorm:"default:false"`

	// Bidirectional reservations. The long side is denominated in the base
	// currency (e.g. BTC), the short side in the quote currency (e.g. USD).
	// The netted fields record capital the bot's own accounting has already
	// offset between the two sides; the ledger subtracts them.
	LongReserveCurrency  string          `gorm:"size:16"`
	LongReserveAmount    decimal.Decimal `gorm:"type:decimal(32,16)"`
	LongNettedAmount     decimal.Decimal `gorm:"type:decimal(32,16)"`
	ShortReserveCurrency string          `gorm:"size:16"`
	ShortReserveAmount   decimal.Decimal `gorm:"type:decimal(32,16)"`
	ShortNettedAmount    decimal.Decimal `gorm:"type:decimal(32,16)"`

	CheckInterval int `gorm:"default:60"` // seconds between scheduling passes
	LastCheckedAt *time.Time
}

// PairList splits the configured pairs field into individual pairs.
func (b *Bot) PairList() []string {
	if b.Pairs == "" {
		return nil
	}
	parts := strings.Split(b.Pairs, ",")
	pairs := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			pairs = append(pairs, trimmed)
		}
	}
	return pairs
}

// Due reports whether the bot's check interval has elapsed since its last pass.
func (b *Bot) Due(now time.Time) bool {
	if b.LastCheckedAt == nil {
		return true
	}
	return now.Sub(*b.LastCheckedAt) >= time.Duration(b.CheckInterval)*time.Second
}

// ReservationFor returns the bot's configured initial reservation in the given
// currency, minus any long/short netting already expressed on the bot.
// Bots reserve independently for the long and short sides; both contribute if
// they share a currency.
func (b *Bot) ReservationFor(currency string) decimal.Decimal {
	total := decimal.Zero
	if b.LongReserveCurrency == currency {
		total = total.Add(b.LongReserveAmount.Sub(b.LongNettedAmount))
	}
	if b.ShortReserveCurrency == currency {
		total = total.Add(b.ShortReserveAmount.Sub(b.ShortNettedAmount))
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}
