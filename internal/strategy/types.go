package strategy

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"dca-trade-bot-go/internal/sizing"
)

// Strategy types. Each type carries its own typed configuration struct; the
// raw JSON on the bot is parsed and validated once at save time, and frozen
// onto positions as a snapshot.
const (
	TypeDCALong          = "dca_long"
	TypeDCAShort         = "dca_short"
	TypeDCABidirectional = "dca_bidirectional"
)

// Comparison operators for trigger conditions.
const (
	OpCrossingAbove = "crossing_above"
	OpCrossingBelow = "crossing_below"
	OpGreaterThan   = "greater_than"
	OpLessThan      = "less_than"
)

var ErrInvalidStrategy = errors.New("invalid strategy config")

// Condition is one indicator trigger: indicator name, comparison operator
// and threshold value.
type Condition struct {
	Indicator string          `json:"indicator"`
	Operator  string          `json:"operator"`
	Threshold decimal.Decimal `json:"threshold"`
}

// DCAConfig is the typed configuration for all DCA strategy variants.
type DCAConfig struct {
	// Base order sizing.
	OrderMode       string          `json:"order_mode"` // "percentage" | "fixed"
	BaseOrderPct    decimal.Decimal `json:"base_order_pct"`
	BaseOrderAmount decimal.Decimal `json:"base_order_amount"`
	AutoFit         bool            `json:"auto_fit"`

	// Safety order ladder.
	SafetyOrderCount int             `json:"safety_order_count"`
	SafetyMode       string          `json:"safety_mode"` // "percent_of_base" | "fixed"
	SafetyOrderPct   decimal.Decimal `json:"safety_order_pct"`
	SafetyOrderSize  decimal.Decimal `json:"safety_order_size"`
	VolumeScale      decimal.Decimal `json:"volume_scale"`

	// PriceDeviationPct is the adverse move, as a fraction of the entry
	// average price, that triggers the next safety order.
	PriceDeviationPct decimal.Decimal `json:"price_deviation_pct"`

	// Exit thresholds as fractions of the average entry price.
	TakeProfitPct decimal.Decimal `json:"take_profit_pct"`
	StopLossPct   decimal.Decimal `json:"stop_loss_pct"` // zero disables the stop

	// Entry trigger, expressed for the long side. Short-side strategies
	// derive their trigger by mirroring.
	EntryCondition Condition `json:"entry_condition"`

	// Limit-order entry/exit. When zero, market orders are used.
	LimitOffsetPct decimal.Decimal `json:"limit_offset_pct"`
	TimeInForce    string          `json:"time_in_force"`
	GTDSeconds     int             `json:"gtd_seconds"`

	CandleInterval string `json:"candle_interval"`
}

// ParseConfig parses and validates a bot's raw strategy configuration.
func ParseConfig(strategyType, raw string) (*DCAConfig, error) {
	switch strategyType {
	case TypeDCALong, TypeDCAShort, TypeDCABidirectional:
	default:
		return nil, fmt.Errorf("%w: unknown strategy type %q", ErrInvalidStrategy, strategyType)
	}

	var cfg DCAConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStrategy, err)
	}

	if cfg.OrderMode != sizing.ModePercentage && cfg.OrderMode != sizing.ModeFixed {
		return nil, fmt.Errorf("%w: unknown order mode %q", ErrInvalidStrategy, cfg.OrderMode)
	}
	if cfg.SafetyOrderCount < 0 {
		return nil, fmt.Errorf("%w: negative safety order count", ErrInvalidStrategy)
	}
	if cfg.SafetyOrderCount > 0 {
		if cfg.SafetyMode != sizing.SafetyModePercentOfBase && cfg.SafetyMode != sizing.SafetyModeFixed {
			return nil, fmt.Errorf("%w: unknown safety mode %q", ErrInvalidStrategy, cfg.SafetyMode)
		}
		if !cfg.PriceDeviationPct.IsPositive() {
			return nil, fmt.Errorf("%w: safety orders require a positive price deviation", ErrInvalidStrategy)
		}
	}
	if !cfg.TakeProfitPct.IsPositive() {
		return nil, fmt.Errorf("%w: take profit must be positive", ErrInvalidStrategy)
	}
	if cfg.StopLossPct.IsNegative() {
		return nil, fmt.Errorf("%w: stop loss must not be negative", ErrInvalidStrategy)
	}
	switch cfg.EntryCondition.Operator {
	case OpCrossingAbove, OpCrossingBelow, OpGreaterThan, OpLessThan:
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidStrategy, cfg.EntryCondition.Operator)
	}
	if cfg.CandleInterval == "" {
		cfg.CandleInterval = "1m"
	}
	if cfg.TimeInForce == "" {
		cfg.TimeInForce = "GTC"
	}

	return &cfg, nil
}

// SizingConfig maps the strategy configuration onto the sizing calculator's
// input.
func (c *DCAConfig) SizingConfig() sizing.Config {
	return sizing.Config{
		Mode:             c.OrderMode,
		BaseOrderPct:     c.BaseOrderPct,
		BaseOrderAmount:  c.BaseOrderAmount,
		AutoFit:          c.AutoFit,
		SafetyOrderCount: c.SafetyOrderCount,
		SafetyMode:       c.SafetyMode,
		SafetyOrderPct:   c.SafetyOrderPct,
		SafetyOrderSize:  c.SafetyOrderSize,
		VolumeScale:      c.VolumeScale,
	}
}

// UsesLimitOrders reports whether entries and exits go out as limit orders.
func (c *DCAConfig) UsesLimitOrders() bool {
	return !c.LimitOffsetPct.IsZero()
}
