package sizing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Base order sizing modes.
const (
	ModePercentage = "percentage" // base order is a percentage of the budget
	ModeFixed      = "fixed"      // base order is a fixed quote amount
)

// Safety order sizing modes.
const (
	SafetyModePercentOfBase = "percent_of_base"
	SafetyModeFixed         = "fixed"
)

var (
	ErrInvalidConfig = errors.New("invalid sizing config")
	ErrZeroBudget    = errors.New("budget must be positive")
)

// Config is the order-sizing slice of a strategy configuration. All pure
// math, no I/O; callers round the results to pair precision before
// submission.
type Config struct {
	Mode            string
	BaseOrderPct    decimal.Decimal // used in percentage mode, 0.1 = 10%
	BaseOrderAmount decimal.Decimal // used in fixed mode

	AutoFit          bool
	SafetyOrderCount int
	SafetyMode       string
	SafetyOrderPct   decimal.Decimal // percent of the base order, 0.5 = 50%
	SafetyOrderSize  decimal.Decimal // fixed quote amount
	VolumeScale      decimal.Decimal // multiplier applied per safety order
}

func (c Config) validate() error {
	if c.SafetyOrderCount < 0 {
		return fmt.Errorf("%w: negative safety order count", ErrInvalidConfig)
	}
	if c.AutoFit && c.VolumeScale.IsNegative() {
		return fmt.Errorf("%w: negative volume scale", ErrInvalidConfig)
	}
	return nil
}

// BaseOrderSize computes the quote amount of the base order for the given
// budget.
//
// In percentage mode it is simply budget x pct. With auto-fit enabled the
// full safety-order ladder is treated as a known series and the base size is
// back-solved so that base + all safety orders exactly consume the budget.
func BaseOrderSize(cfg Config, budget decimal.Decimal) (decimal.Decimal, error) {
	if err := cfg.validate(); err != nil {
		return decimal.Zero, err
	}
	if !budget.IsPositive() {
		return decimal.Zero, ErrZeroBudget
	}

	if cfg.AutoFit {
		divisor, err := ladderDivisor(cfg)
		if err != nil {
			return decimal.Zero, err
		}
		return budget.Div(divisor), nil
	}

	switch cfg.Mode {
	case ModePercentage:
		if !cfg.BaseOrderPct.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: non-positive base order percentage", ErrInvalidConfig)
		}
		return budget.Mul(cfg.BaseOrderPct), nil
	case ModeFixed:
		if !cfg.BaseOrderAmount.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: non-positive base order amount", ErrInvalidConfig)
		}
		return cfg.BaseOrderAmount, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, cfg.Mode)
	}
}

// ladderDivisor is the factor the budget is divided by under auto-fit:
// 1 + the sum of every safety order expressed as a multiple of the base.
//
// Percent-of-base safety orders contribute pct x scale^(k-1). Fixed-amount
// safety orders under auto-fit lose their configured amount: the first one is
// forced equal to the base order and scaling begins from there, so each
// contributes scale^(k-1).
func ladderDivisor(cfg Config) (decimal.Decimal, error) {
	divisor := decimal.NewFromInt(1)
	factor := decimal.NewFromInt(1) // scale^(k-1), starts at scale^0

	for k := 1; k <= cfg.SafetyOrderCount; k++ {
		switch cfg.SafetyMode {
		case SafetyModePercentOfBase:
			if cfg.SafetyOrderPct.IsNegative() {
				return decimal.Zero, fmt.Errorf("%w: negative safety order percentage", ErrInvalidConfig)
			}
			divisor = divisor.Add(cfg.SafetyOrderPct.Mul(factor))
		case SafetyModeFixed:
			divisor = divisor.Add(factor)
		default:
			return decimal.Zero, fmt.Errorf("%w: unknown safety mode %q", ErrInvalidConfig, cfg.SafetyMode)
		}
		factor = factor.Mul(cfg.VolumeScale)
	}
	return divisor, nil
}

// SafetyOrderSize computes the quote amount of safety order orderNumber
// (1-based) given the base order size.
func SafetyOrderSize(cfg Config, baseSize decimal.Decimal, orderNumber int) (decimal.Decimal, error) {
	if err := cfg.validate(); err != nil {
		return decimal.Zero, err
	}
	if orderNumber < 1 || orderNumber > cfg.SafetyOrderCount {
		return decimal.Zero, fmt.Errorf("%w: safety order %d out of range 1..%d",
			ErrInvalidConfig, orderNumber, cfg.SafetyOrderCount)
	}

	var first decimal.Decimal
	switch cfg.SafetyMode {
	case SafetyModePercentOfBase:
		first = baseSize.Mul(cfg.SafetyOrderPct)
	case SafetyModeFixed:
		if cfg.AutoFit {
			// Auto-fit overrides the configured fixed amount: the first
			// safety order equals the base order, then scaling applies.
			first = baseSize
		} else {
			first = cfg.SafetyOrderSize
		}
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown safety mode %q", ErrInvalidConfig, cfg.SafetyMode)
	}

	return first.Mul(cfg.VolumeScale.Pow(decimal.NewFromInt(int64(orderNumber - 1)))), nil
}
