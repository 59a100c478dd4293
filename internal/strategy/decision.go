package strategy

import "github.com/shopspring/decimal"

// Decision actions. The absence of a trade is a normal return value, never
// an error.
const (
	ActionEnter   = "enter"
	ActionHold    = "hold"
	ActionDecline = "decline"
)

// Decision is the outcome of evaluating a strategy for one (bot, pair) pass.
type Decision struct {
	Action string
	Size   decimal.Decimal
	Reason string
}

// Enter signals a new position of the given quote size.
func Enter(size decimal.Decimal) Decision {
	return Decision{Action: ActionEnter, Size: size}
}

// Hold signals no action this pass.
func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Reason: reason}
}

// Decline signals that trading was possible but the processor chose not to,
// e.g. insufficient pooled capital.
func Decline(reason string) Decision {
	return Decision{Action: ActionDecline, Reason: reason}
}
