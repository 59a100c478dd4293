package notifier

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Fill types carried on events.
const (
	FillTypeBase   = "base_order"
	FillTypeSafety = "safety_order"
	FillTypeExit   = "exit"
)

// FillEvent is emitted on every fill, scoped to the owning user, for
// delivery to external real-time subscribers.
type FillEvent struct {
	FillType    string           `json:"fill_type"`
	Pair        string           `json:"pair"`
	BaseAmount  decimal.Decimal  `json:"base_amount"`
	QuoteAmount decimal.Decimal  `json:"quote_amount"`
	Price       decimal.Decimal  `json:"price"`
	PositionID  uint             `json:"position_id"`
	UserID      uint             `json:"user_id"`
	Profit      *decimal.Decimal `json:"profit,omitempty"`
	ProfitPct   *decimal.Decimal `json:"profit_pct,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Hub fans fill events out to per-user subscribers. Publishing never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// execution path.
type Hub struct {
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[uint]map[chan FillEvent]struct{}
}

// NewHub creates a notification hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[uint]map[chan FillEvent]struct{}),
	}
}

// Subscribe registers a buffered channel for one user's fill events. The
// returned function unsubscribes and closes the channel.
func (h *Hub) Subscribe(userID uint, buffer int) (<-chan FillEvent, func()) {
	ch := make(chan FillEvent, buffer)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan FillEvent]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers an event to every subscriber of the owning user.
func (h *Hub) Publish(event FillEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.UserID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("Dropping fill event for slow subscriber",
				zap.Uint("user_id", event.UserID),
				zap.Uint("position_id", event.PositionID),
			)
		}
	}
}
