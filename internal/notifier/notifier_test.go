package notifier

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestHubScopesEventsToUser(t *testing.T) {
	hub := NewHub(zap.NewNop())

	alice, unsubAlice := hub.Subscribe(1, 4)
	defer unsubAlice()
	bob, unsubBob := hub.Subscribe(2, 4)
	defer unsubBob()

	hub.Publish(FillEvent{FillType: FillTypeBase, UserID: 1, Pair: "BTC/USD"})

	select {
	case event := <-alice:
		assert.Equal(t, "BTC/USD", event.Pair)
	default:
		t.Fatal("expected an event for user 1")
	}

	select {
	case <-bob:
		t.Fatal("user 2 must not receive user 1's events")
	default:
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	hub := NewHub(zap.NewNop())

	events, unsubscribe := hub.Subscribe(1, 1)
	defer unsubscribe()

	hub.Publish(FillEvent{UserID: 1, Price: decimal.NewFromInt(1)})
	hub.Publish(FillEvent{UserID: 1, Price: decimal.NewFromInt(2)}) // dropped, never blocks

	event := <-events
	assert.True(t, decimal.NewFromInt(1).Equal(event.Price))

	select {
	case <-events:
		t.Fatal("second event should have been dropped")
	default:
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(zap.NewNop())

	events, unsubscribe := hub.Subscribe(1, 1)
	unsubscribe()
	unsubscribe() // idempotent

	_, open := <-events
	assert.False(t, open)

	// Publishing after unsubscribe is a no-op.
	hub.Publish(FillEvent{UserID: 1})
}
