package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dca-trade-bot-go/internal/config"
)

func newTestClient(serverURL string) *RestClient {
	cfg := &config.Exchange{
		ApiKey:         "test-key",
		SecretKey:      "test-secret",
		BaseURL:        serverURL,
		RateLimit:      100,
		RateLimitBurst: 10,
	}
	return NewRestClient(cfg, zap.NewNop())
}

func TestGetCurrentPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSD", r.URL.Query().Get("symbol"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"symbol":"BTCUSD","price":"50000.5"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	price, err := client.GetCurrentPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("50000.5").Equal(price))
}

func TestGetBalanceIsSigned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		assert.NotEmpty(t, r.URL.Query().Get("timestamp"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"currency":"USD","available":"1234.56","locked":"0"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	balance, err := client.GetBalance(context.Background(), "USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1234.56").Equal(balance))
}

func TestDoRequestRetriesOnRateLimit(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"symbol":"BTCUSD","price":"100"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	price, err := client.GetCurrentPrice(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(price))
	assert.Equal(t, 2, calls)
}

func TestDoRequestDoesNotRetryClientErrors(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1100,"msg":"Illegal characters"}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetCurrentPrice(context.Background(), "BTC/USD")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGetOrderComputesAveragePrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/order", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"orderId": "42",
			"status": "FILLED",
			"executedQty": "2",
			"cummulativeQuoteQty": "200",
			"fee": "0.2",
			"feeCurrency": "USD"
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	fill, err := client.GetOrder(context.Background(), "BTC/USD", "42")
	require.NoError(t, err)
	assert.Equal(t, StatusFilled, fill.Status)
	assert.True(t, decimal.NewFromInt(2).Equal(fill.FilledSize))
	assert.True(t, decimal.NewFromInt(100).Equal(fill.AveragePrice))
	assert.Equal(t, "USD", fill.FeeCurrency)
}

func TestGetOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.GetOrder(context.Background(), "BTC/USD", "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestPairRulesCached(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"symbols": [
				{"symbol": "BTCUSD", "minOrderSize": "0.0001", "sizePrecision": 5, "pricePrecision": 2},
				{"symbol": "ETHUSD", "minOrderSize": "0.001", "sizePrecision": 4, "pricePrecision": 2}
			]
		}`)
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	rules, err := client.PairRules(context.Background(), "BTC/USD")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.0001").Equal(rules.MinOrderSize))
	assert.EqualValues(t, 5, rules.SizePrecision)

	// The whole rule set was cached; the second pair costs no request.
	_, err = client.PairRules(context.Background(), "ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = client.PairRules(context.Background(), "DOGE/USD")
	assert.Error(t, err)
}

func TestNormalizeStatus(t *testing.T) {
	testCases := []struct {
		raw      string
		expected OrderStatus
	}{
		{"NEW", StatusPending},
		{"FILLED", StatusFilled},
		{"PARTIALLY_FILLED", StatusPartiallyFilled},
		{"CANCELED", StatusCancelled},
		{"EXPIRED", StatusCancelled},
		{"REJECTED", StatusFailed},
		{"SOMETHING_ELSE", StatusPending},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, normalizeStatus(tc.raw), "status %s", tc.raw)
	}
}
