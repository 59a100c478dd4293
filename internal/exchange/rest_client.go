package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dca-trade-bot-go/internal/config"
)

const recvWindow = "5000" // How long a request is valid in milliseconds

// RestClient is a client for a signed spot-exchange REST API.
// It implements the Client interface.
type RestClient struct {
	client    *resty.Client
	apiKey    string
	secretKey string
	logger    *zap.Logger
	limiter   *rate.Limiter

	rulesMu sync.RWMutex
	rules   map[string]PairRules
}

// ensure RestClient implements the interface
var _ Client = (*RestClient)(nil)

// NewRestClient creates a new exchange REST API client.
func NewRestClient(cfg *config.Exchange, logger *zap.Logger) *RestClient {
	baseURL := cfg.BaseURL
	if cfg.Testnet && cfg.TestnetBaseURL != "" {
		baseURL = cfg.TestnetBaseURL
		logger.Warn("Using exchange testnet")
	}

	client := resty.New().SetBaseURL(baseURL)

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		apiKey:    cfg.ApiKey,
		secretKey: cfg.SecretKey,
		logger:    logger,
		limiter:   limiter,
		rules:     make(map[string]PairRules),
	}
}

// sign creates a HMAC-SHA256 signature for the request.
func (c *RestClient) sign(data string) string {
	h := hmac.New(sha256.New, []byte(c.secretKey))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest handles the actual request execution with rate limiting and retry logic.
func (c *RestClient) doRequest(ctx context.Context, method, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error
	const maxRetries = 3

	for i := 0; i < maxRetries; i++ {
		// Wait for the rate limiter
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("url", c.client.BaseURL+url))
		resp, err = req.SetContext(ctx).Execute(method, url)

		if err == nil && !resp.IsError() {
			return resp, nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && resp.StatusCode() != 0 {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests || statusCode == 418 { // HTTP 429 or 418
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 { // Server errors
				shouldRetry = true
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if !shouldRetry {
			return resp, fmt.Errorf("request failed with status %s: %s", resp.Status(), resp.String())
		}

		// If we should retry, calculate wait time
		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", maxRetries, err)
}

type balanceResponse struct {
	Currency  string `json:"currency"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

// GetBalance fetches the free balance for one currency.
func (c *RestClient) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	params := url.Values{}
	params.Set("currency", currency)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&balanceResponse{})

	resp, err := c.doRequest(ctx, "GET", "/balance", req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get balance for %s: %w", currency, err)
	}

	result := resp.Result().(*balanceResponse)
	available, err := decimal.NewFromString(result.Available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse balance %q: %w", result.Available, err)
	}
	return available, nil
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// GetCurrentPrice fetches the last traded price for a pair.
func (c *RestClient) GetCurrentPrice(ctx context.Context, pair string) (decimal.Decimal, error) {
	req := c.client.R().
		SetQueryParam("symbol", Symbol(pair)).
		SetResult(&tickerPriceResponse{})

	resp, err := c.doRequest(ctx, "GET", "/ticker/price", req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to get price for %s: %w", pair, err)
	}

	result := resp.Result().(*tickerPriceResponse)
	price, err := decimal.NewFromString(result.Price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price %q for %s: %w", result.Price, pair, err)
	}
	return price, nil
}

type bookTickerResponse struct {
	Symbol    string `json:"symbol"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	LastPrice string `json:"lastPrice"`
}

// GetTicker fetches the best bid/ask snapshot for a pair.
func (c *RestClient) GetTicker(ctx context.Context, pair string) (*Ticker, error) {
	req := c.client.R().
		SetQueryParam("symbol", Symbol(pair)).
		SetResult(&bookTickerResponse{})

	resp, err := c.doRequest(ctx, "GET", "/ticker/book", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticker for %s: %w", pair, err)
	}

	result := resp.Result().(*bookTickerResponse)
	bid, err1 := decimal.NewFromString(result.BidPrice)
	ask, err2 := decimal.NewFromString(result.AskPrice)
	last, err3 := decimal.NewFromString(result.LastPrice)
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, fmt.Errorf("failed to parse ticker for %s", pair)
	}

	return &Ticker{Pair: pair, BidPrice: bid, AskPrice: ask, LastPrice: last}, nil
}

type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// GetOrderBook fetches a depth snapshot for a pair.
func (c *RestClient) GetOrderBook(ctx context.Context, pair string, depth int) (*OrderBook, error) {
	req := c.client.R().
		SetQueryParam("symbol", Symbol(pair)).
		SetQueryParam("limit", strconv.Itoa(depth)).
		SetResult(&depthResponse{})

	resp, err := c.doRequest(ctx, "GET", "/depth", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book for %s: %w", pair, err)
	}

	result := resp.Result().(*depthResponse)
	book := &OrderBook{Pair: pair}
	for _, lvl := range result.Bids {
		price, err1 := decimal.NewFromString(lvl[0])
		size, err2 := decimal.NewFromString(lvl[1])
		if err1 != nil || err2 != nil {
			continue
		}
		book.Bids = append(book.Bids, OrderBookLevel{Price: price, Size: size})
	}
	for _, lvl := range result.Asks {
		price, err1 := decimal.NewFromString(lvl[0])
		size, err2 := decimal.NewFromString(lvl[1])
		if err1 != nil || err2 != nil {
			continue
		}
		book.Asks = append(book.Asks, OrderBookLevel{Price: price, Size: size})
	}
	return book, nil
}

// GetCandles fetches recent OHLCV bars for a pair.
func (c *RestClient) GetCandles(ctx context.Context, pair, interval string, limit int) ([]Candle, error) {
	var raw [][]interface{}
	req := c.client.R().
		SetQueryParam("symbol", Symbol(pair)).
		SetQueryParam("interval", interval).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetResult(&raw)

	resp, err := c.doRequest(ctx, "GET", "/klines", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get candles for %s: %w", pair, err)
	}

	rows := *resp.Result().(*[][]interface{})
	candles := make([]Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		candle, err := parseCandle(row)
		if err != nil {
			c.logger.Warn("Skipping malformed candle", zap.String("pair", pair), zap.Error(err))
			continue
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func parseCandle(row []interface{}) (Candle, error) {
	openTime, ok := row[0].(float64)
	if !ok {
		return Candle{}, fmt.Errorf("bad open time %v", row[0])
	}
	fields := make([]decimal.Decimal, 5)
	for i := 0; i < 5; i++ {
		s, ok := row[i+1].(string)
		if !ok {
			return Candle{}, fmt.Errorf("bad candle field %v", row[i+1])
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return Candle{}, err
		}
		fields[i] = d
	}
	return Candle{
		OpenTime: int64(openTime),
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		Volume:   fields[4],
	}, nil
}

type orderResponse struct {
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
	Status        string `json:"status"`
}

// CreateMarketOrder places a market order.
func (c *RestClient) CreateMarketOrder(ctx context.Context, pair, side string, size decimal.Decimal) (*OrderResult, error) {
	return c.createOrder(ctx, pair, side, OrderTypeMarket, decimal.Zero, size, "")
}

// CreateLimitOrder places a limit order with the given time-in-force.
func (c *RestClient) CreateLimitOrder(ctx context.Context, pair, side string, price, size decimal.Decimal, timeInForce string) (*OrderResult, error) {
	return c.createOrder(ctx, pair, side, OrderTypeLimit, price, size, timeInForce)
}

func (c *RestClient) createOrder(ctx context.Context, pair, side, orderType string, price, size decimal.Decimal, timeInForce string) (*OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", Symbol(pair))
	params.Set("side", side)
	params.Set("type", orderType)
	params.Set("quantity", size.String())
	params.Set("newClientOrderId", uuid.NewString())
	if orderType == OrderTypeLimit {
		params.Set("price", price.String())
		params.Set("timeInForce", timeInForce)
	}
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)

	queryString := params.Encode()
	params.Set("signature", c.sign(queryString))

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetBody(params.Encode()).
		SetResult(&orderResponse{})

	resp, err := c.doRequest(ctx, "POST", "/order", req)
	if err != nil {
		c.logger.Error("Failed to create order",
			zap.Error(err),
			zap.String("pair", pair),
			zap.String("side", side),
			zap.String("type", orderType),
		)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	result := resp.Result().(*orderResponse)
	executed, _ := decimal.NewFromString(result.ExecutedQty)
	value, _ := decimal.NewFromString(result.CumQuoteQty)

	return &OrderResult{
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
		Status:        normalizeStatus(result.Status),
		ExecutedSize:  executed,
		ExecutedValue: value,
		TransactTime:  result.TransactTime,
	}, nil
}

type orderDetailsResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	CumQuoteQty string `json:"cummulativeQuoteQty"`
	Fee         string `json:"fee"`
	FeeCurrency string `json:"feeCurrency"`
}

// GetOrder fetches authoritative fill details for reconciliation.
func (c *RestClient) GetOrder(ctx context.Context, pair, orderID string) (*FillDetails, error) {
	params := url.Values{}
	params.Set("symbol", Symbol(pair))
	params.Set("orderId", orderID)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetQueryParamsFromValues(params).
		SetResult(&orderDetailsResponse{})

	resp, err := c.doRequest(ctx, "GET", "/order", req)
	if resp != nil && resp.StatusCode() == http.StatusNotFound {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	result := resp.Result().(*orderDetailsResponse)
	size, _ := decimal.NewFromString(result.ExecutedQty)
	value, _ := decimal.NewFromString(result.CumQuoteQty)
	fee, _ := decimal.NewFromString(result.Fee)

	avgPrice := decimal.Zero
	if size.IsPositive() {
		avgPrice = value.Div(size)
	}

	return &FillDetails{
		OrderID:      result.OrderID,
		Status:       normalizeStatus(result.Status),
		FilledSize:   size,
		FilledValue:  value,
		AveragePrice: avgPrice,
		Fee:          fee,
		FeeCurrency:  result.FeeCurrency,
	}, nil
}

// CancelOrder cancels an open order.
func (c *RestClient) CancelOrder(ctx context.Context, pair, orderID string) error {
	params := url.Values{}
	params.Set("symbol", Symbol(pair))
	params.Set("orderId", orderID)
	params.Set("timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	params.Set("recvWindow", recvWindow)
	params.Set("signature", c.sign(params.Encode()))

	req := c.client.R().
		SetHeader("X-API-KEY", c.apiKey).
		SetQueryParamsFromValues(params)

	if _, err := c.doRequest(ctx, "DELETE", "/order", req); err != nil {
		return fmt.Errorf("failed to cancel order %s: %w", orderID, err)
	}
	return nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol         string `json:"symbol"`
		MinOrderSize   string `json:"minOrderSize"`
		SizePrecision  int32  `json:"sizePrecision"`
		PricePrecision int32  `json:"pricePrecision"`
	} `json:"symbols"`
}

// PairRules returns the trading constraints for a pair, fetching and caching
// the exchange's rule set on first use.
func (c *RestClient) PairRules(ctx context.Context, pair string) (PairRules, error) {
	symbol := Symbol(pair)

	c.rulesMu.RLock()
	rules, ok := c.rules[symbol]
	c.rulesMu.RUnlock()
	if ok {
		return rules, nil
	}

	req := c.client.R().SetResult(&exchangeInfoResponse{})
	resp, err := c.doRequest(ctx, "GET", "/exchangeInfo", req)
	if err != nil {
		return PairRules{}, fmt.Errorf("failed to get exchange info: %w", err)
	}

	result := resp.Result().(*exchangeInfoResponse)
	c.rulesMu.Lock()
	for _, s := range result.Symbols {
		minSize, err := decimal.NewFromString(s.MinOrderSize)
		if err != nil {
			continue
		}
		c.rules[s.Symbol] = PairRules{
			Pair:           s.Symbol,
			MinOrderSize:   minSize,
			SizePrecision:  s.SizePrecision,
			PricePrecision: s.PricePrecision,
		}
	}
	rules, ok = c.rules[symbol]
	c.rulesMu.Unlock()

	if !ok {
		return PairRules{}, fmt.Errorf("no trading rules for pair %s", pair)
	}
	return rules, nil
}

func normalizeStatus(status string) OrderStatus {
	switch status {
	case "NEW", "PENDING":
		return StatusPending
	case "FILLED":
		return StatusFilled
	case "PARTIALLY_FILLED":
		return StatusPartiallyFilled
	case "CANCELED", "CANCELLED", "EXPIRED":
		return StatusCancelled
	case "REJECTED", "FAILED":
		return StatusFailed
	default:
		return StatusPending
	}
}
