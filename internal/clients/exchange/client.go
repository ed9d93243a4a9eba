// Package exchange provides a client for a REST exchange account API
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/ledger"
	"github.com/bobmcallan/tally/internal/models"
)

// flexDecimal handles JSON values that may be a number, a numeric string, or
// an empty/"N/A" placeholder. Strings that do not parse decode as absent.
type flexDecimal struct {
	decimal.NullDecimal
}

func (f *flexDecimal) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		f.NullDecimal = decimal.NullDecimal{}
		return nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		f.NullDecimal = ledger.ParseValue(s)
		return nil
	}
	n := ledger.ParseValue(json.Number(trimmed))
	if !n.Valid {
		return fmt.Errorf("cannot unmarshal %s into decimal", string(data))
	}
	f.NullDecimal = n
	return nil
}

const (
	DefaultBaseURL   = "https://api.exchange.example"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Client implements the ExchangeClient interface
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	now        func() time.Time
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithSecret enables HMAC request signing
func WithSecret(secret string) ClientOption {
	return func(c *Client) {
		c.apiSecret = secret
	}
}

// NewClient creates a new exchange client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientFromConfig builds a client from the [clients.exchange] section.
func NewClientFromConfig(cfg common.ExchangeConfig, logger *common.Logger) *Client {
	opts := []ClientOption{
		WithLogger(logger),
		WithTimeout(cfg.GetTimeout()),
		WithRateLimit(cfg.RateLimit),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, WithBaseURL(cfg.BaseURL))
	}
	if cfg.APISecret != "" {
		opts = append(opts, WithSecret(cfg.APISecret))
	}
	return NewClient(cfg.APIKey, opts...)
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// get performs a rate-limited, optionally signed GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if c.apiSecret != "" {
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		req.Header.Set("X-API-Timestamp", ts)
		req.Header.Set("X-API-Signature", sign(c.apiSecret, ts, http.MethodGet, path, query))
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("Exchange API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// sign returns hex(HMAC-SHA256(secret, timestamp + method + path + "?" + query)).
func sign(secret, timestamp, method, path, query string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path))
	if query != "" {
		mac.Write([]byte("?" + query))
	}
	return hex.EncodeToString(mac.Sum(nil))
}

// tradeResponse is the wire shape of one trade or movement
type tradeResponse struct {
	ID         string      `json:"id"`
	Kind       string      `json:"kind"`
	Symbol     string      `json:"symbol"`
	Quote      string      `json:"quote"`
	Quantity   flexDecimal `json:"quantity"`
	Price      flexDecimal `json:"price"`
	Cost       flexDecimal `json:"cost"`
	Fee        flexDecimal `json:"fee"`
	FeeSymbol  string      `json:"fee_symbol"`
	Reference  string      `json:"reference"`
	Direction  string      `json:"direction"`
	ExecutedAt string      `json:"executed_at"`
}

type tradesPage struct {
	Trades     []tradeResponse `json:"trades"`
	NextCursor string          `json:"next_cursor"`
}

// maxPages bounds pagination so a misbehaving server cannot loop forever.
const maxPages = 100

// GetTrades retrieves trades and movements executed after since, oldest first.
func (c *Client) GetTrades(ctx context.Context, accountRef string, since time.Time) ([]models.ExchangeTrade, error) {
	params := url.Values{}
	params.Set("account", accountRef)
	if !since.IsZero() {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var trades []models.ExchangeTrade
	for page := 0; page < maxPages; page++ {
		var resp tradesPage
		if err := c.get(ctx, "/v1/trades", params, &resp); err != nil {
			return nil, err
		}

		for _, tr := range resp.Trades {
			trade, err := tr.toModel()
			if err != nil {
				c.logger.Warn().Str("trade_id", tr.ID).Err(err).Msg("Skipping malformed exchange trade")
				continue
			}
			trades = append(trades, trade)
		}

		if resp.NextCursor == "" {
			return trades, nil
		}
		params.Set("cursor", resp.NextCursor)
	}
	return nil, fmt.Errorf("trade pagination exceeded %d pages", maxPages)
}

func (t tradeResponse) toModel() (models.ExchangeTrade, error) {
	if t.ID == "" {
		return models.ExchangeTrade{}, fmt.Errorf("missing id")
	}
	if !t.Quantity.Valid {
		return models.ExchangeTrade{}, fmt.Errorf("missing quantity")
	}
	executed, err := time.Parse(time.RFC3339Nano, t.ExecutedAt)
	if err != nil {
		return models.ExchangeTrade{}, fmt.Errorf("bad executed_at %q: %w", t.ExecutedAt, err)
	}
	return models.ExchangeTrade{
		ID:         t.ID,
		Kind:       models.ExchangeTradeKind(strings.ToLower(t.Kind)),
		Symbol:     strings.ToUpper(t.Symbol),
		Quote:      strings.ToUpper(t.Quote),
		Quantity:   t.Quantity.Decimal.Abs(),
		Price:      t.Price.NullDecimal,
		Cost:       t.Cost.NullDecimal,
		Fee:        t.Fee.NullDecimal,
		FeeSymbol:  strings.ToUpper(t.FeeSymbol),
		Reference:  t.Reference,
		Direction:  strings.ToLower(t.Direction),
		ExecutedAt: executed.UTC(),
	}, nil
}

type balanceResponse struct {
	Symbol string      `json:"symbol"`
	Total  flexDecimal `json:"total"`
}

// GetBalances retrieves current balances for the account.
func (c *Client) GetBalances(ctx context.Context, accountRef string) ([]models.ExchangeBalance, error) {
	params := url.Values{}
	params.Set("account", accountRef)

	var resp struct {
		Balances []balanceResponse `json:"balances"`
	}
	if err := c.get(ctx, "/v1/balances", params, &resp); err != nil {
		return nil, err
	}

	balances := make([]models.ExchangeBalance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		if b.Symbol == "" || !b.Total.Valid {
			continue
		}
		balances = append(balances, models.ExchangeBalance{
			Symbol: strings.ToUpper(b.Symbol),
			Total:  b.Total.Decimal,
		})
	}
	return balances, nil
}

// Compile-time check
var _ interfaces.ExchangeClient = (*Client)(nil)
