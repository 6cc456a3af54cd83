package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/logging"
	"deribit-pnl/internal/models"
)

const (
	// DefaultURL is the production JSON-RPC WebSocket endpoint.
	DefaultURL = "wss://www.deribit.com/ws/api/v2"
	// TestnetURL is the testnet JSON-RPC WebSocket endpoint.
	TestnetURL = "wss://test.deribit.com/ws/api/v2"

	defaultPageSize       = 1000
	defaultRequestTimeout = 10 * time.Second
	writeTimeout          = 5 * time.Second
)

// Deribit error codes that are worth retrying.
const (
	codeTooManyRequests = 10028
	codeRetry           = 10040
)

// DeribitConfig holds configuration for the Deribit client.
type DeribitConfig struct {
	URL            string
	ClientID       string
	ClientSecret   string
	RequestTimeout time.Duration
	PageSize       int
}

// RPCError is an error object returned by the JSON-RPC API.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("deribit rpc error %d: %s", e.Code, e.Message)
}

// Retryable reports whether the request may succeed if sent again.
func (e *RPCError) Retryable() bool {
	return e.Code == codeTooManyRequests || e.Code == codeRetry
}

// IsPermanent reports whether err is an API error that retrying will not fix.
func IsPermanent(err error) bool {
	var rpcErr *RPCError
	if apperrors.As(err, &rpcErr) {
		return !rpcErr.Retryable()
	}
	return apperrors.Is(err, apperrors.ErrNotAuthenticated) || apperrors.Is(err, apperrors.ErrInvalidCredentials)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      uint64      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// DeribitClient talks JSON-RPC 2.0 to Deribit over a single WebSocket.
// Concurrent calls are multiplexed by request id.
type DeribitClient struct {
	cfg    DeribitConfig
	dialer *websocket.Dialer
	logger zerolog.Logger

	nextID atomic.Uint64

	mu            sync.Mutex
	conn          *websocket.Conn
	pending       map[uint64]chan rpcResponse
	authenticated bool
	authExpiry    time.Time

	writeMu sync.Mutex
}

// NewDeribitClient creates a client. The connection is opened lazily.
func NewDeribitClient(cfg DeribitConfig, logger zerolog.Logger) *DeribitClient {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &DeribitClient{
		cfg:     cfg,
		dialer:  websocket.DefaultDialer,
		logger:  logging.WithComponent(logger, "deribit"),
		pending: make(map[uint64]chan rpcResponse),
	}
}

// HasCredentials reports whether private methods can be called.
func (c *DeribitClient) HasCredentials() bool {
	return c.cfg.ClientID != "" && c.cfg.ClientSecret != ""
}

// Close closes the underlying connection.
func (c *DeribitClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.authenticated = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *DeribitClient) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", apperrors.ErrConnectionFailed, c.cfg.URL, err)
	}
	c.conn = conn
	c.authenticated = false
	go c.readLoop(conn)

	c.logger.Debug().Str("url", c.cfg.URL).Msg("Connected")
	return conn, nil
}

// readLoop delivers responses to waiting callers until the connection drops.
func (c *DeribitClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConnection(conn, err)
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("Discarding malformed message")
			continue
		}
		if resp.ID == 0 {
			// Subscription notifications and heartbeats carry no id.
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if ok {
			ch <- resp
		}
	}
}

func (c *DeribitClient) dropConnection(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != conn {
		return
	}
	c.conn = nil
	c.authenticated = false
	for id, ch := range c.pending {
		ch <- rpcResponse{ID: id, Error: &RPCError{Code: -1, Message: "connection closed: " + cause.Error()}}
		delete(c.pending, id)
	}
	_ = conn.Close()
	c.logger.Debug().Err(cause).Msg("Connection dropped")
}

// call sends one request and decodes its result into out.
func (c *DeribitClient) call(ctx context.Context, method string, params interface{}, out interface{}) (err error) {
	start := time.Now()
	defer func() { logging.LogAPICall(c.logger, method, time.Since(start), err) }()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	if strings.HasPrefix(method, "private/") {
		if err := c.authenticate(ctx); err != nil {
			return err
		}
	}

	result, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}

func (c *DeribitClient) roundTrip(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		c.dropConnection(conn, err)
		return nil, fmt.Errorf("%w: sending %s: %v", apperrors.ErrConnectionFailed, method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.forget(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrTimeout, method)
		}
		return nil, ctx.Err()
	}
}

func (c *DeribitClient) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

type authResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// authenticate authorizes the current connection with client credentials.
func (c *DeribitClient) authenticate(ctx context.Context) error {
	if !c.HasCredentials() {
		return apperrors.ErrNotAuthenticated
	}

	c.mu.Lock()
	ok := c.conn != nil && c.authenticated && time.Now().Before(c.authExpiry)
	c.mu.Unlock()
	if ok {
		return nil
	}

	raw, err := c.roundTrip(ctx, "public/auth", map[string]interface{}{
		"grant_type":    "client_credentials",
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	})
	if err != nil {
		// Only a rejection by the exchange means the key pair is bad;
		// rate limits and transport failures keep their own classification.
		var rpcErr *RPCError
		if apperrors.As(err, &rpcErr) && !rpcErr.Retryable() {
			return fmt.Errorf("%w: %w", apperrors.ErrInvalidCredentials, err)
		}
		return fmt.Errorf("authenticating: %w", err)
	}

	var res authResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decoding auth result: %w", err)
	}

	c.mu.Lock()
	c.authenticated = true
	// Re-authenticate a minute before the token lapses.
	c.authExpiry = time.Now().Add(time.Duration(res.ExpiresIn)*time.Second - time.Minute)
	c.mu.Unlock()

	c.logger.Debug().Str("scope", res.Scope).Msg("Authenticated")
	return nil
}

// OrderBook is the subset of public/get_order_book used for marking.
type OrderBook struct {
	InstrumentName string  `json:"instrument_name"`
	MarkPrice      float64 `json:"mark_price"`
	IndexPrice     float64 `json:"index_price"`
	LastPrice      float64 `json:"last_price"`
	BestBidPrice   float64 `json:"best_bid_price"`
	BestAskPrice   float64 `json:"best_ask_price"`
	Timestamp      int64   `json:"timestamp"`
}

// GetOrderBook returns the top of book for an instrument.
func (c *DeribitClient) GetOrderBook(ctx context.Context, instrument string, depth int) (*OrderBook, error) {
	var book OrderBook
	err := c.call(ctx, "public/get_order_book", map[string]interface{}{
		"instrument_name": instrument,
		"depth":           depth,
	}, &book)
	if err != nil {
		return nil, err
	}
	return &book, nil
}

type indexPriceResult struct {
	IndexPrice             float64 `json:"index_price"`
	EstimatedDeliveryPrice float64 `json:"estimated_delivery_price"`
}

// GetIndexPrice returns the current value of an index such as btc_usd.
func (c *DeribitClient) GetIndexPrice(ctx context.Context, index string) (float64, error) {
	var res indexPriceResult
	if err := c.call(ctx, "public/get_index_price", map[string]interface{}{"index_name": index}, &res); err != nil {
		return 0, err
	}
	return res.IndexPrice, nil
}

// DeliveryPrice is one historical delivery (settlement) price of an index.
type DeliveryPrice struct {
	Date          string  `json:"date"`
	DeliveryPrice float64 `json:"delivery_price"`
}

type deliveryPricesResult struct {
	Data         []DeliveryPrice `json:"data"`
	RecordsTotal int             `json:"records_total"`
}

// GetDeliveryPrices returns delivery prices of an index, newest first,
// skipping offset days.
func (c *DeribitClient) GetDeliveryPrices(ctx context.Context, index string, offset, count int) ([]DeliveryPrice, error) {
	var res deliveryPricesResult
	err := c.call(ctx, "public/get_delivery_prices", map[string]interface{}{
		"index_name": index,
		"offset":     offset,
		"count":      count,
	}, &res)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// TransactionLogPage is one page of private/get_transaction_log.
type TransactionLogPage struct {
	Logs         []models.TransactionRecord `json:"logs"`
	Continuation *int64                     `json:"continuation"`
}

// GetTransactionLog returns one page of the account transaction log.
func (c *DeribitClient) GetTransactionLog(ctx context.Context, currency string, startMs, endMs int64, count int, continuation *int64) (*TransactionLogPage, error) {
	params := map[string]interface{}{
		"currency":        currency,
		"start_timestamp": startMs,
		"end_timestamp":   endMs,
		"count":           count,
	}
	if continuation != nil {
		params["continuation"] = *continuation
	}

	var page TransactionLogPage
	if err := c.call(ctx, "private/get_transaction_log", params, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// MarkPrice implements QuoteSource.
func (c *DeribitClient) MarkPrice(ctx context.Context, instrument string) (float64, error) {
	book, err := c.GetOrderBook(ctx, instrument, 1)
	if err != nil {
		return 0, err
	}
	return book.MarkPrice, nil
}

// IndexPrice implements QuoteSource using the currency's USD index.
func (c *DeribitClient) IndexPrice(ctx context.Context, currency string) (float64, error) {
	return c.GetIndexPrice(ctx, strings.ToLower(currency)+"_usd")
}

// SettlementPrice implements QuoteSource.
func (c *DeribitClient) SettlementPrice(ctx context.Context, index string, offsetDays int) (float64, error) {
	prices, err := c.GetDeliveryPrices(ctx, index, offsetDays, 1)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("no delivery price for %s at offset %d", index, offsetDays)
	}
	return prices[0].DeliveryPrice, nil
}

// TransactionLog implements TradeFeed, following continuation tokens
// until the range is exhausted.
func (c *DeribitClient) TransactionLog(ctx context.Context, currency string, from, to time.Time) ([]models.TransactionRecord, error) {
	var (
		records      []models.TransactionRecord
		continuation *int64
	)

	for {
		page, err := c.GetTransactionLog(ctx, currency, from.UnixMilli(), to.UnixMilli(), c.cfg.PageSize, continuation)
		if err != nil {
			return nil, fmt.Errorf("fetching %s transaction log: %w", currency, err)
		}
		for _, rec := range page.Logs {
			if rec.Currency == "" {
				rec.Currency = currency
			}
			records = append(records, rec)
		}
		if page.Continuation == nil || len(page.Logs) == 0 {
			break
		}
		continuation = page.Continuation
	}

	c.logger.Debug().Str("currency", currency).Int("records", len(records)).Msg("Transaction log fetched")
	return records, nil
}
