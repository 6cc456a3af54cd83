package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "deribit-pnl/internal/errors"
)

type rpcHandler func(params map[string]interface{}) (interface{}, *RPCError)

// fakeDeribit is a minimal JSON-RPC WebSocket server.
type fakeDeribit struct {
	t        *testing.T
	handlers map[string]rpcHandler
	auth     rpcHandler // overrides the built-in credential check

	mu      sync.Mutex
	methods []string
}

func newFakeDeribit(t *testing.T) *fakeDeribit {
	return &fakeDeribit{t: t, handlers: make(map[string]rpcHandler)}
}

func (f *fakeDeribit) handle(method string, h rpcHandler) {
	f.handlers[method] = h
}

func (f *fakeDeribit) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (f *fakeDeribit) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	authed := false
	for {
		var req struct {
			ID     uint64                 `json:"id"`
			Method string                 `json:"method"`
			Params map[string]interface{} `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		f.mu.Lock()
		f.methods = append(f.methods, req.Method)
		f.mu.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch {
		case req.Method == "public/auth" && f.auth != nil:
			result, rpcErr := f.auth(req.Params)
			if result == nil && rpcErr == nil {
				continue
			}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				authed = true
				resp["result"] = result
			}
		case req.Method == "public/auth":
			if req.Params["client_secret"] != "secret" {
				resp["error"] = &RPCError{Code: 13004, Message: "invalid_credentials"}
			} else {
				authed = true
				resp["result"] = map[string]interface{}{"access_token": "tok", "expires_in": 900, "scope": "read"}
			}
		case strings.HasPrefix(req.Method, "private/") && !authed:
			resp["error"] = &RPCError{Code: 13009, Message: "unauthorized"}
		default:
			h, ok := f.handlers[req.Method]
			if !ok {
				resp["error"] = &RPCError{Code: -32601, Message: "Method not found"}
				break
			}
			result, rpcErr := h(req.Params)
			if result == nil && rpcErr == nil {
				// Never answer.
				continue
			}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		}

		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func startClient(t *testing.T, f *fakeDeribit, cfg DeribitConfig) *DeribitClient {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http")
	c := NewDeribitClient(cfg, zerolog.Nop())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMarkPrice(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("public/get_order_book", func(p map[string]interface{}) (interface{}, *RPCError) {
		return map[string]interface{}{"instrument_name": p["instrument_name"], "mark_price": 27123.5}, nil
	})
	c := startClient(t, f, DeribitConfig{})

	price, err := c.MarkPrice(context.Background(), "BTC-PERPETUAL")
	require.NoError(t, err)
	assert.Equal(t, 27123.5, price)
}

func TestIndexPriceUsesUSDIndex(t *testing.T) {
	f := newFakeDeribit(t)
	var gotIndex interface{}
	f.handle("public/get_index_price", func(p map[string]interface{}) (interface{}, *RPCError) {
		gotIndex = p["index_name"]
		return map[string]interface{}{"index_price": 1650.25}, nil
	})
	c := startClient(t, f, DeribitConfig{})

	price, err := c.IndexPrice(context.Background(), "ETH")
	require.NoError(t, err)
	assert.Equal(t, 1650.25, price)
	assert.Equal(t, "eth_usd", gotIndex)
}

func TestSettlementPrice(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("public/get_delivery_prices", func(p map[string]interface{}) (interface{}, *RPCError) {
		offset := int(p["offset"].(float64))
		return map[string]interface{}{
			"data": []map[string]interface{}{
				{"date": "2023-09-29", "delivery_price": 26000.0 + float64(offset)},
			},
			"records_total": 100,
		}, nil
	})
	c := startClient(t, f, DeribitConfig{})

	price, err := c.SettlementPrice(context.Background(), "btc_usd", 3)
	require.NoError(t, err)
	assert.Equal(t, 26003.0, price)
}

func TestSettlementPriceEmpty(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("public/get_delivery_prices", func(map[string]interface{}) (interface{}, *RPCError) {
		return map[string]interface{}{"data": []interface{}{}, "records_total": 0}, nil
	})
	c := startClient(t, f, DeribitConfig{})

	_, err := c.SettlementPrice(context.Background(), "btc_usd", 0)
	assert.Error(t, err)
}

func TestTransactionLogFollowsContinuation(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("private/get_transaction_log", func(p map[string]interface{}) (interface{}, *RPCError) {
		if _, ok := p["continuation"]; !ok {
			return map[string]interface{}{
				"logs": []map[string]interface{}{
					{"id": 1, "type": "trade", "instrument_name": "BTC-PERPETUAL", "side": "open buy", "timestamp": 1000},
					{"id": 2, "type": "deposit", "timestamp": 1001},
				},
				"continuation": 2,
			}, nil
		}
		return map[string]interface{}{
			"logs": []map[string]interface{}{
				{"id": 3, "type": "trade", "instrument_name": "BTC-PERPETUAL", "side": "close sell", "timestamp": 1002},
			},
			"continuation": nil,
		}, nil
	})
	c := startClient(t, f, DeribitConfig{ClientID: "id", ClientSecret: "secret", PageSize: 2})

	records, err := c.TransactionLog(context.Background(), "BTC", time.UnixMilli(0), time.UnixMilli(5000))
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, int64(1), records[0].ID)
	assert.Equal(t, int64(3), records[2].ID)
	assert.Equal(t, "BTC", records[2].Currency)

	methods := f.seen()
	require.NotEmpty(t, methods)
	assert.Equal(t, "public/auth", methods[0])
	assert.Equal(t, 1, strings.Count(strings.Join(methods, ","), "public/auth"))
}

func TestPrivateCallWithoutCredentials(t *testing.T) {
	f := newFakeDeribit(t)
	c := startClient(t, f, DeribitConfig{})

	_, err := c.TransactionLog(context.Background(), "BTC", time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrNotAuthenticated)
	assert.Empty(t, f.seen())
}

func TestInvalidCredentials(t *testing.T) {
	f := newFakeDeribit(t)
	c := startClient(t, f, DeribitConfig{ClientID: "id", ClientSecret: "wrong"})

	_, err := c.TransactionLog(context.Background(), "BTC", time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, apperrors.ErrInvalidCredentials)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 13004, rpcErr.Code)
	assert.True(t, IsPermanent(err))
}

func TestAuthFailuresStayRetryable(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		f := newFakeDeribit(t)
		f.auth = func(map[string]interface{}) (interface{}, *RPCError) {
			return nil, &RPCError{Code: codeTooManyRequests, Message: "too_many_requests"}
		}
		c := startClient(t, f, DeribitConfig{ClientID: "id", ClientSecret: "secret"})

		_, err := c.TransactionLog(context.Background(), "BTC", time.Now().Add(-time.Hour), time.Now())
		require.Error(t, err)

		var rpcErr *RPCError
		require.ErrorAs(t, err, &rpcErr)
		assert.Equal(t, codeTooManyRequests, rpcErr.Code)
		assert.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)
		assert.False(t, IsPermanent(err))
	})

	t.Run("timeout", func(t *testing.T) {
		f := newFakeDeribit(t)
		f.auth = func(map[string]interface{}) (interface{}, *RPCError) { return nil, nil }
		c := startClient(t, f, DeribitConfig{ClientID: "id", ClientSecret: "secret", RequestTimeout: 50 * time.Millisecond})

		_, err := c.TransactionLog(context.Background(), "BTC", time.Now().Add(-time.Hour), time.Now())
		assert.ErrorIs(t, err, apperrors.ErrTimeout)
		assert.NotErrorIs(t, err, apperrors.ErrInvalidCredentials)
		assert.False(t, IsPermanent(err))
	})
}

func TestRPCErrorSurfaces(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("public/get_order_book", func(map[string]interface{}) (interface{}, *RPCError) {
		return nil, &RPCError{Code: 10009, Message: "not_found"}
	})
	c := startClient(t, f, DeribitConfig{})

	_, err := c.MarkPrice(context.Background(), "BTC-1JAN20")
	require.Error(t, err)

	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, 10009, rpcErr.Code)
	assert.True(t, IsPermanent(err))
}

func TestIsPermanent(t *testing.T) {
	assert.False(t, IsPermanent(&RPCError{Code: codeTooManyRequests}))
	assert.False(t, IsPermanent(fmt.Errorf("wrapped: %w", &RPCError{Code: codeRetry})))
	assert.True(t, IsPermanent(&RPCError{Code: -32602}))
	assert.True(t, IsPermanent(apperrors.ErrNotAuthenticated))
	assert.False(t, IsPermanent(apperrors.ErrTimeout))
}

func TestRequestTimeout(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("public/get_index_price", func(map[string]interface{}) (interface{}, *RPCError) {
		return nil, nil
	})
	c := startClient(t, f, DeribitConfig{RequestTimeout: 50 * time.Millisecond})

	_, err := c.IndexPrice(context.Background(), "BTC")
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
}

func TestConcurrentCallsAreMultiplexed(t *testing.T) {
	f := newFakeDeribit(t)
	f.handle("public/get_order_book", func(p map[string]interface{}) (interface{}, *RPCError) {
		name := p["instrument_name"].(string)
		return map[string]interface{}{"instrument_name": name, "mark_price": float64(len(name))}, nil
	})
	c := startClient(t, f, DeribitConfig{})

	names := []string{"A", "BB", "CCC", "DDDD", "EEEEE", "FFFFFF", "GGGGGGG", "HHHHHHHH"}
	results := make([]float64, len(names))
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i], errs[i] = c.MarkPrice(context.Background(), name)
		}(i, name)
	}
	wg.Wait()

	for i, name := range names {
		require.NoError(t, errs[i])
		assert.Equal(t, float64(len(name)), results[i], name)
	}
}

func TestStaticQuotes(t *testing.T) {
	q := NewStaticQuotes().
		SetMark("BTC-PERPETUAL", 27000).
		SetIndex("btc", 26900).
		SetSettlement("BTC_USD", 26000)

	ctx := context.Background()
	mark, err := q.MarkPrice(ctx, "BTC-PERPETUAL")
	require.NoError(t, err)
	assert.Equal(t, 27000.0, mark)

	idx, err := q.IndexPrice(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, 26900.0, idx)

	settle, err := q.SettlementPrice(ctx, "btc_usd", 7)
	require.NoError(t, err)
	assert.Equal(t, 26000.0, settle)

	_, err = q.MarkPrice(ctx, "ETH-PERPETUAL")
	assert.Error(t, err)
	assert.Equal(t, 1, q.Calls("mark", "BTC-PERPETUAL"))
}

func TestStaticQuotes_SettlementByOffset(t *testing.T) {
	q := NewStaticQuotes().
		SetSettlement("btc_usd", 26000).
		SetSettlementAt("BTC_USD", 3, 25500).
		SetSettlementAt("btc_usd", 10, 24000)

	ctx := context.Background()
	for offset, want := range map[int]float64{3: 25500, 10: 24000, 4: 26000} {
		got, err := q.SettlementPrice(ctx, "btc_usd", offset)
		require.NoError(t, err)
		assert.Equal(t, want, got, "offset %d", offset)
	}
	assert.Equal(t, 3, q.Calls("settlement", "btc_usd"))

	only := NewStaticQuotes().SetSettlementAt("eth_usd", 2, 1600)
	_, err := only.SettlementPrice(ctx, "eth_usd", 1)
	assert.ErrorContains(t, err, "offset 1")
}

func TestLoadStaticQuotes(t *testing.T) {
	path := t.TempDir() + "/quotes.json"
	data, err := json.Marshal(map[string]interface{}{
		"marks":       map[string]float64{"ETH-PERPETUAL": 1650},
		"indexes":     map[string]float64{"ETH": 1649},
		"settlements": map[string]float64{"ETH_USD": 1500, "eth_usd/5": 1550},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	q, err := LoadStaticQuotes(path)
	require.NoError(t, err)
	assert.Equal(t, 1650.0, q.Marks["ETH-PERPETUAL"])
	assert.Equal(t, 1649.0, q.Indexes["ETH"])

	settle, err := q.SettlementPrice(context.Background(), "eth_usd", 5)
	require.NoError(t, err)
	assert.Equal(t, 1550.0, settle)
	settle, err = q.SettlementPrice(context.Background(), "eth_usd", 6)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, settle)
}
