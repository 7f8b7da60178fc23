package xbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

// ---------------------------------------------------------------------------
// XBridge JSON-RPC client
// ---------------------------------------------------------------------------

const (
	maxRetries   = 2
	retryBackoff = 500 * time.Millisecond

	// book detail level 3 includes order ids
	orderBookDetail = 3
)

// defaultFeeEstimate is used for tokens without a configured estimate.
// The daemon derives real fees from its local wallet config, which is
// not reachable over RPC.
var defaultFeeEstimate = decimal.RequireFromString("0.0001")

// Client talks to the DEX daemon over bitcoind-style JSON-RPC. It
// implements gateway.DexClient.
type Client struct {
	url        string
	user       string
	password   string
	httpClient *http.Client
	fees       map[string]decimal.Decimal
	log        zerolog.Logger

	nextID int64
}

func New(url, user, password string, timeout time.Duration, fees map[string]decimal.Decimal, log zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url:        url,
		user:       user,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
		fees:       fees,
		log:        log.With().Str("component", "xbridge").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("xbridge rpc error %d: %s", e.Code, e.Message)
}

// call makes a retried JSON-RPC call. Transport and 5xx failures are
// retried with backoff; RPC-level errors are returned as-is.
func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}
	if params == nil {
		req.Params = []any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("xbridge: marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("xbridge: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.SetBasicAuth(c.user, c.password)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("xbridge: %s http error: %w", method, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("xbridge: %s read response: %w", method, err)
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("xbridge: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			return nil, fmt.Errorf("xbridge: %s parse response: %w", method, err)
		}
		if rpcResp.Error != nil {
			return nil, rpcResp.Error
		}
		return rpcResp.Result, nil
	}
	return nil, lastErr
}

// ---------------------------------------------------------------------------
// gateway.DexClient
// ---------------------------------------------------------------------------

type rawBook struct {
	Bids [][]json.RawMessage `json:"bids"`
	Asks [][]json.RawMessage `json:"asks"`
}

func (c *Client) OrderBook(ctx context.Context, maker, taker string) (*gateway.OrderBook, error) {
	result, err := c.call(ctx, "dxgetorderbook", []any{orderBookDetail, maker, taker})
	if err != nil {
		return nil, err
	}

	var raw rawBook
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("xbridge: parse order book: %w", err)
	}

	book := &gateway.OrderBook{}
	book.Bids = parseEntries(raw.Bids, c.log)
	book.Asks = parseEntries(raw.Asks, c.log)
	return book, nil
}

// parseEntries converts [price, amount, order_id] triples. The daemon
// emits prices and amounts as strings; entries that do not parse are
// dropped rather than failing the whole book.
func parseEntries(rows [][]json.RawMessage, log zerolog.Logger) []gateway.OrderBookEntry {
	entries := make([]gateway.OrderBookEntry, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		price, err1 := parseDecimal(row[0])
		amount, err2 := parseDecimal(row[1])
		id, err3 := parseString(row[2])
		if err1 != nil || err2 != nil || err3 != nil || id == "" {
			log.Warn().Msg("skipping malformed order book entry")
			continue
		}
		entries = append(entries, gateway.OrderBookEntry{Price: price, Amount: amount, ID: id})
	}
	return entries
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return decimal.NewFromString(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(f), nil
}

func parseString(raw json.RawMessage) (string, error) {
	var s string
	err := json.Unmarshal(raw, &s)
	return s, err
}

type takeOrderResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) TakeOrder(ctx context.Context, orderID, fromAddress, toAddress string) (string, error) {
	c.log.Info().
		Str("order_id", orderID).
		Str("from", fromAddress).
		Str("to", toAddress).
		Msg("taking order")

	result, err := c.call(ctx, "dxTakeOrder", []any{orderID, fromAddress, toAddress})
	if err != nil {
		return "", err
	}

	var taken takeOrderResult
	if err := json.Unmarshal(result, &taken); err != nil {
		return "", fmt.Errorf("xbridge: parse take order result: %w", err)
	}
	if taken.ID == "" {
		c.log.Warn().Str("order_id", orderID).Msg("take order returned no trade id")
	}
	return taken.ID, nil
}

type orderResult struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (c *Client) OrderStatus(ctx context.Context, tradeID string) (string, error) {
	result, err := c.call(ctx, "dxGetOrder", []any{tradeID})
	if err != nil {
		return "", err
	}
	var order orderResult
	if err := json.Unmarshal(result, &order); err != nil {
		return "", fmt.Errorf("xbridge: parse order: %w", err)
	}
	return order.Status, nil
}

func (c *Client) Balance(ctx context.Context, token string) (decimal.Decimal, error) {
	result, err := c.call(ctx, "dxgettokenbalances", nil)
	if err != nil {
		return decimal.Zero, err
	}
	var balances map[string]string
	if err := json.Unmarshal(result, &balances); err != nil {
		return decimal.Zero, fmt.Errorf("xbridge: parse balances: %w", err)
	}
	raw, ok := balances[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("xbridge: no balance for %s", token)
	}
	bal, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("xbridge: parse %s balance: %w", token, err)
	}
	return bal, nil
}

func (c *Client) Address(ctx context.Context, token string) (string, error) {
	result, err := c.call(ctx, "dxGetNewTokenAddress", []any{token})
	if err != nil {
		return "", err
	}

	// the daemon wraps the address in a one-element array
	var list []string
	if err := json.Unmarshal(result, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	var addr string
	if err := json.Unmarshal(result, &addr); err != nil {
		return "", fmt.Errorf("xbridge: parse address: %w", err)
	}
	return addr, nil
}

func (c *Client) FeeEstimate(ctx context.Context, token string) (decimal.Decimal, error) {
	if fee, ok := c.fees[token]; ok {
		return fee, nil
	}
	return defaultFeeEstimate, nil
}
