package walletrpc

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

// listWindow caps how far back refund verification looks.
const listWindow = 500

// Client talks to per-token bitcoind-style wallet nodes. One instance
// serves every token; the endpoint is chosen per call. It implements
// gateway.WalletClient and broadcasts the memo-carrying swap deposits.
type Client struct {
	urls       map[string]string // token -> RPC endpoint
	user       string
	password   string
	httpClient *http.Client
	log        zerolog.Logger

	nextID int64
}

func New(urls map[string]string, user, password string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		urls:       urls,
		user:       user,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "walletrpc").Logger(),
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
	return fmt.Sprintf("wallet rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, token, method string, params []any) (json.RawMessage, error) {
	url, ok := c.urls[token]
	if !ok {
		return nil, fmt.Errorf("walletrpc: no RPC endpoint configured for %s", token)
	}

	c.nextID++
	req := rpcRequest{JSONRPC: "1.0", ID: c.nextID, Method: method, Params: params}
	if params == nil {
		req.Params = []any{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("walletrpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.user, c.password)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: %s %s http error: %w", token, method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("walletrpc: %s read response: %w", method, err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("walletrpc: %s parse response (HTTP %d): %w", method, resp.StatusCode, err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// listedTx is one entry from listtransactions.
type listedTx struct {
	TxID      string  `json:"txid"`
	Category  string  `json:"category"`
	Amount    float64 `json:"amount"`
	Time      int64   `json:"time"`
	Abandoned bool    `json:"abandoned"`
}

// ListReceived returns incoming transactions for a token's wallet,
// newest last, as the node reports them.
func (c *Client) ListReceived(ctx context.Context, token string) ([]gateway.ReceivedTx, error) {
	result, err := c.call(ctx, token, "listtransactions", []any{"*", listWindow, 0})
	if err != nil {
		return nil, err
	}

	var listed []listedTx
	if err := json.Unmarshal(result, &listed); err != nil {
		return nil, fmt.Errorf("walletrpc: parse transactions: %w", err)
	}

	txs := make([]gateway.ReceivedTx, 0, len(listed))
	for _, tx := range listed {
		if tx.Category != "receive" {
			continue
		}
		txs = append(txs, gateway.ReceivedTx{
			TxID:       tx.TxID,
			Amount:     decimal.NewFromFloat(tx.Amount),
			ReceivedAt: time.Unix(tx.Time, 0),
			Abandoned:  tx.Abandoned,
		})
	}
	return txs, nil
}

// SendToAddress broadcasts a payment carrying the swap memo in the
// node's data field. Returns the txid.
func (c *Client) SendToAddress(ctx context.Context, token, address string, amount decimal.Decimal, memo string) (string, error) {
	c.log.Info().
		Str("token", token).
		Str("address", address).
		Str("amount", amount.String()).
		Str("memo", memo).
		Msg("broadcasting swap deposit")

	amt, _ := amount.Float64()
	params := []any{address, amt, "", "", false, false, nil, "UNSET", nil, memo}
	result, err := c.call(ctx, token, "sendtoaddress", params)
	if err != nil {
		return "", err
	}

	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", fmt.Errorf("walletrpc: parse txid: %w", err)
	}
	return txid, nil
}
