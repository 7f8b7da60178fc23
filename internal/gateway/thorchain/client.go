package thorchain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

// ---------------------------------------------------------------------------
// THORNode REST client
// ---------------------------------------------------------------------------

// Broadcaster sends the memo-carrying deposit that starts a swap. The
// wallet RPC client satisfies this.
type Broadcaster interface {
	SendToAddress(ctx context.Context, token, address string, amount decimal.Decimal, memo string) (string, error)
}

// Client implements gateway.SwapClient against a THORNode. Network
// amounts are 1e8 base units; everything crossing this boundary is
// converted to coin units.
type Client struct {
	nodeURL      string
	destinations map[string]string // token -> payout address for quote memos
	broadcaster  Broadcaster
	httpClient   *http.Client
	log          zerolog.Logger
}

func New(nodeURL string, destinations map[string]string, broadcaster Broadcaster,
	timeout time.Duration, log zerolog.Logger) *Client {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		nodeURL:      strings.TrimRight(nodeURL, "/"),
		destinations: destinations,
		broadcaster:  broadcaster,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log.With().Str("component", "thorchain").Logger(),
	}
}

// assetFor renders a token symbol as the network's CHAIN.SYMBOL form.
// The pair tokens are native gas assets, so chain and symbol coincide.
func assetFor(token string) string {
	token = strings.ToUpper(token)
	return token + "." + token
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.nodeURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("thorchain: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("thorchain: http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("thorchain: read response: %w", err)
	}
	if resp.StatusCode != 200 {
		return resp.StatusCode, fmt.Errorf("thorchain: HTTP %d: %s", resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("thorchain: parse response: %w", err)
	}
	return resp.StatusCode, nil
}

// fromBaseUnits converts the network's 1e8 integer strings.
func fromBaseUnits(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(-8), nil
}

// ---------------------------------------------------------------------------
// Quote
// ---------------------------------------------------------------------------

type quoteResponse struct {
	ExpectedAmountOut string `json:"expected_amount_out"`
	Memo              string `json:"memo"`
	InboundAddress    string `json:"inbound_address"`
	Expiry            int64  `json:"expiry"`
	Fees              struct {
		Outbound string `json:"outbound"`
	} `json:"fees"`
	Error string `json:"error"`
}

func (c *Client) Quote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*gateway.SwapQuote, error) {
	q := url.Values{}
	q.Set("from_asset", assetFor(fromAsset))
	q.Set("to_asset", assetFor(toAsset))
	q.Set("amount", amount.Shift(8).Round(0).String())
	destination := c.destinations[strings.ToUpper(toAsset)]
	if destination != "" {
		q.Set("destination", destination)
	}

	var quote quoteResponse
	status, err := c.get(ctx, "/thorchain/quote/swap?"+q.Encode(), &quote)
	if err != nil {
		// the node answers 4xx for unknown pairs and halted paths;
		// that is "no quote", not a transport failure
		if status >= 400 && status < 500 {
			c.log.Debug().Int("status", status).Msg("no quote available")
			return nil, nil
		}
		return nil, err
	}
	if quote.Error != "" || quote.ExpectedAmountOut == "" {
		c.log.Debug().Str("error", quote.Error).Msg("no quote available")
		return nil, nil
	}

	expected, err := fromBaseUnits(quote.ExpectedAmountOut)
	if err != nil {
		return nil, fmt.Errorf("thorchain: parse expected_amount_out: %w", err)
	}
	outbound, err := fromBaseUnits(quote.Fees.Outbound)
	if err != nil {
		return nil, fmt.Errorf("thorchain: parse outbound fee: %w", err)
	}

	out := &gateway.SwapQuote{
		ExpectedOut:    expected,
		OutboundFee:    outbound,
		Memo:           quote.Memo,
		InboundAddress: quote.InboundAddress,
		Destination:    destination,
	}
	if quote.Expiry > 0 {
		out.Expiry = time.Unix(quote.Expiry, 0)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Path status
// ---------------------------------------------------------------------------

type inboundAddress struct {
	Chain               string `json:"chain"`
	Address             string `json:"address"`
	Halted              bool   `json:"halted"`
	ChainTradingPaused  bool   `json:"chain_trading_paused"`
	GlobalTradingPaused bool   `json:"global_trading_paused"`
}

func (c *Client) PathStatus(ctx context.Context, fromChain, toChain string) (bool, string, error) {
	var addrs []inboundAddress
	if _, err := c.get(ctx, "/thorchain/inbound_addresses", &addrs); err != nil {
		return false, "", err
	}

	byChain := make(map[string]inboundAddress, len(addrs))
	for _, a := range addrs {
		byChain[strings.ToUpper(a.Chain)] = a
	}

	for _, chain := range []string{strings.ToUpper(fromChain), strings.ToUpper(toChain)} {
		a, ok := byChain[chain]
		if !ok {
			return false, fmt.Sprintf("chain %s not listed by the network", chain), nil
		}
		if a.GlobalTradingPaused {
			return false, "global trading paused", nil
		}
		if a.Halted || a.ChainTradingPaused {
			return false, fmt.Sprintf("chain %s halted", chain), nil
		}
	}
	return true, "", nil
}

// ---------------------------------------------------------------------------
// Execution and settlement
// ---------------------------------------------------------------------------

func (c *Client) InitiateSwap(ctx context.Context, fromToken, toAddress string, amount decimal.Decimal, memo string) (string, error) {
	return c.broadcaster.SendToAddress(ctx, fromToken, toAddress, amount, memo)
}

type txStage struct {
	Completed bool `json:"completed"`
}

type outTx struct {
	Memo  string `json:"memo"`
	Coins []struct {
		Asset  string `json:"asset"`
		Amount string `json:"amount"`
	} `json:"coins"`
}

type txStatusResponse struct {
	Stages struct {
		SwapFinalised  txStage `json:"swap_finalised"`
		OutboundSigned txStage `json:"outbound_signed"`
	} `json:"stages"`
	PlannedOutTxs []struct {
		Refund bool `json:"refund"`
	} `json:"planned_out_txs"`
	OutTxs []outTx `json:"out_txs"`
}

func (c *Client) txStatus(ctx context.Context, txid string) (*txStatusResponse, error) {
	var status txStatusResponse
	if _, err := c.get(ctx, "/thorchain/tx/status/"+url.PathEscape(txid), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// TxStatus maps the node's staged view onto the three-valued swap
// outcome. A refund is terminal the moment the network plans it.
func (c *Client) TxStatus(ctx context.Context, txid string) (gateway.SwapStatus, error) {
	status, err := c.txStatus(ctx, txid)
	if err != nil {
		return gateway.SwapPending, err
	}

	for _, planned := range status.PlannedOutTxs {
		if planned.Refund {
			return gateway.SwapRefunded, nil
		}
	}
	for _, out := range status.OutTxs {
		if strings.HasPrefix(strings.ToUpper(out.Memo), "REFUND") {
			return gateway.SwapRefunded, nil
		}
	}

	if status.Stages.SwapFinalised.Completed && status.Stages.OutboundSigned.Completed {
		return gateway.SwapSuccess, nil
	}
	return gateway.SwapPending, nil
}

func (c *Client) ActualReceived(ctx context.Context, txid string) (decimal.Decimal, error) {
	status, err := c.txStatus(ctx, txid)
	if err != nil {
		return decimal.Zero, err
	}
	for _, out := range status.OutTxs {
		if strings.HasPrefix(strings.ToUpper(out.Memo), "REFUND") {
			continue
		}
		for _, coin := range out.Coins {
			amount, err := fromBaseUnits(coin.Amount)
			if err != nil {
				return decimal.Zero, fmt.Errorf("thorchain: parse out amount: %w", err)
			}
			if amount.IsPositive() {
				return amount, nil
			}
		}
	}
	return decimal.Zero, fmt.Errorf("thorchain: no outbound recorded for %s", txid)
}
