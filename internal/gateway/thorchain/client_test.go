package thorchain

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

type fakeBroadcaster struct {
	txid  string
	err   error
	calls int

	lastToken   string
	lastAddress string
	lastAmount  decimal.Decimal
	lastMemo    string
}

func (f *fakeBroadcaster) SendToAddress(ctx context.Context, token, address string, amount decimal.Decimal, memo string) (string, error) {
	f.calls++
	f.lastToken = token
	f.lastAddress = address
	f.lastAmount = amount
	f.lastMemo = memo
	return f.txid, f.err
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *fakeBroadcaster) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	bc := &fakeBroadcaster{txid: "deposit-tx"}
	c := New(srv.URL, map[string]string{"LTC": "ltc-dest"}, bc, time.Second, zerolog.Nop())
	return c, bc
}

func TestQuoteConvertsBaseUnits(t *testing.T) {
	var gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/thorchain/quote/swap", r.URL.Path)
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{
			"expected_amount_out": "5160000",
			"memo": "=:LTC.LTC:ltc-dest",
			"inbound_address": "thor-inbound",
			"expiry": 1700000000,
			"fees": {"outbound": "10000"}
		}`))
	})

	quote, err := c.Quote(context.Background(), "BTC", "LTC", decimal.RequireFromString("75"))
	require.NoError(t, err)
	require.NotNil(t, quote)

	assert.Contains(t, gotQuery, "from_asset=BTC.BTC")
	assert.Contains(t, gotQuery, "to_asset=LTC.LTC")
	assert.Contains(t, gotQuery, "amount=7500000000")
	assert.Contains(t, gotQuery, "destination=ltc-dest")

	assert.Equal(t, "0.0516", quote.ExpectedOut.String())
	assert.Equal(t, "0.0001", quote.OutboundFee.String())
	assert.Equal(t, "=:LTC.LTC:ltc-dest", quote.Memo)
	assert.Equal(t, "thor-inbound", quote.InboundAddress)
	assert.Equal(t, "ltc-dest", quote.Destination)
	assert.Equal(t, int64(1700000000), quote.Expiry.Unix())
}

func TestQuoteClientErrorMeansNoQuote(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"trading is halted"}`))
	})

	quote, err := c.Quote(context.Background(), "BTC", "LTC", decimal.RequireFromString("1"))
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestPathStatus(t *testing.T) {
	inbound := `[
		{"chain":"BTC","address":"btc-in","halted":false},
		{"chain":"LTC","address":"ltc-in","halted":true}
	]`
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/thorchain/inbound_addresses", r.URL.Path)
		_, _ = w.Write([]byte(inbound))
	})

	open, reason, err := c.PathStatus(context.Background(), "BTC", "LTC")
	require.NoError(t, err)
	assert.False(t, open)
	assert.Contains(t, reason, "LTC")

	inbound = `[
		{"chain":"BTC","address":"btc-in"},
		{"chain":"LTC","address":"ltc-in"}
	]`
	open, reason, err = c.PathStatus(context.Background(), "BTC", "LTC")
	require.NoError(t, err)
	assert.True(t, open)
	assert.Empty(t, reason)

	open, _, err = c.PathStatus(context.Background(), "BTC", "DOGE")
	require.NoError(t, err)
	assert.False(t, open, "unlisted chain is not tradable")
}

func TestInitiateSwapDelegatesToBroadcaster(t *testing.T) {
	c, bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	txid, err := c.InitiateSwap(context.Background(), "BTC", "thor-inbound", decimal.RequireFromString("0.05"), "=:LTC.LTC:dest")
	require.NoError(t, err)
	assert.Equal(t, "deposit-tx", txid)
	assert.Equal(t, 1, bc.calls)
	assert.Equal(t, "BTC", bc.lastToken)
	assert.Equal(t, "thor-inbound", bc.lastAddress)
	assert.Equal(t, "=:LTC.LTC:dest", bc.lastMemo)
}

func TestTxStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body string
		want gateway.SwapStatus
	}{
		{
			name: "settled swap",
			body: `{"stages":{"swap_finalised":{"completed":true},"outbound_signed":{"completed":true}},
				"out_txs":[{"memo":"OUT:ABC","coins":[{"asset":"LTC.LTC","amount":"5150000"}]}]}`,
			want: gateway.SwapSuccess,
		},
		{
			name: "planned refund",
			body: `{"stages":{"swap_finalised":{"completed":true},"outbound_signed":{"completed":false}},
				"planned_out_txs":[{"refund":true}]}`,
			want: gateway.SwapRefunded,
		},
		{
			name: "refund memo on outbound",
			body: `{"stages":{"swap_finalised":{"completed":true},"outbound_signed":{"completed":true}},
				"out_txs":[{"memo":"REFUND:ABC","coins":[{"asset":"BTC.BTC","amount":"4900000"}]}]}`,
			want: gateway.SwapRefunded,
		},
		{
			name: "still settling",
			body: `{"stages":{"swap_finalised":{"completed":true},"outbound_signed":{"completed":false}}}`,
			want: gateway.SwapPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			})
			status, err := c.TxStatus(context.Background(), "txid-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}
}

func TestActualReceivedSkipsRefundOutbound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"out_txs":[
			{"memo":"REFUND:ABC","coins":[{"asset":"BTC.BTC","amount":"100"}]},
			{"memo":"OUT:ABC","coins":[{"asset":"LTC.LTC","amount":"5150000"}]}
		]}`))
	})

	amount, err := c.ActualReceived(context.Background(), "txid-1")
	require.NoError(t, err)
	assert.Equal(t, "0.0515", amount.String())
}
