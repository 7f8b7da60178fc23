package continuous

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSwap struct {
	quote      *gateway.SwapQuote
	quoteErr   error
	quoteCalls int

	pathHalted bool
	pathReason string

	initiateTxID  string
	initiateErr   error
	initiateCalls int

	txStatus gateway.SwapStatus
	received decimal.Decimal
}

func (f *fakeSwap) Quote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*gateway.SwapQuote, error) {
	f.quoteCalls++
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return f.quote, nil
}

func (f *fakeSwap) PathStatus(ctx context.Context, fromChain, toChain string) (bool, string, error) {
	return !f.pathHalted, f.pathReason, nil
}

func (f *fakeSwap) InitiateSwap(ctx context.Context, fromToken, toAddress string, amount decimal.Decimal, memo string) (string, error) {
	f.initiateCalls++
	return f.initiateTxID, f.initiateErr
}

func (f *fakeSwap) TxStatus(ctx context.Context, txid string) (gateway.SwapStatus, error) {
	return f.txStatus, nil
}

func (f *fakeSwap) ActualReceived(ctx context.Context, txid string) (decimal.Decimal, error) {
	return f.received, nil
}

type fakeDex struct {
	balances map[string]decimal.Decimal
}

func (f *fakeDex) OrderBook(ctx context.Context, maker, taker string) (*gateway.OrderBook, error) {
	return &gateway.OrderBook{}, nil
}

func (f *fakeDex) TakeOrder(ctx context.Context, orderID, fromAddress, toAddress string) (string, error) {
	return "", nil
}

func (f *fakeDex) OrderStatus(ctx context.Context, tradeID string) (string, error) {
	return "", nil
}

func (f *fakeDex) Balance(ctx context.Context, token string) (decimal.Decimal, error) {
	return f.balances[token], nil
}

func (f *fakeDex) Address(ctx context.Context, token string) (string, error) {
	return "addr-" + token, nil
}

func (f *fakeDex) FeeEstimate(ctx context.Context, token string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeWallet struct {
	txs []gateway.ReceivedTx
	err error
}

func (f *fakeWallet) ListReceived(ctx context.Context, token string) ([]gateway.ReceivedTx, error) {
	return f.txs, f.err
}

func goodQuote(expectedOut, outboundFee string) *gateway.SwapQuote {
	return &gateway.SwapQuote{
		ExpectedOut:    dec(expectedOut),
		OutboundFee:    dec(outboundFee),
		Memo:           "=:LTC.LTC:addr",
		InboundAddress: "thor-inbound",
	}
}
