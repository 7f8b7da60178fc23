package arb

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeDex is a scriptable venue client.
type fakeDex struct {
	book        *gateway.OrderBook
	bookErr     error
	balances    map[string]decimal.Decimal
	fees        map[string]decimal.Decimal
	takeResult  string
	takeErr     error
	takeCalls   int
	lastTakenID string
	orderStatus string
	statusErr   error
}

func (f *fakeDex) OrderBook(ctx context.Context, maker, taker string) (*gateway.OrderBook, error) {
	if f.bookErr != nil {
		return nil, f.bookErr
	}
	if f.book == nil {
		return &gateway.OrderBook{}, nil
	}
	return f.book, nil
}

func (f *fakeDex) TakeOrder(ctx context.Context, orderID, fromAddress, toAddress string) (string, error) {
	f.takeCalls++
	f.lastTakenID = orderID
	return f.takeResult, f.takeErr
}

func (f *fakeDex) OrderStatus(ctx context.Context, tradeID string) (string, error) {
	return f.orderStatus, f.statusErr
}

func (f *fakeDex) Balance(ctx context.Context, token string) (decimal.Decimal, error) {
	if f.balances == nil {
		return decimal.Zero, errors.New("no balance configured")
	}
	return f.balances[token], nil
}

func (f *fakeDex) Address(ctx context.Context, token string) (string, error) {
	return "addr-" + token, nil
}

func (f *fakeDex) FeeEstimate(ctx context.Context, token string) (decimal.Decimal, error) {
	if f.fees == nil {
		return decimal.Zero, nil
	}
	return f.fees[token], nil
}

// fakeSwap is a scriptable swap-network client.
type fakeSwap struct {
	quote         *gateway.SwapQuote
	quoteErr      error
	quoteCalls    int
	pathHalted    bool
	pathReason    string
	initiateTxID  string
	initiateErr   error
	initiateCalls int
	txStatus      gateway.SwapStatus
	received      decimal.Decimal
}

func (f *fakeSwap) Quote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*gateway.SwapQuote, error) {
	f.quoteCalls++
	return f.quote, f.quoteErr
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

// fakeWallet serves canned incoming transactions.
type fakeWallet struct {
	txs []gateway.ReceivedTx
	err error
}

func (f *fakeWallet) ListReceived(ctx context.Context, token string) ([]gateway.ReceivedTx, error) {
	return f.txs, f.err
}

func goodQuote(expected, outFee string) *gateway.SwapQuote {
	return &gateway.SwapQuote{
		ExpectedOut:    dec(expected),
		OutboundFee:    dec(outFee),
		Memo:           "=:LTC.LTC:addr",
		InboundAddress: "thor-inbound",
		Destination:    "addr",
	}
}
