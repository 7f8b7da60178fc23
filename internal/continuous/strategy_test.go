package continuous

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossdex-trading/crossarb/internal/breaker"
	"github.com/crossdex-trading/crossarb/internal/gateway"
	"github.com/crossdex-trading/crossarb/internal/jsonl"
)

func testSettings() Settings {
	return Settings{
		Token1:       "LTC",
		Token2:       "BTC",
		TargetSpread: dec("0.02"),
		MinTradeSize: dec("1"),
		InitialSize:  dec("1"),
		SizingPolicy: "compound",
		SwapTimeout:  50 * time.Millisecond,
		SwapInterval: time.Millisecond,
	}
}

type testHarness struct {
	strat  *Strategy
	states *StateStore
	brk    *breaker.Breaker
	logDir string
}

func newHarness(t *testing.T, swap *fakeSwap, dex *fakeDex, wallet *fakeWallet, set Settings) *testHarness {
	t.Helper()
	dir := t.TempDir()
	states := NewStateStore(filepath.Join(dir, "state.json"), zerolog.Nop())
	brk := breaker.New(dir, 3, zerolog.Nop())
	trades := jsonl.New(filepath.Join(dir, "trades.jsonl"))
	t.Cleanup(func() { trades.Close() })

	strat := New(swap, dex, wallet, states, trades, brk, set, zerolog.Nop())
	strat.refundDelay = time.Millisecond
	return &testHarness{strat: strat, states: states, brk: brk, logDir: dir}
}

func seedAnchoredState(t *testing.T, h *testHarness) {
	t.Helper()
	require.NoError(t, h.states.Save(&State{
		AnchorRate:    dec("1500"),
		LastDirection: Token1ToToken2,
		LastSent:      dec("1"),
		LastReceived:  dec("1500"),
		StartingBalances: map[string]decimal.Decimal{
			"LTC": dec("10"), "BTC": dec("3000"),
		},
	}))
}

func TestAnchorTradeEstablishesAnchor(t *testing.T) {
	swap := &fakeSwap{
		quote:        goodQuote("1500", "0"),
		initiateTxID: "tx-anchor",
		txStatus:     gateway.SwapSuccess,
		received:     dec("1500"),
	}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("0")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())

	require.NoError(t, h.strat.Tick(context.Background()))

	assert.Equal(t, 1, swap.initiateCalls)
	st, err := h.states.Load()
	require.NoError(t, err)
	assert.True(t, st.AnchorRate.Equal(dec("1500")), "anchor %s", st.AnchorRate)
	assert.Equal(t, Token1ToToken2, st.LastDirection)
	assert.True(t, st.LastSent.Equal(dec("1")))
	assert.True(t, st.LastReceived.Equal(dec("1500")))
	assert.Equal(t, 1, st.CumulativeTrades)
	assert.Equal(t, 0, st.SuccessCount, "anchor trade is not a spread capture")
	assert.True(t, st.CumulativeSurplusT1.IsZero())

	raw, err := os.ReadFile(filepath.Join(h.logDir, "trades.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"txid":"tx-anchor"`)
}

func TestAlternatingTradeWaitsBelowTargetSpread(t *testing.T) {
	// sending 1485 BTC for 1.0 LTC is a rate of 1485, only 1% below
	// the 1500 anchor
	swap := &fakeSwap{quote: goodQuote("1.0", "0")}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))

	assert.Equal(t, 0, swap.initiateCalls)
	st, err := h.states.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.CumulativeTrades)
}

func TestAlternatingTradeExecutesOnFavorableSpread(t *testing.T) {
	// 1485 BTC for 1.02 LTC is a rate of ~1456, about 2.9% below anchor
	swap := &fakeSwap{
		quote:        goodQuote("1.02", "0"),
		initiateTxID: "tx-alt",
		txStatus:     gateway.SwapSuccess,
		received:     dec("1.02"),
	}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))

	assert.Equal(t, 1, swap.initiateCalls)
	assert.Equal(t, 2, swap.quoteCalls, "evaluation quote plus execution revalidation")

	st, err := h.states.Load()
	require.NoError(t, err)
	assert.Equal(t, Token2ToToken1, st.LastDirection)
	assert.True(t, st.LastSent.Equal(dec("1485")), "sent %s", st.LastSent)
	assert.True(t, st.LastReceived.Equal(dec("1.02")))
	assert.True(t, st.AnchorRate.Equal(dec("1485").Div(dec("1.02"))), "anchor moves to realized rate")
	assert.True(t, st.CumulativeSurplusT1.Equal(dec("0.02")), "t1 surplus %s", st.CumulativeSurplusT1)
	assert.True(t, st.CumulativeSurplusT2.Equal(dec("15")), "t2 surplus %s", st.CumulativeSurplusT2)
	assert.Equal(t, 1, st.CumulativeTrades)
	assert.Equal(t, 1, st.SuccessCount)
}

func TestAlternatingTradeBlockedWithoutDualAccumulation(t *testing.T) {
	// minimum size forces sending 2000 BTC although only 1500 came back
	// last time, so token2 would shrink even at a favorable rate
	set := testSettings()
	set.MinTradeSize = dec("2000")
	set.InitialSize = dec("2000")

	swap := &fakeSwap{quote: goodQuote("1.5", "0")}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, set)
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))
	assert.Equal(t, 0, swap.initiateCalls)
}

func TestAlternatingTradeBlockedBeyondAsymmetryCap(t *testing.T) {
	// rate ~11% past the anchor suggests the anchor is stale
	set := testSettings()
	set.MaxAsymmetry = dec("0.05")

	swap := &fakeSwap{quote: goodQuote("1.5", "0")}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, set)
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))
	assert.Equal(t, 0, swap.initiateCalls)
}

func TestInsufficientBalanceSkipsCycle(t *testing.T) {
	swap := &fakeSwap{quote: goodQuote("1.02", "0")}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("100")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))
	assert.Equal(t, 0, swap.quoteCalls, "no quote when the trade cannot be funded")
}

func TestHaltedPathSkipsCycle(t *testing.T) {
	swap := &fakeSwap{quote: goodQuote("1.02", "0"), pathHalted: true, pathReason: "chain halted"}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))
	assert.Equal(t, 0, swap.quoteCalls)
	assert.Equal(t, 0, swap.initiateCalls)
}

func TestRefundPausesTrading(t *testing.T) {
	swap := &fakeSwap{
		quote:        goodQuote("1.02", "0"),
		initiateTxID: "tx-refunded",
		txStatus:     gateway.SwapRefunded,
	}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))

	assert.True(t, h.brk.Tripped())
	st, err := h.states.Load()
	require.NoError(t, err)
	assert.Equal(t, "awaiting refund", st.PauseReason)
	assert.Equal(t, "BTC", st.RefundToken)
	assert.True(t, st.RefundAmount.Equal(dec("1485")))
	assert.NotZero(t, st.AwaitingRefundSince)
	assert.True(t, st.AnchorRate.Equal(dec("1500")), "anchor untouched by a refunded trade")
}

func TestResumeClearsVerifiedRefund(t *testing.T) {
	wallet := &fakeWallet{txs: []gateway.ReceivedTx{
		{TxID: "refund-tx", Amount: dec("1480"), ReceivedAt: time.Now()},
	}}
	swap := &fakeSwap{}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, wallet, testSettings())

	require.NoError(t, h.brk.Trip("continuous swap refunded", nil))
	require.NoError(t, h.states.Save(&State{
		AnchorRate:          dec("1500"),
		PauseReason:         "awaiting refund",
		AwaitingRefundSince: time.Now().Add(-time.Hour).Unix(),
		RefundToken:         "BTC",
		RefundAmount:        dec("1485"),
		StartingBalances:    map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")},
	}))

	require.NoError(t, h.strat.Resume(context.Background()))

	assert.False(t, h.brk.Tripped())
	st, err := h.states.Load()
	require.NoError(t, err)
	assert.Empty(t, st.PauseReason)
	assert.Empty(t, st.RefundToken)
	assert.Zero(t, st.AwaitingRefundSince)
}

func TestResumeLeavesUnverifiedRefundPaused(t *testing.T) {
	// only a small old transaction in the wallet, not the refund
	wallet := &fakeWallet{txs: []gateway.ReceivedTx{
		{TxID: "dust", Amount: dec("1"), ReceivedAt: time.Now()},
	}}
	swap := &fakeSwap{}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, wallet, testSettings())

	require.NoError(t, h.brk.Trip("continuous swap refunded", nil))
	require.NoError(t, h.states.Save(&State{
		AnchorRate:          dec("1500"),
		PauseReason:         "awaiting refund",
		AwaitingRefundSince: time.Now().Add(-time.Hour).Unix(),
		RefundToken:         "BTC",
		RefundAmount:        dec("1485"),
		StartingBalances:    map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")},
	}))

	require.NoError(t, h.strat.Resume(context.Background()))
	assert.True(t, h.brk.Tripped())
}

func TestSwapTimeoutCountsTowardFailureThreshold(t *testing.T) {
	swap := &fakeSwap{
		quote:        goodQuote("1.02", "0"),
		initiateTxID: "tx-stuck",
		txStatus:     gateway.SwapPending,
	}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("3000")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, testSettings())
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))

	assert.False(t, h.brk.Tripped(), "one timeout is below the threshold")
	st, err := h.states.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, st.CumulativeTrades)
	assert.True(t, st.AnchorRate.Equal(dec("1500")))
}

func TestDryRunSimulatesWithVirtualBalances(t *testing.T) {
	set := testSettings()
	set.DryRun = true

	swap := &fakeSwap{quote: goodQuote("1500", "0")}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("0")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, set)

	require.NoError(t, h.strat.Tick(context.Background()))

	assert.Equal(t, 0, swap.initiateCalls, "dry run never broadcasts")
	assert.True(t, h.strat.st.AnchorRate.Equal(dec("1500")))
	assert.True(t, h.strat.st.VirtualBalances["LTC"].Equal(dec("9")))
	assert.True(t, h.strat.st.VirtualBalances["BTC"].Equal(dec("1500")))
}

func TestDryRunIgnoresSavedState(t *testing.T) {
	set := testSettings()
	set.DryRun = true

	swap := &fakeSwap{quote: goodQuote("1500", "0")}
	dex := &fakeDex{balances: map[string]decimal.Decimal{"LTC": dec("10"), "BTC": dec("0")}}
	h := newHarness(t, swap, dex, &fakeWallet{}, set)
	seedAnchoredState(t, h)

	require.NoError(t, h.strat.Tick(context.Background()))

	// the saved anchor was not loaded, so this tick ran the anchor trade
	assert.Equal(t, Token1ToToken2, h.strat.st.LastDirection)
	assert.Equal(t, 1, h.strat.st.CumulativeTrades)
}
