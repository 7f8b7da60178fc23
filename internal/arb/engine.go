package arb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/breaker"
	"github.com/crossdex-trading/crossarb/internal/gateway"
	"github.com/crossdex-trading/crossarb/internal/ledger"
)

// MonitorSettings bound the two polling loops.
type MonitorSettings struct {
	OrderTimeout  time.Duration
	OrderInterval time.Duration
	SwapTimeout   time.Duration
	SwapInterval  time.Duration
}

// Engine drives a profitable verdict through the persisted state machine
// and resumes interrupted trades from the ledger. All ledger writes for a
// check_id happen on the single loop that called Execute or ResumeAll,
// so no two writes race.
type Engine struct {
	dex    gateway.DexClient
	swap   gateway.SwapClient
	wallet gateway.WalletClient
	store  *ledger.Store
	brk    *breaker.Breaker
	mon    MonitorSettings
	log    zerolog.Logger
	margin decimal.Decimal

	// refund verification retry knobs, overridable in tests
	refundAttempts int
	refundDelay    time.Duration
}

func NewEngine(dex gateway.DexClient, swap gateway.SwapClient, wallet gateway.WalletClient,
	store *ledger.Store, brk *breaker.Breaker, mon MonitorSettings,
	minMargin decimal.Decimal, log zerolog.Logger) *Engine {
	return &Engine{
		dex:            dex,
		swap:           swap,
		wallet:         wallet,
		store:          store,
		brk:            brk,
		mon:            mon,
		margin:         minMargin,
		log:            log.With().Str("component", "engine").Logger(),
		refundAttempts: 3,
		refundDelay:    5 * time.Second,
	}
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

// Execute runs one profitable verdict through the full protocol. Until
// the venue take returns an id nothing irrevocable has happened, so no
// record is written before that point.
func (e *Engine) Execute(ctx context.Context, v *Verdict, checkID string) error {
	opp := v.Opportunity
	if opp == nil {
		return fmt.Errorf("engine: verdict has no execution parameters")
	}
	log := e.log.With().Str("check_id", shortID(checkID)).Logger()
	log.Info().
		Str("pair", opp.PairSymbol).
		Int("leg", opp.Direction.Leg()).
		Msg("executing live arbitrage")

	// ---- Step 1: take the venue order ----
	fromAddr, err := e.dex.Address(ctx, opp.VenueFromToken)
	if err != nil {
		return fmt.Errorf("engine: resolve from address: %w", err)
	}
	toAddr, err := e.dex.Address(ctx, opp.VenueToToken)
	if err != nil {
		return fmt.Errorf("engine: resolve to address: %w", err)
	}

	tradeID, err := e.dex.TakeOrder(ctx, opp.OrderID, fromAddr, toAddr)
	if err != nil || tradeID == "" {
		// nothing persisted: the order was gone or the take failed
		log.Error().Err(err).Str("order_id", opp.OrderID).Msg("venue take failed, aborting with no record")
		if err != nil {
			return fmt.Errorf("engine: take order: %w", err)
		}
		return fmt.Errorf("engine: order %s unavailable", opp.OrderID)
	}

	rec := &ledger.Record{
		CheckID: checkID,
		Status:  ledger.StatusXBridgeInitiated,
		TradeID: tradeID,
		Execution: ledger.ExecutionData{
			XBridgeOrderID:           opp.OrderID,
			XBridgeFromAmount:        opp.Cost,
			XBridgeFee:               opp.VenueFee,
			ThorchainMemo:            opp.Quote.Memo,
			ThorchainInboundAddr:     opp.Quote.InboundAddress,
			ThorchainDestinationAddr: opp.Quote.Destination,
			ThorchainSwapAmount:      opp.SwapAmount,
			ThorchainExpectedOut:     opp.Quote.ExpectedOut,
			ThorchainOutboundFee:     opp.Quote.OutboundFee,
			Leg:                      string(opp.Direction),
			PairSymbol:               opp.PairSymbol,
			FromToken:                opp.SwapFromToken,
			ToToken:                  opp.SwapToToken,
		},
	}
	if err := e.store.Save(rec); err != nil {
		// funds are already moving on the venue; this must be loud
		log.Error().Err(err).Msg("CRITICAL: venue order taken but record not persisted")
		return err
	}
	log.Info().Str("trade_id", tradeID).Msg("venue trade initiated, monitoring")

	// ---- Step 2: monitor the venue leg ----
	switch e.monitorOrder(ctx, log, tradeID) {
	case MonitorSuccess:
	default:
		if err := e.store.Archive(checkID, ledger.ReasonXBridgeMonitorFailed); err != nil {
			return err
		}
		e.recordFailure("venue order did not complete", rec)
		return fmt.Errorf("engine: venue trade %s did not complete", tradeID)
	}

	rec.Status = ledger.StatusXBridgeConfirmed
	if err := e.store.Save(rec); err != nil {
		return err
	}
	log.Info().Str("trade_id", tradeID).Msg("venue trade confirmed, proceeding to swap leg")

	// ---- Step 3: re-evaluate and run the swap leg ----
	return e.confirmSwapLeg(ctx, log, rec)
}

// confirmSwapLeg takes a record in XBRIDGE_CONFIRMED through the swap:
// fresh quote, profitability re-check, initiate, monitor. Shared between
// live execution and resumption so both paths behave identically.
func (e *Engine) confirmSwapLeg(ctx context.Context, log zerolog.Logger, rec *ledger.Record) error {
	ex := &rec.Execution

	quote, err := e.swap.Quote(ctx, ex.FromToken, ex.ToToken, ex.ThorchainSwapAmount)
	if err != nil {
		// record stays XBRIDGE_CONFIRMED for the next cycle
		log.Error().Err(err).Msg("swap re-quote failed, will retry on next resume")
		return fmt.Errorf("engine: swap re-quote: %w", err)
	}
	if quote == nil || !quote.ExpectedOut.IsPositive() {
		log.Error().Msg("swap re-quote invalid, will retry on next resume")
		return fmt.Errorf("engine: invalid swap re-quote for %s", rec.CheckID)
	}

	net, ratio, profitable := Profitability(ex.XBridgeFromAmount, quote.ExpectedOut, quote.OutboundFee, ex.XBridgeFee, e.margin)
	if !profitable {
		// venue leg is done and irreversible; accept the loss rather
		// than risk more capital on a bad swap
		log.Error().
			Str("net_profit", net.String()).
			Str("ratio", ratio.String()).
			Msg("CRITICAL: aborting trade, no longer profitable; venue leg complete but swap not executed")
		if err := e.store.Archive(rec.CheckID, ledger.ReasonUnprofitable); err != nil {
			return err
		}
		e.recordFailure("resumed trade unprofitable", rec)
		return nil
	}
	log.Info().Str("net_profit", net.String()).Msg("swap leg still profitable, initiating")

	// refresh memo and inbound address from the new quote
	ex.ThorchainMemo = quote.Memo
	ex.ThorchainInboundAddr = quote.InboundAddress
	ex.ThorchainExpectedOut = quote.ExpectedOut
	ex.ThorchainOutboundFee = quote.OutboundFee

	txid, err := e.swap.InitiateSwap(ctx, ex.FromToken, quote.InboundAddress, ex.ThorchainSwapAmount, quote.Memo)
	if err != nil || txid == "" {
		// venue funds already moved; the record must survive for retry
		log.Error().Err(err).Msg("CRITICAL: swap failed to initiate, record kept for retry; manual intervention candidate")
		e.recordFailure("swap initiate failed", rec)
		if err != nil {
			return fmt.Errorf("engine: initiate swap: %w", err)
		}
		return fmt.Errorf("engine: swap broadcast returned no txid for %s", rec.CheckID)
	}

	rec.Status = ledger.StatusSwapInitiated
	rec.SwapTxID = txid
	if err := e.store.Save(rec); err != nil {
		return err
	}
	log.Info().Str("swap_txid", txid).Msg("swap initiated, monitoring settlement")

	return e.settleSwap(ctx, log, rec)
}

// settleSwap monitors a broadcast swap to its three-valued outcome.
func (e *Engine) settleSwap(ctx context.Context, log zerolog.Logger, rec *ledger.Record) error {
	switch e.monitorSwap(ctx, log, rec.SwapTxID) {
	case MonitorSuccess:
		if received, err := e.swap.ActualReceived(ctx, rec.SwapTxID); err == nil {
			log.Info().Str("received", received.String()).Msg("swap settled")
		}
		if err := e.store.Delete(rec.CheckID); err != nil {
			return err
		}
		e.brk.RecordSuccess()
		log.Info().Msg("arbitrage complete")
		return nil

	case MonitorFailure:
		// refunded: definitive terminal failure, halt all new trading
		reason := fmt.Sprintf("swap %s for %s %s was refunded; trading paused until refund is verified",
			rec.SwapTxID, rec.Execution.ThorchainSwapAmount.String(), rec.Execution.FromToken)
		log.Error().Msg("CRITICAL: " + reason)
		if err := e.brk.Trip(reason, map[string]any{
			"check_id":  rec.CheckID,
			"swap_txid": rec.SwapTxID,
			"token":     rec.Execution.FromToken,
			"amount":    rec.Execution.ThorchainSwapAmount.String(),
		}); err != nil {
			return err
		}
		rec.Status = ledger.StatusAwaitingRefund
		rec.AwaitingRefundSince = time.Now().Unix()
		return e.store.Save(rec)

	default:
		// timeout: funds may still arrive, keep the record open
		log.Error().Str("swap_txid", rec.SwapTxID).
			Msg("CRITICAL: swap monitor timed out, record kept open; manual intervention candidate")
		e.recordFailure("swap monitor timeout", rec)
		return fmt.Errorf("engine: swap %s timed out", rec.SwapTxID)
	}
}

// ---------------------------------------------------------------------------
// Resumption
// ---------------------------------------------------------------------------

// ResumeAll scans the ledger and re-enters the protocol at the step each
// record recorded. Safe to call repeatedly; an empty ledger is a no-op.
func (e *Engine) ResumeAll(ctx context.Context) error {
	recs, err := e.store.Scan()
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		e.log.Info().Msg("no interrupted trades found")
		return nil
	}

	for _, rec := range recs {
		log := e.log.With().Str("check_id", shortID(rec.CheckID)).Logger()

		// while paused only refund verification may run; anything that
		// could spend funds waits until the pause lifts
		if e.brk.Tripped() && rec.Status != ledger.StatusAwaitingRefund {
			log.Warn().Str("status", string(rec.Status)).
				Msg("trading paused, deferring resumption of this record")
			continue
		}
		log.Warn().Str("status", string(rec.Status)).Msg("resuming interrupted trade")

		var rerr error
		switch rec.Status {
		case ledger.StatusXBridgeInitiated:
			rerr = e.resumeFromInitiated(ctx, log, rec)
		case ledger.StatusXBridgeConfirmed:
			rerr = e.confirmSwapLeg(ctx, log, rec)
		case ledger.StatusSwapInitiated:
			rerr = e.settleSwap(ctx, log, rec)
		case ledger.StatusAwaitingRefund:
			rerr = e.resumeFromAwaitingRefund(ctx, log, rec)
		default:
			log.Error().Str("status", string(rec.Status)).Msg("no handler for resumption status, archiving for review")
			rerr = e.store.Archive(rec.CheckID, ledger.ReasonUnknownResumeStatus)
		}
		if rerr != nil {
			log.Error().Err(rerr).Msg("resumption attempt did not resolve record")
		}
	}
	return nil
}

func (e *Engine) resumeFromInitiated(ctx context.Context, log zerolog.Logger, rec *ledger.Record) error {
	log.Info().Str("trade_id", rec.TradeID).Msg("resuming: monitoring venue order")

	switch e.monitorOrder(ctx, log, rec.TradeID) {
	case MonitorSuccess:
	default:
		log.Error().Str("trade_id", rec.TradeID).Msg("resumed venue trade failed, aborting")
		if err := e.store.Archive(rec.CheckID, ledger.ReasonResumedXBFailed); err != nil {
			return err
		}
		e.recordFailure("resumed venue order failed", rec)
		return nil
	}

	rec.Status = ledger.StatusXBridgeConfirmed
	if err := e.store.Save(rec); err != nil {
		return err
	}
	return e.confirmSwapLeg(ctx, log, rec)
}

func (e *Engine) resumeFromAwaitingRefund(ctx context.Context, log zerolog.Logger, rec *ledger.Record) error {
	ex := rec.Execution
	log.Info().
		Str("token", ex.FromToken).
		Str("amount", ex.ThorchainSwapAmount.String()).
		Msg("verifying refund receipt")

	confirmed := e.verifyRefundReceived(ctx, log, ex.FromToken, ex.ThorchainSwapAmount, rec.AwaitingRefundSince)
	if !confirmed {
		log.Info().Msg("refund not yet confirmed, will check again next cycle")
		return nil
	}

	log.Info().Msg("refund confirmed in wallet, lifting trading pause")
	if err := e.brk.Clear(); err != nil {
		return err
	}
	return e.store.Archive(rec.CheckID, ledger.ReasonRefundConfirmed)
}

func (e *Engine) verifyRefundReceived(ctx context.Context, log zerolog.Logger,
	token string, expected decimal.Decimal, since int64) bool {
	return gateway.VerifyRefund(ctx, e.wallet, log, token, expected, since, e.refundAttempts, e.refundDelay)
}

// ---------------------------------------------------------------------------
// Monitors
// ---------------------------------------------------------------------------

func (e *Engine) monitorOrder(ctx context.Context, log zerolog.Logger, tradeID string) MonitorResult {
	return monitor(ctx, log, "venue_order", tradeID,
		e.mon.OrderTimeout, e.mon.OrderInterval,
		func(ctx context.Context) (string, error) {
			return e.dex.OrderStatus(ctx, tradeID)
		},
		orderSuccessStatuses, orderFailureStatuses)
}

func (e *Engine) monitorSwap(ctx context.Context, log zerolog.Logger, txid string) MonitorResult {
	return monitor(ctx, log, "swap_tx", txid,
		e.mon.SwapTimeout, e.mon.SwapInterval,
		func(ctx context.Context) (string, error) {
			status, err := e.swap.TxStatus(ctx, txid)
			return string(status), err
		},
		map[string]bool{string(gateway.SwapSuccess): true},
		map[string]bool{string(gateway.SwapRefunded): true})
}

// recordFailure feeds the consecutive-failure counter; tripping at the
// threshold is the breaker's call.
func (e *Engine) recordFailure(reason string, rec *ledger.Record) {
	details := map[string]any{"check_id": rec.CheckID, "pair": rec.Execution.PairSymbol}
	if _, err := e.brk.RecordFailure(reason, details); err != nil {
		e.log.Error().Err(err).Msg("failed to record failure on breaker")
	}
}
