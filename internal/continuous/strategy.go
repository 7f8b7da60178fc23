package continuous

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/breaker"
	"github.com/crossdex-trading/crossarb/internal/gateway"
	"github.com/crossdex-trading/crossarb/internal/jsonl"
)

// Settings are the tuning knobs of the continuous strategy.
type Settings struct {
	Token1       string
	Token2       string
	TargetSpread decimal.Decimal
	MinTradeSize decimal.Decimal
	InitialSize  decimal.Decimal
	SizingPolicy string // "compound" or "fixed"
	MaxAsymmetry decimal.Decimal
	SwapTimeout  time.Duration
	SwapInterval time.Duration
	QuoteMaxAge  time.Duration
	DryRun       bool
}

// Strategy swaps back and forth between the pair tokens through the
// cross-chain network, trading only when the rate has drifted far
// enough from the anchor that both tokens accumulate over a round
// trip. The first trade establishes the anchor; every completed trade
// moves it to the realized rate.
type Strategy struct {
	swap   gateway.SwapClient
	dex    gateway.DexClient
	wallet gateway.WalletClient
	states *StateStore
	trades *jsonl.Writer
	brk    *breaker.Breaker
	set    Settings
	log    zerolog.Logger

	st *State

	refundAttempts int
	refundDelay    time.Duration
}

func New(swap gateway.SwapClient, dex gateway.DexClient, wallet gateway.WalletClient,
	states *StateStore, trades *jsonl.Writer, brk *breaker.Breaker,
	set Settings, log zerolog.Logger) *Strategy {
	if set.QuoteMaxAge == 0 {
		set.QuoteMaxAge = 5 * time.Second
	}
	return &Strategy{
		swap:           swap,
		dex:            dex,
		wallet:         wallet,
		states:         states,
		trades:         trades,
		brk:            brk,
		set:            set,
		log:            log.With().Str("component", "continuous").Logger(),
		refundAttempts: 3,
		refundDelay:    5 * time.Second,
	}
}

func (s *Strategy) Name() string { return "continuous" }

// ---------------------------------------------------------------------------
// Resume
// ---------------------------------------------------------------------------

// Resume loads persisted state and, while trading is paused for a
// refund, checks the wallet for the refund transaction. A verified
// refund lifts the pause; any other pause stays until cleared by hand.
func (s *Strategy) Resume(ctx context.Context) error {
	if err := s.ensureState(ctx); err != nil {
		return err
	}
	if !s.brk.Tripped() {
		return nil
	}

	if s.st.AwaitingRefundSince == 0 || s.st.RefundToken == "" {
		if sentinel, err := s.brk.Read(); err == nil && sentinel != nil {
			s.log.Warn().Str("reason", sentinel.Reason).Msg("trading paused, manual intervention required")
		}
		return nil
	}

	log := s.log.With().Str("token", s.st.RefundToken).Logger()
	log.Info().Str("amount", s.st.RefundAmount.String()).Msg("verifying refund receipt")

	confirmed := gateway.VerifyRefund(ctx, s.wallet, log,
		s.st.RefundToken, s.st.RefundAmount, s.st.AwaitingRefundSince,
		s.refundAttempts, s.refundDelay)
	if !confirmed {
		log.Info().Msg("refund not yet confirmed, will check again next cycle")
		return nil
	}

	log.Info().Msg("refund confirmed in wallet, lifting trading pause")
	if err := s.brk.Clear(); err != nil {
		return err
	}
	s.st.PauseReason = ""
	s.st.AwaitingRefundSince = 0
	s.st.RefundToken = ""
	s.st.RefundAmount = decimal.Zero
	return s.states.Save(s.st)
}

// ---------------------------------------------------------------------------
// Tick
// ---------------------------------------------------------------------------

// Tick runs one trade cycle: the anchor trade when no anchor rate is
// set, otherwise one alternating trade if conditions allow.
func (s *Strategy) Tick(ctx context.Context) error {
	if err := s.ensureState(ctx); err != nil {
		return err
	}
	if s.brk.Tripped() {
		return nil
	}

	cycleID := uuid.NewString()[:8]
	log := s.log.With().Str("cycle_id", cycleID).Logger()

	if !s.st.Anchored() {
		amount := s.set.InitialSize
		if amount.LessThan(s.set.MinTradeSize) {
			amount = s.set.MinTradeSize
		}
		log.Info().Str("amount", amount.String()).Msg("no anchor rate, running anchor trade")
		return s.runCycle(ctx, log, Token1ToToken2, amount, true)
	}

	dir := NextDirection(s.st.LastDirection)
	amount := TradeAmount(s.st.LastReceived, s.set.TargetSpread,
		s.set.MinTradeSize, s.set.InitialSize, s.set.SizingPolicy)
	return s.runCycle(ctx, log, dir, amount, false)
}

func (s *Strategy) runCycle(ctx context.Context, log zerolog.Logger, dir Direction, amount decimal.Decimal, anchor bool) error {
	from, to := s.legTokens(dir)
	log = log.With().Str("direction", string(dir)).Logger()

	// ---- Step 1: balance and route pre-flight ----

	bal, err := s.balance(ctx, from)
	if err != nil {
		log.Warn().Err(err).Str("token", from).Msg("balance check failed, skipping cycle")
		return nil
	}
	if bal.LessThan(amount) {
		log.Info().
			Str("token", from).
			Str("balance", bal.String()).
			Str("needed", amount.String()).
			Msg("insufficient balance, skipping cycle")
		return nil
	}

	open, reason, err := s.swap.PathStatus(ctx, from, to)
	if err != nil {
		log.Warn().Err(err).Msg("path status check failed, skipping cycle")
		return nil
	}
	if !open {
		log.Warn().Str("reason", reason).Msg("swap path halted, skipping cycle")
		return nil
	}

	// ---- Step 2: quote and gate ----

	quote, err := s.swap.Quote(ctx, from, to, amount)
	if err != nil {
		log.Warn().Err(err).Msg("quote failed, skipping cycle")
		return nil
	}
	if !quote.Valid() {
		log.Info().Msg("no usable quote, skipping cycle")
		return nil
	}
	netOut := quote.NetOut()
	if !netOut.IsPositive() {
		log.Info().Msg("quote output does not cover outbound fee, skipping cycle")
		return nil
	}

	rate := CurrentRate(amount, netOut, dir)
	if !anchor {
		asym := Asymmetry(rate, s.st.AnchorRate, dir)
		log.Info().
			Str("rate", rate.StringFixed(8)).
			Str("anchor", s.st.AnchorRate.StringFixed(8)).
			Str("asymmetry", asym.StringFixed(6)).
			Msg("evaluating alternating trade")

		if asym.LessThan(s.set.TargetSpread) {
			log.Info().Msg("spread below target, waiting")
			return nil
		}
		if s.set.MaxAsymmetry.IsPositive() && asym.GreaterThan(s.set.MaxAsymmetry) {
			log.Warn().Msg("asymmetry beyond cap, anchor may be stale, waiting")
			return nil
		}
		if !DualAccumulation(s.st, amount, netOut) {
			log.Info().Msg("trade would not grow both tokens, waiting")
			return nil
		}
	}

	// ---- Step 3: revalidate and execute ----

	exec, err := s.swap.Quote(ctx, from, to, amount)
	if err != nil || !exec.Valid() {
		log.Warn().AnErr("error", err).Msg("quote revalidation failed, skipping cycle")
		return nil
	}
	if !exec.Expiry.IsZero() && time.Since(exec.Expiry) > s.set.QuoteMaxAge {
		log.Warn().Time("expiry", exec.Expiry).Msg("quote expired before execution, skipping cycle")
		return nil
	}

	txid, received, outcome := s.executeSwap(ctx, log, from, amount, exec)
	switch outcome {
	case gateway.SwapSuccess:
		return s.completeTrade(log, dir, amount, received, txid, anchor)
	case gateway.SwapRefunded:
		return s.handleRefund(log, from, amount, txid)
	default:
		return s.tradeFailed(log, "swap did not settle in time")
	}
}

// executeSwap broadcasts the swap and waits for settlement. In dry-run
// mode the swap is simulated as an instant success at the quoted net
// output.
func (s *Strategy) executeSwap(ctx context.Context, log zerolog.Logger,
	from string, amount decimal.Decimal, quote *gateway.SwapQuote) (string, decimal.Decimal, gateway.SwapStatus) {
	netOut := quote.NetOut()

	if s.set.DryRun {
		log.Info().
			Str("from", from).
			Str("amount", amount.String()).
			Str("expected_out", netOut.String()).
			Msg("[DRY RUN] would initiate swap")
		return "dry-run", netOut, gateway.SwapSuccess
	}

	txid, err := s.swap.InitiateSwap(ctx, from, quote.InboundAddress, amount, quote.Memo)
	if err != nil || txid == "" {
		log.Error().Err(err).Msg("CRITICAL: swap initiation failed")
		return "", decimal.Zero, gateway.SwapPending
	}
	log = log.With().Str("txid", txid).Logger()
	log.Info().Msg("swap initiated, awaiting settlement")

	status := s.awaitSwap(ctx, log, txid)
	if status != gateway.SwapSuccess {
		return txid, decimal.Zero, status
	}

	received, err := s.swap.ActualReceived(ctx, txid)
	if err != nil || !received.IsPositive() {
		log.Warn().Err(err).Msg("could not fetch settled amount, using quoted net output")
		received = netOut
	}
	return txid, received, gateway.SwapSuccess
}

// awaitSwap polls the swap status until it settles or the timeout
// passes. Poll errors are retried; SwapPending on return means timeout.
func (s *Strategy) awaitSwap(ctx context.Context, log zerolog.Logger, txid string) gateway.SwapStatus {
	deadline := time.Now().Add(s.set.SwapTimeout)
	for {
		status, err := s.swap.TxStatus(ctx, txid)
		if err != nil {
			log.Warn().Err(err).Msg("swap status poll failed, will retry")
		} else if status != gateway.SwapPending {
			return status
		}

		if time.Now().After(deadline) {
			log.Error().Msg("swap settlement timed out")
			return gateway.SwapPending
		}
		select {
		case <-ctx.Done():
			return gateway.SwapPending
		case <-time.After(s.set.SwapInterval):
		}
	}
}

// ---------------------------------------------------------------------------
// Outcomes
// ---------------------------------------------------------------------------

// completeTrade moves the anchor to the realized rate, accrues surplus
// and counters, persists the state and appends the trade to the log.
func (s *Strategy) completeTrade(log zerolog.Logger, dir Direction,
	sent, received decimal.Decimal, txid string, anchor bool) error {
	effRate := EffectiveRate(sent, received, dir)

	asym := decimal.Zero
	if !anchor {
		asym = Asymmetry(effRate, s.st.AnchorRate, dir)
	}
	surplusT1, surplusT2 := Surplus(s.st, dir, sent, received)

	s.st.CumulativeTrades++
	if !anchor && asym.GreaterThanOrEqual(s.set.TargetSpread) {
		s.st.SuccessCount++
	}
	s.st.CumulativeSurplusT1 = s.st.CumulativeSurplusT1.Add(surplusT1)
	s.st.CumulativeSurplusT2 = s.st.CumulativeSurplusT2.Add(surplusT2)
	s.st.AnchorRate = effRate
	s.st.LastDirection = dir
	s.st.LastSent = sent
	s.st.LastReceived = received
	s.st.PauseReason = ""

	if s.set.DryRun {
		s.applyVirtual(dir, sent, received)
	}
	s.brk.RecordSuccess()

	if err := s.states.Save(s.st); err != nil {
		log.Error().Err(err).Msg("CRITICAL: trade settled but state save failed")
		return err
	}

	entry := TradeLogEntry{
		Timestamp:     time.Now().UTC(),
		Direction:     dir,
		TxID:          txid,
		Sent:          sent,
		Received:      received,
		EffectiveRate: effRate,
		Asymmetry:     asym,
		SurplusT1:     surplusT1,
		SurplusT2:     surplusT2,
		DryRun:        s.set.DryRun,
	}
	if err := s.trades.Append(entry); err != nil {
		log.Warn().Err(err).Msg("trade log append failed")
	}

	log.Info().
		Str("sent", sent.String()).
		Str("received", received.String()).
		Str("effective_rate", effRate.StringFixed(8)).
		Str("surplus_t1", surplusT1.String()).
		Str("surplus_t2", surplusT2.String()).
		Int("cumulative_trades", s.st.CumulativeTrades).
		Msg("trade completed, anchor moved to realized rate")
	return nil
}

// handleRefund pauses all trading and records what to watch the wallet
// for. Resume lifts the pause once the refund lands.
func (s *Strategy) handleRefund(log zerolog.Logger, from string, amount decimal.Decimal, txid string) error {
	log.Error().Str("txid", txid).Msg("CRITICAL: swap refunded, pausing trading until refund is verified")

	if err := s.brk.Trip("continuous swap refunded", map[string]any{
		"swap_txid": txid,
		"token":     from,
		"amount":    amount.String(),
	}); err != nil {
		return err
	}

	s.st.PauseReason = "awaiting refund"
	s.st.AwaitingRefundSince = time.Now().Unix()
	s.st.RefundToken = from
	s.st.RefundAmount = amount
	return s.states.Save(s.st)
}

func (s *Strategy) tradeFailed(log zerolog.Logger, reason string) error {
	tripped, err := s.brk.RecordFailure(reason, nil)
	if err != nil {
		return err
	}
	if tripped {
		log.Error().Str("reason", reason).Msg("failure threshold reached, pausing trading")
		s.st.PauseReason = reason
		return s.states.Save(s.st)
	}
	return nil
}

// ---------------------------------------------------------------------------
// State and balances
// ---------------------------------------------------------------------------

// ensureState loads persisted state once. Dry runs always start fresh
// with virtual balances seeded from the live wallet, so a simulation
// never replays a real position.
func (s *Strategy) ensureState(ctx context.Context) error {
	if s.st != nil {
		return nil
	}

	if s.set.DryRun {
		s.st = &State{
			StartingBalances: map[string]decimal.Decimal{},
			VirtualBalances:  map[string]decimal.Decimal{},
		}
		for _, token := range []string{s.set.Token1, s.set.Token2} {
			bal, err := s.dex.Balance(ctx, token)
			if err != nil {
				s.log.Warn().Err(err).Str("token", token).Msg("could not seed virtual balance")
				bal = decimal.Zero
			}
			s.st.StartingBalances[token] = bal
			s.st.VirtualBalances[token] = bal
		}
		s.log.Info().Msg("[DRY RUN] starting fresh with virtual balances")
		return nil
	}

	st, err := s.states.Load()
	if err != nil {
		return fmt.Errorf("load continuous state: %w", err)
	}
	s.st = st

	if len(s.st.StartingBalances) == 0 {
		s.st.StartingBalances = map[string]decimal.Decimal{}
		for _, token := range []string{s.set.Token1, s.set.Token2} {
			if bal, err := s.dex.Balance(ctx, token); err == nil {
				s.st.StartingBalances[token] = bal
			}
		}
		return s.states.Save(s.st)
	}
	return nil
}

func (s *Strategy) balance(ctx context.Context, token string) (decimal.Decimal, error) {
	if s.set.DryRun {
		return s.st.VirtualBalances[token], nil
	}
	return s.dex.Balance(ctx, token)
}

func (s *Strategy) applyVirtual(dir Direction, sent, received decimal.Decimal) {
	from, to := s.legTokens(dir)
	s.st.VirtualBalances[from] = s.st.VirtualBalances[from].Sub(sent)
	s.st.VirtualBalances[to] = s.st.VirtualBalances[to].Add(received)
}

func (s *Strategy) legTokens(dir Direction) (from, to string) {
	if dir == Token1ToToken2 {
		return s.set.Token1, s.set.Token2
	}
	return s.set.Token2, s.set.Token1
}
