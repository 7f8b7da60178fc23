package arb

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

// PriceFeed is an optional reference price source, used only for
// logging context alongside checks.
type PriceFeed interface {
	Price(symbol string) (decimal.Decimal, bool)
}

// Strategy is the arbitrage trading variant: one opportunity check per
// tick, executed live unless running dry.
type Strategy struct {
	eval       *Evaluator
	engine     *Engine
	feed       PriceFeed
	feeDex     gateway.DexClient
	feeToken   string
	reportPath string
	dryRun     bool
	log        zerolog.Logger
}

func NewStrategy(eval *Evaluator, engine *Engine, dryRun bool, log zerolog.Logger) *Strategy {
	return &Strategy{
		eval:   eval,
		engine: engine,
		dryRun: dryRun,
		log:    log.With().Str("component", "arbitrage").Logger(),
	}
}

// WithPriceFeed attaches a reference price feed for log context.
func (s *Strategy) WithPriceFeed(feed PriceFeed) *Strategy {
	s.feed = feed
	return s
}

// WithReportPath appends every check's leg report to a file for
// offline review.
func (s *Strategy) WithReportPath(path string) *Strategy {
	s.reportPath = path
	return s
}

// WithFeeTokenCheck verifies before each live cycle that the wallet
// holds at least one taker fee's worth of the venue's fee asset. A
// venue take with an unfunded fee wallet would fail after the order is
// already gone from the book.
func (s *Strategy) WithFeeTokenCheck(dex gateway.DexClient, token string) *Strategy {
	s.feeDex = dex
	s.feeToken = token
	return s
}

func (s *Strategy) Name() string { return "arbitrage" }

// Resume replays interrupted trades from the ledger.
func (s *Strategy) Resume(ctx context.Context) error {
	return s.engine.ResumeAll(ctx)
}

// Tick runs one full arbitrage check across both legs and executes the
// first profitable verdict. Transient evaluation errors skip the cycle.
func (s *Strategy) Tick(ctx context.Context) error {
	checkID := uuid.NewString()
	log := s.log.With().Str("check_id", shortID(checkID)).Logger()

	if !s.canFundFee(ctx, log) {
		return nil
	}

	ev := log.Info().Str("pair", s.eval.PairSymbol())
	if s.feed != nil {
		if ref, ok := s.feed.Price(s.eval.PairSymbol()); ok {
			ev = ev.Str("cex_price", ref.String())
		}
	}
	ev.Msg("checking arbitrage")

	verdict, report, err := s.eval.Check(ctx, checkID)
	if report != "" {
		log.Debug().Msg("arbitrage report:\n" + report)
		s.appendReport(log, report)
	}
	if err != nil {
		log.Warn().Err(err).Msg("evaluation failed, skipping cycle")
		return nil
	}

	if verdict == nil {
		log.Info().Msg("finished check, no opportunity")
		return nil
	}

	log.Info().
		Int("leg", verdict.Direction.Leg()).
		Str("net_profit", verdict.NetProfit.String()).
		Str("ratio_pct", verdict.ProfitRatio.Mul(hundred).StringFixed(2)).
		Msg("arbitrage opportunity found")

	if s.dryRun {
		log.Info().Msg("[DRY RUN] would execute arbitrage")
		return nil
	}
	return s.engine.Execute(ctx, verdict, checkID)
}

// TickSide runs one check restricted to a single book side. A
// profitable verdict executes exactly like a full tick.
func (s *Strategy) TickSide(ctx context.Context, dir Direction) error {
	checkID := uuid.NewString()
	log := s.log.With().Str("check_id", shortID(checkID)).Int("leg", dir.Leg()).Logger()

	if !s.canFundFee(ctx, log) {
		return nil
	}
	log.Info().Str("pair", s.eval.PairSymbol()).Msg("checking single leg")

	verdict, report, err := s.eval.CheckSide(ctx, checkID, dir)
	if report != "" {
		log.Debug().Msg("arbitrage report:\n" + report)
		s.appendReport(log, report)
	}
	if err != nil {
		log.Warn().Err(err).Msg("evaluation failed")
		return nil
	}
	if verdict == nil || !verdict.Profitable {
		log.Info().Msg("finished leg check, no profitable opportunity")
		return nil
	}

	if s.dryRun {
		log.Info().Msg("[DRY RUN] would execute arbitrage")
		return nil
	}
	return s.engine.Execute(ctx, verdict, checkID)
}

// canFundFee checks the fee-asset wallet against one taker fee. Dry
// runs and unconfigured setups always pass; a read error passes too,
// the later balance checks will catch a genuinely broken daemon.
func (s *Strategy) canFundFee(ctx context.Context, log zerolog.Logger) bool {
	if s.dryRun || s.feeDex == nil || s.feeToken == "" {
		return true
	}
	balance, err := s.feeDex.Balance(ctx, s.feeToken)
	if err != nil {
		log.Warn().Err(err).Str("token", s.feeToken).Msg("fee token balance unavailable")
		return true
	}
	fee, err := s.feeDex.FeeEstimate(ctx, s.feeToken)
	if err != nil || !fee.IsPositive() {
		return true
	}
	if balance.LessThan(fee) {
		log.Debug().
			Str("token", s.feeToken).
			Str("have", balance.String()).
			Str("need", fee.String()).
			Msg("fee token balance too low to take an order, skipping cycle")
		return false
	}
	return true
}

func (s *Strategy) appendReport(log zerolog.Logger, report string) {
	if s.reportPath == "" {
		return
	}
	f, err := os.OpenFile(s.reportPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("could not open report file")
		return
	}
	defer f.Close()
	if _, err := f.WriteString(report + "\n"); err != nil {
		log.Warn().Err(err).Msg("could not append report")
	}
}
