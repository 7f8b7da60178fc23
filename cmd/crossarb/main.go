package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/crossdex-trading/crossarb/internal/arb"
	"github.com/crossdex-trading/crossarb/internal/breaker"
	"github.com/crossdex-trading/crossarb/internal/config"
	"github.com/crossdex-trading/crossarb/internal/continuous"
	"github.com/crossdex-trading/crossarb/internal/gateway/thorchain"
	"github.com/crossdex-trading/crossarb/internal/gateway/walletrpc"
	"github.com/crossdex-trading/crossarb/internal/gateway/xbridge"
	"github.com/crossdex-trading/crossarb/internal/jsonl"
	"github.com/crossdex-trading/crossarb/internal/ledger"
	"github.com/crossdex-trading/crossarb/internal/strategy"
	"github.com/crossdex-trading/crossarb/internal/ticker"
)

func main() {
	var (
		configPath   = flag.String("config", "config/config.yaml", "path to the YAML configuration")
		strategyName = flag.String("strategy", "", "override configured strategy (arbitrage|continuous)")
		dryRun       = flag.Bool("dry-run", false, "force dry-run mode regardless of config")
		minMargin    = flag.Float64("min-margin", -1, "override minimum profit margin (ratio, e.g. 0.02)")
		testMode     = flag.Bool("test-mode", false, "use the _test ledger directory")
		oneShot      = flag.Bool("one-shot", false, "run a single cycle and exit")
		testLeg      = flag.String("test-leg", "", "evaluate a single book side (bid|ask) once and exit")
		selfTest     = flag.Bool("self-test", false, "check daemon and network connectivity and exit")
	)
	flag.Parse()

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *strategyName != "" {
		cfg.General.Strategy = *strategyName
	}
	if *dryRun {
		cfg.General.DryRun = true
	}
	if *minMargin >= 0 {
		cfg.Arbitrage.MinMargin = *minMargin
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	setupLogging(cfg)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("strategy", cfg.General.Strategy).
		Str("pair", cfg.Pair.Symbol()).
		Bool("dry_run", cfg.General.DryRun).
		Msg("crossarb starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// ---- gateways ----

	dex := xbridge.New(cfg.XBridge.RPCURL, cfg.XBridge.RPCUser, cfg.XBridge.RPCPassword,
		cfg.XBridge.Timeout(), cfg.XBridge.FeeEstimatesDecimal(), log.Logger)
	wallet := walletrpc.New(cfg.Wallet.RPCURLs, cfg.Wallet.RPCUser, cfg.Wallet.RPCPassword,
		cfg.Thorchain.Timeout(), log.Logger)
	swap := thorchain.New(cfg.Thorchain.NodeURL, cfg.Wallet.Addresses, wallet,
		cfg.Thorchain.Timeout(), log.Logger)

	if *selfTest {
		os.Exit(runSelfTest(ctx, cfg, dex, swap))
	}

	// ---- shared infrastructure ----

	store, err := ledger.NewStore(cfg.Storage.LedgerDir, *testMode, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open trade ledger")
	}
	brk := breaker.New(store.Dir(), cfg.Breaker.FailureThreshold, log.Logger)

	strat, cleanup, err := buildStrategy(cfg, dex, swap, wallet, store, brk)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build strategy")
	}
	defer cleanup()

	if *testLeg != "" {
		os.Exit(runTestLeg(ctx, strat, *testLeg))
	}

	if *oneShot {
		if err := strat.Resume(ctx); err != nil {
			log.Error().Err(err).Msg("resumption reported errors")
		}
		if err := strat.Tick(ctx); err != nil {
			log.Error().Err(err).Msg("cycle reported errors")
			os.Exit(1)
		}
		log.Info().Msg("one-shot cycle complete")
		return
	}

	interval := time.Duration(cfg.Arbitrage.IntervalSeconds) * time.Second
	if cfg.General.Strategy == "continuous" {
		interval = time.Duration(cfg.Continuous.IntervalSeconds) * time.Second
	}
	runner := strategy.NewRunner(strat, brk, interval, log.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runner.Run(gctx) })
	if cfg.Ticker.Enabled {
		feed := ticker.New(cfg.Ticker.WSURL, cfg.Ticker.Symbols, log.Logger)
		if arbStrat, ok := strat.(*arb.Strategy); ok {
			arbStrat.WithPriceFeed(feed)
		}
		g.Go(func() error { return feed.Run(gctx) })
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("crossarb stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("crossarb shutdown complete")
}

// runTestLeg evaluates one book side once, executing it if profitable,
// and reports the outcome through the exit code.
func runTestLeg(ctx context.Context, strat strategy.Strategy, leg string) int {
	arbStrat, ok := strat.(*arb.Strategy)
	if !ok {
		log.Error().Msg("-test-leg requires the arbitrage strategy")
		return 1
	}

	var dir arb.Direction
	switch leg {
	case "bid":
		dir = arb.DirectionSellMakerBuySwap
	case "ask":
		dir = arb.DirectionBuyMakerSellSwap
	default:
		log.Error().Str("leg", leg).Msg("unknown leg, expected bid or ask")
		return 1
	}

	if err := arbStrat.TickSide(ctx, dir); err != nil {
		log.Error().Err(err).Msg("leg check reported errors")
		return 1
	}
	log.Info().Str("leg", leg).Msg("leg check complete")
	return 0
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.General.LogLevel)
	if err != nil || cfg.General.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if cfg.General.LogFormat == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	log.Logger = log.Logger.With().Str("service", "crossarb").Logger()
}

// buildStrategy wires the configured trading variant. The returned
// cleanup closes variant-owned resources.
func buildStrategy(cfg *config.Config, dex *xbridge.Client, swap *thorchain.Client,
	wallet *walletrpc.Client, store *ledger.Store, brk *breaker.Breaker) (strategy.Strategy, func(), error) {
	switch cfg.General.Strategy {
	case "arbitrage":
		eval := arb.NewEvaluator(dex, swap, cfg.Pair.Token1, cfg.Pair.Token2,
			cfg.Arbitrage.MinMarginDecimal(), cfg.General.DryRun, log.Logger)
		if cfg.Arbitrage.MaxTradeSize > 0 {
			eval.WithMaxTradeSize(cfg.Arbitrage.MaxTradeSizeDecimal())
		}
		mon := arb.MonitorSettings{
			OrderTimeout:  cfg.Monitor.OrderTimeout(),
			OrderInterval: cfg.Monitor.OrderInterval(),
			SwapTimeout:   cfg.Monitor.SwapTimeout(),
			SwapInterval:  cfg.Monitor.SwapInterval(),
		}
		engine := arb.NewEngine(dex, swap, wallet, store, brk, mon,
			cfg.Arbitrage.MinMarginDecimal(), log.Logger)
		strat := arb.NewStrategy(eval, engine, cfg.General.DryRun, log.Logger)
		strat.WithFeeTokenCheck(dex, cfg.XBridge.FeeToken)
		if cfg.Arbitrage.ReportPath != "" {
			strat.WithReportPath(cfg.Arbitrage.ReportPath)
		}
		return strat, func() {}, nil

	case "continuous":
		states := continuous.NewStateStore(cfg.Continuous.StatePath, log.Logger)
		trades := jsonl.New(cfg.Continuous.TradeLogPath)
		set := continuous.Settings{
			Token1:       cfg.Pair.Token1,
			Token2:       cfg.Pair.Token2,
			TargetSpread: cfg.Continuous.TargetSpreadDecimal(),
			MinTradeSize: cfg.Continuous.MinTradeSizeDecimal(),
			InitialSize:  cfg.Continuous.InitialSizeDecimal(),
			SizingPolicy: cfg.Continuous.SizingPolicy,
			MaxAsymmetry: cfg.Continuous.MaxAsymmetryDecimal(),
			SwapTimeout:  cfg.Monitor.SwapTimeout(),
			SwapInterval: cfg.Monitor.SwapInterval(),
			DryRun:       cfg.General.DryRun,
		}
		strat := continuous.New(swap, dex, wallet, states, trades, brk, set, log.Logger)
		return strat, func() { _ = trades.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown strategy: %s", cfg.General.Strategy)
}

// runSelfTest checks that the DEX daemon and the swap network answer
// before any trading starts.
func runSelfTest(ctx context.Context, cfg *config.Config, dex *xbridge.Client, swap *thorchain.Client) int {
	code := 0

	bal, err := dex.Balance(ctx, cfg.Pair.Token1)
	if err != nil {
		log.Error().Err(err).Str("token", cfg.Pair.Token1).Msg("self-test: DEX daemon unreachable")
		code = 1
	} else {
		log.Info().Str("token", cfg.Pair.Token1).Str("balance", bal.String()).Msg("self-test: DEX daemon ok")
	}

	open, reason, err := swap.PathStatus(ctx, cfg.Pair.Token1, cfg.Pair.Token2)
	switch {
	case err != nil:
		log.Error().Err(err).Msg("self-test: swap network unreachable")
		code = 1
	case !open:
		log.Warn().Str("reason", reason).Msg("self-test: swap path currently halted")
	default:
		log.Info().Msg("self-test: swap network ok")
	}

	quote, err := swap.Quote(ctx, cfg.Pair.Token1, cfg.Pair.Token2, decimal.NewFromInt(1))
	switch {
	case err != nil:
		log.Error().Err(err).Msg("self-test: quote failed")
		code = 1
	case quote == nil:
		log.Warn().Msg("self-test: no quote available for the pair")
	default:
		log.Info().Str("expected_out", quote.ExpectedOut.String()).Msg("self-test: quote ok")
	}

	if code == 0 {
		log.Info().Msg("self-test passed")
	}
	return code
}
