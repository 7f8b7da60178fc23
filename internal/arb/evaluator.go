// Package arb implements the two-legged cross-venue arbitrage core: the
// opportunity evaluator, the execution engine with its persisted state
// machine, and crash resumption.
package arb

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

// Direction identifies which leg of the book is being taken.
type Direction string

const (
	// DirectionSellMakerBuySwap takes a bid: sell token1 on the venue,
	// buy it back through the swap network.
	DirectionSellMakerBuySwap Direction = "LEG_SELL_MAKER_BUY_SWAP"
	// DirectionBuyMakerSellSwap takes an ask: buy token1 on the venue,
	// sell it through the swap network.
	DirectionBuyMakerSellSwap Direction = "LEG_BUY_MAKER_SELL_SWAP"
)

// Leg returns the numeric leg tag used in reports and ledger records.
func (d Direction) Leg() int {
	if d == DirectionSellMakerBuySwap {
		return 1
	}
	return 2
}

// Opportunity carries everything the execution engine needs to act on a
// profitable verdict.
type Opportunity struct {
	Direction      Direction
	OrderID        string
	OrderPrice     decimal.Decimal
	OrderAmount    decimal.Decimal
	Cost           decimal.Decimal
	VenueFee       decimal.Decimal
	VenueFromToken string
	VenueToToken   string
	SwapAmount     decimal.Decimal
	SwapFromToken  string
	SwapToToken    string
	Quote          *gateway.SwapQuote
	PairSymbol     string
}

// Verdict is the evaluator's answer for one leg. A nil Opportunity means
// the quote was unusable; Profitable is only ever true with a populated
// Opportunity.
type Verdict struct {
	Direction   Direction
	Profitable  bool
	NetProfit   decimal.Decimal
	ProfitRatio decimal.Decimal
	Report      string
	Opportunity *Opportunity
}

// ---------------------------------------------------------------------------
// Evaluator
// ---------------------------------------------------------------------------

// Evaluator scans one side of the venue book, finds the first affordable
// order, prices it against a single swap quote and renders a verdict.
type Evaluator struct {
	dex       gateway.DexClient
	swap      gateway.SwapClient
	token1    string
	token2    string
	minMargin decimal.Decimal
	maxSize   decimal.Decimal // cap on venue-leg cost; zero disables
	dryRun    bool
	log       zerolog.Logger
}

func NewEvaluator(dex gateway.DexClient, swap gateway.SwapClient, token1, token2 string,
	minMargin decimal.Decimal, dryRun bool, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		dex:       dex,
		swap:      swap,
		token1:    token1,
		token2:    token2,
		minMargin: minMargin,
		dryRun:    dryRun,
		log:       log.With().Str("component", "evaluator").Logger(),
	}
}

// WithMaxTradeSize caps how much the venue leg may spend on a single
// order. Orders costing more than the cap are skipped in favor of
// smaller ones deeper in the book. A zero or negative cap disables it.
func (e *Evaluator) WithMaxTradeSize(max decimal.Decimal) *Evaluator {
	e.maxSize = max
	return e
}

// PairSymbol renders the trading pair as "T1/T2".
func (e *Evaluator) PairSymbol() string { return e.token1 + "/" + e.token2 }

// EvaluateSide walks one sorted book side best price first. Orders the
// wallet cannot fund are skipped; the first affordable order is priced
// with exactly one swap quote and the verdict is returned whether or not
// it is profitable. A nil verdict means no opportunity on this side.
func (e *Evaluator) EvaluateSide(ctx context.Context, orders []gateway.OrderBookEntry,
	dir Direction, checkID string) (*Verdict, error) {
	if len(orders) == 0 {
		return nil, nil
	}
	log := e.log.With().Str("check_id", shortID(checkID)).Logger()

	for _, order := range orders {
		var (
			balanceToken string
			required     decimal.Decimal
			cost         decimal.Decimal
			swapAmount   decimal.Decimal
			swapFrom     string
			swapTo       string
		)
		if dir == DirectionSellMakerBuySwap {
			// take a bid: give token1 on the venue, swap the received
			// token2 back into token1
			balanceToken = e.token1
			required = order.Amount
			cost = order.Amount
			swapAmount = order.Amount.Mul(order.Price)
			swapFrom, swapTo = e.token2, e.token1
		} else {
			// take an ask: give token2 on the venue, swap the received
			// token1 back into token2
			balanceToken = e.token2
			required = order.Amount.Mul(order.Price)
			cost = required
			swapAmount = order.Amount
			swapFrom, swapTo = e.token1, e.token2
		}

		if e.maxSize.IsPositive() && cost.GreaterThan(e.maxSize) {
			log.Debug().
				Str("cost", cost.String()).
				Str("max_trade_size", e.maxSize.String()).
				Msg("order exceeds trade size cap, checking next order")
			continue
		}

		if !e.dryRun {
			balance, err := e.dex.Balance(ctx, balanceToken)
			if err != nil {
				log.Warn().Err(err).Str("token", balanceToken).Msg("balance check failed, skipping order")
				continue
			}
			if balance.LessThan(required) {
				log.Debug().
					Str("order_id", order.ID).
					Str("need", required.String()).
					Str("have", balance.String()).
					Msg("insufficient balance, checking next order")
				continue
			}
		}

		venueFee, err := e.dex.FeeEstimate(ctx, balanceToken)
		if err != nil {
			log.Warn().Err(err).Str("token", balanceToken).Msg("fee estimate unavailable, assuming zero")
			venueFee = decimal.Zero
		}

		log.Debug().
			Str("order_id", order.ID).
			Str("amount", order.Amount.String()).
			Str("price", order.Price.String()).
			Msg("found affordable order, evaluating")

		// path must accept swaps before a quote is worth fetching
		active, reason, err := e.swap.PathStatus(ctx, swapFrom, swapTo)
		if err != nil {
			log.Warn().Err(err).Msg("path status check failed, skipping leg")
			return nil, nil
		}
		if !active {
			log.Warn().Str("reason", reason).Msg("swap path halted, skipping leg")
			return nil, nil
		}

		// one quote per evaluation; the first affordable order decides
		quote, err := e.swap.Quote(ctx, swapFrom, swapTo, swapAmount)
		if err != nil {
			log.Debug().Err(err).Msg("swap quote fetch failed")
			return nil, nil
		}
		if quote == nil || !quote.ExpectedOut.IsPositive() {
			log.Debug().Msg("swap quote invalid")
			return nil, nil
		}

		net, ratio, profitable := Profitability(cost, quote.ExpectedOut, quote.OutboundFee, venueFee, e.minMargin)

		opp := &Opportunity{
			Direction:      dir,
			OrderID:        order.ID,
			OrderPrice:     order.Price,
			OrderAmount:    order.Amount,
			Cost:           cost,
			VenueFee:       venueFee,
			VenueFromToken: balanceToken,
			VenueToToken:   swapFrom,
			SwapAmount:     swapAmount,
			SwapFromToken:  swapFrom,
			SwapToToken:    swapTo,
			Quote:          quote,
			PairSymbol:     e.PairSymbol(),
		}
		if quote.Memo == "" || quote.InboundAddress == "" {
			// quote is priceable but not executable
			opp = nil
		}

		v := &Verdict{
			Direction:   dir,
			Profitable:  profitable && opp != nil,
			NetProfit:   net,
			ProfitRatio: ratio,
			Opportunity: opp,
		}
		v.Report = renderLegReport(e.token1, e.token2, dir, order, cost, venueFee, quote, net, ratio)
		return v, nil
	}

	// no affordable orders on this side
	return nil, nil
}

// Check fetches the book, sorts both sides best price first and evaluates
// both legs. Returns the first profitable verdict (bid leg wins ties) and
// the combined report for debug logging.
func (e *Evaluator) Check(ctx context.Context, checkID string) (*Verdict, string, error) {
	book, err := e.dex.OrderBook(ctx, e.token1, e.token2)
	if err != nil {
		return nil, "", fmt.Errorf("fetch order book: %w", err)
	}

	SortBookSides(book)

	bidVerdict, err := e.EvaluateSide(ctx, book.Bids, DirectionSellMakerBuySwap, checkID)
	if err != nil {
		return nil, "", err
	}
	askVerdict, err := e.EvaluateSide(ctx, book.Asks, DirectionBuyMakerSellSwap, checkID)
	if err != nil {
		return nil, "", err
	}

	var reports []string
	for _, v := range []*Verdict{bidVerdict, askVerdict} {
		if v != nil && v.Report != "" {
			reports = append(reports, v.Report)
		}
	}
	report := strings.Join(reports, "\n")

	if bidVerdict != nil && bidVerdict.Profitable {
		return bidVerdict, report, nil
	}
	if askVerdict != nil && askVerdict.Profitable {
		return askVerdict, report, nil
	}
	return nil, report, nil
}

// CheckSide fetches the book and evaluates a single leg. Used by the
// one-leg test mode; a full check evaluates both legs via Check.
func (e *Evaluator) CheckSide(ctx context.Context, checkID string, dir Direction) (*Verdict, string, error) {
	book, err := e.dex.OrderBook(ctx, e.token1, e.token2)
	if err != nil {
		return nil, "", fmt.Errorf("fetch order book: %w", err)
	}

	SortBookSides(book)

	orders := book.Bids
	if dir == DirectionBuyMakerSellSwap {
		orders = book.Asks
	}
	v, err := e.EvaluateSide(ctx, orders, dir, checkID)
	if err != nil || v == nil {
		return nil, "", err
	}
	return v, v.Report, nil
}

// Profitability is the pure profit calculation shared by evaluation and
// resumption. Net profit is the swap output after the network's outbound
// fee, minus what the venue leg cost and its taker fee. A trade is
// profitable only when net profit is positive and the margin strictly
// exceeds minMargin; a zero-cost order is never profitable.
func Profitability(cost, gross, outboundFee, venueFee, minMargin decimal.Decimal) (net, ratio decimal.Decimal, profitable bool) {
	net = gross.Sub(outboundFee).Sub(cost).Sub(venueFee)
	if !cost.IsPositive() {
		return net, decimal.Zero, false
	}
	ratio = net.Div(cost)
	profitable = net.IsPositive() && ratio.GreaterThan(minMargin)
	return net, ratio, profitable
}

// SortBookSides enforces best price first: bids high to low, asks low to
// high. The venue does not guarantee ordering.
func SortBookSides(book *gateway.OrderBook) {
	sortEntries(book.Bids, true)
	sortEntries(book.Asks, false)
}

func sortEntries(entries []gateway.OrderBookEntry, descending bool) {
	sort.SliceStable(entries, func(i, j int) bool {
		if descending {
			return entries[i].Price.GreaterThan(entries[j].Price)
		}
		return entries[i].Price.LessThan(entries[j].Price)
	})
}

// shortID truncates a check ID for log correlation.
func shortID(checkID string) string {
	if len(checkID) > 8 {
		return checkID[:8]
	}
	return checkID
}
