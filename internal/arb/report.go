package arb

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/crossdex-trading/crossarb/internal/gateway"
)

var hundred = decimal.NewFromInt(100)

// renderLegReport formats the cost and fee breakdown for one evaluated
// leg. Emitted at debug level so a full cycle's math can be audited from
// the logs.
func renderLegReport(token1, token2 string, dir Direction, order gateway.OrderBookEntry,
	cost, venueFee decimal.Decimal, quote *gateway.SwapQuote, net, ratio decimal.Decimal) string {

	gross := quote.ExpectedOut
	outFee := quote.OutboundFee
	netRecv := gross.Sub(outFee)

	feePct := func(part, whole decimal.Decimal) string {
		if !whole.IsPositive() {
			return "0.00"
		}
		return part.Div(whole).Mul(hundred).StringFixed(2)
	}

	var b strings.Builder
	if dir == DirectionSellMakerBuySwap {
		fmt.Fprintf(&b, "  Leg 1: Sell %s on venue -> Buy %s via swap\n", token1, token1)
		fmt.Fprintf(&b, "    - Venue Trade:  Sell %s %s -> Receive %s %s (at %s %s/%s)\n",
			order.Amount.StringFixed(8), token1, order.Amount.Mul(order.Price).StringFixed(8), token2,
			order.Price.StringFixed(8), token2, token1)
		fmt.Fprintf(&b, "    - Venue TX Fee: %s %s (%s%%)\n", venueFee.StringFixed(8), token1, feePct(venueFee, cost))
		fmt.Fprintf(&b, "    - Swap:         Sell %s %s -> Gross Receive %s %s\n",
			order.Amount.Mul(order.Price).StringFixed(8), token2, gross.StringFixed(8), token1)
		fmt.Fprintf(&b, "    - Swap Fee:     %s %s (%s%%)\n", outFee.StringFixed(8), token1, feePct(outFee, gross))
		fmt.Fprintf(&b, "    - Net Receive:  %s %s\n", netRecv.StringFixed(8), token1)
		fmt.Fprintf(&b, "    - Net Profit:   %s%% (%s %s)", ratio.Mul(hundred).StringFixed(2), net.StringFixed(8), token1)
	} else {
		fmt.Fprintf(&b, "  Leg 2: Buy %s on venue -> Sell %s via swap\n", token1, token1)
		fmt.Fprintf(&b, "    - Venue Trade:  Sell %s %s -> Receive %s %s (at %s %s/%s)\n",
			cost.StringFixed(8), token2, order.Amount.StringFixed(8), token1,
			order.Price.StringFixed(8), token2, token1)
		fmt.Fprintf(&b, "    - Venue TX Fee: %s %s (%s%%)\n", venueFee.StringFixed(8), token2, feePct(venueFee, cost))
		fmt.Fprintf(&b, "    - Swap:         Sell %s %s -> Gross Receive %s %s\n",
			order.Amount.StringFixed(8), token1, gross.StringFixed(8), token2)
		fmt.Fprintf(&b, "    - Swap Fee:     %s %s (%s%%)\n", outFee.StringFixed(8), token2, feePct(outFee, gross))
		fmt.Fprintf(&b, "    - Net Receive:  %s %s\n", netRecv.StringFixed(8), token2)
		fmt.Fprintf(&b, "    - Net Profit:   %s%% (%s %s)", ratio.Mul(hundred).StringFixed(2), net.StringFixed(8), token2)
	}
	return b.String()
}
