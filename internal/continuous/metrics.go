package continuous

import (
	"time"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// CurrentRate normalizes a quote to token2 per token1, whatever the
// trade direction. amountIn and netOut are in the direction's own units.
func CurrentRate(amountIn, netOut decimal.Decimal, dir Direction) decimal.Decimal {
	if amountIn.IsZero() || netOut.IsZero() {
		return decimal.Zero
	}
	if dir == Token1ToToken2 {
		return netOut.Div(amountIn)
	}
	return amountIn.Div(netOut)
}

// EffectiveRate is the realized rate of a settled trade, normalized to
// token2 per token1.
func EffectiveRate(sent, received decimal.Decimal, dir Direction) decimal.Decimal {
	return CurrentRate(sent, received, dir)
}

// Asymmetry is the relative deviation of the current rate from the
// anchor, signed so that positive always means favorable for the given
// direction. Selling token1 profits when the rate rose above the
// anchor; selling token2 profits when it fell below.
func Asymmetry(current, anchor decimal.Decimal, dir Direction) decimal.Decimal {
	if anchor.IsZero() {
		return decimal.Zero
	}
	if dir == Token1ToToken2 {
		return current.Sub(anchor).Div(anchor)
	}
	return anchor.Sub(current).Div(anchor)
}

// TradeAmount sizes the next alternating trade. Compound sizing sends
// slightly less than the last trade received, keeping half the target
// spread in the wallet each cycle; fixed sizing always sends the
// configured initial size. Either way the amount never drops below the
// minimum trade size.
func TradeAmount(lastReceived, targetSpread, minSize, initialSize decimal.Decimal, policy string) decimal.Decimal {
	if policy == "fixed" || lastReceived.IsZero() {
		if initialSize.LessThan(minSize) {
			return minSize
		}
		return initialSize
	}
	amount := lastReceived.Mul(decimal.NewFromInt(1).Sub(targetSpread.Div(two)))
	if amount.LessThan(minSize) {
		return minSize
	}
	return amount
}

// Surplus computes how much of each token the pending trade locks in
// relative to the previous (opposite direction) trade. The received
// surplus is what comes back beyond what was sent out last time; the
// sent surplus is what stays in the wallet because this trade sends
// less than was last received. Both clamp at zero. The anchor trade has
// no predecessor and yields no surplus.
func Surplus(st *State, dir Direction, amountSent, netOut decimal.Decimal) (t1, t2 decimal.Decimal) {
	if st.LastSent.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	surplusReceived := decimal.Max(netOut.Sub(st.LastSent), decimal.Zero)
	surplusSent := decimal.Max(st.LastReceived.Sub(amountSent), decimal.Zero)

	if dir == Token1ToToken2 {
		// receiving token2, holding back token1
		return surplusSent, surplusReceived
	}
	return surplusReceived, surplusSent
}

// DualAccumulation reports whether completing the pending trade grows
// the position in both tokens over the round trip: the trade returns at
// least what was last sent of the received token, sends no more than
// was last received of the sent token, and gains somewhere. The anchor
// trade passes trivially.
func DualAccumulation(st *State, amountSent, netOut decimal.Decimal) bool {
	if st.LastSent.IsZero() {
		return true
	}
	deltaReceived := netOut.Sub(st.LastSent)
	deltaSent := st.LastReceived.Sub(amountSent)
	if deltaReceived.IsNegative() || deltaSent.IsNegative() {
		return false
	}
	return deltaReceived.Add(deltaSent).IsPositive()
}

// TradeLogEntry is one line of the append-only trade log.
type TradeLogEntry struct {
	Timestamp     time.Time       `json:"timestamp"`
	Direction     Direction       `json:"direction"`
	TxID          string          `json:"txid"`
	Sent          decimal.Decimal `json:"sent"`
	Received      decimal.Decimal `json:"received"`
	EffectiveRate decimal.Decimal `json:"effective_rate"`
	Asymmetry     decimal.Decimal `json:"asymmetry"`
	SurplusT1     decimal.Decimal `json:"surplus_t1"`
	SurplusT2     decimal.Decimal `json:"surplus_t2"`
	DryRun        bool            `json:"dry_run,omitempty"`
}
