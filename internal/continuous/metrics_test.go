package continuous

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNextDirection(t *testing.T) {
	assert.Equal(t, Token2ToToken1, NextDirection(""))
	assert.Equal(t, Token2ToToken1, NextDirection(Token1ToToken2))
	assert.Equal(t, Token1ToToken2, NextDirection(Token2ToToken1))
}

func TestCurrentRateNormalizesToToken2PerToken1(t *testing.T) {
	// selling 1 token1 for 1500 token2
	rate := CurrentRate(dec("1"), dec("1500"), Token1ToToken2)
	assert.True(t, rate.Equal(dec("1500")), "got %s", rate)

	// selling 1500 token2 for 1 token1 is the same rate
	rate = CurrentRate(dec("1500"), dec("1"), Token2ToToken1)
	assert.True(t, rate.Equal(dec("1500")), "got %s", rate)

	assert.True(t, CurrentRate(decimal.Zero, dec("1"), Token1ToToken2).IsZero())
}

func TestAsymmetrySignPerDirection(t *testing.T) {
	anchor := dec("1500")

	// rate above anchor favors selling token1
	asym := Asymmetry(dec("1530"), anchor, Token1ToToken2)
	assert.True(t, asym.Equal(dec("0.02")), "got %s", asym)
	asym = Asymmetry(dec("1530"), anchor, Token2ToToken1)
	assert.True(t, asym.Equal(dec("-0.02")), "got %s", asym)

	// rate below anchor favors selling token2
	asym = Asymmetry(dec("1470"), anchor, Token2ToToken1)
	assert.True(t, asym.Equal(dec("0.02")), "got %s", asym)

	assert.True(t, Asymmetry(dec("1500"), decimal.Zero, Token1ToToken2).IsZero())
}

func TestTradeAmount(t *testing.T) {
	spread := dec("0.02")
	min := dec("1")
	initial := dec("2")

	// compound: send a hair less than last received
	amount := TradeAmount(dec("100"), spread, min, initial, "compound")
	assert.True(t, amount.Equal(dec("99")), "got %s", amount)

	// floored at the minimum trade size
	amount = TradeAmount(dec("0.5"), spread, min, initial, "compound")
	assert.True(t, amount.Equal(min), "got %s", amount)

	// fixed always sends the initial size
	amount = TradeAmount(dec("100"), spread, min, initial, "fixed")
	assert.True(t, amount.Equal(initial), "got %s", amount)

	// no prior trade falls back to the initial size
	amount = TradeAmount(decimal.Zero, spread, min, initial, "compound")
	assert.True(t, amount.Equal(initial), "got %s", amount)
}

func TestSurplusAnchorTradeHasNone(t *testing.T) {
	st := &State{}
	t1, t2 := Surplus(st, Token1ToToken2, dec("1"), dec("1500"))
	assert.True(t, t1.IsZero())
	assert.True(t, t2.IsZero())
}

func TestSurplusAfterRoundTrip(t *testing.T) {
	// previous trade sent 1 token1, received 1530 token2; now sending
	// back 1510 token2 for 1.02 token1
	st := &State{LastSent: dec("1"), LastReceived: dec("1530")}

	t1, t2 := Surplus(st, Token2ToToken1, dec("1510"), dec("1.02"))
	assert.True(t, t1.Equal(dec("0.02")), "t1 surplus %s", t1)
	assert.True(t, t2.Equal(dec("20")), "t2 surplus %s", t2)
}

func TestSurplusClampsAtZero(t *testing.T) {
	st := &State{LastSent: dec("1"), LastReceived: dec("1500")}

	// receiving less than was sent out, sending more than came back
	t1, t2 := Surplus(st, Token2ToToken1, dec("1600"), dec("0.9"))
	assert.True(t, t1.IsZero())
	assert.True(t, t2.IsZero())
}

func TestDualAccumulation(t *testing.T) {
	anchorState := &State{}
	assert.True(t, DualAccumulation(anchorState, dec("1"), dec("1500")))

	st := &State{LastSent: dec("1"), LastReceived: dec("1500")}

	// grows token1 by 0.02 and keeps 15 token2 back
	assert.True(t, DualAccumulation(st, dec("1485"), dec("1.02")))

	// returns less token1 than was sent out
	assert.False(t, DualAccumulation(st, dec("1485"), dec("0.99")))

	// sends out more token2 than was received
	assert.False(t, DualAccumulation(st, dec("1600"), dec("1.02")))

	// exact break-even gains nothing
	assert.False(t, DualAccumulation(st, dec("1500"), dec("1")))
}
