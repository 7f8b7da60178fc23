package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DexClient is the contract to the order-book venue daemon. The core never
// talks RPC directly; everything it needs from the venue goes through here.
type DexClient interface {
	// OrderBook returns the current book for maker/taker, with bids sorted
	// highest price first and asks sorted lowest price first.
	OrderBook(ctx context.Context, maker, taker string) (*OrderBook, error)

	// TakeOrder atomically fills a resting order. Returns the venue-assigned
	// trade ID, or an empty string if the order was gone or the take failed.
	TakeOrder(ctx context.Context, orderID, fromAddress, toAddress string) (string, error)

	// OrderStatus returns the venue's raw status string for a trade.
	OrderStatus(ctx context.Context, tradeID string) (string, error)

	// Balance returns the free (spendable) balance for a token.
	Balance(ctx context.Context, token string) (decimal.Decimal, error)

	// Address returns the wallet address used for trades in a token.
	Address(ctx context.Context, token string) (string, error)

	// FeeEstimate returns the estimated venue transaction fee for a token,
	// denominated in that token.
	FeeEstimate(ctx context.Context, token string) (decimal.Decimal, error)
}

// SwapStatus is the three-valued settlement state of a cross-chain swap.
type SwapStatus string

const (
	SwapSuccess  SwapStatus = "success"
	SwapRefunded SwapStatus = "refunded"
	SwapPending  SwapStatus = "pending"
)

// SwapClient is the contract to the cross-chain swap network.
type SwapClient interface {
	// Quote fetches a swap quote for amount (in coin units) of fromAsset.
	// Returns nil with no error when the pair is invalid or the path is
	// halted server-side; callers treat that as "no opportunity".
	Quote(ctx context.Context, fromAsset, toAsset string, amount decimal.Decimal) (*SwapQuote, error)

	// PathStatus reports whether the route fromChain -> toChain is currently
	// accepting swaps, with a human-readable reason when it is not.
	PathStatus(ctx context.Context, fromChain, toChain string) (bool, string, error)

	// InitiateSwap broadcasts the swap-with-memo transaction. Returns the
	// txid, or an empty string on broadcast failure. There is no cancel;
	// once this returns a txid the funds are in flight.
	InitiateSwap(ctx context.Context, fromToken, toAddress string, amount decimal.Decimal, memo string) (string, error)

	// TxStatus maps the network's view of a swap tx to SwapStatus.
	TxStatus(ctx context.Context, txid string) (SwapStatus, error)

	// ActualReceived returns the settled outbound amount for a successful
	// swap, in coin units of the destination asset.
	ActualReceived(ctx context.Context, txid string) (decimal.Decimal, error)
}

// WalletClient exposes the wallet-node queries the refund verifier needs.
type WalletClient interface {
	// ListReceived returns recent incoming transactions for a token wallet,
	// newest last. Implementations may cap the window; 500 entries is enough
	// for refund verification.
	ListReceived(ctx context.Context, token string) ([]ReceivedTx, error)
}

// OrderBookEntry is one resting order on the venue.
type OrderBookEntry struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	ID     string          `json:"id"`
}

// OrderBook is a venue book snapshot. Sorting is the client's job: bids
// high to low, asks low to high, best price first.
type OrderBook struct {
	Bids []OrderBookEntry `json:"bids"`
	Asks []OrderBookEntry `json:"asks"`
}

// SwapQuote is a normalized swap-network quote. Amounts are in coin units
// (the client converts from the network's 1e8 integer base units).
type SwapQuote struct {
	ExpectedOut    decimal.Decimal `json:"expected_amount_out"`
	OutboundFee    decimal.Decimal `json:"outbound_fee"`
	Memo           string          `json:"memo"`
	InboundAddress string          `json:"inbound_address"`
	Destination    string          `json:"destination"`
	Expiry         time.Time       `json:"expiry"`
}

// NetOut is the expected output after the network's outbound fee.
func (q *SwapQuote) NetOut() decimal.Decimal {
	return q.ExpectedOut.Sub(q.OutboundFee)
}

// Valid reports whether the quote carries everything needed to execute.
func (q *SwapQuote) Valid() bool {
	return q != nil && q.ExpectedOut.IsPositive() && q.Memo != "" && q.InboundAddress != ""
}

// ReceivedTx is one incoming wallet transaction.
type ReceivedTx struct {
	TxID       string          `json:"txid"`
	Amount     decimal.Decimal `json:"amount"`
	ReceivedAt time.Time       `json:"time_received"`
	Abandoned  bool            `json:"abandoned"`
}
