package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// refundTolerance accounts for network gas deducted from refunds; a
// refund of at least 99% of the sent amount counts as received in full.
var refundTolerance = decimal.RequireFromString("0.99")

// VerifyRefund looks for an incoming wallet transaction of at least 99%
// of the refunded amount, received after the wait began. Transient
// wallet RPC failures are retried up to attempts times with delay
// between tries; walking the list newest first keeps the common case
// cheap.
func VerifyRefund(ctx context.Context, wallet WalletClient, log zerolog.Logger,
	token string, expected decimal.Decimal, since int64, attempts int, delay time.Duration) bool {
	minAmount := expected.Mul(refundTolerance)

	for attempt := 1; attempt <= attempts; attempt++ {
		txs, err := wallet.ListReceived(ctx, token)
		if err == nil {
			for i := len(txs) - 1; i >= 0; i-- {
				tx := txs[i]
				if since > 0 && tx.ReceivedAt.Unix() < since {
					continue
				}
				if tx.Abandoned || tx.Amount.LessThan(minAmount) {
					continue
				}
				log.Info().
					Str("txid", tx.TxID).
					Str("amount", tx.Amount.String()).
					Msg("found refund transaction")
				return true
			}
			return false
		}

		log.Warn().Err(err).Int("attempt", attempt).Int("max", attempts).Msg("wallet transaction list failed")
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}
	}
	log.Error().Str("token", token).Msg("failed to verify refund after retries")
	return false
}
