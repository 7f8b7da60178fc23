// Package ledger persists one JSON file per in-flight trade so a crash
// at any point can be recovered from disk. Successful trades remove
// their file; failed trades move it into an archive directory with the
// failure reason in the file name.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Statuses
// ---------------------------------------------------------------------------

// Status is the last durable checkpoint a trade passed.
type Status string

const (
	// StatusXBridgeInitiated: the order-book leg was submitted but not
	// yet confirmed finished.
	StatusXBridgeInitiated Status = "XBRIDGE_INITIATED"
	// StatusXBridgeConfirmed: the order-book leg finished; the swap leg
	// has not been broadcast.
	StatusXBridgeConfirmed Status = "XBRIDGE_CONFIRMED"
	// StatusSwapInitiated: the swap transaction was broadcast.
	StatusSwapInitiated Status = "THORCHAIN_INITIATED"
	// StatusAwaitingRefund: the swap was refunded on-chain and the
	// refund has not yet been verified in the local wallet.
	StatusAwaitingRefund Status = "AWAITING_REFUND"
)

// Archive reasons. These become part of the archived file name, so they
// must stay file-name safe.
const (
	ReasonXBridgeMonitorFailed = "xbridge-monitor-failed"
	ReasonResumedXBFailed      = "resumed-xb-failed"
	ReasonUnprofitable         = "unprofitable"
	ReasonRefundConfirmed      = "refund-confirmed"
	ReasonUnknownResumeStatus  = "unknown-resume-status"
	ReasonExecutionError       = "execution-error"
)

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

// ExecutionData carries everything needed to resume the trade from any
// checkpoint: the taken order, the quoted swap, amounts and the pair.
type ExecutionData struct {
	XBridgeOrderID           string          `json:"xbridge_order_id"`
	XBridgeFromAmount        decimal.Decimal `json:"xbridge_from_amount"`
	XBridgeFee               decimal.Decimal `json:"xbridge_fee"`
	ThorchainMemo            string          `json:"thorchain_memo"`
	ThorchainInboundAddr     string          `json:"thorchain_inbound_address"`
	ThorchainDestinationAddr string          `json:"thorchain_destination_address,omitempty"`
	ThorchainSwapAmount      decimal.Decimal `json:"thorchain_swap_amount"`
	ThorchainExpectedOut     decimal.Decimal `json:"thorchain_expected_out"`
	ThorchainOutboundFee     decimal.Decimal `json:"thorchain_outbound_fee"`
	Leg                      string          `json:"leg"`
	PairSymbol               string          `json:"pair_symbol"`
	FromToken                string          `json:"from_token"`
	ToToken                  string          `json:"to_token"`
}

// Record is one persisted trade state file.
type Record struct {
	CheckID             string        `json:"check_id"`
	Status              Status        `json:"status"`
	Timestamp           time.Time     `json:"timestamp"`
	TradeID             string        `json:"trade_id,omitempty"`
	SwapTxID            string        `json:"swap_tx_id,omitempty"`
	AwaitingRefundSince int64         `json:"awaiting_refund_since,omitempty"`
	Execution           ExecutionData `json:"execution"`
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store reads and writes trade records under a single directory.
// Writes are atomic: the record is written to a temp file and renamed
// into place, so a crash never leaves a half-written record.
type Store struct {
	dir     string
	archive string
	log     zerolog.Logger
}

// NewStore opens (creating if needed) the ledger directory. When
// testMode is set the directory gets a "_test" suffix so live and test
// runs never share state.
func NewStore(dir string, testMode bool, log zerolog.Logger) (*Store, error) {
	if testMode {
		dir = strings.TrimRight(dir, "/") + "_test"
	}
	archive := filepath.Join(dir, "archive")
	if err := os.MkdirAll(archive, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir: %w", err)
	}
	return &Store{
		dir:     dir,
		archive: archive,
		log:     log.With().Str("component", "ledger").Logger(),
	}, nil
}

// Dir returns the ledger directory path.
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(checkID string) string {
	return filepath.Join(s.dir, checkID+".json")
}

// Save writes rec atomically, stamping the current time.
func (s *Store) Save(rec *Record) error {
	rec.Timestamp = time.Now().UTC()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger: marshal %s: %w", rec.CheckID, err)
	}

	final := s.path(rec.CheckID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("ledger: write temp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("ledger: rename: %w", err)
	}

	s.log.Debug().
		Str("check_id", rec.CheckID).
		Str("status", string(rec.Status)).
		Msg("record saved")
	return nil
}

// Delete removes the record file after a fully successful trade.
func (s *Store) Delete(checkID string) error {
	if err := os.Remove(s.path(checkID)); err != nil {
		return fmt.Errorf("ledger: delete %s: %w", checkID, err)
	}
	s.log.Info().Str("check_id", checkID).Msg("record deleted after success")
	return nil
}

// Archive moves the record into the archive directory as
// <check_id>-<reason>-<unix_ts>.json. The record file must exist.
func (s *Store) Archive(checkID, reason string) error {
	name := fmt.Sprintf("%s-%s-%d.json", checkID, reason, time.Now().Unix())
	dst := filepath.Join(s.archive, name)
	if err := os.Rename(s.path(checkID), dst); err != nil {
		return fmt.Errorf("ledger: archive %s: %w", checkID, err)
	}
	s.log.Warn().
		Str("check_id", checkID).
		Str("reason", reason).
		Str("archived_as", name).
		Msg("record archived")
	return nil
}

// Load reads a single record by check ID.
func (s *Store) Load(checkID string) (*Record, error) {
	data, err := os.ReadFile(s.path(checkID))
	if err != nil {
		return nil, fmt.Errorf("ledger: read %s: %w", checkID, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ledger: parse %s: %w", checkID, err)
	}
	return &rec, nil
}

// Scan returns all readable records in the ledger directory, oldest
// first. Corrupt or unreadable files are logged and skipped so one bad
// file never blocks recovery of the rest.
func (s *Store) Scan() ([]*Record, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ledger: scan: %w", err)
	}

	var recs []*Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.log.Error().Err(err).Str("file", e.Name()).Msg("unreadable record skipped")
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			s.log.Error().Err(err).Str("file", e.Name()).Msg("corrupt record skipped")
			continue
		}
		if rec.CheckID == "" {
			rec.CheckID = strings.TrimSuffix(e.Name(), ".json")
		}
		recs = append(recs, &rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
	return recs, nil
}
