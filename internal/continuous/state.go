package continuous

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Direction of a single swap leg between the pair tokens.
type Direction string

const (
	Token1ToToken2 Direction = "TOKEN1_TO_TOKEN2"
	Token2ToToken1 Direction = "TOKEN2_TO_TOKEN1"
)

func (d Direction) Opposite() Direction {
	if d == Token1ToToken2 {
		return Token2ToToken1
	}
	return Token1ToToken2
}

// NextDirection alternates directions between trades. Before any trade
// has completed the strategy runs the anchor trade, which is always
// token1 to token2, so the first alternating trade goes the other way.
func NextDirection(last Direction) Direction {
	if last == "" {
		return Token2ToToken1
	}
	return last.Opposite()
}

// State is the persisted position of the continuous strategy. The anchor
// rate is always stored as token2 per token1 regardless of the direction
// of the trade that set it.
type State struct {
	AnchorRate    decimal.Decimal `json:"anchor_rate"`
	LastDirection Direction       `json:"last_direction,omitempty"`
	LastSent      decimal.Decimal `json:"last_sent"`
	LastReceived  decimal.Decimal `json:"last_received"`

	CumulativeTrades    int             `json:"cumulative_trades"`
	SuccessCount        int             `json:"success_count"`
	CumulativeSurplusT1 decimal.Decimal `json:"cumulative_surplus_t1"`
	CumulativeSurplusT2 decimal.Decimal `json:"cumulative_surplus_t2"`

	StartingBalances map[string]decimal.Decimal `json:"starting_balances,omitempty"`
	VirtualBalances  map[string]decimal.Decimal `json:"virtual_balances,omitempty"`

	PauseReason         string          `json:"pause_reason,omitempty"`
	AwaitingRefundSince int64           `json:"awaiting_refund_since,omitempty"`
	RefundToken         string          `json:"refund_token,omitempty"`
	RefundAmount        decimal.Decimal `json:"refund_amount"`
	LastUpdate          time.Time       `json:"last_update"`
}

// Anchored reports whether an anchor rate has been established.
func (s *State) Anchored() bool {
	return s.AnchorRate.IsPositive()
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

// StateStore persists strategy state to a single file, written
// atomically so a crash mid-save never leaves a corrupt state behind.
type StateStore struct {
	path string
	log  zerolog.Logger
}

func NewStateStore(path string, log zerolog.Logger) *StateStore {
	return &StateStore{
		path: path,
		log:  log.With().Str("component", "continuous_state").Logger(),
	}
}

// Load reads the persisted state. A missing or unreadable file yields a
// fresh state. A legacy anchor rate of exactly 1.0 is a placeholder from
// interrupted bootstraps and is reset so the next cycle re-anchors.
func (s *StateStore) Load() (*State, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info().Str("path", s.path).Msg("no saved state, starting fresh")
		return &State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("state file corrupt, starting fresh")
		return &State{}, nil
	}

	if st.AnchorRate.Equal(decimal.NewFromInt(1)) {
		s.log.Warn().Msg("anchor rate is placeholder 1.0, resetting so next cycle re-anchors")
		st.AnchorRate = decimal.Zero
		if err := s.Save(&st); err != nil {
			return nil, err
		}
	}
	return &st, nil
}

func (s *StateStore) Save(st *State) error {
	st.LastUpdate = time.Now().UTC()

	raw, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// Archive moves the state file aside with a reason suffix so a fresh
// run starts clean while the old position stays inspectable.
func (s *StateStore) Archive(reason string) error {
	if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	dst := fmt.Sprintf("%s.%s.%d", s.path, reason, time.Now().Unix())
	if err := os.Rename(s.path, dst); err != nil {
		return fmt.Errorf("archive state: %w", err)
	}
	s.log.Info().Str("archived_to", dst).Msg("state archived")
	return nil
}
