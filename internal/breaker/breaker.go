// Package breaker halts trading after a refund or a run of consecutive
// failures. The tripped state is a sentinel file on disk, so a restart
// stays paused until the refund has been verified.
package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SentinelName is the file that marks trading as paused.
const SentinelName = "TRADING_PAUSED.json"

// DefaultFailureThreshold is how many consecutive failed trades trip
// the breaker when no threshold is configured.
const DefaultFailureThreshold = 3

// Sentinel is the on-disk pause marker.
type Sentinel struct {
	Reason       string         `json:"reason"`
	TradeDetails map[string]any `json:"trade_details,omitempty"`
	PausedAt     time.Time      `json:"paused_at"`
}

// Breaker tracks consecutive failures and owns the sentinel file.
// Safe for concurrent use.
type Breaker struct {
	mu        sync.Mutex
	path      string
	threshold int
	failures  int
	log       zerolog.Logger
}

// New creates a breaker whose sentinel lives in dir. A threshold <= 0
// falls back to DefaultFailureThreshold.
func New(dir string, threshold int, log zerolog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &Breaker{
		path:      filepath.Join(dir, SentinelName),
		threshold: threshold,
		log:       log.With().Str("component", "breaker").Logger(),
	}
}

// Tripped reports whether the sentinel file exists.
func (b *Breaker) Tripped() bool {
	_, err := os.Stat(b.path)
	return err == nil
}

// Read returns the sentinel contents, or nil when not tripped.
func (b *Breaker) Read() (*Sentinel, error) {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("breaker: read sentinel: %w", err)
	}
	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("breaker: parse sentinel: %w", err)
	}
	return &s, nil
}

// Trip writes the sentinel file. Tripping an already tripped breaker
// overwrites the sentinel with the newer reason.
func (b *Breaker) Trip(reason string, details map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Sentinel{Reason: reason, TradeDetails: details, PausedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("breaker: marshal sentinel: %w", err)
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		return fmt.Errorf("breaker: write sentinel: %w", err)
	}
	b.log.Error().Str("reason", reason).Msg("trading paused")
	return nil
}

// Clear removes the sentinel and resets the failure streak. Clearing
// an untripped breaker is a no-op.
func (b *Breaker) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(b.path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("breaker: clear sentinel: %w", err)
	}
	b.failures = 0
	b.log.Info().Msg("trading resumed")
	return nil
}

// RecordFailure bumps the consecutive-failure counter and trips the
// breaker once the threshold is reached. Returns true when this call
// tripped it.
func (b *Breaker) RecordFailure(reason string, details map[string]any) (bool, error) {
	b.mu.Lock()
	b.failures++
	n := b.failures
	b.mu.Unlock()

	b.log.Warn().Int("consecutive_failures", n).Int("threshold", b.threshold).Msg("trade failure recorded")
	if n < b.threshold {
		return false, nil
	}
	if err := b.Trip(fmt.Sprintf("%d consecutive failures: %s", n, reason), details); err != nil {
		return false, err
	}
	return true, nil
}

// RecordSuccess resets the consecutive-failure counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}
