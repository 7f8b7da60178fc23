// Package strategy defines the closed set of trading strategies and the
// runner that drives them on a fixed interval.
package strategy

import "context"

// Strategy is the contract every trading variant implements. Selection
// happens once at startup from configuration; there is no dynamic
// re-dispatch at the call site.
//
// Rules:
// - Tick performs at most one opportunity check and execution per call
// - Resume must be idempotent: calling it twice with no external state
//   change behaves exactly like calling it once
// - Neither method may kill the process over a single bad quote or RPC
//   hiccup; transient errors are logged and returned, not escalated
type Strategy interface {
	// Name returns the strategy identifier used in logs and config.
	Name() string

	// Resume replays persisted trade state after a restart, re-entering
	// interrupted trades at the correct step.
	Resume(ctx context.Context) error

	// Tick runs one evaluation/execution cycle.
	Tick(ctx context.Context) error
}
