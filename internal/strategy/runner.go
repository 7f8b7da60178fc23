package strategy

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossdex-trading/crossarb/internal/breaker"
)

// Runner drives a strategy on a fixed interval. While the circuit
// breaker is tripped only the resumption path runs, so refund
// verification can still lift the pause; new opportunity checks are
// skipped entirely.
type Runner struct {
	strat    Strategy
	brk      *breaker.Breaker
	interval time.Duration
	log      zerolog.Logger
}

func NewRunner(strat Strategy, brk *breaker.Breaker, interval time.Duration, log zerolog.Logger) *Runner {
	return &Runner{
		strat:    strat,
		brk:      brk,
		interval: interval,
		log:      log.With().Str("component", "runner").Str("strategy", strat.Name()).Logger(),
	}
}

// Run blocks until ctx is cancelled. The first cycle starts immediately;
// interrupted trades from a previous run are replayed before any new
// evaluation.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info().Dur("interval", r.interval).Msg("strategy runner started")

	if err := r.strat.Resume(ctx); err != nil {
		r.log.Error().Err(err).Msg("startup resumption reported errors")
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.cycle(ctx)
		select {
		case <-ctx.Done():
			r.log.Info().Msg("strategy runner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if r.brk.Tripped() {
		if s, err := r.brk.Read(); err == nil && s != nil {
			r.log.Warn().Str("reason", s.Reason).
				Msg("trading paused, monitoring for refund; trading resumes automatically once verified")
		}
		// refund verification only; no new opportunities while paused
		if err := r.strat.Resume(ctx); err != nil {
			r.log.Error().Err(err).Msg("paused-cycle resumption reported errors")
		}
		return
	}

	if err := r.strat.Tick(ctx); err != nil {
		r.log.Error().Err(err).Msg("strategy tick reported errors")
	}
}
