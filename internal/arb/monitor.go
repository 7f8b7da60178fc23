package arb

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MonitorResult is the three-valued outcome of a bounded polling loop.
// Timeout is deliberately distinct from failure: a timed-out leg may
// still settle and must stay open for further polling.
type MonitorResult int

const (
	MonitorSuccess MonitorResult = iota
	MonitorFailure
	MonitorTimeout
)

func (r MonitorResult) String() string {
	switch r {
	case MonitorSuccess:
		return "success"
	case MonitorFailure:
		return "failure"
	default:
		return "timeout"
	}
}

// venue order terminal statuses
var (
	orderSuccessStatuses = map[string]bool{"finished": true}
	orderFailureStatuses = map[string]bool{
		"expired":         true,
		"canceled":        true,
		"invalid":         true,
		"rolled back":     true,
		"rollback failed": true,
		"offline":         true,
	}
)

// monitor polls statusFn until a terminal status, the deadline, or
// context cancellation. Poll errors are retried and do not count toward
// the timeout. Cancellation is reported as timeout so the record stays
// open and resumable.
func monitor(ctx context.Context, log zerolog.Logger, entity, itemID string,
	timeout, interval time.Duration,
	statusFn func(context.Context) (string, error),
	success, failure map[string]bool) MonitorResult {

	deadline := time.Now().Add(timeout)
	for {
		status, err := statusFn(ctx)
		if err != nil {
			log.Warn().Err(err).Str(entity, itemID).Msg("status poll failed, retrying")
		} else {
			log.Info().Str(entity, itemID).Str("status", status).Msg("monitoring")
			if success[status] {
				return MonitorSuccess
			}
			if failure[status] {
				log.Error().Str(entity, itemID).Str("status", status).Msg("terminal failure status")
				return MonitorFailure
			}
		}

		if time.Now().After(deadline) {
			log.Error().Str(entity, itemID).Msg("monitor deadline reached")
			return MonitorTimeout
		}
		select {
		case <-ctx.Done():
			log.Warn().Str(entity, itemID).Msg("monitor interrupted by shutdown")
			return MonitorTimeout
		case <-time.After(interval):
		}
	}
}
