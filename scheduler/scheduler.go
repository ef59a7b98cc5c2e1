// Package scheduler fires exchange rounds at the configured rotation
// interval, one independent timeline per relationship.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/qupskd/qupskd/exchange"
	"github.com/qupskd/qupskd/metrics"
)

// Scheduler runs one rotation loop per configured relationship. Initiator
// relationships get a full rotation on each tick; responder relationships
// only run the stale-secret check, since their rounds are driven by the
// peer. Relationships are fully independent: no coordination, no shared
// state, no queuing of missed firings.
type Scheduler struct {
	interval   time.Duration
	exchangers []*exchange.Exchanger
	log        *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New creates a scheduler firing every interval for the given exchangers.
func New(interval time.Duration, exchangers []*exchange.Exchanger, log *slog.Logger) *Scheduler {
	return &Scheduler{
		interval:   interval,
		exchangers: exchangers,
		log:        log,
	}
}

// Start launches the per-relationship loops. The first initiator round
// fires immediately rather than waiting a full interval.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, e := range s.exchangers {
		s.wg.Add(1)
		go func(e *exchange.Exchanger) {
			defer s.wg.Done()
			s.run(ctx, e)
		}(e)
	}
}

// Stop cancels the loops and waits for them to finish. In-flight rounds
// run to completion or timeout on their own; there is nothing to abort.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, e *exchange.Exchanger) {
	rel := e.Relationship()
	log := s.log.With("relationship", rel.ID)

	if rel.Role == exchange.RoleInitiator {
		s.fire(ctx, e, log)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rel.Role == exchange.RoleInitiator {
				s.fire(ctx, e, log)
			}
			s.freshen(ctx, e, log)
		}
	}
}

// fire triggers one initiator round. An in-flight round means this firing
// is skipped entirely; failed rounds are not retried until the next tick,
// so a down peer is never hammered.
func (s *Scheduler) fire(ctx context.Context, e *exchange.Exchanger, log *slog.Logger) {
	err := e.Rotate(ctx)
	switch {
	case err == nil:
	case errors.Is(err, exchange.ErrRoundInFlight):
		metrics.MissedRotationsTotal.WithLabelValues(e.Relationship().ID).Inc()
		log.Warn("Skipped rotation, round still in flight")
	case exchange.IsRetryable(err):
		log.Warn("Rotation failed, retrying on next firing", "err", err)
	default:
		log.Error("Rotation aborted", "err", err)
	}
}

func (s *Scheduler) freshen(ctx context.Context, e *exchange.Exchanger, log *slog.Logger) {
	replaced, err := e.FreshenStale(ctx)
	if err != nil {
		log.Error("Stale secret fallback failed", "err", err)
		return
	}
	if replaced {
		log.Warn("Replaced stale secret with random fallback")
	}
}
