package queue

import (
	"context"
	"log/slog"
	"time"
)

// DefaultClaimTimeout is how long a claim may sit before the sweep
// reclaims it. Sweeps should run on a cadence well under this (≤ 1/5th)
// to bound worst-case staleness.
const DefaultClaimTimeout = 10 * time.Minute

// Sweeper reclaims abandoned claims. It takes no scheduling dependency;
// an external scheduler invokes ReleaseTimedOut on a fixed cadence.
type Sweeper struct {
	service *Service
	logger  *slog.Logger
}

// NewSweeper creates a sweeper. A nil logger uses slog's default.
func NewSweeper(s *Service, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: s, logger: logger}
}

// ReleaseTimedOut releases every claim older than timeout and returns the
// released entry IDs. Each release is conditional on the claim the sweep
// observed still being in place, so it is idempotent and safe to run
// concurrently with itself: a second sweep simply finds nothing left.
func (w *Sweeper) ReleaseTimedOut(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultClaimTimeout
	}
	cutoff := w.service.clock.Now().Add(-timeout)

	expired, err := w.service.store.ExpiredClaims(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var released []string
	for _, e := range expired {
		ok, err := w.service.store.ReleaseExpiredClaim(ctx, e.ID, *e.ClaimedAt)
		if err != nil {
			return released, err
		}
		if !ok {
			// another sweep or a fresh claim got there first
			continue
		}
		w.logger.Info("released timed-out claim",
			"queue_entry_id", e.ID,
			"claimed_by", e.ClaimedBy,
			"claimed_at", e.ClaimedAt)
		released = append(released, e.ID)
	}
	return released, nil
}
