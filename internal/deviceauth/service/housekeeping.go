package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/ikanisa/deviceauth/internal/deviceauth/store"
)

// DefaultSweepInterval is how often expired challenges are purged.
const DefaultSweepInterval = 5 * time.Minute

// Housekeeper periodically deletes expired challenges. Claimed rows are kept
// until expiry so late duplicate submissions still audit as replays rather
// than unknown challenges.
type Housekeeper struct {
	Store    store.Store
	Interval time.Duration
	Logger   *slog.Logger
}

// Run sweeps on a ticker until ctx is cancelled. Intended to be launched as a
// goroutine from app wiring.
func (h *Housekeeper) Run(ctx context.Context) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(ctx)
		}
	}
}

// Sweep deletes challenges past their expiry once.
func (h *Housekeeper) Sweep(ctx context.Context) {
	if err := h.Store.Challenges().DeleteExpiredChallenges(ctx, time.Now().UTC()); err != nil {
		h.Logger.Warn("expired challenge sweep failed", "error", err)
	}
}
