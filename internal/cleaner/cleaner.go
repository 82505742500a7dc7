// internal/cleaner/cleaner.go
package cleaner

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spgill/banker/internal/store"
)

// DefaultInterval is how often the sweep runs unless CLEANER_INTERVAL
// overrides it.
const DefaultInterval = time.Hour

// gracePeriod keeps an expired lobby around briefly so a client holding a
// stale token gets a proper "expired" rejection instead of "invalid".
const gracePeriod = time.Hour

// Run sweeps expired lobbies out of the store on a ticker until ctx is
// cancelled. Lobbies past their TTL already reject every mutation; the sweep
// reclaims storage and, through prune, the in-process state keyed by the
// removed lobby ids (the ledger's per-lobby locks). prune may be nil.
func Run(ctx context.Context, st store.Store, log *logrus.Logger, prune func(uuid.UUID)) {
	interval := DefaultInterval
	if raw := os.Getenv("CLEANER_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			interval = d
		} else {
			log.Warnf("ignoring invalid CLEANER_INTERVAL %q", raw)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep(ctx, st, log, prune)
		}
	}
}

func sweep(ctx context.Context, st store.Store, log *logrus.Logger, prune func(uuid.UUID)) {
	cutoff := time.Now().UTC().Add(-gracePeriod)
	sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := st.DeleteExpiredBefore(sweepCtx, cutoff)
	if err != nil {
		log.WithError(err).Warn("cleaner sweep failed")
		return
	}
	if prune != nil {
		for _, id := range removed {
			prune(id)
		}
	}
	if len(removed) > 0 {
		log.Infof("cleaner removed %d expired lobbies", len(removed))
	}
}
