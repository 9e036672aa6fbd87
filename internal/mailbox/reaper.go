package mailbox

import (
	"context"
	"log/slog"
	"time"
)

// Reaper expires top-level entries (rooms/<id>) that have not been written
// for longer than the TTL. It covers rooms abandoned by clients that never
// got to run their cleanup.
type Reaper struct {
	store  *Store
	ttl    time.Duration
	logger *slog.Logger
}

func NewReaper(store *Store, ttl time.Duration, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{store: store, ttl: ttl, logger: logger}
}

// Run sweeps every quarter TTL until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep expires stale entries once and returns their paths.
func (r *Reaper) Sweep() []string {
	expired := r.store.expire(r.store.now().Add(-r.ttl))
	for _, path := range expired {
		r.logger.Info("Expired idle entry", "path", path, "ttl", r.ttl)
	}
	return expired
}
