package jobstore

import (
	"context"
	"log/slog"
	"time"
)

// Reaper deletes jobs past their retention window on a fixed interval.
type Reaper struct {
	store    Store
	interval time.Duration
}

func NewReaper(store Store, interval time.Duration) *Reaper {
	return &Reaper{store: store, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	slog.Info("retention reaper started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("retention reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	n, err := r.store.DeleteExpired(ctx, time.Now())
	if err != nil {
		slog.Error("failed to delete expired jobs", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired jobs deleted", "count", n)
	}
}
