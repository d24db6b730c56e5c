package storage

import (
	"context"
	"log/slog"
	"time"
)

// TrashPurger permanently removes trash entries deleted before a cutoff.
type TrashPurger interface {
	PurgeTrashOlderThan(ctx context.Context, cutoff time.Time) (purged, failed int, err error)
}

// SessionSweeper drops expired server-side sessions.
type SessionSweeper interface {
	DeleteExpired() int
}

// CleanupService periodically purges old trash (database row, stored file
// and quota) and expired sessions.
type CleanupService struct {
	trash     TrashPurger
	sessions  SessionSweeper
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
	done      chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(trash TrashPurger, sessions SessionSweeper, interval, retention time.Duration) *CleanupService {
	return &CleanupService{
		trash:     trash,
		sessions:  sessions,
		interval:  interval,
		retention: retention,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine.
func (cs *CleanupService) Start(ctx context.Context) {
	slog.Info("cleanup service started", "interval", cs.interval, "trash_retention", cs.retention)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				cs.RunOnce(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

// RunOnce performs a single cleanup cycle.
func (cs *CleanupService) RunOnce(ctx context.Context) {
	if cs.sessions != nil {
		if n := cs.sessions.DeleteExpired(); n > 0 {
			slog.Info("expired sessions removed", "count", n)
		}
	}

	if cs.trash == nil || cs.retention <= 0 {
		return
	}

	cutoff := cs.now().Add(-cs.retention)
	purged, failed, err := cs.trash.PurgeTrashOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("failed to purge old trash", "cutoff", cutoff, "error", err)
		return
	}
	if purged == 0 && failed == 0 {
		return
	}

	slog.Info("trash cleanup complete",
		"purged", purged,
		"failed", failed,
		"cutoff", cutoff,
	)
}
