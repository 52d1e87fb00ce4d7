package facts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/chatkit-shell/internal/shared"
	"github.com/ashureev/chatkit-shell/internal/store"
)

const retentionWorkerInterval = 5 * time.Minute

// StartRetentionWorker runs a background goroutine that periodically deletes
// facts older than retention. A non-positive retention disables the worker.
func StartRetentionWorker(ctx context.Context, repo store.Repository, retention time.Duration) {
	if retention <= 0 {
		slog.Info("Fact retention disabled")
		return
	}

	ticker := time.NewTicker(retentionWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Retention worker started", "interval", retentionWorkerInterval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				if _, err := Sweep(ctx, repo, retention, time.Now()); err != nil {
					slog.Error("Retention worker sweep failed", "error", err)
				}
			case <-ctx.Done():
				slog.Info("Retention worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep deletes facts created before now-retention, retrying with
// exponential backoff while the database is busy.
func Sweep(ctx context.Context, repo store.Repository, retention time.Duration, now time.Time) (int64, error) {
	maxRetries := 3
	baseDelay := 100 * time.Millisecond
	cutoff := now.Add(-retention)

	for i := 0; i < maxRetries; i++ {
		deleted, err := repo.DeleteFactsBefore(ctx, cutoff)
		if err == nil {
			if deleted > 0 {
				slog.Info("Retention worker deleted facts", "count", deleted, "cutoff", cutoff)
			}
			return deleted, nil
		}

		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff: 100ms, 200ms
			slog.Debug("Fact sweep hit a locked database, retrying",
				"attempt", i+1,
				"delay", delay)
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}

		return 0, fmt.Errorf("sweep facts before %s after %d attempts: %w", cutoff.Format(time.RFC3339), i+1, err)
	}

	return 0, nil
}
