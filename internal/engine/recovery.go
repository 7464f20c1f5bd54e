package engine

import (
	"context"
	"fmt"
	"log/slog"

	"exstrkv/internal/exstring"
	"exstrkv/internal/logging"
	"exstrkv/internal/model"
	"exstrkv/internal/snapshot"
)

// SnapshotStore is the part of snapshot.Store used here.
type SnapshotStore interface {
	Save(ctx context.Context, snap *snapshot.Snapshot) error
	Latest(ctx context.Context) (*snapshot.Snapshot, error)
}

// RecoveryStats describes what Recover rebuilt.
type RecoveryStats struct {
	SnapshotSequence uint64
	SnapshotRows     int
	Replayed         int
	Skipped          int
	Failed           int
	Expired          int
}

// Recover rebuilds eng from the latest snapshot in store (which may be nil)
// followed by the commit log records newer than it. A snapshot that cannot
// be decoded aborts recovery; a record that fails to replay is logged and
// skipped.
func Recover(ctx context.Context, eng *exstring.Engine, store SnapshotStore, muts []model.Mutation, logger *logging.Logger) (RecoveryStats, error) {
	var stats RecoveryStats
	if logger == nil {
		logger = logging.WithComponent("engine")
	}

	if store != nil {
		snap, err := store.Latest(ctx)
		if err != nil {
			return stats, fmt.Errorf("load snapshot: %w", err)
		}
		if snap != nil {
			entries, err := snapshot.Entries(snap.Rows)
			if err != nil {
				return stats, fmt.Errorf("decode snapshot %s: %w", snap.ID, err)
			}
			eng.Restore(entries)
			stats.SnapshotSequence = snap.Sequence
			stats.SnapshotRows = len(entries)
			logger.InfoContext(ctx, "restored snapshot",
				slog.String("id", snap.ID.String()),
				slog.Uint64("sequence", snap.Sequence),
				slog.Int("rows", len(entries)))
		}
	}

	for _, mut := range muts {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if mut.Sequence <= stats.SnapshotSequence {
			stats.Skipped++
			continue
		}
		if err := eng.Apply(mut); err != nil {
			stats.Failed++
			logger.WarnContext(ctx, "commit log record failed to replay",
				slog.Uint64("sequence", mut.Sequence),
				slog.String("command", mut.Name()),
				slog.String("error", err.Error()))
			continue
		}
		stats.Replayed++
	}

	stats.Expired = eng.SweepExpired()
	logger.InfoContext(ctx, "recovery complete",
		slog.Int("replayed", stats.Replayed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("failed", stats.Failed),
		slog.Int("expired", stats.Expired),
		slog.Int("keys", eng.Len()))
	return stats, nil
}
