package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"exstrkv/internal/exstring"
	"exstrkv/internal/keyspace"
	"exstrkv/internal/logging"
	"exstrkv/internal/model"
	"exstrkv/internal/snapshot"
)

// SequenceSource reports the newest commit log sequence.
type SequenceSource interface {
	LastSequence() uint64
}

// SnapshotObserver receives the outcome of every snapshot or compaction.
type SnapshotObserver interface {
	ObserveSnapshot(rows int, elapsed time.Duration, err error)
}

// Snapshotter copies the keyspace into a snapshot store. The copy and the
// commit log sequence are taken together under the engine lock, so every
// record up to that sequence is reflected in the copy.
type Snapshotter struct {
	eng   *exstring.Engine
	store SnapshotStore
	seq   SequenceSource
	obs   SnapshotObserver
	log   *logging.Logger
	now   func() time.Time
}

func NewSnapshotter(eng *exstring.Engine, store SnapshotStore, seq SequenceSource, obs SnapshotObserver, logger *logging.Logger) *Snapshotter {
	if logger == nil {
		logger = logging.WithComponent("snapshot")
	}
	return &Snapshotter{eng: eng, store: store, seq: seq, obs: obs, log: logger, now: time.Now}
}

// Snapshot takes and saves one snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	start := time.Now()
	snap := &snapshot.Snapshot{ID: uuid.New()}
	var skipped int
	_ = s.eng.Checkpoint(func(entries []keyspace.Entry) error {
		snap.Sequence = s.seq.LastSequence()
		snap.CreatedAt = s.now()
		snap.Rows, skipped = snapshot.FromEntries(entries)
		return nil
	})

	err := s.store.Save(ctx, snap)
	if s.obs != nil {
		s.obs.ObserveSnapshot(len(snap.Rows), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if skipped > 0 {
		s.log.WarnContext(ctx, "snapshot skipped keys of unsupported types", slog.Int("keys", skipped))
	}
	s.log.InfoContext(ctx, "snapshot saved",
		slog.String("id", snap.ID.String()),
		slog.Uint64("sequence", snap.Sequence),
		slog.Int("rows", len(snap.Rows)),
		slog.Duration("elapsed", time.Since(start)))
	return snap, nil
}

// LogRewriter replaces the content of a commit log.
type LogRewriter interface {
	Rewrite(muts []model.Mutation) error
}

// Compactor shrinks the commit log to one command per key when no snapshot
// store is configured. The engine lock is held for the whole rewrite so no
// record can land between the copy and the swap. Rewritten records carry
// no timestamp; their deadlines are absolute.
type Compactor struct {
	eng *exstring.Engine
	wal LogRewriter
	obs SnapshotObserver
	log *logging.Logger
}

func NewCompactor(eng *exstring.Engine, wal LogRewriter, obs SnapshotObserver, logger *logging.Logger) *Compactor {
	if logger == nil {
		logger = logging.WithComponent("commitlog")
	}
	return &Compactor{eng: eng, wal: wal, obs: obs, log: logger}
}

// Compact rewrites the commit log from the current keyspace.
func (c *Compactor) Compact(ctx context.Context) error {
	start := time.Now()
	var records int
	err := c.eng.Checkpoint(func(entries []keyspace.Entry) error {
		muts := exstring.RewriteLog(entries)
		records = len(muts)
		return c.wal.Rewrite(muts)
	})
	if c.obs != nil {
		c.obs.ObserveSnapshot(records, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("compact commit log: %w", err)
	}
	c.log.InfoContext(ctx, "commit log compacted",
		slog.Int("records", records),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
