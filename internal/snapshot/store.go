// Package snapshot persists point-in-time copies of the keyspace in a SQL
// database, so recovery only has to replay the commit log written after
// the most recent copy.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"exstrkv/internal/logging"
)

const (
	opSave   = "snapshot.Save"
	opLatest = "snapshot.Latest"
)

var ErrStoreClosed = errors.New("snapshot store is closed")

// Snapshot is the content of the keyspace as of commit log sequence
// Sequence: every record up to it is reflected in Rows.
type Snapshot struct {
	ID        uuid.UUID
	Sequence  uint64
	CreatedAt time.Time
	Rows      []Row
}

// Config selects the database. DSN is driver specific, e.g.
// "file:/var/lib/exstrkv/snapshots.db" or "postgres://user@host/db".
type Config struct {
	Driver string
	DSN    string
	Logger *logging.Logger

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = logging.WithComponent("snapshot")
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 4
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
}

// Store keeps the latest snapshot. Saving a new one replaces the old.
type Store struct {
	db      *sql.DB
	dialect Dialect
	log     *logging.Logger

	mu     sync.RWMutex
	closed bool
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	cfg.setDefaults()
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("snapshot DSN is required")
	}

	db, err := sql.Open(dialect.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s database: %w", dialect.Driver, err)
	}
	if _, err := db.ExecContext(ctx, dialect.schema()); err != nil {
		db.Close()
		return nil, fmt.Errorf("setup snapshot schema: %w", err)
	}

	cfg.Logger.InfoContext(ctx, "snapshot store ready", slog.String("driver", dialect.Driver))
	return &Store{db: db, dialect: dialect, log: cfg.Logger}, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Save writes snap in one transaction and drops every older snapshot. A
// zero ID is replaced with a fresh one.
func (s *Store) Save(ctx context.Context, snap *Snapshot) (err error) {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if snap.ID == uuid.Nil {
		snap.ID = uuid.New()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", opSave, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	id := snap.ID.String()
	_, err = tx.ExecContext(ctx,
		s.dialect.rebind(`INSERT INTO snapshots (id, sequence, created_at, row_count) VALUES (?, ?, ?, ?)`),
		id, int64(snap.Sequence), snap.CreatedAt.UnixMilli(), int64(len(snap.Rows)))
	if err != nil {
		return fmt.Errorf("%s: insert header: %w", opSave, err)
	}

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(
		`INSERT INTO snapshot_rows (snapshot_id, key, kind, encoding, payload, expire_at, digest) VALUES (?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("%s: prepare: %w", opSave, err)
	}
	defer stmt.Close()

	for _, row := range snap.Rows {
		payload := row.Payload
		if payload == nil {
			payload = []byte{}
		}
		_, err = stmt.ExecContext(ctx, id, []byte(row.Key), row.Kind, row.Encoding, payload,
			row.ExpireAt, int64(row.Digest))
		if err != nil {
			return fmt.Errorf("%s: insert row: %w", opSave, err)
		}
	}

	if _, err = tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM snapshot_rows WHERE snapshot_id <> ?`), id); err != nil {
		return fmt.Errorf("%s: prune rows: %w", opSave, err)
	}
	if _, err = tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM snapshots WHERE id <> ?`), id); err != nil {
		return fmt.Errorf("%s: prune headers: %w", opSave, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", opSave, err)
	}

	s.log.DebugContext(ctx, "snapshot saved",
		slog.String("id", id),
		slog.Uint64("sequence", snap.Sequence),
		slog.Int("rows", len(snap.Rows)))
	return nil
}

// Latest loads the most recent snapshot, or nil when none was saved.
func (s *Store) Latest(ctx context.Context) (*Snapshot, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var (
		id        string
		seq       int64
		createdAt int64
		rowCount  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sequence, created_at, row_count FROM snapshots ORDER BY sequence DESC, created_at DESC LIMIT 1`).
		Scan(&id, &seq, &createdAt, &rowCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: header: %w", opLatest, err)
	}
	snapID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%s: snapshot id %q: %w", opLatest, id, err)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT key, kind, encoding, payload, expire_at, digest FROM snapshot_rows WHERE snapshot_id = ? ORDER BY key`), id)
	if err != nil {
		return nil, fmt.Errorf("%s: rows: %w", opLatest, err)
	}
	defer rows.Close()

	snap := &Snapshot{
		ID:        snapID,
		Sequence:  uint64(seq),
		CreatedAt: time.UnixMilli(createdAt),
		Rows:      make([]Row, 0, rowCount),
	}
	for rows.Next() {
		var (
			row    Row
			key    []byte
			digest int64
		)
		if err := rows.Scan(&key, &row.Kind, &row.Encoding, &row.Payload, &row.ExpireAt, &digest); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", opLatest, err)
		}
		row.Key = string(key)
		row.Digest = uint64(digest)
		snap.Rows = append(snap.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", opLatest, err)
	}
	if int64(len(snap.Rows)) != rowCount {
		return nil, fmt.Errorf("%s: snapshot %s has %d rows, header says %d", opLatest, id, len(snap.Rows), rowCount)
	}
	return snap, nil
}

// Stats exposes the connection pool statistics.
func (s *Store) Stats() sql.DBStats {
	return s.db.Stats()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
