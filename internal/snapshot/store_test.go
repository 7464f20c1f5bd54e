package snapshot

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"exstrkv/internal/codec"
	"exstrkv/internal/keyspace"
	"exstrkv/internal/logging"
	"exstrkv/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "snapshots.db")
	store, err := Open(context.Background(), Config{Driver: "sqlite3", DSN: dsn, Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleEntries() []keyspace.Entry {
	return []keyspace.Entry{
		{Key: "a", Value: &model.VersionedObject{Version: 7, Flags: 3, Value: []byte("hello")}, ExpireAt: 1_700_000_000_000},
		{Key: "b", Value: []byte("plain")},
		{Key: "bin\x00key", Value: &model.VersionedObject{Version: 1, Value: []byte{}}},
		{Key: "h", Value: map[string]string{"f": "v"}},
	}
}

func TestRowsRoundTrip(t *testing.T) {
	rows, skipped := FromEntries(sampleEntries())
	require.Equal(t, 1, skipped)
	require.Len(t, rows, 3)
	require.Equal(t, KindExString, rows[0].Kind)
	require.Equal(t, KindString, rows[1].Kind)

	entries, err := Entries(rows)
	require.NoError(t, err)
	require.Equal(t, sampleEntries()[:3], entries)
}

func TestEntriesRejectsUnknownEncoding(t *testing.T) {
	rows, _ := FromEntries(sampleEntries())
	rows[2].Encoding = 9

	_, err := Entries(rows)
	require.ErrorIs(t, err, codec.ErrUnknownEncoding)
}

func TestEntriesRejectsDigestMismatch(t *testing.T) {
	rows, _ := FromEntries(sampleEntries())
	rows[1].Payload = []byte("tampered")
	_, err := Entries(rows)
	require.ErrorIs(t, err, ErrDigestMismatch)

	rows, _ = FromEntries(sampleEntries())
	rows[0].Digest++
	_, err = Entries(rows)
	require.ErrorIs(t, err, ErrDigestMismatch)

	rows, _ = FromEntries(sampleEntries())
	rows[0].Kind = "hash"
	_, err = Entries(rows)
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestStoreLatestEmpty(t *testing.T) {
	store := openTestStore(t)

	snap, err := store.Latest(context.Background())
	require.NoError(t, err)
	require.Nil(t, snap)
}

func TestStoreSaveAndLatest(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	rows, _ := FromEntries(sampleEntries())
	first := &Snapshot{Sequence: 10, Rows: rows}
	require.NoError(t, store.Save(ctx, first))
	require.NotEqual(t, uuid.Nil, first.ID)

	got, err := store.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
	require.Equal(t, uint64(10), got.Sequence)
	require.Equal(t, first.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())

	entries, err := Entries(got.Rows)
	require.NoError(t, err)
	require.ElementsMatch(t, sampleEntries()[:3], entries)

	second := &Snapshot{
		ID:        uuid.New(),
		Sequence:  25,
		CreatedAt: time.UnixMilli(1_700_000_100_000),
		Rows:      rows[:1],
	}
	require.NoError(t, store.Save(ctx, second))

	got, err = store.Latest(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, uint64(25), got.Sequence)
	require.Len(t, got.Rows, 1)

	var headers, stored int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&headers))
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM snapshot_rows`).Scan(&stored))
	require.Equal(t, 1, headers, "older snapshots are pruned")
	require.Equal(t, 1, stored)
}

func TestStoreClosed(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	require.ErrorIs(t, store.Save(context.Background(), &Snapshot{}), ErrStoreClosed)
	_, err := store.Latest(context.Background())
	require.ErrorIs(t, err, ErrStoreClosed)
}

func TestOpenValidatesConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql", DSN: "x"})
	require.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "sqlite3"})
	require.Error(t, err)
}

func TestDialect(t *testing.T) {
	d, err := DialectFor("PostgreSQL")
	require.NoError(t, err)
	require.Equal(t, Postgres, d)
	require.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", d.rebind("SELECT a FROM t WHERE x = ? AND y = ?"))

	d, err = DialectFor("sqlite")
	require.NoError(t, err)
	require.Equal(t, "x = ?", d.rebind("x = ?"))
	require.Contains(t, d.schema(), "payload     BLOB")
	require.Contains(t, Postgres.schema(), "payload     BYTEA")
}
