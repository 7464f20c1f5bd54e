package snapshot

import (
	"fmt"
	"strconv"
	"strings"

	// SQL drivers selectable through Config.Driver.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect holds what differs between the supported databases.
type Dialect struct {
	Driver   string
	BlobType string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
}

var (
	SQLite   = Dialect{Driver: "sqlite3", BlobType: "BLOB"}
	Postgres = Dialect{Driver: "postgres", BlobType: "BYTEA", Numbered: true}
)

// DialectFor maps a configured driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported snapshot driver %q", driver)
	}
}

// rebind rewrites '?' placeholders for dialects that number them.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) schema() string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS snapshots (
    id          TEXT PRIMARY KEY,
    sequence    BIGINT NOT NULL,
    created_at  BIGINT NOT NULL,
    row_count   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS snapshot_rows (
    snapshot_id TEXT NOT NULL,
    key         %[1]s NOT NULL,
    kind        TEXT NOT NULL,
    encoding    INTEGER NOT NULL,
    payload     %[1]s NOT NULL,
    expire_at   BIGINT NOT NULL,
    digest      BIGINT NOT NULL,
    PRIMARY KEY (snapshot_id, key)
);
CREATE INDEX IF NOT EXISTS idx_snapshots_sequence ON snapshots (sequence);
`, d.BlobType)
}
