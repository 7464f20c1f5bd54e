package snapshot

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"exstrkv/internal/codec"
	"exstrkv/internal/keyspace"
	"exstrkv/internal/model"
)

// Row kinds.
const (
	KindExString = "exstring"
	KindString   = "string"
)

var (
	ErrDigestMismatch = errors.New("snapshot row digest mismatch")
	ErrUnknownKind    = errors.New("unknown snapshot row kind")
)

// Row is one key of a snapshot. Payload is the codec encoding for
// exstring rows and the raw bytes for plain strings.
type Row struct {
	Key      string
	Kind     string
	Encoding int
	Payload  []byte
	ExpireAt int64
	Digest   uint64
}

// FromEntries converts keyspace entries to rows. Values of types that
// cannot be persisted are skipped and counted.
func FromEntries(entries []keyspace.Entry) (rows []Row, skipped int) {
	rows = make([]Row, 0, len(entries))
	for _, ent := range entries {
		row := Row{Key: ent.Key, ExpireAt: ent.ExpireAt}
		switch v := ent.Value.(type) {
		case *model.VersionedObject:
			row.Kind = KindExString
			row.Encoding = codec.EncodingVersion1
			row.Payload = codec.Encode(v)
			row.Digest = codec.Digest(v)
		case []byte:
			row.Kind = KindString
			row.Payload = append([]byte(nil), v...)
			row.Digest = xxhash.Sum64(v)
		default:
			skipped++
			continue
		}
		rows = append(rows, row)
	}
	return rows, skipped
}

// Entries decodes rows back into keyspace entries. Any row that cannot be
// decoded or fails its digest aborts the whole conversion.
func Entries(rows []Row) ([]keyspace.Entry, error) {
	out := make([]keyspace.Entry, 0, len(rows))
	for _, row := range rows {
		ent := keyspace.Entry{Key: row.Key, ExpireAt: row.ExpireAt}
		switch row.Kind {
		case KindExString:
			obj, err := codec.Decode(row.Payload, row.Encoding)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", row.Key, err)
			}
			if codec.Digest(obj) != row.Digest {
				return nil, fmt.Errorf("key %q: %w", row.Key, ErrDigestMismatch)
			}
			ent.Value = obj
		case KindString:
			if xxhash.Sum64(row.Payload) != row.Digest {
				return nil, fmt.Errorf("key %q: %w", row.Key, ErrDigestMismatch)
			}
			ent.Value = append([]byte{}, row.Payload...)
		default:
			return nil, fmt.Errorf("key %q: %w %q", row.Key, ErrUnknownKind, row.Kind)
		}
		out = append(out, ent)
	}
	return out, nil
}
