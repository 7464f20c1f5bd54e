// Package codec defines how a versioned object is written to and read from
// a persistence container, plus the digest and rewrite forms derived from it.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"exstrkv/internal/model"
)

// EncodingVersion1 is the only object layout understood by Load.
const EncodingVersion1 = 0

var (
	ErrUnknownEncoding = errors.New("unknown encoding version")
	ErrTruncated       = errors.New("truncated object")
)

// FieldWriter is a container that stores an ordered field sequence.
type FieldWriter interface {
	WriteUnsigned(v uint64) error
	WriteBytes(b []byte) error
}

// FieldReader reads back what a FieldWriter stored, in the same order.
type FieldReader interface {
	ReadUnsigned() (uint64, error)
	ReadBytes() ([]byte, error)
}

// Save writes version, flags and value, in that order.
func Save(w FieldWriter, o *model.VersionedObject) error {
	if err := w.WriteUnsigned(o.Version); err != nil {
		return fmt.Errorf("save version: %w", err)
	}
	if err := w.WriteUnsigned(uint64(o.Flags)); err != nil {
		return fmt.Errorf("save flags: %w", err)
	}
	if err := w.WriteBytes(o.Value); err != nil {
		return fmt.Errorf("save value: %w", err)
	}
	return nil
}

// Load reads an object written by Save under encoding encver.
func Load(r FieldReader, encver int) (*model.VersionedObject, error) {
	if encver != EncodingVersion1 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEncoding, encver)
	}
	version, err := r.ReadUnsigned()
	if err != nil {
		return nil, fmt.Errorf("load version: %w", err)
	}
	flags, err := r.ReadUnsigned()
	if err != nil {
		return nil, fmt.Errorf("load flags: %w", err)
	}
	if flags > math.MaxUint32 {
		return nil, fmt.Errorf("load flags: %d out of range", flags)
	}
	value, err := r.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("load value: %w", err)
	}
	return &model.VersionedObject{Version: version, Flags: uint32(flags), Value: value}, nil
}

// Encode serializes o into a standalone byte slice using BinaryWriter.
func Encode(o *model.VersionedObject) []byte {
	w := &BinaryWriter{}
	_ = Save(w, o)
	return w.Bytes()
}

// Decode is the inverse of Encode. Trailing bytes are an error.
func Decode(data []byte, encver int) (*model.VersionedObject, error) {
	r := NewBinaryReader(data)
	o, err := Load(r, encver)
	if err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("decode: %d trailing bytes", r.Len())
	}
	return o, nil
}

// Digest hashes version, flags and value in order. Two objects with the
// same digest are equal for replication consistency checks.
func Digest(o *model.VersionedObject) uint64 {
	var buf [8]byte
	h := xxhash.New()
	binary.LittleEndian.PutUint64(buf[:], o.Version)
	_, _ = h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(o.Flags))
	_, _ = h.Write(buf[:])
	_, _ = h.Write(o.Value)
	return h.Sum64()
}

// RewriteCommand is the single command that recreates o at key, used when
// the commit log is compacted.
func RewriteCommand(key string, o *model.VersionedObject) model.Mutation {
	return model.NewMutation("EXSET", key, string(o.Value),
		"ABS", strconv.FormatUint(o.Version, 10),
		"FLAGS", strconv.FormatUint(uint64(o.Flags), 10))
}

// MemUsage approximates the bytes held by o.
func MemUsage(o *model.VersionedObject) int {
	return int(unsafe.Sizeof(*o)) + len(o.Value)
}
