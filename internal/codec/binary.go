package codec

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// BinaryWriter stores fields as protobuf varints; byte fields carry a
// varint length prefix.
type BinaryWriter struct {
	buf []byte
}

func (w *BinaryWriter) WriteUnsigned(v uint64) error {
	w.buf = protowire.AppendVarint(w.buf, v)
	return nil
}

func (w *BinaryWriter) WriteBytes(b []byte) error {
	w.buf = protowire.AppendBytes(w.buf, b)
	return nil
}

func (w *BinaryWriter) Bytes() []byte { return w.buf }

// BinaryReader reads fields written by BinaryWriter.
type BinaryReader struct {
	data []byte
	pos  int
}

func NewBinaryReader(data []byte) *BinaryReader {
	return &BinaryReader{data: data}
}

func (r *BinaryReader) ReadUnsigned() (uint64, error) {
	v, n := protowire.ConsumeVarint(r.data[r.pos:])
	if n < 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return v, nil
}

// ReadBytes returns a copy, so the result outlives the reader's buffer.
func (r *BinaryReader) ReadBytes() ([]byte, error) {
	b, n := protowire.ConsumeBytes(r.data[r.pos:])
	if n < 0 {
		return nil, ErrTruncated
	}
	r.pos += n
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// Len is the number of unread bytes.
func (r *BinaryReader) Len() int { return len(r.data) - r.pos }
