// Package resp serves the command engine over the Redis serialization
// protocol (RESP2), so stock Redis clients can issue EX* commands. Framing
// and connection handling come from redcon; this package renders engine
// replies onto a connection.
package resp

import (
	"errors"

	"exstrkv/internal/exstring"
)

// ReplyWriter is the part of redcon.Conn that replies are written through.
type ReplyWriter interface {
	WriteString(str string)
	WriteBulk(bulk []byte)
	WriteInt64(num int64)
	WriteArray(count int)
	WriteNull()
}

// WriteReply renders reply onto w. A nil reply is a null bulk string.
func WriteReply(w ReplyWriter, reply exstring.Reply) {
	switch v := reply.(type) {
	case exstring.Status:
		w.WriteString(string(v))
	case exstring.Int:
		w.WriteInt64(int64(v))
	case exstring.Bulk:
		w.WriteBulk(v)
	case exstring.Array:
		w.WriteArray(len(v))
		for _, item := range v {
			WriteReply(w, item)
		}
	default:
		w.WriteNull()
	}
}

// ErrorText is the error reply for err. Messages from the engine already
// carry their prefix (ERR, WRONGTYPE); anything else is prefixed with ERR.
func ErrorText(err error) string {
	var ce *exstring.CommandError
	if errors.As(err, &ce) {
		return ce.Error()
	}
	return "ERR " + err.Error()
}
