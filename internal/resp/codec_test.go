package resp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/redcon"

	"exstrkv/internal/exstring"
)

// wire collects what a connection would send, in redcon's encoding.
type wire struct {
	b []byte
}

func (w *wire) WriteString(str string) { w.b = redcon.AppendString(w.b, str) }
func (w *wire) WriteBulk(bulk []byte)  { w.b = redcon.AppendBulk(w.b, bulk) }
func (w *wire) WriteInt64(num int64)   { w.b = redcon.AppendInt(w.b, num) }
func (w *wire) WriteArray(count int)   { w.b = redcon.AppendArray(w.b, count) }
func (w *wire) WriteNull()             { w.b = redcon.AppendNull(w.b) }

func encode(t *testing.T, reply exstring.Reply) string {
	t.Helper()
	w := &wire{}
	WriteReply(w, reply)
	return string(w.b)
}

func TestWriteReply(t *testing.T) {
	require.Equal(t, "+OK\r\n", encode(t, exstring.Status("OK")))
	require.Equal(t, ":-42\r\n", encode(t, exstring.Int(-42)))
	require.Equal(t, "$3\r\nv\x00w\r\n", encode(t, exstring.Bulk("v\x00w")))
	require.Equal(t, "$0\r\n\r\n", encode(t, exstring.Bulk{}))
	require.Equal(t, "$-1\r\n", encode(t, exstring.Null{}))
	require.Equal(t, "$-1\r\n", encode(t, nil))
	require.Equal(t, "*3\r\n+OK\r\n+\r\n:2\r\n",
		encode(t, exstring.Array{exstring.Status("OK"), exstring.Status(""), exstring.Int(2)}))
	require.Equal(t, "*2\r\n$1\r\nv\r\n*0\r\n", encode(t, exstring.Array{exstring.Bulk("v"), exstring.Array{}}))
}

func TestErrorText(t *testing.T) {
	require.Equal(t, "WRONGTYPE Operation against a key holding the wrong kind of value", ErrorText(exstring.ErrWrongType))
	require.Equal(t, "ERR syntax error", ErrorText(exstring.ErrSyntax))
	require.Equal(t, "ERR disk full", ErrorText(errors.New("disk full")))
}
