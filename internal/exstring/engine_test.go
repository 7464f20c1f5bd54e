package exstring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"exstrkv/internal/keyspace"
	"exstrkv/internal/logging"
	"exstrkv/internal/model"
)

const t0 = int64(1_000_000)

type recordingLog struct {
	muts []model.Mutation
}

func (r *recordingLog) Append(muts ...model.Mutation) error {
	r.muts = append(r.muts, muts...)
	return nil
}

func (r *recordingLog) last() []string {
	if len(r.muts) == 0 {
		return nil
	}
	return r.muts[len(r.muts)-1].Args
}

type harness struct {
	t    *testing.T
	now  int64
	ks   *keyspace.Keyspace
	eng  *Engine
	repl *recordingLog
}

func newHarness(t *testing.T, opts ...Option) *harness {
	h := &harness{t: t, now: t0, repl: &recordingLog{}}
	h.ks = keyspace.New(keyspace.WithClock(func() int64 { return h.now }))
	opts = append([]Option{WithReplicator(h.repl), WithLogger(logging.Discard())}, opts...)
	h.eng = NewEngine(h.ks, opts...)
	return h
}

func (h *harness) do(line string) (Reply, error) {
	return h.eng.Execute(context.Background(), strings.Fields(line))
}

func (h *harness) must(line string) Reply {
	h.t.Helper()
	r, err := h.do(line)
	require.NoError(h.t, err, line)
	return r
}

func (h *harness) fails(line string, want error) {
	h.t.Helper()
	_, err := h.do(line)
	require.ErrorIs(h.t, err, want, line)
}

func hit(v string, ver int64) Reply { return Array{Bulk(v), Int(ver)} }

func TestScenario(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, replyOK, h.must("EXSET k v1"))
	require.Equal(t, hit("v1", 1), h.must("EXGET k"))

	require.Equal(t, replyOK, h.must("EXSET k v2 VER 1"))
	require.Equal(t, hit("v2", 2), h.must("EXGET k"))

	h.fails("EXSET k v3 VER 1", ErrVersion)
	require.Equal(t, hit("v2", 2), h.must("EXGET k"))

	require.Equal(t, Int(10), h.must("EXINCRBY ctr 5 DEF 10"))
	require.Equal(t, hit("10", 1), h.must("EXGET ctr"))

	require.Equal(t, Array{replyOK, Status(""), Int(3)}, h.must("EXCAS k v4 2"))

	require.Equal(t, Int(1), h.must("EXCAD k 3"))
	require.Equal(t, Null{}, h.must("EXGET k"))

	var got [][]string
	for _, m := range h.repl.muts {
		got = append(got, m.Args)
		require.Equal(t, t0, m.Timestamp)
	}
	require.Equal(t, [][]string{
		{"EXSET", "k", "v1", "ABS", "1"},
		{"EXSET", "k", "v2", "ABS", "2"},
		{"EXSET", "ctr", "10", "ABS", "1"},
		{"EXSET", "k", "v4", "ABS", "3"},
		{"DEL", "k"},
	}, got)
}

func TestExSetVersioning(t *testing.T) {
	h := newHarness(t)

	for i := int64(1); i <= 5; i++ {
		require.Equal(t, Int(i), h.must("EXSET k v WITHVERSION"))
	}
	require.Equal(t, Int(42), h.must("EXSET k v ABS 42 WITHVERSION"))
	require.Equal(t, Int(3), h.must("EXSET k v ABS 3 WITHVERSION"), "ABS may lower the version")
	require.Equal(t, Int(4), h.must("EXSET k v VER 0 WITHVERSION"), "VER 0 skips the comparison")
	require.Equal(t, Int(9), h.must("EXSET fresh v ABS 9 WITHVERSION"))
	require.Equal(t, Int(1), h.must("EXSET other v VER 7 WITHVERSION"), "VER is ignored on a fresh key")
}

func TestExSetConditions(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Null{}, h.must("EXSET k v XX"))
	require.Equal(t, Null{}, h.must("EXGET k"))
	require.Empty(t, h.repl.muts)

	require.Equal(t, replyOK, h.must("EXSET k v NX"))
	require.Equal(t, Null{}, h.must("EXSET k w NX"))
	require.Equal(t, replyOK, h.must("EXSET k w XX"))
	require.Equal(t, hit("w", 2), h.must("EXGET k"))

	h.fails("EXSET k v NX XX", ErrSyntax)
	h.fails("EXSET k v MIN 1", ErrSyntax)
}

func TestConflictingConditionsRejected(t *testing.T) {
	for _, line := range []string{
		"EXSET k 1 NX XX",
		"EXINCRBY k 1 NX XX",
		"EXINCRBY k 1 XX NX",
		"EXINCRBYFLOAT k 1 NX XX",
		"EXAPPEND k x NX XX",
		"EXPREPEND k x XX NX",
	} {
		t.Run(line, func(t *testing.T) {
			h := newHarness(t)
			h.fails(line, ErrSyntax)
			h.must("EXSET k 1")
			h.fails(line, ErrSyntax)
			require.Equal(t, hit("1", 1), h.must("EXGET k"))
			require.Len(t, h.repl.muts, 1)
		})
	}
}

func TestVersionCannotPassInt64(t *testing.T) {
	h := newHarness(t)
	const top = "9223372036854775807"

	h.must("EXSET k 1 ABS " + top)
	for _, line := range []string{
		"EXSET k v",
		"EXINCRBY k 1",
		"EXINCRBYFLOAT k 1",
		"EXAPPEND k x",
		"EXPREPEND k x",
		"EXCAS k v " + top,
	} {
		h.fails(line, ErrOverflow)
	}
	require.Equal(t, Array{Bulk("1"), Int(9223372036854775807)}, h.must("EXGET k"))
	require.Len(t, h.repl.muts, 1)

	require.Equal(t, Int(5), h.must("EXSET k v ABS 5 WITHVERSION"), "ABS can still move it back down")

	dst := newHarness(t)
	for _, m := range h.repl.muts {
		require.NoError(t, dst.eng.Apply(m), m.Args)
	}
	require.Equal(t, h.ks.Entries(), dst.ks.Entries())
}

func TestExSetArgumentValidation(t *testing.T) {
	h := newHarness(t)

	for _, line := range []string{
		"EXSET k v EX 0",
		"EXSET k v PX -5",
		"EXSET k v EX abc",
		"EXSET k v VER -1",
		"EXSET k v ABS x",
		"EXSET k v FLAGS -1",
		"EXSET k v FLAGS 4294967296",
		"EXSET k v EX 9223372036854775807",
	} {
		h.fails(line, ErrSyntax)
	}
	require.Equal(t, 0, h.ks.Len())

	h.fails("EXSET k", ArityError("exset"))
	_, err := h.do("EXSET k")
	require.EqualError(t, err, "ERR wrong number of arguments for 'exset' command")
}

func TestExSetFlags(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET k v FLAGS 4294967295")
	require.Equal(t, Array{Bulk("v"), Int(1), Int(4294967295)}, h.must("EXGET k WITHFLAGS"))
	require.Equal(t, []string{"EXSET", "k", "v", "ABS", "1", "FLAGS", "4294967295"}, h.repl.last())

	h.must("EXSET k w")
	require.Equal(t, Array{Bulk("w"), Int(2), Int(4294967295)}, h.must("EXGET k withflags"), "flags survive")
	require.Equal(t, []string{"EXSET", "k", "w", "ABS", "2"}, h.repl.last())

	h.fails("EXGET k FLAGS", ErrSyntax)
	h.fails("EXGET k WITHFLAGS x", ArityError("exget"))
}

func TestRelativeExpireIsNormalizedToDeadline(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET k v EX 5")
	require.Equal(t, []string{"EXSET", "k", "v", "ABS", "1", "PXAT", "1005000"}, h.repl.last())
	require.Equal(t, Int(5000), h.must("PTTL k"))

	h.now += 4999
	require.Equal(t, hit("v", 1), h.must("EXGET k"))
	h.now++
	require.Equal(t, Null{}, h.must("EXGET k"))
}

func TestAbsoluteExpire(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET k v EXAT 1010")
	require.Equal(t, Int(10_000), h.must("PTTL k"))

	h.must("EXSET k v PXAT 500")
	require.Equal(t, []string{"EXSET", "k", "v", "ABS", "2", "PXAT", "1000000"}, h.repl.last())
	require.Equal(t, Null{}, h.must("EXGET k"), "a past deadline expires at once")
}

func TestKeepTTLAndClear(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET k v PX 1000")
	h.must("EXSET k w KEEPTTL")
	require.Equal(t, []string{"EXSET", "k", "w", "ABS", "2", "PXAT", "1001000"}, h.repl.last())
	require.Equal(t, Int(1000), h.must("PTTL k"))

	h.must("EXSET k x")
	require.Equal(t, Int(-1), h.must("PTTL k"))

	h.must("EXSET n v KEEPTTL")
	require.Equal(t, []string{"EXSET", "n", "v", "ABS", "1"}, h.repl.last())
	h.fails("EXSET k v KEEPTTL EX 1", ErrSyntax)
}

func TestExIncrBy(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Int(3), h.must("EXINCRBY n 3"))
	require.Equal(t, Int(1), h.must("EXINCRBY n -2"))
	require.Equal(t, Array{Int(11), Int(3)}, h.must("EXINCRBY n 10 WITHVERSION"))
	require.Equal(t, []string{"EXSET", "n", "11", "ABS", "3"}, h.repl.last())

	require.Equal(t, Int(12), h.must("EXINCRBY n 1 DEF 100"), "DEF only applies to a fresh key")
	require.Equal(t, Array{Int(10), Int(7)}, h.must("EXINCRBY d 1 DEF 10 ABS 7 WITHVERSION"))

	require.Equal(t, Null{}, h.must("EXINCRBY missing 1 XX"))
	require.Equal(t, Null{}, h.must("EXINCRBY n 1 NX"))
	h.fails("EXINCRBY n 1 VER 1", ErrVersion)
	require.Equal(t, Int(13), h.must("EXINCRBY n 1 VER 4"))
}

func TestExIncrByRoundTrip(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET r 100")
	for _, delta := range []string{"7", "-9223372036854775807", "123456789"} {
		before := h.must("EXGET r").(Array)
		h.must("EXINCRBY r " + delta)
		neg := "-" + delta
		if strings.HasPrefix(delta, "-") {
			neg = delta[1:]
		}
		h.must("EXINCRBY r " + neg)
		after := h.must("EXGET r").(Array)
		require.Equal(t, before[0], after[0])
		require.Equal(t, before[1].(Int)+2, after[1])
	}
}

func TestExIncrByBoundsAndOverflow(t *testing.T) {
	h := newHarness(t)

	h.fails("EXINCRBY n 1 MAX 0", ErrOverflow)
	require.Equal(t, Null{}, h.must("EXGET n"), "nothing is installed on a rejected create")
	require.Empty(t, h.repl.muts)

	h.must("EXINCRBY n 9223372036854775807")
	h.fails("EXINCRBY n 1", ErrOverflow)
	h.must("EXSET m -9223372036854775808")
	h.fails("EXINCRBY m -1", ErrOverflow)

	h.must("EXSET b 5")
	h.fails("EXINCRBY b 6 MAX 10", ErrOverflow)
	h.fails("EXINCRBY b -6 MIN 0", ErrOverflow)
	require.Equal(t, Int(10), h.must("EXINCRBY b 5 MIN 0 MAX 10"))
	require.Equal(t, hit("10", 2), h.must("EXGET b"))

	require.Equal(t, Int(50), h.must("EXINCRBY fresh 1 DEF 50 MAX 10"), "DEF on a fresh key skips the bound check")
}

func TestExIncrByNoNegative(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET n 3")
	require.Equal(t, Int(0), h.must("EXINCRBY n -5 NONEGATIVE"))
	require.Equal(t, []string{"EXSET", "n", "0", "ABS", "2"}, h.repl.last())
	h.fails("EXINCRBY n -5 MIN -1 NONEGATIVE", ErrOverflow)
	require.Equal(t, Int(0), h.must("EXINCRBY x 1 DEF -4 NONEGATIVE"))
}

func TestExIncrByArgumentErrors(t *testing.T) {
	h := newHarness(t)

	h.must("EXSET s abc")
	h.fails("EXINCRBY s 1", ErrNotInteger)
	h.fails("EXINCRBY s x", ErrNotInteger)
	h.fails("EXINCRBY s 1.5", ErrNotInteger)
	h.fails("EXINCRBY s 1 DEF x", ErrNotInteger)
	h.fails("EXINCRBY s 1 MIN x", ErrMinMax)
	h.fails("EXINCRBY s 1 MIN 5 MAX 1", ErrMinMax)
	h.fails("EXINCRBY s 1 EX 0", ErrSyntax)
	h.fails("EXINCRBY s 1 FLAGS 1", ErrSyntax)
	h.fails("EXINCRBY s", ArityError("exincrby"))
	require.Equal(t, hit("abc", 1), h.must("EXGET s"))
}

func TestExIncrByFloat(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Bulk("10.5"), h.must("EXINCRBYFLOAT f 10.5"))
	require.Equal(t, Bulk("10.6"), h.must("EXINCRBYFLOAT f 0.1"))
	require.Equal(t, []string{"EXSET", "f", "10.6", "ABS", "2"}, h.repl.last())
	require.Equal(t, Bulk("10.6"), h.must("EXINCRBYFLOAT f 0 KEEPTTL"))
	require.Equal(t, Bulk("-1.5"), h.must("EXINCRBYFLOAT g -1.5 PX 100"))
	require.Equal(t, Int(100), h.must("PTTL g"))

	h.fails("EXINCRBYFLOAT f 1 MAX 11", ErrOverflow)
	h.fails("EXINCRBYFLOAT f -20 MIN 0", ErrOverflow)
	h.fails("EXINCRBYFLOAT f inf", ErrOverflow)
	h.fails("EXINCRBYFLOAT f abc", ErrNotFloat)
	h.fails("EXINCRBYFLOAT f 1 MIN abc", ErrMinMax)
	h.fails("EXINCRBYFLOAT f 1 MIN 2 MAX 1", ErrMinMax)
	h.fails("EXINCRBYFLOAT f 1 NONEGATIVE", ErrSyntax)
	h.fails("EXINCRBYFLOAT f 1 VER 1", ErrVersion)

	h.must("EXSET s abc")
	h.fails("EXINCRBYFLOAT s 1", ErrNotFloat)
	h.fails("EXINCRBYFLOAT never 1 MAX 0.5", ErrOverflow)
	require.Equal(t, Null{}, h.must("EXGET never"))
}

func TestExSetVer(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Int(0), h.must("EXSETVER a 10"))
	require.Equal(t, Null{}, h.must("EXGET a"))

	h.must("EXSET a v PX 100")
	require.Equal(t, Int(1), h.must("exsetver a 10"))
	require.Equal(t, hit("v", 10), h.must("EXGET a"))
	require.Equal(t, []string{"exsetver", "a", "10"}, h.repl.last())
	require.Equal(t, Int(100), h.must("PTTL a"), "the expiration is untouched")

	h.fails("EXSETVER a 0", ErrSyntax)
	h.fails("EXSETVER a -1", ErrSyntax)
	h.fails("EXSETVER a x", ErrSyntax)
	h.fails("EXSETVER a", ArityError("exsetver"))
	h.fails("EXSETVER nokey abc", ErrSyntax)
}

func TestExCas(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Int(-1), h.must("EXCAS c v 1"))

	h.must("EXSET c v1")
	require.Equal(t, Array{Status("ERR update version is stale"), Bulk("v1"), Int(1)}, h.must("EXCAS c v2 5"))
	require.Equal(t, Array{Status("ERR update version is stale"), Bulk("v1"), Int(1)}, h.must("EXCAS c v2 0"))
	require.Equal(t, hit("v1", 1), h.must("EXGET c"))
	require.Len(t, h.repl.muts, 1)

	h.fails("EXCAS c v2 x", ErrVersionNotInt)
	h.fails("EXCAS c v2 -1", ErrSyntax)
	h.fails("EXCAS c v2 1 NX", ErrSyntax)

	require.Equal(t, Array{replyOK, Status(""), Int(2)}, h.must("EXCAS c v2 1 EX 10"))
	require.Equal(t, []string{"EXSET", "c", "v2", "ABS", "2", "PXAT", "1010000"}, h.repl.last())
	require.Equal(t, Int(10_000), h.must("PTTL c"))

	h.must("EXCAS c v3 2")
	require.Equal(t, Int(-1), h.must("PTTL c"))
}

func TestExCad(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Int(-1), h.must("EXCAD d 1"))
	h.must("EXSET d v")
	require.Equal(t, Int(0), h.must("EXCAD d 9"))
	require.Equal(t, Int(0), h.must("EXCAD d -1"))
	require.Equal(t, hit("v", 1), h.must("EXGET d"))
	h.fails("EXCAD d x", ErrSyntax)

	require.Equal(t, Int(1), h.must("EXCAD d 1"))
	require.Equal(t, []string{"DEL", "d"}, h.repl.last())
	require.Equal(t, Null{}, h.must("EXGET d"))
}

func TestAppendPrepend(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Null{}, h.must("EXAPPEND p ab XX"))
	require.Equal(t, Int(1), h.must("EXAPPEND p ab"))
	require.Equal(t, Int(2), h.must("EXAPPEND p cd"))
	require.Equal(t, Int(3), h.must("EXPREPEND p zz"))
	require.Equal(t, hit("zzabcd", 3), h.must("EXGET p"))
	require.Equal(t, []string{"EXSET", "p", "zzabcd", "ABS", "3"}, h.repl.last())

	require.Equal(t, Null{}, h.must("EXAPPEND p x NX"))
	h.fails("EXAPPEND p x VER 1", ErrVersion)
	require.Equal(t, Int(10), h.must("EXPREPEND p x ABS 10"))
	h.fails("EXAPPEND p x EX 10", ErrSyntax)
	h.fails("EXAPPEND p x VER -1", ErrSyntax)

	h.must("EXSET t v PX 500")
	require.Equal(t, Int(2), h.must("EXAPPEND t w"))
	require.Equal(t, Int(500), h.must("PTTL t"), "append keeps the expiration")
	require.Equal(t, []string{"EXSET", "t", "vw", "ABS", "2", "PXAT", "1000500"}, h.repl.last())
}

func TestExGae(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Null{}, h.must("EXGAE e EX 10"))
	require.Empty(t, h.repl.muts)

	h.must("EXSET e v FLAGS 7")
	require.Equal(t, Array{Bulk("v"), Int(1), Int(7)}, h.must("EXGAE e EX 10"))
	require.Equal(t, Int(10_000), h.must("PTTL e"))
	require.Equal(t, []string{"EXGAE", "e", "PXAT", "1010000"}, h.repl.last())
	require.Equal(t, hit("v", 1), h.must("EXGET e"), "no version advance")

	h.fails("EXGAE e EX", ArityError("exgae"))
	h.fails("EXGAE e NX 1", ErrSyntax)
	h.fails("EXGAE e KEEPTTL x", ErrSyntax)
	h.fails("EXGAE e EX 0", ErrSyntax)
	h.fails("EXGAE e EX 1 PX 2", ErrSyntax)
}

func TestPlainCasCad(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Int(-1), h.must("CAS s a b"))
	require.Equal(t, Int(-1), h.must("CAD s a"))

	h.must("SET s a")
	require.Equal(t, Int(0), h.must("CAS s x b"))
	require.Equal(t, Int(1), h.must("CAS s a b PX 100"))
	require.Equal(t, Bulk("b"), h.must("GET s"))
	require.Equal(t, Int(100), h.must("PTTL s"))
	n := len(h.repl.muts)
	require.Equal(t, []string{"SET", "s", "b"}, h.repl.muts[n-2].Args)
	require.Equal(t, []string{"PEXPIREAT", "s", "1000100"}, h.repl.muts[n-1].Args)

	require.Equal(t, Int(1), h.must("CAS s b c KEEPTTL"))
	require.Equal(t, []string{"PEXPIREAT", "s", "1000100"}, h.repl.last())
	require.Equal(t, Int(1), h.must("CAS s c d"))
	require.Equal(t, Int(-1), h.must("PTTL s"))
	require.Equal(t, []string{"SET", "s", "d"}, h.repl.last())

	require.Equal(t, Int(0), h.must("CAD s x"))
	require.Equal(t, Int(1), h.must("CAD s d"))
	require.Equal(t, []string{"DEL", "s"}, h.repl.last())
	require.Equal(t, Null{}, h.must("GET s"))

	h.fails("CAS s a b VER 1", ErrSyntax)
	h.fails("CAD s", ArityError("cad"))
}

func TestWrongType(t *testing.T) {
	h := newHarness(t)

	h.ks.Set("h", map[string]string{"f": "v"})
	for _, line := range []string{
		"EXSET h v",
		"EXGET h",
		"EXINCRBY h 1",
		"EXINCRBYFLOAT h 1",
		"EXSETVER h 1",
		"EXCAS h v 1",
		"EXCAD h 1",
		"EXAPPEND h v NX",
		"EXPREPEND h v",
		"EXGAE h EX 1",
		"CAS h a b",
		"CAD h a",
		"GET h",
	} {
		h.fails(line, ErrWrongType)
	}

	h.must("EXSET ex v")
	h.fails("CAS ex v w", ErrWrongType)
	h.fails("GET ex", ErrWrongType)
	h.must("SET plain v")
	h.fails("EXSET plain v", ErrWrongType)
	require.Equal(t, replyOK, h.must("SET ex overwritten"), "SET replaces any type")
}

func TestNativeCommands(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, Status("PONG"), h.must("PING"))
	require.Equal(t, Bulk("hi"), h.must("PING hi"))
	require.Equal(t, Int(-2), h.must("PTTL nope"))
	require.Equal(t, Int(0), h.must("PEXPIREAT nope 5"))

	h.must("SET a 1")
	h.must("EXSET b 2")
	require.Equal(t, Int(1), h.must("PEXPIREAT a 2000000"))
	require.Equal(t, Int(1_000_000), h.must("PTTL a"))
	h.fails("PEXPIREAT a soon", ErrNotInteger)

	require.Equal(t, Int(2), h.must("DEL a b c a"))
	require.Equal(t, []string{"DEL", "a", "b"}, h.repl.last())
	require.Equal(t, Int(0), h.must("DEL a"))

	_, err := h.do("NOPE x")
	require.ErrorIs(t, err, ErrUnknownCommand)
	require.EqualError(t, err, "ERR unknown command 'NOPE'")
}

type failingLog struct{ calls int }

func (f *failingLog) Append(muts ...model.Mutation) error {
	f.calls++
	return errors.New("disk full")
}

func TestReplicationFailureLeavesStateUntouched(t *testing.T) {
	h := newHarness(t)
	h.must("EXSET k v1 PX 100")
	h.must("SET p a")

	failing := &failingLog{}
	eng := NewEngine(h.ks, WithReplicator(failing), WithLogger(logging.Discard()))
	for _, line := range []string{"EXSET k v2", "EXINCRBY n 1", "EXCAD k 1", "EXAPPEND k x", "CAS p a b EX 1"} {
		_, err := eng.Execute(context.Background(), strings.Fields(line))
		require.ErrorIs(t, err, ErrReplication, line)
	}
	require.Equal(t, 5, failing.calls)

	require.Equal(t, hit("v1", 1), h.must("EXGET k"))
	require.Equal(t, Int(100), h.must("PTTL k"))
	require.Equal(t, Null{}, h.must("EXGET n"))
	require.Equal(t, Bulk("a"), h.must("GET p"))
	require.Equal(t, Int(-1), h.must("PTTL p"))
}

func TestReplicatorSeesNormalizedForm(t *testing.T) {
	ctrl := gomock.NewController(t)
	repl := NewMockReplicator(ctrl)

	now := t0
	eng := NewEngine(keyspace.New(keyspace.WithClock(func() int64 { return now })),
		WithReplicator(repl), WithLogger(logging.Discard()))

	repl.EXPECT().Append(gomock.Any()).DoAndReturn(func(muts ...model.Mutation) error {
		require.Len(t, muts, 1)
		require.Equal(t, []string{"EXSET", "k", "7", "ABS", "1", "PXAT", "1003000"}, muts[0].Args)
		require.Equal(t, t0, muts[0].Timestamp)
		return nil
	})

	reply, err := eng.Execute(context.Background(), []string{"exincrby", "k", "7", "ex", "3"})
	require.NoError(t, err)
	require.Equal(t, Int(7), reply)
}

func TestObserver(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := NewMockObserver(ctrl)
	h := newHarness(t, WithObserver(obs))

	gomock.InOrder(
		obs.EXPECT().ObserveReplication(1, nil),
		obs.EXPECT().ObserveCommand("EXSET", nil, gomock.Any()),
		obs.EXPECT().ObserveCommand("EXGET", ErrSyntax, gomock.Any()),
	)
	h.must("exset k v")
	h.fails("EXGET k nope", ErrSyntax)
}

func TestReplayReproducesState(t *testing.T) {
	src := newHarness(t)
	for _, line := range []string{
		"EXSET a v EX 100",
		"EXSET a w KEEPTTL FLAGS 3",
		"EXINCRBY n 5 DEF 1 PX 5000",
		"EXINCRBY n 2",
		"EXINCRBYFLOAT f 1.25",
		"EXAPPEND a x",
		"EXPREPEND a y",
		"EXSETVER a 40",
		"EXCAS a z 40 PX 20000",
		"EXGAE f PX 7000",
		"EXSET gone v",
		"EXCAD gone 1",
		"SET s a",
		"CAS s a b EX 30",
		"EXSET short v PX 10",
	} {
		src.must(line)
		src.now += 3
	}

	dst := newHarness(t)
	dst.now = src.now
	for _, m := range src.repl.muts {
		require.NoError(t, dst.eng.Apply(m), m.Args)
	}
	require.Empty(t, dst.repl.muts, "replay does not replicate")
	require.Equal(t, src.ks.Entries(), dst.ks.Entries())
	require.Equal(t, src.now, dst.ks.NowMillis(), "clock restored after replay")
}

func TestRewriteLogRebuildsKeyspace(t *testing.T) {
	src := newHarness(t)
	src.must("EXSET a v FLAGS 9 ABS 12 PX 500")
	src.must("SET b raw")
	src.must("EXINCRBY c 3")
	src.ks.Set("other", 1.5)

	var records []model.Mutation
	require.NoError(t, src.eng.Checkpoint(func(entries []keyspace.Entry) error {
		records = RewriteLog(entries)
		return nil
	}))
	require.Len(t, records, 4)

	dst := newHarness(t)
	for _, m := range records {
		require.NoError(t, dst.eng.Apply(m))
	}
	want := src.ks.Entries()
	got := dst.ks.Entries()
	require.Len(t, got, 3)
	require.Equal(t, want[:3], got)
}

func TestRestoreAndSweep(t *testing.T) {
	h := newHarness(t)
	h.must("EXSET stale v")

	h.eng.Restore([]keyspace.Entry{
		{Key: "a", Value: &model.VersionedObject{Version: 4, Value: []byte("x")}},
		{Key: "b", Value: []byte("y"), ExpireAt: t0 + 10},
	})
	require.Equal(t, Null{}, h.must("EXGET stale"))
	require.Equal(t, hit("x", 4), h.must("EXGET a"))
	require.Equal(t, 2, h.eng.Len())

	h.now += 10
	require.Equal(t, 1, h.eng.SweepExpired())
	require.Equal(t, 1, h.eng.Len())
}

func TestExecuteHonorsCancelledContext(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.eng.Execute(ctx, []string{"EXSET", "k", "v"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, h.ks.Len())
}
