package exstring

import (
	"math"
	"math/big"
	"strings"

	"exstrkv/internal/model"
	"exstrkv/internal/options"
)

const (
	allowExSet = options.NX | options.XX | options.EX | options.PX | options.AbsExpire |
		options.KeepTTL | options.Ver | options.AbsVer | options.WithFlags | options.WithVersion
	allowExIncrBy = options.NX | options.XX | options.EX | options.PX | options.AbsExpire |
		options.KeepTTL | options.Ver | options.AbsVer | options.WithVersion |
		options.WithDefault | options.NoNegative | options.Boundary
	allowExIncrByFloat = options.NX | options.XX | options.EX | options.PX | options.AbsExpire |
		options.KeepTTL | options.Ver | options.AbsVer | options.Boundary
	allowCas    = options.EX | options.PX | options.AbsExpire | options.KeepTTL
	allowAppend = options.NX | options.XX | options.Ver | options.AbsVer
	allowGae    = options.EX | options.PX | options.AbsExpire
)

var commands map[string]handler

func init() {
	commands = map[string]handler{
		"EXSET":         exSet,
		"EXGET":         exGet,
		"EXINCRBY":      exIncrBy,
		"EXINCRBYFLOAT": exIncrByFloat,
		"EXSETVER":      exSetVer,
		"EXCAS":         exCas,
		"EXCAD":         exCad,
		"EXAPPEND":      func(c *call) (Reply, error) { return exConcat(c, false) },
		"EXPREPEND":     func(c *call) (Reply, error) { return exConcat(c, true) },
		"EXGAE":         exGae,
		"CAS":           cas,
		"CAD":           cad,
		"SET":           set,
		"GET":           get,
		"DEL":           del,
		"PEXPIREAT":     pexpireAt,
		"PTTL":          pttl,
		"PING":          ping,
	}
}

// Commands lists the names Execute understands.
func Commands() []string {
	out := make([]string, 0, len(commands))
	for name := range commands {
		out = append(out, name)
	}
	return out
}

func (c *call) parse(start int, allow options.Flag) (options.Options, error) {
	o, err := options.Parse(c.args, start, allow)
	if err != nil {
		return options.Options{}, ErrSyntax
	}
	return o, nil
}

// lookup returns the object at key, nil when absent, or ErrWrongType.
func (c *call) lookup(key string) (*model.VersionedObject, error) {
	v, ok := c.e.ks.Get(key)
	if !ok {
		return nil, nil
	}
	obj, isObj := v.(*model.VersionedObject)
	if !isObj {
		return nil, ErrWrongType
	}
	return obj, nil
}

// checkVersion applies VER: a non-zero version must equal the current one.
func checkVersion(o options.Options, version int64, cur *model.VersionedObject) error {
	if o.Flags.Has(options.Ver) && version != 0 && uint64(version) != cur.Version {
		return ErrVersion
	}
	return nil
}

// nextVersion is the version after a successful mutation: the ABS value
// when given, the current one plus one otherwise. Versions stay within
// int64 so every recorded ABS argument parses back on replay.
func nextVersion(o options.Options, version int64, cur uint64) (uint64, error) {
	if o.Flags.Has(options.AbsVer) {
		return uint64(version), nil
	}
	if cur >= math.MaxInt64 {
		return 0, ErrOverflow
	}
	return cur + 1, nil
}

// staged returns the state a mutation starts from: a copy of cur, or a
// fresh object when the key is absent. Changes are made on the copy and
// only become visible through commit.
func staged(cur *model.VersionedObject) *model.VersionedObject {
	if cur == nil {
		return &model.VersionedObject{}
	}
	return &model.VersionedObject{Version: cur.Version, Flags: cur.Flags, Value: cur.Value}
}

func (c *call) install(key string, obj *model.VersionedObject, plan ttlPlan, rec model.Mutation) error {
	return c.commit(func() {
		c.e.ks.Set(key, obj)
		c.applyTTL(key, plan)
	}, rec)
}

// EXSET key value [EX|EXAT|PX|PXAT t] [NX|XX] [VER|ABS v] [FLAGS f] [WITHVERSION] [KEEPTTL]
func exSet(c *call) (Reply, error) {
	if len(c.args) < 3 {
		return nil, ArityError("exset")
	}
	o, err := c.parse(3, allowExSet)
	if err != nil {
		return nil, err
	}
	expire, err := expireArg(o)
	if err != nil {
		return nil, err
	}
	version, err := versionArg(o)
	if err != nil {
		return nil, err
	}
	var flags uint64
	if o.Flag32.Present {
		v, ok := parseInt(o.Flag32.Value)
		if !ok || v < 0 || v > 0xFFFFFFFF {
			return nil, ErrSyntax
		}
		flags = uint64(v)
	}
	plan, err := planTTL(o, expire, c.now)
	if err != nil {
		return nil, err
	}

	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if cur == nil && o.Flags.Has(options.XX) {
		return Null{}, nil
	}
	if cur != nil {
		if o.Flags.Has(options.NX) {
			return Null{}, nil
		}
		if err := checkVersion(o, version, cur); err != nil {
			return nil, err
		}
	}

	obj := staged(cur)
	if obj.Version, err = nextVersion(o, version, obj.Version); err != nil {
		return nil, err
	}
	obj.Value = []byte(c.args[2])
	if o.Flags.Has(options.WithFlags) {
		obj.Flags = uint32(flags)
	}

	rec := c.setRecord(key, obj, plan, o.Flags.Has(options.WithFlags))
	if err := c.install(key, obj, plan, rec); err != nil {
		return nil, err
	}
	if o.Flags.Has(options.WithVersion) {
		return Int(obj.Version), nil
	}
	return replyOK, nil
}

// EXGET key [WITHFLAGS]
func exGet(c *call) (Reply, error) {
	if len(c.args) < 2 || len(c.args) > 3 {
		return nil, ArityError("exget")
	}
	withFlags := len(c.args) == 3
	if withFlags && !strings.EqualFold(c.args[2], "WITHFLAGS") {
		return nil, ErrSyntax
	}
	obj, err := c.lookup(c.args[1])
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return Null{}, nil
	}
	if withFlags {
		return Array{Bulk(obj.Value), Int(obj.Version), Int(obj.Flags)}, nil
	}
	return Array{Bulk(obj.Value), Int(obj.Version)}, nil
}

// EXINCRBY key delta [DEF d] [EX..] [NX|XX] [VER|ABS v] [MIN m] [MAX M] [NONEGATIVE] [WITHVERSION] [KEEPTTL]
func exIncrBy(c *call) (Reply, error) {
	if len(c.args) < 3 {
		return nil, ArityError("exincrby")
	}
	o, err := c.parse(3, allowExIncrBy)
	if err != nil {
		return nil, err
	}
	incr, ok := parseInt(c.args[2])
	if !ok {
		return nil, ErrNotInteger
	}
	var def int64
	if o.Default.Present {
		if def, ok = parseInt(o.Default.Value); !ok {
			return nil, ErrNotInteger
		}
	}
	expire, err := expireArg(o)
	if err != nil {
		return nil, err
	}
	version, err := versionArg(o)
	if err != nil {
		return nil, err
	}
	var lo, hi int64
	if o.Min.Present {
		if lo, ok = parseInt(o.Min.Value); !ok {
			return nil, ErrMinMax
		}
	}
	if o.Max.Present {
		if hi, ok = parseInt(o.Max.Value); !ok {
			return nil, ErrMinMax
		}
	}
	if o.Min.Present && o.Max.Present && hi < lo {
		return nil, ErrMinMax
	}
	plan, err := planTTL(o, expire, c.now)
	if err != nil {
		return nil, err
	}

	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	var value int64
	if cur == nil {
		if o.Flags.Has(options.XX) {
			return Null{}, nil
		}
		value = def
	} else {
		if o.Flags.Has(options.NX) {
			return Null{}, nil
		}
		if value, ok = parseInt(string(cur.Value)); !ok {
			return nil, ErrNotInteger
		}
		if err := checkVersion(o, version, cur); err != nil {
			return nil, err
		}
	}

	// A fresh key with DEF takes the default as is.
	if !(cur == nil && o.Default.Present) {
		if addOverflows(value, incr) ||
			(o.Max.Present && value+incr > hi) ||
			(o.Min.Present && value+incr < lo) {
			return nil, ErrOverflow
		}
		value += incr
	}
	if o.Flags.Has(options.NoNegative) && value < 0 {
		value = 0
	}

	obj := staged(cur)
	if obj.Version, err = nextVersion(o, version, obj.Version); err != nil {
		return nil, err
	}
	obj.Value = []byte(itoa(value))

	rec := c.setRecord(key, obj, plan, false)
	if err := c.install(key, obj, plan, rec); err != nil {
		return nil, err
	}
	if o.Flags.Has(options.WithVersion) {
		return Array{Int(value), Int(obj.Version)}, nil
	}
	return Int(value), nil
}

// EXINCRBYFLOAT key delta [MIN m] [MAX M] [EX..] [NX|XX] [VER|ABS v] [KEEPTTL]
func exIncrByFloat(c *call) (Reply, error) {
	if len(c.args) < 3 {
		return nil, ArityError("exincrbyfloat")
	}
	o, err := c.parse(3, allowExIncrByFloat)
	if err != nil {
		return nil, err
	}
	incr, ok := parseFloat(c.args[2])
	if !ok {
		return nil, ErrNotFloat
	}
	expire, err := expireArg(o)
	if err != nil {
		return nil, err
	}
	version, err := versionArg(o)
	if err != nil {
		return nil, err
	}
	var lo, hi *big.Float
	if o.Min.Present {
		if lo, ok = parseFloat(o.Min.Value); !ok {
			return nil, ErrMinMax
		}
	}
	if o.Max.Present {
		if hi, ok = parseFloat(o.Max.Value); !ok {
			return nil, ErrMinMax
		}
	}
	if lo != nil && hi != nil && hi.Cmp(lo) < 0 {
		return nil, ErrMinMax
	}
	plan, err := planTTL(o, expire, c.now)
	if err != nil {
		return nil, err
	}

	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	value := newFloat()
	if cur == nil {
		if o.Flags.Has(options.XX) {
			return Null{}, nil
		}
	} else {
		if o.Flags.Has(options.NX) {
			return Null{}, nil
		}
		if value, ok = parseFloat(string(cur.Value)); !ok {
			return nil, ErrNotFloat
		}
		if err := checkVersion(o, version, cur); err != nil {
			return nil, err
		}
	}

	sum, ok := addFloat(value, incr)
	if !ok || (hi != nil && sum.Cmp(hi) > 0) || (lo != nil && sum.Cmp(lo) < 0) {
		return nil, ErrOverflow
	}

	obj := staged(cur)
	if obj.Version, err = nextVersion(o, version, obj.Version); err != nil {
		return nil, err
	}
	obj.Value = []byte(formatFloat(sum))

	rec := c.setRecord(key, obj, plan, false)
	if err := c.install(key, obj, plan, rec); err != nil {
		return nil, err
	}
	return Bulk(obj.Value), nil
}

// EXSETVER key version
func exSetVer(c *call) (Reply, error) {
	if len(c.args) != 3 {
		return nil, ArityError("exsetver")
	}
	version, ok := parseInt(c.args[2])
	if !ok || version <= 0 {
		return nil, ErrSyntax
	}
	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return Int(0), nil
	}

	obj := staged(cur)
	obj.Version = uint64(version)
	if err := c.commit(func() { c.e.ks.Set(key, obj) }, c.verbatim()); err != nil {
		return nil, err
	}
	return Int(1), nil
}

// EXCAS key newvalue version [EX..] [KEEPTTL]
func exCas(c *call) (Reply, error) {
	if len(c.args) < 4 {
		return nil, ArityError("excas")
	}
	o, err := c.parse(4, allowCas)
	if err != nil {
		return nil, err
	}
	expire, err := expireArg(o)
	if err != nil {
		return nil, err
	}
	version, ok := parseInt(c.args[3])
	if !ok {
		return nil, ErrVersionNotInt
	}
	if version < 0 {
		return nil, ErrSyntax
	}
	plan, err := planTTL(o, expire, c.now)
	if err != nil {
		return nil, err
	}

	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return Int(-1), nil
	}
	// The conflict is a reply, not an error, so clients can retry with the
	// value and version it carries.
	if cur.Version != uint64(version) {
		return Array{Status(versionStaleMsg), Bulk(cur.Value), Int(cur.Version)}, nil
	}

	obj := staged(cur)
	if obj.Version, err = nextVersion(options.Options{}, 0, obj.Version); err != nil {
		return nil, err
	}
	obj.Value = []byte(c.args[2])

	rec := c.setRecord(key, obj, plan, false)
	if err := c.install(key, obj, plan, rec); err != nil {
		return nil, err
	}
	return Array{replyOK, Status(""), Int(obj.Version)}, nil
}

// EXCAD key version
func exCad(c *call) (Reply, error) {
	if len(c.args) != 3 {
		return nil, ArityError("excad")
	}
	version, ok := parseInt(c.args[2])
	if !ok {
		return nil, ErrSyntax
	}
	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return Int(-1), nil
	}
	if cur.Version != uint64(version) {
		return Int(0), nil
	}
	if err := c.commit(func() { c.e.ks.Delete(key) }, delRecord(key)); err != nil {
		return nil, err
	}
	return Int(1), nil
}

// EXAPPEND / EXPREPEND key value [NX|XX] [VER|ABS v]
func exConcat(c *call, prepend bool) (Reply, error) {
	name := "exappend"
	if prepend {
		name = "exprepend"
	}
	if len(c.args) < 3 {
		return nil, ArityError(name)
	}
	o, err := c.parse(3, allowAppend)
	if err != nil {
		return nil, err
	}
	version, err := versionArg(o)
	if err != nil {
		return nil, err
	}

	key, piece := c.args[1], c.args[2]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	obj := staged(cur)
	if cur == nil {
		if o.Flags.Has(options.XX) {
			return Null{}, nil
		}
		obj.Value = []byte(piece)
	} else {
		if o.Flags.Has(options.NX) {
			return Null{}, nil
		}
		if err := checkVersion(o, version, cur); err != nil {
			return nil, err
		}
		value := make([]byte, 0, len(cur.Value)+len(piece))
		if prepend {
			value = append(append(value, piece...), cur.Value...)
		} else {
			value = append(append(value, cur.Value...), piece...)
		}
		obj.Value = value
	}
	if obj.Version, err = nextVersion(o, version, obj.Version); err != nil {
		return nil, err
	}

	// The expiration is left alone; the record carries the current one.
	plan := ttlPlan{mode: ttlKeep}
	rec := c.setRecord(key, obj, plan, false)
	if err := c.install(key, obj, plan, rec); err != nil {
		return nil, err
	}
	return Int(obj.Version), nil
}

// EXGAE key EX|EXAT|PX|PXAT time
func exGae(c *call) (Reply, error) {
	if len(c.args) < 4 {
		return nil, ArityError("exgae")
	}
	o, err := c.parse(2, allowGae)
	if err != nil {
		return nil, err
	}
	if !o.Expire.Present {
		return nil, ErrSyntax
	}
	expire, err := expireArg(o)
	if err != nil {
		return nil, err
	}
	plan, err := planTTL(o, expire, c.now)
	if err != nil {
		return nil, err
	}

	key := c.args[1]
	cur, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return Null{}, nil
	}
	reply := Array{Bulk(cur.Value), Int(cur.Version), Int(cur.Flags)}
	rec := model.NewMutation("EXGAE", key, "PXAT", itoa(plan.at))
	if err := c.commit(func() { c.applyTTL(key, plan) }, rec); err != nil {
		return nil, err
	}
	return reply, nil
}
