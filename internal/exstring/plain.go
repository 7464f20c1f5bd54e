package exstring

import (
	"bytes"

	"exstrkv/internal/model"
)

// plainValue returns the raw string at key, nil when absent, or
// ErrWrongType when key holds anything else.
func (c *call) plainValue(key string) ([]byte, bool, error) {
	v, ok := c.e.ks.Get(key)
	if !ok {
		return nil, false, nil
	}
	b, isPlain := v.([]byte)
	if !isPlain {
		return nil, true, ErrWrongType
	}
	return b, true, nil
}

// CAS key oldvalue newvalue [EX..] [KEEPTTL]
func cas(c *call) (Reply, error) {
	if len(c.args) < 4 {
		return nil, ArityError("cas")
	}
	o, err := c.parse(4, allowCas)
	if err != nil {
		return nil, err
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
	cur, found, err := c.plainValue(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return Int(-1), nil
	}
	if !bytes.Equal(cur, []byte(c.args[2])) {
		return Int(0), nil
	}

	records := []model.Mutation{model.NewMutation("SET", key, c.args[3])}
	if at, ok := c.deadline(key, plan); ok {
		records = append(records, model.NewMutation("PEXPIREAT", key, itoa(at)))
	}
	err = c.commit(func() {
		c.e.ks.Set(key, []byte(c.args[3]))
		c.applyTTL(key, plan)
	}, records...)
	if err != nil {
		return nil, err
	}
	return Int(1), nil
}

// CAD key value
func cad(c *call) (Reply, error) {
	if len(c.args) != 3 {
		return nil, ArityError("cad")
	}
	key := c.args[1]
	cur, found, err := c.plainValue(key)
	if err != nil {
		return nil, err
	}
	if !found {
		return Int(-1), nil
	}
	if !bytes.Equal(cur, []byte(c.args[2])) {
		return Int(0), nil
	}
	if err := c.commit(func() { c.e.ks.Delete(key) }, delRecord(key)); err != nil {
		return nil, err
	}
	return Int(1), nil
}

// SET key value. Any previous value and expiration are replaced.
func set(c *call) (Reply, error) {
	if len(c.args) != 3 {
		return nil, ArityError("set")
	}
	key, value := c.args[1], c.args[2]
	err := c.commit(func() {
		c.e.ks.Delete(key)
		c.e.ks.Set(key, []byte(value))
	}, c.verbatim())
	if err != nil {
		return nil, err
	}
	return replyOK, nil
}

// GET key
func get(c *call) (Reply, error) {
	if len(c.args) != 2 {
		return nil, ArityError("get")
	}
	cur, found, err := c.plainValue(c.args[1])
	if err != nil {
		return nil, err
	}
	if !found {
		return Null{}, nil
	}
	return Bulk(cur), nil
}

// DEL key [key ...]
func del(c *call) (Reply, error) {
	if len(c.args) < 2 {
		return nil, ArityError("del")
	}
	var live []string
	seen := make(map[string]bool, len(c.args)-1)
	for _, key := range c.args[1:] {
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := c.e.ks.Get(key); ok {
			live = append(live, key)
		}
	}
	if len(live) == 0 {
		return Int(0), nil
	}
	err := c.commit(func() {
		for _, key := range live {
			c.e.ks.Delete(key)
		}
	}, delRecord(live...))
	if err != nil {
		return nil, err
	}
	return Int(len(live)), nil
}

// PEXPIREAT key unix-ms
func pexpireAt(c *call) (Reply, error) {
	if len(c.args) != 3 {
		return nil, ArityError("pexpireat")
	}
	at, ok := parseInt(c.args[2])
	if !ok {
		return nil, ErrNotInteger
	}
	key := c.args[1]
	if _, found := c.e.ks.Get(key); !found {
		return Int(0), nil
	}
	err := c.commit(func() { c.applyTTL(key, ttlPlan{mode: ttlAt, at: at}) }, c.verbatim())
	if err != nil {
		return nil, err
	}
	return Int(1), nil
}

// PTTL key: -2 when absent, -1 without an expiration.
func pttl(c *call) (Reply, error) {
	if len(c.args) != 2 {
		return nil, ArityError("pttl")
	}
	key := c.args[1]
	if _, found := c.e.ks.Get(key); !found {
		return Int(-2), nil
	}
	at, ok := c.e.ks.ExpireAt(key)
	if !ok {
		return Int(-1), nil
	}
	return Int(at - c.now), nil
}

// PING [message]
func ping(c *call) (Reply, error) {
	switch len(c.args) {
	case 1:
		return Status("PONG"), nil
	case 2:
		return Bulk(c.args[1]), nil
	default:
		return nil, ArityError("ping")
	}
}
