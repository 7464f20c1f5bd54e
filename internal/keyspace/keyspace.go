// Package keyspace is the in-memory host store: typed values under string
// keys with millisecond expirations. It does no locking of its own; the
// command engine serializes every access.
package keyspace

import (
	"sort"
	"time"
)

// NoExpire passed to SetExpire removes a key's deadline.
const NoExpire int64 = -1

// Entry is a live key as seen by Range and Entries.
type Entry struct {
	Key      string
	Value    any
	ExpireAt int64 // unix ms, 0 when the key never expires
}

type slot struct {
	value    any
	expireAt int64
}

// Keyspace maps keys to values of any type. A key whose deadline is at or
// before the current clock reading is treated as absent and removed on the
// next access.
type Keyspace struct {
	slots map[string]*slot
	now   func() int64
}

type Option func(*Keyspace)

// WithClock replaces the wall clock used for expirations.
func WithClock(now func() int64) Option {
	return func(ks *Keyspace) { ks.now = now }
}

func New(opts ...Option) *Keyspace {
	ks := &Keyspace{
		slots: make(map[string]*slot),
		now:   func() int64 { return time.Now().UnixMilli() },
	}
	for _, opt := range opts {
		opt(ks)
	}
	return ks
}

// NowMillis returns the current time in unix milliseconds.
func (ks *Keyspace) NowMillis() int64 { return ks.now() }

// SetClock swaps the clock and returns the previous one.
func (ks *Keyspace) SetClock(now func() int64) func() int64 {
	prev := ks.now
	ks.now = now
	return prev
}

func (ks *Keyspace) lookup(key string) *slot {
	s, ok := ks.slots[key]
	if !ok {
		return nil
	}
	if s.expireAt != 0 && s.expireAt <= ks.now() {
		delete(ks.slots, key)
		return nil
	}
	return s
}

// Get returns the value stored at key.
func (ks *Keyspace) Get(key string) (any, bool) {
	s := ks.lookup(key)
	if s == nil {
		return nil, false
	}
	return s.value, true
}

// Set stores value at key. An existing deadline is kept.
func (ks *Keyspace) Set(key string, value any) {
	if s := ks.lookup(key); s != nil {
		s.value = value
		return
	}
	ks.slots[key] = &slot{value: value}
}

// Delete removes key and reports whether it was live.
func (ks *Keyspace) Delete(key string) bool {
	if ks.lookup(key) == nil {
		return false
	}
	delete(ks.slots, key)
	return true
}

// SetExpire sets a deadline ttl milliseconds from now. A ttl of zero expires
// the key immediately; NoExpire clears the deadline.
func (ks *Keyspace) SetExpire(key string, ttl int64) bool {
	if ttl == NoExpire {
		return ks.SetExpireAt(key, 0)
	}
	if ttl < 0 {
		ttl = 0
	}
	return ks.SetExpireAt(key, ks.now()+ttl)
}

// SetExpireAt sets an absolute deadline in unix ms; 0 clears it.
func (ks *Keyspace) SetExpireAt(key string, at int64) bool {
	s := ks.lookup(key)
	if s == nil {
		return false
	}
	s.expireAt = at
	return true
}

// ExpireAt returns the absolute deadline of key, if it has one.
func (ks *Keyspace) ExpireAt(key string) (int64, bool) {
	s := ks.lookup(key)
	if s == nil || s.expireAt == 0 {
		return 0, false
	}
	return s.expireAt, true
}

// DeleteExpired removes every key past its deadline and returns how many
// were removed.
func (ks *Keyspace) DeleteExpired() int {
	now := ks.now()
	n := 0
	for key, s := range ks.slots {
		if s.expireAt != 0 && s.expireAt <= now {
			delete(ks.slots, key)
			n++
		}
	}
	return n
}

// Len counts stored keys, including expired ones not yet reaped.
func (ks *Keyspace) Len() int { return len(ks.slots) }

// Entries returns the live keys sorted by name.
func (ks *Keyspace) Entries() []Entry {
	now := ks.now()
	out := make([]Entry, 0, len(ks.slots))
	for key, s := range ks.slots {
		if s.expireAt != 0 && s.expireAt <= now {
			continue
		}
		out = append(out, Entry{Key: key, Value: s.value, ExpireAt: s.expireAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Flush drops every key.
func (ks *Keyspace) Flush() {
	ks.slots = make(map[string]*slot)
}
