package exstring

import (
	"math"

	"exstrkv/internal/options"
)

type ttlMode int

const (
	ttlClear ttlMode = iota
	ttlKeep
	ttlAt
)

// ttlPlan is the expiration change a command will make.
type ttlPlan struct {
	mode ttlMode
	at   int64
}

// expireArg converts the EX/PX family token. It must be a positive integer.
func expireArg(o options.Options) (int64, error) {
	if !o.Expire.Present {
		return 0, nil
	}
	v, ok := parseInt(o.Expire.Value)
	if !ok || v <= 0 {
		return 0, ErrSyntax
	}
	return v, nil
}

// versionArg converts the VER/ABS token. It must be a non-negative integer.
func versionArg(o options.Options) (int64, error) {
	if !o.Version.Present {
		return 0, nil
	}
	v, ok := parseInt(o.Version.Value)
	if !ok || v < 0 {
		return 0, ErrSyntax
	}
	return v, nil
}

// planTTL resolves the expiration directive against now. Seconds become
// milliseconds; absolute deadlines already in the past expire at once.
func planTTL(o options.Options, expire, now int64) (ttlPlan, error) {
	if !o.Expire.Present {
		if o.Flags.Has(options.KeepTTL) {
			return ttlPlan{mode: ttlKeep}, nil
		}
		return ttlPlan{mode: ttlClear}, nil
	}

	ms := expire
	if o.Flags.Has(options.EX) {
		if ms > math.MaxInt64/1000 {
			return ttlPlan{}, ErrSyntax
		}
		ms *= 1000
	}
	if o.Flags.Has(options.AbsExpire) {
		ms -= now
		if ms < 0 {
			ms = 0
		}
	}
	if ms > math.MaxInt64-now {
		return ttlPlan{}, ErrSyntax
	}
	return ttlPlan{mode: ttlAt, at: now + ms}, nil
}

// applyTTL carries out plan on key.
func (c *call) applyTTL(key string, plan ttlPlan) {
	switch plan.mode {
	case ttlClear:
		c.e.ks.SetExpireAt(key, 0)
	case ttlAt:
		if plan.at <= c.now {
			c.e.ks.Delete(key)
			return
		}
		c.e.ks.SetExpireAt(key, plan.at)
	}
}

// deadline is the absolute expiration key will carry once plan is applied.
// Must be called before the plan is applied.
func (c *call) deadline(key string, plan ttlPlan) (int64, bool) {
	switch plan.mode {
	case ttlAt:
		return plan.at, true
	case ttlKeep:
		return c.e.ks.ExpireAt(key)
	default:
		return 0, false
	}
}
