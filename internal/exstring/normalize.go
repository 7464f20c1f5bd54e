package exstring

import (
	"strconv"

	"exstrkv/internal/codec"
	"exstrkv/internal/keyspace"
	"exstrkv/internal/model"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// setRecord is the replay form of any mutation that leaves obj at key:
//
//	EXSET key value ABS <version> [PXAT <deadline>] [FLAGS <flags>]
//
// The deadline is absolute, so replay does not depend on when it runs.
func (c *call) setRecord(key string, obj *model.VersionedObject, plan ttlPlan, withFlags bool) model.Mutation {
	args := []string{key, string(obj.Value), "ABS", strconv.FormatUint(obj.Version, 10)}
	if at, ok := c.deadline(key, plan); ok {
		args = append(args, "PXAT", itoa(at))
	}
	if withFlags {
		args = append(args, "FLAGS", strconv.FormatUint(uint64(obj.Flags), 10))
	}
	return model.NewMutation("EXSET", args...)
}

// verbatim records the command exactly as it was received.
func (c *call) verbatim() model.Mutation {
	args := make([]string, len(c.args))
	copy(args, c.args)
	return model.Mutation{Args: args}
}

func delRecord(keys ...string) model.Mutation {
	return model.NewMutation("DEL", keys...)
}

// RewriteLog returns the commands that rebuild entries from an empty
// keyspace. Values of types the engine does not know are skipped.
func RewriteLog(entries []keyspace.Entry) []model.Mutation {
	out := make([]model.Mutation, 0, len(entries))
	for _, ent := range entries {
		switch v := ent.Value.(type) {
		case *model.VersionedObject:
			out = append(out, codec.RewriteCommand(ent.Key, v))
		case []byte:
			out = append(out, model.NewMutation("SET", ent.Key, string(v)))
		default:
			continue
		}
		if ent.ExpireAt != 0 {
			out = append(out, model.NewMutation("PEXPIREAT", ent.Key, itoa(ent.ExpireAt)))
		}
	}
	return out
}
