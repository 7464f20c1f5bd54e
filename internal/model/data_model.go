package model

// VersionedObject is the value stored under a key of the exstring type.
// Payload is replaced wholesale on every mutation; readers never see a
// partially written value.
type VersionedObject struct {
	Version uint64
	Flags   uint32
	Value   []byte
}

// Clone returns a copy that shares no memory with o.
func (o *VersionedObject) Clone() *VersionedObject {
	if o == nil {
		return nil
	}
	value := make([]byte, len(o.Value))
	copy(value, o.Value)
	return &VersionedObject{Version: o.Version, Flags: o.Flags, Value: value}
}

// Mutation is a normalized command as it is recorded in the commit log and
// replayed on recovery. Args[0] is the command name. Timestamp is the unix
// ms clock reading the command ran under; replay evaluates expirations
// against it.
type Mutation struct {
	Sequence  uint64
	Timestamp int64
	Args      []string
}

// NewMutation builds a mutation from a command name and its arguments.
func NewMutation(name string, args ...string) Mutation {
	out := make([]string, 0, len(args)+1)
	out = append(out, name)
	out = append(out, args...)
	return Mutation{Args: out}
}

// Name returns the command name or "" for an empty record.
func (m Mutation) Name() string {
	if len(m.Args) == 0 {
		return ""
	}
	return m.Args[0]
}
