// Package exstring implements the versioned string commands on top of the
// keyspace: option handling, per-command state transitions, and the
// normalized forms appended to the replication log.
package exstring

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"exstrkv/internal/codec"
	"exstrkv/internal/keyspace"
	"exstrkv/internal/logging"
	"exstrkv/internal/model"
)

//go:generate mockgen -source=engine.go -destination=replicator_mock.go -package=exstring

// Replicator durably records normalized mutations. All mutations passed
// to one call belong to a single command and must be stored together.
type Replicator interface {
	Append(muts ...model.Mutation) error
}

// Observer receives per-command measurements.
type Observer interface {
	ObserveCommand(name string, err error, elapsed time.Duration)
	ObserveReplication(records int, err error)
}

// Engine executes commands one at a time against a keyspace.
type Engine struct {
	mu   sync.Mutex
	ks   *keyspace.Keyspace
	repl Replicator
	obs  Observer
	log  *logging.Logger
}

type Option func(*Engine)

func WithReplicator(r Replicator) Option { return func(e *Engine) { e.repl = r } }

func WithObserver(o Observer) Option { return func(e *Engine) { e.obs = o } }

func WithLogger(l *logging.Logger) Option { return func(e *Engine) { e.log = l } }

func NewEngine(ks *keyspace.Keyspace, opts ...Option) *Engine {
	e := &Engine{ks: ks}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.WithComponent("engine")
	}
	return e
}

// call is the state of one command execution.
type call struct {
	e         *Engine
	args      []string
	now       int64
	replaying bool
}

type handler func(c *call) (Reply, error)

// Execute runs one command. args[0] is the command name, matched without
// regard to case.
func (e *Engine) Execute(ctx context.Context, args []string) (Reply, error) {
	if len(args) == 0 {
		return nil, unknownCommand("")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := strings.ToUpper(args[0])
	run, ok := commands[name]
	if !ok {
		return nil, unknownCommand(args[0])
	}

	start := time.Now()
	e.mu.Lock()
	reply, err := run(&call{e: e, args: args, now: e.ks.NowMillis()})
	e.mu.Unlock()

	if e.obs != nil {
		e.obs.ObserveCommand(name, err, time.Since(start))
	}
	return reply, err
}

// Apply replays a recorded mutation. Nothing is replicated, and the
// keyspace clock reads the mutation's timestamp for the duration.
func (e *Engine) Apply(mut model.Mutation) error {
	if len(mut.Args) == 0 {
		return unknownCommand("")
	}
	run, ok := commands[strings.ToUpper(mut.Args[0])]
	if !ok {
		return unknownCommand(mut.Args[0])
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if mut.Timestamp > 0 {
		ts := mut.Timestamp
		prev := e.ks.SetClock(func() int64 { return ts })
		defer e.ks.SetClock(prev)
	}
	_, err := run(&call{e: e, args: mut.Args, now: e.ks.NowMillis(), replaying: true})
	return err
}

// Checkpoint calls fn with every live key while no command can run. The
// values are the stored ones; fn must copy anything it keeps.
func (e *Engine) Checkpoint(fn func(entries []keyspace.Entry) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.ks.Entries())
}

// Restore installs entries loaded from a snapshot, replacing current state.
func (e *Engine) Restore(entries []keyspace.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ks.Flush()
	for _, ent := range entries {
		e.ks.Set(ent.Key, ent.Value)
		if ent.ExpireAt != 0 {
			e.ks.SetExpireAt(ent.Key, ent.ExpireAt)
		}
	}
}

// SweepExpired removes keys past their deadline.
func (e *Engine) SweepExpired() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ks.DeleteExpired()
}

// MemUsage approximates the bytes held by stored values.
func (e *Engine) MemUsage() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := 0
	for _, ent := range e.ks.Entries() {
		switch v := ent.Value.(type) {
		case *model.VersionedObject:
			total += codec.MemUsage(v)
		case []byte:
			total += len(v)
		}
		total += len(ent.Key)
	}
	return total
}

func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ks.Len()
}

// commit records the normalized form of a mutation and then applies it.
// When the record cannot be stored nothing is applied.
func (c *call) commit(apply func(), records ...model.Mutation) error {
	if !c.replaying && c.e.repl != nil && len(records) > 0 {
		for i := range records {
			records[i].Timestamp = c.now
		}
		err := c.e.repl.Append(records...)
		if c.e.obs != nil {
			c.e.obs.ObserveReplication(len(records), err)
		}
		if err != nil {
			c.e.log.Error("replication append failed",
				slog.String("command", records[0].Name()),
				slog.String("error", err.Error()))
			return ErrReplication
		}
	}
	apply()
	return nil
}
