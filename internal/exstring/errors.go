package exstring

import (
	"fmt"
	"strings"
)

// Kind classifies a command failure.
type Kind int

const (
	KindSyntax Kind = iota + 1
	KindWrongType
	KindArity
	KindVersion
	KindNotInteger
	KindNotFloat
	KindMinMax
	KindOverflow
	KindVersionNotInteger
	KindUnknownCommand
	KindReplication
)

var kindNames = map[Kind]string{
	KindSyntax:            "syntax",
	KindWrongType:         "wrongtype",
	KindArity:             "arity",
	KindVersion:           "version",
	KindNotInteger:        "not_integer",
	KindNotFloat:          "not_float",
	KindMinMax:            "minmax",
	KindOverflow:          "overflow",
	KindVersionNotInteger: "version_not_integer",
	KindUnknownCommand:    "unknown_command",
	KindReplication:       "replication",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// CommandError is returned by Execute. Error() is the text sent to clients.
type CommandError struct {
	Kind Kind
	Msg  string
}

func (e *CommandError) Error() string { return e.Msg }

// Is matches on Kind so wrapped and formatted errors compare equal to the
// sentinels below.
func (e *CommandError) Is(target error) bool {
	t, ok := target.(*CommandError)
	return ok && t.Kind == e.Kind
}

const versionStaleMsg = "ERR update version is stale"

var (
	ErrSyntax         = &CommandError{KindSyntax, "ERR syntax error"}
	ErrWrongType      = &CommandError{KindWrongType, "WRONGTYPE Operation against a key holding the wrong kind of value"}
	ErrVersion        = &CommandError{KindVersion, versionStaleMsg}
	ErrNotInteger     = &CommandError{KindNotInteger, "ERR value is not an integer"}
	ErrNotFloat       = &CommandError{KindNotFloat, "ERR value is not a float"}
	ErrMinMax         = &CommandError{KindMinMax, "ERR min or max is specified, but not valid"}
	ErrOverflow       = &CommandError{KindOverflow, "ERR increment or decrement would overflow"}
	ErrVersionNotInt  = &CommandError{KindVersionNotInteger, "ERR version is not an integer or out of range"}
	ErrUnknownCommand = &CommandError{KindUnknownCommand, "ERR unknown command"}
	ErrReplication    = &CommandError{KindReplication, "ERR replication log unavailable"}
)

// ArityError is the reply for a command called with the wrong argument count.
func ArityError(cmd string) error {
	return &CommandError{KindArity, fmt.Sprintf("ERR wrong number of arguments for '%s' command", strings.ToLower(cmd))}
}

func unknownCommand(cmd string) error {
	return &CommandError{KindUnknownCommand, fmt.Sprintf("ERR unknown command '%s'", cmd)}
}
