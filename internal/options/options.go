// Package options parses the trailing keyword arguments shared by the
// versioned string commands (NX, XX, EX, PXAT, VER, ABS, FLAGS, ...).
package options

import (
	"errors"
	"strings"
)

// Flag is a bit in the option set produced by Parse.
type Flag uint32

const (
	NX Flag = 1 << iota
	XX
	// EX is set by EX and EXAT, PX by PX and PXAT.
	EX
	PX
	// AbsExpire marks the expiration as a unix timestamp (EXAT/PXAT).
	AbsExpire
	// Ver asks for a version comparison, AbsVer assigns the version.
	Ver
	AbsVer
	// Boundary is set by MIN and by MAX.
	Boundary
	WithFlags
	WithDefault
	NoNegative
	// WithVersion makes a command reply with the resulting version.
	WithVersion
	KeepTTL
)

const None Flag = 0

var flagNames = map[Flag]string{
	NX:          "NX",
	XX:          "XX",
	EX:          "EX",
	PX:          "PX",
	AbsExpire:   "ABSEXPIRE",
	Ver:         "VER",
	AbsVer:      "ABS",
	Boundary:    "BOUNDARY",
	WithFlags:   "FLAGS",
	WithDefault: "DEF",
	NoNegative:  "NONEGATIVE",
	WithVersion: "WITHVERSION",
	KeepTTL:     "KEEPTTL",
}

// Has reports whether any bit of o is set in f.
func (f Flag) Has(o Flag) bool { return f&o != 0 }

func (f Flag) String() string {
	if f == None {
		return "NONE"
	}
	var parts []string
	for bit := NX; bit <= KeepTTL; bit <<= 1 {
		if f&bit != 0 {
			parts = append(parts, flagNames[bit])
		}
	}
	return strings.Join(parts, "|")
}

// ErrSyntax is returned for any grammar violation.
var ErrSyntax = errors.New("syntax error")

// Arg is a raw sub-argument token. Present distinguishes an absent option
// from one given with an empty value.
type Arg struct {
	Value   string
	Present bool
}

func some(v string) Arg { return Arg{Value: v, Present: true} }

// Options is the result of one Parse call. Tokens are returned unconverted;
// callers decide the numeric type and range each command needs.
type Options struct {
	Flags   Flag
	Expire  Arg
	Version Arg
	Flag32  Arg
	Default Arg
	Min     Arg
	Max     Arg
}

const expireGroup = EX | PX | KeepTTL

// Parse scans args from start and returns the options found. Every flag set
// in the result must also be set in allow.
//
// Conflicts inside a family are detected when the second member is seen,
// so "EX 1 PX 2" fails on PX and "VER 1 ABS 2" fails on ABS.
func Parse(args []string, start int, allow Flag) (Options, error) {
	var o Options
	for j := start; j < len(args); j++ {
		hasNext := j+1 < len(args)
		var next string
		if hasNext {
			next = args[j+1]
		}

		switch kw := strings.ToUpper(args[j]); {
		case kw == "NX":
			if o.Flags.Has(XX) {
				return Options{}, ErrSyntax
			}
			o.Flags |= NX
		case kw == "XX":
			if o.Flags.Has(NX) {
				return Options{}, ErrSyntax
			}
			o.Flags |= XX
		case (kw == "EX" || kw == "EXAT" || kw == "PX" || kw == "PXAT") && hasNext:
			if o.Flags.Has(expireGroup) {
				return Options{}, ErrSyntax
			}
			if kw[0] == 'E' {
				o.Flags |= EX
			} else {
				o.Flags |= PX
			}
			if strings.HasSuffix(kw, "AT") {
				o.Flags |= AbsExpire
			}
			o.Expire = some(next)
			j++
		case (kw == "VER" || kw == "ABS") && hasNext:
			if o.Flags.Has(Ver | AbsVer) {
				return Options{}, ErrSyntax
			}
			if kw == "VER" {
				o.Flags |= Ver
			} else {
				o.Flags |= AbsVer
			}
			o.Version = some(next)
			j++
		case kw == "FLAGS" && hasNext:
			if o.Flags.Has(WithFlags) {
				return Options{}, ErrSyntax
			}
			o.Flags |= WithFlags
			o.Flag32 = some(next)
			j++
		case kw == "DEF" && hasNext:
			if o.Flags.Has(WithDefault) {
				return Options{}, ErrSyntax
			}
			o.Flags |= WithDefault
			o.Default = some(next)
			j++
		case kw == "MIN" && hasNext:
			if o.Min.Present {
				return Options{}, ErrSyntax
			}
			o.Flags |= Boundary
			o.Min = some(next)
			j++
		case kw == "MAX" && hasNext:
			if o.Max.Present {
				return Options{}, ErrSyntax
			}
			o.Flags |= Boundary
			o.Max = some(next)
			j++
		case kw == "NONEGATIVE":
			o.Flags |= NoNegative
		case kw == "WITHVERSION":
			o.Flags |= WithVersion
		case kw == "KEEPTTL":
			if o.Flags.Has(expireGroup) {
				return Options{}, ErrSyntax
			}
			o.Flags |= KeepTTL
		default:
			return Options{}, ErrSyntax
		}
	}

	if o.Flags&^allow != 0 {
		return Options{}, ErrSyntax
	}
	return o, nil
}
