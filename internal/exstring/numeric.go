package exstring

import (
	"math"
	"math/big"
	"strconv"
	"strings"
)

// parseInt accepts the canonical decimal form of an int64 only: no sign
// other than a leading '-', no leading zeros, no "-0", no spaces.
func parseInt(s string) (int64, bool) {
	if len(s) == 0 || len(s) > 20 {
		return 0, false
	}
	if s == "0" {
		return 0, true
	}
	digits := s
	if s[0] == '-' {
		digits = s[1:]
	}
	if len(digits) == 0 || digits[0] < '1' || digits[0] > '9' {
		return 0, false
	}
	for i := 1; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Floats are computed with a 64-bit mantissa and a 15-bit exponent, the
// x87 extended format. minFloatExp is the exponent of its smallest
// subnormal.
const (
	floatPrec   = 64
	maxFloatExp = 16384
	minFloatExp = -16445
	maxFloatLen = 5 * 1024
)

func newFloat() *big.Float {
	return new(big.Float).SetPrec(floatPrec).SetMode(big.ToNearestEven)
}

func outOfRange(f *big.Float) bool {
	return !f.IsInf() && f.MantExp(nil) > maxFloatExp
}

func underflows(f *big.Float) bool {
	return f.Sign() != 0 && f.MantExp(nil) < minFloatExp
}

// parseInf accepts "inf" and "infinity" in any case, optionally signed.
func parseInf(s string) (*big.Float, bool) {
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if !strings.EqualFold(s, "inf") && !strings.EqualFold(s, "infinity") {
		return nil, false
	}
	return newFloat().SetInf(neg), true
}

// parseFloat accepts decimal floats, including exponents and infinities.
// Values beyond the extended range in either direction are rejected as not
// a float.
func parseFloat(s string) (*big.Float, bool) {
	if len(s) == 0 || len(s) > maxFloatLen {
		return nil, false
	}
	if strings.ContainsAny(s[:1], " \t\r\n\v\f") || strings.ContainsRune(s, '_') {
		return nil, false
	}
	if f, ok := parseInf(s); ok {
		return f, true
	}
	f, _, err := newFloat().Parse(s, 10)
	if err != nil || outOfRange(f) || underflows(f) {
		return nil, false
	}
	return f, true
}

// addFloat returns a+b or false when the sum is not finite.
func addFloat(a, b *big.Float) (*big.Float, bool) {
	if a.IsInf() || b.IsInf() {
		return nil, false
	}
	sum := newFloat().Add(a, b)
	if outOfRange(sum) {
		return nil, false
	}
	return sum, true
}

// formatFloat prints f with 17 fractional digits and then drops trailing
// zeros and a trailing point.
func formatFloat(f *big.Float) string {
	s := f.Text('f', 17)
	if strings.IndexByte(s, '.') >= 0 {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	if s == "-0" {
		s = "0"
	}
	return s
}

// addOverflows reports whether value+incr leaves the int64 range.
func addOverflows(value, incr int64) bool {
	return (incr < 0 && value < 0 && incr < math.MinInt64-value) ||
		(incr > 0 && value > 0 && incr > math.MaxInt64-value)
}
