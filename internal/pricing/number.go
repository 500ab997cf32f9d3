package pricing

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

// Number is a raw numeric form value. It keeps the text exactly as the client
// sent it (JSON number, JSON string, empty string or null) and is coerced only
// when a calculation needs it.
type Number struct {
	raw string
	set bool
}

// NumberOf wraps an already numeric value.
func NumberOf(v float64) Number {
	return Number{raw: strconv.FormatFloat(v, 'f', -1, 64), set: true}
}

// NumberFrom wraps raw text typed into a form control.
func NumberFrom(raw string) Number {
	return Number{raw: raw, set: true}
}

// IsSet reports whether the value was present at all (null and absent are unset).
func (n Number) IsSet() bool { return n.set }

// Raw returns the text as received.
func (n Number) Raw() string { return n.raw }

// Float coerces the value with parseFloat semantics, returning fallback when
// the value is unset, empty or has no numeric prefix.
func (n Number) Float(fallback float64) float64 {
	if !n.set {
		return fallback
	}
	return ParseFloat(n.raw, fallback)
}

// UnmarshalJSON accepts numbers, strings and null.
func (n *Number) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = Number{}
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*n = Number{raw: s, set: true}
		return nil
	}
	// Numbers, booleans and anything else keep their literal text; coercion
	// decides later whether it is usable.
	*n = Number{raw: string(trimmed), set: true}
	return nil
}

// MarshalJSON writes the raw text back as a string so stored drafts keep
// exactly what the user typed.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.set {
		return []byte("null"), nil
	}
	return json.Marshal(n.raw)
}

// ParseFloat parses the longest leading decimal literal of raw, ignoring
// leading whitespace and any trailing garbage ("12abc" is 12). When no
// numeric prefix exists, or the literal does not fit a finite float64
// ("1e400"), the fallback is returned. "Infinity" has no numeric prefix.
func ParseFloat(raw string, fallback float64) float64 {
	s := strings.TrimLeft(raw, " \t\n\r\v\f\u00a0\ufeff")
	end := floatPrefix(s)
	if end == 0 {
		return fallback
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		var numErr *strconv.NumError
		if !errors.As(err, &numErr) || !errors.Is(numErr.Err, strconv.ErrRange) {
			return fallback
		}
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return fallback
	}
	return v
}

func floatPrefix(s string) int {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		j := i + 1
		frac := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			frac++
		}
		if digits > 0 || frac > 0 {
			i = j
			digits += frac
		}
	}
	if digits == 0 {
		return 0
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		exp := 0
		for j < len(s) && isDigit(s[j]) {
			j++
			exp++
		}
		if exp > 0 {
			i = j
		}
	}
	return i
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
