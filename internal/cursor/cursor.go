// Package cursor encodes and decodes opaque pagination cursors used by the
// feed and history APIs. A cursor is the string "<version>-<counter>" where
// the version is currently always 0 and the counter is a non-negative base-10
// integer. Parsing never fails hard: invalid cursors decode to a nil counter
// or a caller-supplied fallback, so callers can treat them as "first page".
package cursor

import "strconv"

// Version is the only cursor version currently produced or accepted.
const Version = "0"

// IsValid reports whether s is a well-formed cursor: exactly "0-" followed by
// one or more ASCII digits, with no sign, whitespace, or extra separators.
func IsValid(s string) bool {
	_, ok := counter(s)
	return ok
}

// ParseCounter returns the cursor's counter and true, or 0 and false if s is
// not a valid cursor.
func ParseCounter(s string) (int64, bool) {
	return counter(s)
}

// ParseCounterOrDefault returns the cursor's counter, or fallback if s is not
// a valid cursor.
func ParseCounterOrDefault(s string, fallback int64) int64 {
	if n, ok := counter(s); ok {
		return n
	}
	return fallback
}

// Compare orders two cursors by counter. An invalid cursor sorts before any
// valid cursor; two invalid cursors compare equal.
func Compare(a, b string) int {
	na, aok := counter(a)
	nb, bok := counter(b)
	switch {
	case !aok && !bok:
		return 0
	case !aok:
		return -1
	case !bok:
		return 1
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// Build formats a cursor for the given counter.
func Build(n int64) string {
	return Version + "-" + strconv.FormatInt(n, 10)
}

// counter parses s strictly against ^0-\d+$.
func counter(s string) (int64, bool) {
	if len(s) < 3 || s[0] != '0' || s[1] != '-' {
		return 0, false
	}
	digits := s[2:]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		// Digits only, so this is overflow; treat as invalid.
		return 0, false
	}
	return n, true
}
