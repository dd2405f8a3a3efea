package executor

import (
	"strconv"
	"strings"
)

var comparators = []string{">=", "<=", "!=", ">", "<"}

// Compare reports whether a probe's actual value satisfies expected.
// expected may carry one of the prefixes >=, <=, !=, > or <; anything else
// is an exact match. Numeric operands compare numerically, others as text.
// Boolean spellings such as "t" and "true" are equal.
func Compare(actual, expected string) bool {
	actual = strings.TrimSpace(actual)
	expected = strings.TrimSpace(expected)

	for _, op := range comparators {
		if !strings.HasPrefix(expected, op) {
			continue
		}
		want := strings.TrimSpace(expected[len(op):])
		cmp := compareValues(actual, want)
		switch op {
		case ">=":
			return cmp >= 0
		case "<=":
			return cmp <= 0
		case "!=":
			return cmp != 0
		case ">":
			return cmp > 0
		default:
			return cmp < 0
		}
	}

	return compareValues(actual, expected) == 0
}

func compareValues(a, b string) int {
	af, aErr := strconv.ParseFloat(a, 64)
	bf, bErr := strconv.ParseFloat(b, 64)
	if aErr == nil && bErr == nil {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}

	if ab, ok := parseBool(a); ok {
		if bb, ok := parseBool(b); ok && ab == bb {
			return 0
		}
	}
	return strings.Compare(a, b)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "t", "true":
		return true, true
	case "f", "false":
		return false, true
	}
	return false, false
}
