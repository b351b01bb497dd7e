// Package strings provides helpers for string sets such as skill lists.
package strings

import (
	"slices"
	"strings"
)

// NormalizeSet trims and lowercases each value, drops empties and
// duplicates, and returns the result sorted. A nil or empty input yields nil.
//
// Example:
//
//	NormalizeSet([]string{" Tax ", "appeals", "TAX", ""})
//	// Returns: []string{"appeals", "tax"}
func NormalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ContainsAll reports whether have includes every element of want.
// An empty want is satisfied by anything.
func ContainsAll(have, want []string) bool {
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
