package models

import "sort"

// Capabilities are free-form labels advertised by resources and required by
// resource specs. They are stored as sorted, de-duplicated string slices so
// records serialise deterministically.

// NormalizeCaps returns a sorted copy of caps with duplicates and empty
// entries removed.
func NormalizeCaps(caps []string) []string {
	seen := make(map[string]bool, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// HasCap reports whether caps contains c.
func HasCap(caps []string, c string) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}

// HasAllCaps reports whether have is a superset of want.
func HasAllCaps(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]bool, len(have))
	for _, c := range have {
		set[c] = true
	}
	for _, c := range want {
		if !set[c] {
			return false
		}
	}
	return true
}

// UnionCaps returns the sorted union of a and b.
func UnionCaps(a, b []string) []string {
	return NormalizeCaps(append(append([]string{}, a...), b...))
}
