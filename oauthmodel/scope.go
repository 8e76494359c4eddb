package oauthmodel

import (
	"sort"
	"strings"
)

// ParseScope splits a space separated scope string into a sorted set without duplicates.
func ParseScope(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// FormatScope joins scopes into the space separated wire form.
func FormatScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// ScopesEqual reports whether a and b contain the same scopes, ignoring order and duplicates.
func ScopesEqual(a, b []string) bool {
	return ScopesSubset(a, b) && ScopesSubset(b, a)
}

// ScopesSubset reports whether every scope in requested is present in allowed.
func ScopesSubset(requested, allowed []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}
