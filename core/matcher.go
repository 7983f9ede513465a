package core

import "strings"

// DestinationMatcher determines whether a subscription pattern matches a
// destination name.
type DestinationMatcher interface {
	Match(pattern, destination string) bool
}

// WildcardMatcher supports exact matching, single-level wildcard (*),
// and multi-level wildcard (#) over dot-separated names.
//
//	"orders.created" matches "orders.created"
//	"orders.*"       matches "orders.created", not "orders.us.created"
//	"payments.#"     matches "payments.created" and "payments.us.created"
type WildcardMatcher struct{}

// Match reports whether destination matches pattern.
func (WildcardMatcher) Match(pattern, destination string) bool {
	if !strings.ContainsAny(pattern, "*#") {
		return pattern == destination
	}
	return matchLevels(strings.Split(pattern, "."), strings.Split(destination, "."))
}

func matchLevels(pat, dst []string) bool {
	for len(pat) > 0 && len(dst) > 0 {
		switch pat[0] {
		case "#":
			if len(pat) == 1 {
				return true
			}
			// # in the middle: try every split of the remaining levels
			for i := 0; i <= len(dst); i++ {
				if matchLevels(pat[1:], dst[i:]) {
					return true
				}
			}
			return false
		case "*":
		default:
			if pat[0] != dst[0] {
				return false
			}
		}
		pat, dst = pat[1:], dst[1:]
	}
	return len(pat) == 0 && len(dst) == 0
}
