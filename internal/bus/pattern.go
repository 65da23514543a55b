package bus

import "strings"

// matchPattern reports whether a dot-namespaced event type matches a
// subscription pattern. Patterns are an exact type ("market.trade"), a
// one-level wildcard ("market.*"), or the global wildcard ("*").
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	prefix, ok := strings.CutSuffix(pattern, ".*")
	if !ok || prefix == "" {
		return false
	}
	rest, ok := strings.CutPrefix(eventType, prefix+".")
	if !ok || rest == "" {
		return false
	}
	return !strings.Contains(rest, ".")
}
