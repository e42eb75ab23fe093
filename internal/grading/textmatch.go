package grading

import "golang.org/x/text/cases"

// Match reports whether two answers are equal under Unicode case folding.
// No trimming or whitespace collapsing is applied.
func Match(a, b string) bool {
	if a == b {
		return true
	}
	// Casers are stateful; one per call.
	return cases.Fold().String(a) == cases.Fold().String(b)
}

// MatchAny reports whether v matches one of the candidates.
func MatchAny(v string, candidates []string) bool {
	for _, c := range candidates {
		if Match(v, c) {
			return true
		}
	}
	return false
}
