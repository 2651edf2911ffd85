package correlate

import "strings"

// Similarity scores how alike two pieces of failure text are, in [0, 1].
// The engine takes the interface so the token baseline can be swapped for a
// smarter metric without touching callers.
type Similarity interface {
	Score(a, b string) float64
}

// TokenJaccard compares lower-cased whitespace-token sets. Two identical
// non-empty strings score 1.0; if either token set is empty the score is 0.
type TokenJaccard struct{}

func (TokenJaccard) Score(a, b string) float64 {
	sa := tokenSet(a)
	sb := tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for tok := range sa {
		if _, ok := sb[tok]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}
