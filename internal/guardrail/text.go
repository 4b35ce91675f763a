package guardrail

import (
	"regexp"
	"strings"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
	wordToken  = regexp.MustCompile(`[a-z0-9']+`)
)

func normalize(s string) string {
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), " ")
}

func tokens(s string) map[string]int {
	counts := make(map[string]int)
	for _, tok := range wordToken.FindAllString(normalize(s), -1) {
		counts[tok]++
	}
	return counts
}

// Overlap is the multiset Jaccard ratio of the word tokens of a and b: the
// shared token count over the combined token count. It is 0 when either
// side has no tokens.
func Overlap(a, b string) float64 {
	ta, tb := tokens(a), tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	var inter, union int
	for tok, na := range ta {
		nb := tb[tok]
		inter += min(na, nb)
		union += max(na, nb)
	}
	for tok, nb := range tb {
		if _, ok := ta[tok]; !ok {
			union += nb
		}
	}
	return float64(inter) / float64(union)
}
