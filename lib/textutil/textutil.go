package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// SplitAlternates splits a selector like "скидка 100%|100% discount"
// into its trimmed, non-empty variants.
func SplitAlternates(selector string) []string {
	var out []string
	for _, part := range strings.Split(selector, "|") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// BestMatch returns the candidate most similar to name under
// Jaro-Winkler, along with its similarity. Candidates are compared in
// normalized form; an empty candidate list yields ("", 0).
func BestMatch(name string, candidates []string) (string, float64) {
	name = NormalizeName(name)

	best := ""
	bestScore := 0.0
	for _, candidate := range candidates {
		score := matchr.JaroWinkler(name, NormalizeName(candidate), false)
		if score > bestScore {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore
}
