// Package extract turns raw page payloads into normalized product records.
package extract

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Similarity scores two strings on a 0-100 scale derived from edit distance.
// Comparison is case-insensitive with collapsed whitespace. Pure function.
func Similarity(a, b string) int {
	fa, fb := fold(a), fold(b)
	if fa == fb {
		return 100
	}
	longest := len([]rune(fa))
	if l := len([]rune(fb)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 100
	}
	distance := levenshtein.ComputeDistance(fa, fb)
	score := 100 - (100*distance)/longest
	if score < 0 {
		return 0
	}
	return score
}

// Normalize matches raw against the vocabulary and returns the best canonical
// entry when its score clears the threshold, otherwise the raw value
// unchanged. Ties break toward the shortest canonical string, then
// lexicographically, so results are reproducible for a given vocabulary
// snapshot.
func Normalize(raw string, vocabulary []string, threshold int) (string, bool) {
	if strings.TrimSpace(raw) == "" || len(vocabulary) == 0 {
		return raw, false
	}

	best := ""
	bestScore := -1
	for _, canonical := range vocabulary {
		score := Similarity(raw, canonical)
		switch {
		case score > bestScore:
			best, bestScore = canonical, score
		case score == bestScore && better(canonical, best):
			best = canonical
		}
	}

	if bestScore >= threshold {
		return best, true
	}
	return raw, false
}

func better(candidate, incumbent string) bool {
	if len(candidate) != len(incumbent) {
		return len(candidate) < len(incumbent)
	}
	return candidate < incumbent
}

func fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
