// Package text holds the small lexical helpers shared by search ranking,
// the episodic buffer, and episode topic extraction.
package text

import (
	"strings"
	"unicode"
)

// Tokenize splits s into lowercase word tokens.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// WordSet returns the distinct lowercase words of s.
func WordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range Tokenize(s) {
		set[w] = struct{}{}
	}
	return set
}

// Jaccard computes word-set overlap between two strings: |A∩B| / |A∪B|.
// Returns 0 when either side has no words.
func Jaccard(a, b string) float64 {
	sa, sb := WordSet(a), WordSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

// Head returns the first n characters of s on word boundaries where
// possible, with an ellipsis when truncated.
func Head(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndexByte(cut, ' '); idx > n/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
