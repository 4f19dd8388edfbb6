// Package ngram mines search query reports for recurring word sequences.
//
// Every query is normalised, split into words and cut into contiguous
// n-grams for n = 1..MaxN. A gram's metrics are the sums over the queries
// that contain it; a gram repeated inside one query counts that query once.
// Grams that spend without converting are negative keyword candidates.
package ngram

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds width (NFKC) and case, replaces punctuation and symbols
// with spaces and collapses runs of whitespace.
func Normalize(q string) string {
	q = cases.Fold().String(norm.NFKC.String(q))
	var b strings.Builder
	b.Grow(len(q))
	space := true
	for _, r := range q {
		if unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r) {
			if !space {
				b.WriteByte(' ')
				space = true
			}
			continue
		}
		b.WriteRune(r)
		space = false
	}
	return strings.TrimRight(b.String(), " ")
}

// Extract returns the distinct contiguous n-word sequences of q, in order of
// first occurrence. q is normalised first.
func Extract(q string, n int) []string {
	if n < 1 {
		return nil
	}
	words := strings.Fields(Normalize(q))
	if len(words) < n {
		return nil
	}
	seen := make(map[string]bool, len(words))
	out := make([]string, 0, len(words)-n+1)
	for i := 0; i+n <= len(words); i++ {
		g := strings.Join(words[i:i+n], " ")
		if seen[g] {
			continue
		}
		seen[g] = true
		out = append(out, g)
	}
	return out
}
