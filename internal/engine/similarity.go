package engine

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

// wordSet splits text on whitespace into a set of case-folded, NFC-normalized words.
func wordSet(text string) map[string]struct{} {
	folder := cases.Fold()
	words := strings.Fields(norm.NFC.String(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[folder.String(w)] = struct{}{}
	}
	return set
}

// Jaccard returns |A∩B| / |A∪B| over the word sets of a and b.
// Two empty texts are identical; one empty text shares nothing.
func Jaccard(a, b string) float64 {
	wa, wb := wordSet(a), wordSet(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 1
	}
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}
	shared := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(wa)+len(wb)-shared)
}

// Levenshtein returns the rune edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i, ca := range ra {
		curr[0] = i + 1
		for j, cb := range rb {
			cost := 1
			if ca == cb {
				cost = 0
			}
			curr[j+1] = min(prev[j+1]+1, curr[j]+1, prev[j]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// EditSimilarity returns 1 - distance/maxlen, with two empty strings scoring 1.
func EditSimilarity(a, b string) float64 {
	a, b = norm.NFC.String(a), norm.NFC.String(b)
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1
	}
	return max(0, 1-float64(Levenshtein(a, b))/float64(maxLen))
}

// Similarity combines the three sub-similarities of two patterns with the
// weights in cfg. The result is symmetric and in [0, 1].
func Similarity(cfg config.MergerConfig, a, b store.Pattern) float64 {
	return cfg.PatternJaccardWeight*Jaccard(a.PatternText, b.PatternText) +
		cfg.PatternEditWeight*EditSimilarity(a.PatternText, b.PatternText) +
		cfg.CorrectionJaccardWeight*Jaccard(a.CorrectionText, b.CorrectionText)
}
