package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"hello world", "hello world", 1},
		{"abc", "xyz", 0},
		{"hello world", "hello there", 1.0 / 3},
		{"", "", 1},
		{"   ", "", 1},
		{"word", "", 0},
		{"Fix Motor", "fix motor", 1},
		{"a a a b", "a b", 1},
		{"straße", "STRASSE", 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
		assert.InDelta(t, tt.want, Jaccard(tt.b, tt.a), 1e-9, "symmetric %q vs %q", tt.b, tt.a)
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"test", "test", 0},
		{"test", "tests", 1},
		{"test", "text", 1},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"caf\u00e9", "cafe", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
		assert.Equal(t, tt.want, Levenshtein(tt.b, tt.a), "%q vs %q", tt.b, tt.a)
	}
}

func TestEditSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, EditSimilarity("", ""))
	assert.Equal(t, 1.0, EditSimilarity("test", "test"))
	assert.Less(t, EditSimilarity("abc", "xyz"), 0.5)
	assert.InDelta(t, 0.75, EditSimilarity("test", "text"), 1e-9)
	// Composed and decomposed forms of é compare equal.
	assert.Equal(t, 1.0, EditSimilarity("caf\u00e9", "cafe\u0301"))
}

func TestSimilarityWeights(t *testing.T) {
	cfg := config.DefaultMerger()
	a := store.Pattern{PatternText: "fix motor control issue", CorrectionText: "use PWM smoothing"}
	b := store.Pattern{PatternText: "fix motor issue", CorrectionText: "use PWM smoothing"}

	want := 0.5*Jaccard(a.PatternText, b.PatternText) +
		0.3*EditSimilarity(a.PatternText, b.PatternText) +
		0.2*1
	assert.InDelta(t, want, Similarity(cfg, a, b), 1e-9)
	assert.Equal(t, Similarity(cfg, a, b), Similarity(cfg, b, a))
	assert.InDelta(t, 1.0, Similarity(cfg, a, a), 1e-9)
}
