package engine

import (
	"math"
	"sort"
	"time"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

// usageSaturation is the use count at which the usage sub-score reaches ~63%.
const usageSaturation = 10.0

// Score buckets used by Summary.
const (
	highScore   = 70.0
	mediumScore = 50.0
)

// Scorer computes relevance scores in [0, 100]. It is immutable and safe
// for concurrent use.
type Scorer struct {
	cfg config.ScorerConfig
	now func() time.Time
}

// ScorerOption configures a Scorer.
type ScorerOption func(*Scorer)

// WithClock overrides the time source used for age and recency.
func WithClock(now func() time.Time) ScorerOption {
	return func(s *Scorer) { s.now = now }
}

// NewScorer validates cfg and returns a Scorer.
func NewScorer(cfg config.ScorerConfig, opts ...ScorerOption) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Scorer{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithDecayDays returns a copy of the Scorer using a different age decay constant.
func (s *Scorer) WithDecayDays(days float64) (*Scorer, error) {
	cfg := s.cfg
	cfg.DecayDays = days
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg, now: s.now}, nil
}

// Config returns the scorer's configuration.
func (s *Scorer) Config() config.ScorerConfig {
	return s.cfg
}

// Breakdown holds the four sub-scores and their weighted total.
type Breakdown struct {
	ID      int64   `json:"id"`
	Age     float64 `json:"age"`
	Usage   float64 `json:"usage"`
	Success float64 `json:"success"`
	Recency float64 `json:"recency"`
	Total   float64 `json:"total"`
}

// Breakdown scores p and returns every component.
func (s *Scorer) Breakdown(p store.Pattern) Breakdown {
	now := s.now()
	useCount := max(p.UseCount, 0)
	successes := max(p.SuccessCount, 0)
	failures := max(p.FailureCount, 0)

	b := Breakdown{ID: p.ID}
	b.Age = 100 * math.Exp(-float64(wholeDays(now, p.CreatedAt))/s.cfg.DecayDays)
	b.Usage = 100 * (1 - math.Exp(-float64(useCount)/usageSaturation))

	b.Success = 50
	if total := successes + failures; total > 0 {
		b.Success = 100 * float64(successes) / float64(total)
	}

	// A pattern never counted as used has no recency, whatever last_used says.
	if p.LastUsed != nil && useCount > 0 {
		b.Recency = 100 * math.Exp(-float64(wholeDays(now, *p.LastUsed))/s.cfg.RecencyDays)
	}

	w := s.cfg.Weights
	b.Total = clampScore((b.Age*w.Age + b.Usage*w.Usage + b.Success*w.Success + b.Recency*w.Recency) / 100)
	return b
}

// Score returns the relevance score of p.
func (s *Scorer) Score(p store.Pattern) float64 {
	return s.Breakdown(p).Total
}

// Summary is the result of scoring a whole store.
type Summary struct {
	Total   int     `json:"total"`
	Average float64 `json:"average"`
	High    int     `json:"high_value"`   // score > 70
	Medium  int     `json:"medium_value"` // 50 < score <= 70
	Low     int     `json:"low_value"`    // score <= 50
	// Buckets counts scores in 20-wide ranges: [0,20], (20,40], (40,60], (60,80], (80,100].
	Buckets [5]int            `json:"buckets"`
	Scores  map[int64]float64 `json:"scores"`
}

// BucketLabels name the Summary.Buckets ranges.
var BucketLabels = [5]string{"0-20", "20-40", "40-60", "60-80", "80-100"}

// ScoreAll scores every pattern in one pass.
func (s *Scorer) ScoreAll(patterns []store.Pattern) Summary {
	sum := Summary{Scores: make(map[int64]float64, len(patterns))}
	if len(patterns) == 0 {
		return sum
	}

	total := 0.0
	for _, p := range patterns {
		score := s.Score(p)
		sum.Scores[p.ID] = score
		total += score

		switch {
		case score > highScore:
			sum.High++
		case score > mediumScore:
			sum.Medium++
		default:
			sum.Low++
		}
		sum.Buckets[bucketOf(score)]++
	}
	sum.Total = len(patterns)
	sum.Average = total / float64(len(patterns))
	return sum
}

// Scored pairs a pattern with its score.
type Scored struct {
	Pattern store.Pattern `json:"pattern"`
	Score   float64       `json:"score"`
}

// Rank scores patterns and sorts them. Ties fall back to ascending id so
// the order is stable across calls.
func (s *Scorer) Rank(patterns []store.Pattern, descending bool) []Scored {
	ranked := make([]Scored, len(patterns))
	for i, p := range patterns {
		ranked[i] = Scored{Pattern: p, Score: s.Score(p)}
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			if descending {
				return a.Score > b.Score
			}
			return a.Score < b.Score
		}
		return a.Pattern.ID < b.Pattern.ID
	})
	return ranked
}

// wholeDays returns the number of complete days from t to now, never negative.
func wholeDays(now, t time.Time) int {
	d := now.Sub(t)
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

func bucketOf(score float64) int {
	switch {
	case score <= 20:
		return 0
	case score <= 40:
		return 1
	case score <= 60:
		return 2
	case score <= 80:
		return 3
	default:
		return 4
	}
}

func clampScore(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
