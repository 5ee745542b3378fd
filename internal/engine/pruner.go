package engine

import (
	"fmt"
	"log"
	"sort"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

// Pruner removes low-value patterns into the backup ledger, subject to the
// favorite, minimum-age and minimum-keep safety filters.
type Pruner struct {
	store  Store
	scorer *Scorer
	cfg    config.PrunerConfig
}

// NewPruner validates cfg and returns a Pruner scoring with scorer.
func NewPruner(s Store, scorer *Scorer, cfg config.PrunerConfig) (*Pruner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: pruner needs a scorer", config.ErrInvalid)
	}
	return &Pruner{store: s, scorer: scorer, cfg: cfg}, nil
}

// Config returns the pruner's configuration.
func (p *Pruner) Config() config.PrunerConfig {
	return p.cfg
}

// Candidate is a pattern selected for removal.
type Candidate struct {
	ID      int64         `json:"id"`
	Score   float64       `json:"score"`
	Reason  string        `json:"reason"`
	Pattern store.Pattern `json:"pattern"`
}

// IdentifyCandidates returns the patterns eligible for pruning, lowest score
// first. Favorited patterns and patterns younger than the minimum age are
// never included, and the list is capped so that removing all of it keeps
// at least the minimum number of patterns.
func (p *Pruner) IdentifyCandidates() ([]Candidate, error) {
	patterns, err := p.store.ListPatterns()
	if err != nil {
		return nil, fmt.Errorf("identify candidates: %w", err)
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	favorites, err := p.store.FavoriteIDs()
	if err != nil {
		return nil, fmt.Errorf("identify candidates: %w", err)
	}

	allowed := len(patterns) - p.cfg.MinKeepCount
	if allowed <= 0 {
		log.Printf("prune: %d patterns, keeping at least %d; nothing to prune", len(patterns), p.cfg.MinKeepCount)
		return nil, nil
	}

	now := p.scorer.now()
	var candidates []Candidate
	for _, pat := range patterns {
		score := p.scorer.Score(pat)
		if score >= p.cfg.MinScoreThreshold {
			continue
		}
		if favorites[pat.ID] {
			continue
		}
		if wholeDays(now, pat.CreatedAt) < p.cfg.MinAgeDays {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      pat.ID,
			Score:   score,
			Reason:  fmt.Sprintf("Low score (%.2f < %g)", score, p.cfg.MinScoreThreshold),
			Pattern: pat,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > allowed {
		log.Printf("prune: capping %d candidates to %d to keep %d patterns", len(candidates), allowed, p.cfg.MinKeepCount)
		candidates = candidates[:allowed]
	}
	return candidates, nil
}

// PruneReport summarises a prune pass.
type PruneReport struct {
	Action      string      `json:"action"` // "none", "dry_run" or "pruned"
	Candidates  []Candidate `json:"candidates"`
	Removed     int         `json:"removed"`
	PatternIDs  []int64     `json:"pattern_ids"`
	TotalBefore int         `json:"total_before"`
	TotalAfter  int         `json:"total_after"`
	BackedUp    int         `json:"backed_up"`
	Failures    []ItemError `json:"failures,omitempty"`
}

// Prune removes every candidate when apply is set. Each removal writes the
// backup and deletes the live row in one transaction, so a removed id always
// has a backup. A failed candidate is recorded and skipped.
func (p *Pruner) Prune(apply bool) (*PruneReport, error) {
	before, err := p.store.CountPatterns()
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	candidates, err := p.IdentifyCandidates()
	if err != nil {
		return nil, err
	}

	report := &PruneReport{
		Action:      "none",
		Candidates:  candidates,
		TotalBefore: before,
		TotalAfter:  before,
	}
	if len(candidates) == 0 {
		return report, nil
	}
	if !apply {
		report.Action = "dry_run"
		report.TotalAfter = before - len(candidates)
		return report, nil
	}

	report.Action = "pruned"
	for _, c := range candidates {
		b := &store.BackupRecord{Pattern: c.Pattern, Score: c.Score, Reason: c.Reason}
		if err := p.store.BackupAndDelete(b); err != nil {
			log.Printf("prune: pattern %d: %v", c.ID, err)
			report.Failures = append(report.Failures, itemError(c.ID, err))
			continue
		}
		report.BackedUp++
		report.Removed++
		report.PatternIDs = append(report.PatternIDs, c.ID)
		log.Printf("prune: removed pattern %d (score %.2f, backup %d)", c.ID, c.Score, b.ID)
	}

	after, err := p.store.CountPatterns()
	if err != nil {
		return report, fmt.Errorf("prune: %w", err)
	}
	report.TotalAfter = after
	log.Printf("prune: removed %d patterns, %d backed up", report.Removed, report.BackedUp)
	return report, nil
}

// Restore re-inserts the pattern held by a backup. A missing backup yields
// Restored=false and no error.
func (p *Pruner) Restore(backupID int64) (*store.RestoreResult, error) {
	res, err := p.store.Restore(backupID)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	switch {
	case !res.Restored:
		log.Printf("restore: backup %d not found", backupID)
	case res.AlreadyRestored:
		log.Printf("restore: backup %d already live as pattern %d", backupID, res.PatternID)
	default:
		log.Printf("restore: backup %d restored as pattern %d", backupID, res.PatternID)
	}
	return res, nil
}

// BackupStats returns the backup ledger summary.
func (p *Pruner) BackupStats() (store.BackupStats, error) {
	return p.store.BackupStats()
}

// ListBackups returns up to limit backups, most recent first.
func (p *Pruner) ListBackups(limit int) ([]store.BackupRecord, error) {
	return p.store.ListBackups(limit)
}
