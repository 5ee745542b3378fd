package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

// Store is the persistence the engine needs. Both store.DB and store.KV
// implement it.
type Store interface {
	Ping() error
	CreatePattern(patternText, correctionText string) (*store.Pattern, error)
	GetPattern(id int64) (*store.Pattern, error)
	ListPatterns() ([]store.Pattern, error)
	CountPatterns() (int, error)
	RecordOutcome(id int64, success bool) error
	SetFavorite(id int64, favorite bool) error
	FavoriteIDs() (map[int64]bool, error)
	ApplyMerge(plan store.MergePlan) (*store.MergeRecord, error)
	MergeHistory(limit int) ([]store.MergeRecord, error)
	MergeStats() (store.MergeStats, error)
	BackupAndDelete(b *store.BackupRecord) error
	Restore(backupID int64) (*store.RestoreResult, error)
	BackupStats() (store.BackupStats, error)
	ListBackups(limit int) ([]store.BackupRecord, error)
}

var (
	_ Store = (*store.DB)(nil)
	_ Store = (*store.KV)(nil)
)

// Engine orchestrates scoring, merging and pruning over one store.
// Mutations are serialized behind a single maintenance lock; reads share it.
type Engine struct {
	Store  Store
	Scorer *Scorer
	Merger *Merger
	Pruner *Pruner

	mu       sync.RWMutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New validates cfg and creates an Engine over s.
func New(s Store, cfg config.Config, opts ...ScorerOption) (*Engine, error) {
	scorer, err := NewScorer(cfg.Scorer, opts...)
	if err != nil {
		return nil, err
	}
	merger, err := NewMerger(s, cfg.Merger)
	if err != nil {
		return nil, err
	}
	pruner, err := NewPruner(s, scorer, cfg.Pruner)
	if err != nil {
		return nil, err
	}
	return &Engine{
		Store:  s,
		Scorer: scorer,
		Merger: merger,
		Pruner: pruner,
		stopCh: make(chan struct{}),
	}, nil
}

func notFound(id int64, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("pattern %d: %w", id, ErrNotFound)
	}
	return err
}

// CreatePattern stores a newly taught pattern.
func (e *Engine) CreatePattern(patternText, correctionText string) (*store.Pattern, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Store.CreatePattern(patternText, correctionText)
}

// RecordOutcome counts one use of a pattern and whether it helped.
func (e *Engine) RecordOutcome(id int64, success bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return notFound(id, e.Store.RecordOutcome(id, success))
}

// Favorite protects a pattern from pruning.
func (e *Engine) Favorite(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return notFound(id, e.Store.SetFavorite(id, true))
}

// Unfavorite removes pruning protection. Unfavoriting a pattern that is
// not a favorite is a no-op.
func (e *Engine) Unfavorite(id int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Store.SetFavorite(id, false)
}

// GetPattern returns a live pattern or ErrNotFound.
func (e *Engine) GetPattern(id int64) (*store.Pattern, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.getPattern(id)
}

func (e *Engine) getPattern(id int64) (*store.Pattern, error) {
	p, err := e.Store.GetPattern(id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("pattern %d: %w", id, ErrNotFound)
	}
	return p, nil
}

// Score returns the score breakdown of one pattern, or ErrNotFound.
func (e *Engine) Score(id int64) (Breakdown, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := e.getPattern(id)
	if err != nil {
		return Breakdown{}, err
	}
	return e.Scorer.Breakdown(*p), nil
}

// ScoreAll scores every live pattern from a single fetch.
func (e *Engine) ScoreAll() (Summary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scoreAll()
}

func (e *Engine) scoreAll() (Summary, error) {
	patterns, err := e.Store.ListPatterns()
	if err != nil {
		return Summary{}, fmt.Errorf("score all: %w", err)
	}
	return e.Scorer.ScoreAll(patterns), nil
}

// Distribution returns the count of scores in each 20-wide bucket.
func (e *Engine) Distribution() ([5]int, error) {
	sum, err := e.ScoreAll()
	if err != nil {
		return [5]int{}, err
	}
	return sum.Buckets, nil
}

// Top returns up to limit patterns with the highest scores.
func (e *Engine) Top(limit int) ([]Scored, error) {
	return e.ranked(limit, true)
}

// Bottom returns up to limit patterns with the lowest scores.
func (e *Engine) Bottom(limit int) ([]Scored, error) {
	return e.ranked(limit, false)
}

func (e *Engine) ranked(limit int, descending bool) ([]Scored, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	patterns, err := e.Store.ListPatterns()
	if err != nil {
		return nil, fmt.Errorf("rank patterns: %w", err)
	}
	ranked := e.Scorer.Rank(patterns, descending)
	if limit >= 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// MergeAllSimilar runs a merge pass; see Merger.MergeAllSimilar.
func (e *Engine) MergeAllSimilar(apply bool) (*MergeReport, error) {
	if !apply {
		e.mu.RLock()
		defer e.mu.RUnlock()
	} else {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return e.Merger.MergeAllSimilar(apply)
}

// MergeGroup merges an explicit set of pattern ids.
func (e *Engine) MergeGroup(ids []int64) (*store.MergeRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Merger.MergeGroup(ids)
}

// MergeHistory returns up to limit merge records, most recent first.
func (e *Engine) MergeHistory(limit int) ([]store.MergeRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Merger.History(limit)
}

// MergeStats aggregates the merge audit.
func (e *Engine) MergeStats() (store.MergeStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Merger.Stats()
}

// Candidates lists the current pruning candidates.
func (e *Engine) Candidates() ([]Candidate, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Pruner.IdentifyCandidates()
}

// Prune runs a prune pass; see Pruner.Prune.
func (e *Engine) Prune(apply bool) (*PruneReport, error) {
	if !apply {
		e.mu.RLock()
		defer e.mu.RUnlock()
	} else {
		e.mu.Lock()
		defer e.mu.Unlock()
	}
	return e.Pruner.Prune(apply)
}

// Restore re-inserts a pruned pattern from its backup.
func (e *Engine) Restore(backupID int64) (*store.RestoreResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Pruner.Restore(backupID)
}

// BackupStats returns the backup ledger summary.
func (e *Engine) BackupStats() (store.BackupStats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Pruner.BackupStats()
}

// ListBackups returns up to limit backups, most recent first.
func (e *Engine) ListBackups(limit int) ([]store.BackupRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.Pruner.ListBackups(limit)
}

// MaintenanceReport is the combined result of one maintenance pass.
type MaintenanceReport struct {
	RunID      string       `json:"run_id"`
	Applied    bool         `json:"applied"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Scores     Summary      `json:"scores"`
	Merge      *MergeReport `json:"merge,omitempty"`
	Prune      *PruneReport `json:"prune,omitempty"`
}

// Maintain runs score, merge and prune in order while holding the
// maintenance lock. ctx is checked between stages.
func (e *Engine) Maintain(ctx context.Context, apply bool) (*MaintenanceReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := &MaintenanceReport{
		RunID:     uuid.Must(uuid.NewV7()).String(),
		Applied:   apply,
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()
	log.Printf("maintain %s: starting (apply=%v)", report.RunID, apply)

	sum, err := e.scoreAll()
	if err != nil {
		return report, err
	}
	report.Scores = sum
	log.Printf("maintain %s: scored %d patterns (avg %.1f, high %d, medium %d, low %d)",
		report.RunID, sum.Total, sum.Average, sum.High, sum.Medium, sum.Low)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Merge, err = e.Merger.MergeAllSimilar(apply)
	if err != nil {
		return report, err
	}
	log.Printf("maintain %s: merge %s, %d groups, %d saved",
		report.RunID, report.Merge.Action, report.Merge.GroupsFound, report.Merge.SpaceSaved)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	report.Prune, err = e.Pruner.Prune(apply)
	if err != nil {
		return report, err
	}
	log.Printf("maintain %s: prune %s, %d candidates, %d removed",
		report.RunID, report.Prune.Action, len(report.Prune.Candidates), report.Prune.Removed)
	return report, nil
}

// StartMaintenanceTimer runs a maintenance pass on startup and then every
// interval until Stop. A non-positive interval disables the timer.
func (e *Engine) StartMaintenanceTimer(interval time.Duration, apply bool) {
	if interval <= 0 {
		return
	}
	run := func() {
		if _, err := e.Maintain(context.Background(), apply); err != nil {
			log.Printf("maintain error: %v", err)
		}
	}

	// Run once at startup
	run()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				run()
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
