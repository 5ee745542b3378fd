package store

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by mutations that target a missing row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPattern is returned when ingestion receives an empty pattern text.
	ErrInvalidPattern = errors.New("invalid pattern")
)

// Pattern is a learned correction and its usage statistics.
// Text fields are immutable once created.
type Pattern struct {
	ID             int64      `json:"id"`
	PatternText    string     `json:"pattern_text"`
	CorrectionText string     `json:"correction_text"`
	CreatedAt      time.Time  `json:"created_at"`
	LastUsed       *time.Time `json:"last_used,omitempty"`
	UseCount       int        `json:"use_count"`
	SuccessCount   int        `json:"success_count"`
	FailureCount   int        `json:"failure_count"`
}

// MergeRecord is one append-only entry of the merge audit.
type MergeRecord struct {
	ID              int64     `json:"id"`
	MergedAt        time.Time `json:"merged_at"`
	SurvivorID      int64     `json:"survivor_id"`
	AbsorbedIDs     []int64   `json:"absorbed_ids"`
	Similarity      float64   `json:"similarity"`
	GroupSize       int       `json:"group_size"`
	TotalUsesBefore int       `json:"total_uses_before"`
	TotalUsesAfter  int       `json:"total_uses_after"`
}

// MergeStats aggregates the merge audit.
type MergeStats struct {
	TotalMerges         int `json:"total_merges"`
	TotalPatternsMerged int `json:"total_patterns_merged"`
	TotalSpaceSaved     int `json:"total_space_saved"`
}

// MergePlan names a merge: the surviving row and the rows folded into it.
// The store reads every member inside its transaction, so the folded counters
// and the audit totals reflect the rows as they are at commit time.
type MergePlan struct {
	SurvivorID  int64
	AbsorbedIDs []int64
	Similarity  float64
	MergedAt    time.Time
}

// foldMerge sums the counters of every absorbed row into the survivor and
// keeps the most recent last_used. Text and created_at stay the survivor's.
func foldMerge(plan MergePlan, survivor Pattern, absorbed []Pattern) (Pattern, MergeRecord) {
	folded := survivor
	before := survivor.UseCount
	for _, p := range absorbed {
		before += p.UseCount
		folded.UseCount += p.UseCount
		folded.SuccessCount += p.SuccessCount
		folded.FailureCount += p.FailureCount
		if p.LastUsed != nil && (folded.LastUsed == nil || p.LastUsed.After(*folded.LastUsed)) {
			lu := *p.LastUsed
			folded.LastUsed = &lu
		}
	}

	ids := slices.Clone(plan.AbsorbedIDs)
	slices.Sort(ids)
	mergedAt := plan.MergedAt
	if mergedAt.IsZero() {
		mergedAt = time.Now()
	}
	return folded, MergeRecord{
		MergedAt:        normalizeTime(mergedAt),
		SurvivorID:      survivor.ID,
		AbsorbedIDs:     ids,
		Similarity:      plan.Similarity,
		GroupSize:       len(absorbed) + 1,
		TotalUsesBefore: before,
	}
}

// BackupRecord is a full snapshot of a pruned pattern.
type BackupRecord struct {
	ID         int64      `json:"id"`
	OriginalID int64      `json:"original_id"`
	Pattern    Pattern    `json:"pattern"`
	Score      float64    `json:"score"`
	Reason     string     `json:"reason"`
	DeletedAt  time.Time  `json:"deleted_at"`
	RestoredAs *int64     `json:"restored_as,omitempty"`
	RestoredAt *time.Time `json:"restored_at,omitempty"`
}

// BackupStats summarises the backup ledger.
type BackupStats struct {
	Total  int        `json:"total_backups"`
	Oldest *time.Time `json:"oldest_backup,omitempty"`
	Newest *time.Time `json:"newest_backup,omitempty"`
}

// RestoreResult describes the outcome of restoring a backup.
// Restored is false only when the backup does not exist.
type RestoreResult struct {
	BackupID        int64 `json:"backup_id"`
	Restored        bool  `json:"restored"`
	PatternID       int64 `json:"pattern_id,omitempty"`
	AlreadyRestored bool  `json:"already_restored,omitempty"`
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// normalizeTime truncates to the millisecond precision both backends persist.
func normalizeTime(t time.Time) time.Time {
	return fromMillis(toMillis(t))
}

// preparePattern validates a pattern for insertion and fills in defaults.
func preparePattern(p *Pattern, now time.Time) error {
	if strings.TrimSpace(p.PatternText) == "" {
		return ErrInvalidPattern
	}
	if p.UseCount < 0 || p.SuccessCount < 0 || p.FailureCount < 0 {
		return ErrInvalidPattern
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.CreatedAt = normalizeTime(p.CreatedAt)
	if p.LastUsed != nil {
		lu := normalizeTime(*p.LastUsed)
		p.LastUsed = &lu
	}
	return nil
}
