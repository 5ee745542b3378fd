package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ApplyMerge folds the absorbed rows into the survivor in one transaction.
// Every member is read inside the transaction, the survivor takes the summed
// counters, each absorbed row is deleted and the audit record is appended.
// The survivor inherits favorite status from any absorbed row. A missing
// member rolls the whole merge back.
func (db *DB) ApplyMerge(plan MergePlan) (*MergeRecord, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	survivor, err := getPattern(tx, plan.SurvivorID)
	if err != nil {
		return nil, fmt.Errorf("read survivor %d: %w", plan.SurvivorID, err)
	}
	if survivor == nil {
		return nil, fmt.Errorf("read survivor %d: %w", plan.SurvivorID, ErrNotFound)
	}
	absorbed := make([]Pattern, 0, len(plan.AbsorbedIDs))
	for _, id := range plan.AbsorbedIDs {
		p, err := getPattern(tx, id)
		if err != nil {
			return nil, fmt.Errorf("read absorbed %d: %w", id, err)
		}
		if p == nil {
			return nil, fmt.Errorf("read absorbed %d: %w", id, ErrNotFound)
		}
		absorbed = append(absorbed, *p)
	}
	folded, rec := foldMerge(plan, *survivor, absorbed)

	var lastUsed *int64
	if folded.LastUsed != nil {
		ms := toMillis(*folded.LastUsed)
		lastUsed = &ms
	}
	if _, err := tx.Exec(`
		UPDATE patterns SET use_count = ?, success_count = ?, failure_count = ?, last_used = ?
		WHERE id = ?
	`, folded.UseCount, folded.SuccessCount, folded.FailureCount, lastUsed, folded.ID); err != nil {
		return nil, fmt.Errorf("update survivor %d: %w", folded.ID, err)
	}

	favorite := false
	for _, id := range plan.AbsorbedIDs {
		result, err := tx.Exec("DELETE FROM favorites WHERE pattern_id = ?", id)
		if err != nil {
			return nil, fmt.Errorf("drop favorite %d: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n > 0 {
			favorite = true
		}
		result, err = tx.Exec("DELETE FROM patterns WHERE id = ?", id)
		if err != nil {
			return nil, fmt.Errorf("delete absorbed %d: %w", id, err)
		}
		if n, _ := result.RowsAffected(); n != 1 {
			return nil, fmt.Errorf("delete absorbed %d: %w", id, ErrNotFound)
		}
	}

	if favorite {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO favorites (pattern_id, created_at) VALUES (?, ?)`,
			folded.ID, time.Now().UnixMilli()); err != nil {
			return nil, fmt.Errorf("carry favorite to %d: %w", folded.ID, err)
		}
	}

	written, err := getPattern(tx, folded.ID)
	if err != nil {
		return nil, fmt.Errorf("read survivor %d: %w", folded.ID, err)
	}
	if written == nil {
		return nil, fmt.Errorf("read survivor %d: %w", folded.ID, ErrNotFound)
	}
	rec.TotalUsesAfter = written.UseCount

	absorbedIDs, err := json.Marshal(rec.AbsorbedIDs)
	if err != nil {
		return nil, fmt.Errorf("encode absorbed ids: %w", err)
	}
	result, err := tx.Exec(`
		INSERT INTO merge_history (merged_at, survivor_id, absorbed_ids, similarity, group_size, total_uses_before, total_uses_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, toMillis(rec.MergedAt), rec.SurvivorID, string(absorbedIDs), rec.Similarity,
		rec.GroupSize, rec.TotalUsesBefore, rec.TotalUsesAfter)
	if err != nil {
		return nil, fmt.Errorf("record merge: %w", err)
	}
	rec.ID, _ = result.LastInsertId()

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit merge: %w", err)
	}
	return &rec, nil
}

// MergeHistory returns up to limit merge records, most recent first.
func (db *DB) MergeHistory(limit int) ([]MergeRecord, error) {
	rows, err := db.Query(`
		SELECT id, merged_at, survivor_id, absorbed_ids, similarity, group_size, total_uses_before, total_uses_after
		FROM merge_history
		ORDER BY merged_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("merge history: %w", err)
	}
	defer rows.Close()

	var records []MergeRecord
	for rows.Next() {
		var r MergeRecord
		var mergedAt int64
		var absorbed string
		if err := rows.Scan(&r.ID, &mergedAt, &r.SurvivorID, &absorbed, &r.Similarity,
			&r.GroupSize, &r.TotalUsesBefore, &r.TotalUsesAfter); err != nil {
			return nil, fmt.Errorf("scan merge record: %w", err)
		}
		r.MergedAt = fromMillis(mergedAt)
		if err := json.Unmarshal([]byte(absorbed), &r.AbsorbedIDs); err != nil {
			return nil, fmt.Errorf("decode absorbed ids of merge %d: %w", r.ID, err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// MergeStats aggregates the whole merge audit.
func (db *DB) MergeStats() (MergeStats, error) {
	var stats MergeStats
	var merged, saved sql.NullInt64
	err := db.QueryRow(`
		SELECT COUNT(*), SUM(group_size), SUM(group_size - 1) FROM merge_history
	`).Scan(&stats.TotalMerges, &merged, &saved)
	if err != nil {
		return stats, fmt.Errorf("merge stats: %w", err)
	}
	stats.TotalPatternsMerged = int(merged.Int64)
	stats.TotalSpaceSaved = int(saved.Int64)
	return stats, nil
}
