package store

import (
	"database/sql"
	"fmt"
	"time"
)

const backupColumns = `id, original_id, pattern_text, correction_text, created_at, last_used,
	use_count, success_count, failure_count, score, reason, deleted_at, restored_as, restored_at`

// BackupAndDelete snapshots the live pattern b.Pattern.ID into the backup
// ledger and deletes it, in a single transaction. The snapshot is read inside
// the transaction, and b is filled in with it on success. If the pattern is
// already gone nothing is written.
func (db *DB) BackupAndDelete(b *BackupRecord) error {
	id := b.Pattern.ID
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin backup: %w", err)
	}
	defer tx.Rollback()

	live, err := getPattern(tx, id)
	if err != nil {
		return fmt.Errorf("backup pattern %d: %w", id, err)
	}
	if live == nil {
		return fmt.Errorf("backup pattern %d: %w", id, ErrNotFound)
	}

	rec := *b
	rec.Pattern = *live
	rec.OriginalID = id
	if rec.DeletedAt.IsZero() {
		rec.DeletedAt = time.Now()
	}
	rec.DeletedAt = normalizeTime(rec.DeletedAt)

	p := rec.Pattern
	var lastUsed *int64
	if p.LastUsed != nil {
		ms := toMillis(*p.LastUsed)
		lastUsed = &ms
	}
	result, err := tx.Exec(`
		INSERT INTO pattern_backups (original_id, pattern_text, correction_text, created_at, last_used,
			use_count, success_count, failure_count, score, reason, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.PatternText, p.CorrectionText, toMillis(p.CreatedAt), lastUsed,
		p.UseCount, p.SuccessCount, p.FailureCount, rec.Score, rec.Reason, toMillis(rec.DeletedAt))
	if err != nil {
		return fmt.Errorf("backup pattern %d: %w", id, err)
	}
	rec.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("backup pattern %d id: %w", id, err)
	}

	if _, err := tx.Exec("DELETE FROM favorites WHERE pattern_id = ?", id); err != nil {
		return fmt.Errorf("drop favorite %d: %w", id, err)
	}
	result, err = tx.Exec("DELETE FROM patterns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pattern %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n != 1 {
		return fmt.Errorf("delete pattern %d: %w", id, ErrNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backup %d: %w", id, err)
	}
	*b = rec
	return nil
}

// GetBackup returns a backup by id, or nil if not found.
func (db *DB) GetBackup(id int64) (*BackupRecord, error) {
	return getBackup(db, id)
}

func getBackup(q queryer, id int64) (*BackupRecord, error) {
	rows, err := q.Query(`SELECT `+backupColumns+` FROM pattern_backups WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	defer rows.Close()

	backups, err := scanBackups(rows)
	if err != nil {
		return nil, err
	}
	if len(backups) == 0 {
		return nil, nil
	}
	return &backups[0], nil
}

// Restore re-inserts the pattern held by a backup under a fresh id and marks
// the backup as restored. The backup row is kept. Restoring a backup whose
// restored pattern is still live is a no-op. A missing backup yields
// Restored=false and no error.
func (db *DB) Restore(backupID int64) (*RestoreResult, error) {
	res := &RestoreResult{BackupID: backupID}

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin restore: %w", err)
	}
	defer tx.Rollback()

	b, err := getBackup(tx, backupID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return res, nil
	}

	if b.RestoredAs != nil {
		live, err := getPattern(tx, *b.RestoredAs)
		if err != nil {
			return nil, err
		}
		if live != nil {
			res.Restored = true
			res.AlreadyRestored = true
			res.PatternID = live.ID
			return res, nil
		}
	}

	p := b.Pattern
	p.ID = 0
	if err := insertPattern(tx, &p); err != nil {
		return nil, fmt.Errorf("restore backup %d: %w", backupID, err)
	}
	if _, err := tx.Exec(`UPDATE pattern_backups SET restored_as = ?, restored_at = ? WHERE id = ?`,
		p.ID, time.Now().UnixMilli(), backupID); err != nil {
		return nil, fmt.Errorf("mark backup %d restored: %w", backupID, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit restore %d: %w", backupID, err)
	}

	res.Restored = true
	res.PatternID = p.ID
	return res, nil
}

// BackupStats returns the ledger size and the oldest/newest deletion times.
func (db *DB) BackupStats() (BackupStats, error) {
	var stats BackupStats
	var oldest, newest sql.NullInt64
	err := db.QueryRow(`SELECT COUNT(*), MIN(deleted_at), MAX(deleted_at) FROM pattern_backups`).
		Scan(&stats.Total, &oldest, &newest)
	if err != nil {
		return stats, fmt.Errorf("backup stats: %w", err)
	}
	if oldest.Valid {
		t := fromMillis(oldest.Int64)
		stats.Oldest = &t
	}
	if newest.Valid {
		t := fromMillis(newest.Int64)
		stats.Newest = &t
	}
	return stats, nil
}

// ListBackups returns up to limit backups, most recent first.
func (db *DB) ListBackups(limit int) ([]BackupRecord, error) {
	rows, err := db.Query(`SELECT `+backupColumns+` FROM pattern_backups
		ORDER BY deleted_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()
	return scanBackups(rows)
}

func scanBackups(rows *sql.Rows) ([]BackupRecord, error) {
	var backups []BackupRecord
	for rows.Next() {
		var b BackupRecord
		var createdAt, deletedAt int64
		var lastUsed, restoredAs, restoredAt sql.NullInt64
		if err := rows.Scan(&b.ID, &b.OriginalID, &b.Pattern.PatternText, &b.Pattern.CorrectionText,
			&createdAt, &lastUsed, &b.Pattern.UseCount, &b.Pattern.SuccessCount, &b.Pattern.FailureCount,
			&b.Score, &b.Reason, &deletedAt, &restoredAs, &restoredAt); err != nil {
			return nil, fmt.Errorf("scan backup: %w", err)
		}
		b.Pattern.ID = b.OriginalID
		b.Pattern.CreatedAt = fromMillis(createdAt)
		b.DeletedAt = fromMillis(deletedAt)
		if lastUsed.Valid {
			t := fromMillis(lastUsed.Int64)
			b.Pattern.LastUsed = &t
		}
		if restoredAs.Valid {
			id := restoredAs.Int64
			b.RestoredAs = &id
		}
		if restoredAt.Valid {
			t := fromMillis(restoredAt.Int64)
			b.RestoredAt = &t
		}
		backups = append(backups, b)
	}
	return backups, rows.Err()
}
