package store

import (
	"database/sql"
	"fmt"
	"time"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const patternColumns = `id, pattern_text, correction_text, created_at, last_used, use_count, success_count, failure_count`

// CreatePattern stores a newly taught pattern with zeroed statistics.
func (db *DB) CreatePattern(patternText, correctionText string) (*Pattern, error) {
	p := &Pattern{PatternText: patternText, CorrectionText: correctionText}
	if err := db.InsertPattern(p); err != nil {
		return nil, err
	}
	return p, nil
}

// InsertPattern stores p as a new row and assigns p.ID. CreatedAt, LastUsed
// and the counters are kept as given; a zero CreatedAt becomes now.
func (db *DB) InsertPattern(p *Pattern) error {
	return insertPattern(db, p)
}

func insertPattern(q queryer, p *Pattern) error {
	if err := preparePattern(p, time.Now()); err != nil {
		return err
	}
	var lastUsed *int64
	if p.LastUsed != nil {
		ms := toMillis(*p.LastUsed)
		lastUsed = &ms
	}
	result, err := q.Exec(`
		INSERT INTO patterns (pattern_text, correction_text, created_at, last_used, use_count, success_count, failure_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.PatternText, p.CorrectionText, toMillis(p.CreatedAt), lastUsed,
		p.UseCount, p.SuccessCount, p.FailureCount)
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert pattern id: %w", err)
	}
	p.ID = id
	return nil
}

// GetPattern returns a pattern by id, or nil if not found.
func (db *DB) GetPattern(id int64) (*Pattern, error) {
	return getPattern(db, id)
}

func getPattern(q queryer, id int64) (*Pattern, error) {
	rows, err := q.Query(`SELECT `+patternColumns+` FROM patterns WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	defer rows.Close()

	patterns, err := scanPatterns(rows)
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return &patterns[0], nil
}

// ListPatterns returns every live pattern ordered by id.
func (db *DB) ListPatterns() ([]Pattern, error) {
	rows, err := db.Query(`SELECT ` + patternColumns + ` FROM patterns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()
	return scanPatterns(rows)
}

// CountPatterns returns the number of live patterns.
func (db *DB) CountPatterns() (int, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM patterns").Scan(&count); err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return count, nil
}

// RecordOutcome counts one use of a pattern and whether it helped.
func (db *DB) RecordOutcome(id int64, success bool) error {
	successInc, failureInc := 0, 1
	if success {
		successInc, failureInc = 1, 0
	}
	result, err := db.Exec(`
		UPDATE patterns SET use_count = use_count + 1,
			success_count = success_count + ?, failure_count = failure_count + ?, last_used = ?
		WHERE id = ?
	`, successInc, failureInc, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("record outcome for pattern %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetFavorite marks or unmarks a pattern as protected from pruning.
func (db *DB) SetFavorite(id int64, favorite bool) error {
	if !favorite {
		if _, err := db.Exec("DELETE FROM favorites WHERE pattern_id = ?", id); err != nil {
			return fmt.Errorf("unfavorite %d: %w", id, err)
		}
		return nil
	}

	p, err := db.GetPattern(id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("favorite pattern %d: %w", id, ErrNotFound)
	}
	_, err = db.Exec(`INSERT OR IGNORE INTO favorites (pattern_id, created_at) VALUES (?, ?)`,
		id, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("favorite %d: %w", id, err)
	}
	return nil
}

// FavoriteIDs returns the set of favorited pattern ids.
func (db *DB) FavoriteIDs() (map[int64]bool, error) {
	rows, err := db.Query("SELECT pattern_id FROM favorites")
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		ids[id] = true
	}
	return ids, rows.Err()
}

func scanPatterns(rows *sql.Rows) ([]Pattern, error) {
	var patterns []Pattern
	for rows.Next() {
		var p Pattern
		var createdAt int64
		var lastUsed sql.NullInt64
		if err := rows.Scan(&p.ID, &p.PatternText, &p.CorrectionText, &createdAt, &lastUsed,
			&p.UseCount, &p.SuccessCount, &p.FailureCount); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.CreatedAt = fromMillis(createdAt)
		if lastUsed.Valid {
			t := fromMillis(lastUsed.Int64)
			p.LastUsed = &t
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}
