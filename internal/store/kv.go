package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for the Badger backend. Ids are appended big-endian so
// prefix iteration yields ascending id order.
const (
	prefixPattern  = byte(0x01) // pattern:id -> JSON(Pattern)
	prefixFavorite = byte(0x02) // favorite:id -> created_at millis
	prefixMerge    = byte(0x03) // merge:id -> JSON(MergeRecord)
	prefixBackup   = byte(0x04) // backup:id -> JSON(BackupRecord)
)

var (
	seqPatternKey = []byte("seq/patterns")
	seqMergeKey   = []byte("seq/merges")
	seqBackupKey  = []byte("seq/backups")
)

// KV is the embedded key-value pattern store backed by BadgerDB. It offers
// the same operations as DB; multi-row mutations run in one Badger
// transaction.
type KV struct {
	db         *badger.DB
	Path       string
	patternSeq *badger.Sequence
	mergeSeq   *badger.Sequence
	backupSeq  *badger.Sequence
}

// OpenKV opens (or creates) a Badger store in dir.
func OpenKV(dir string) (*KV, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create kv dir: %w", err)
	}
	return openKV(badger.DefaultOptions(dir), dir)
}

// OpenKVMemory opens an in-memory Badger store for testing.
func OpenKVMemory() (*KV, error) {
	return openKV(badger.DefaultOptions("").WithInMemory(true), ":memory:")
}

func openKV(opts badger.Options, path string) (*KV, error) {
	opts = opts.
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	kv := &KV{db: db, Path: path}
	for _, s := range []struct {
		key []byte
		dst **badger.Sequence
	}{
		{seqPatternKey, &kv.patternSeq},
		{seqMergeKey, &kv.mergeSeq},
		{seqBackupKey, &kv.backupSeq},
	} {
		seq, err := db.GetSequence(s.key, 64)
		if err != nil {
			kv.Close()
			return nil, fmt.Errorf("sequence %s: %w", s.key, err)
		}
		*s.dst = seq
	}
	return kv, nil
}

// Close releases sequences and closes the database.
func (kv *KV) Close() error {
	for _, seq := range []*badger.Sequence{kv.patternSeq, kv.mergeSeq, kv.backupSeq} {
		if seq != nil {
			seq.Release()
		}
	}
	return kv.db.Close()
}

// Ping reports whether the store is open.
func (kv *KV) Ping() error {
	if kv.db.IsClosed() {
		return errors.New("badger: closed")
	}
	return nil
}

func idKey(prefix byte, id int64) []byte {
	key := make([]byte, 9)
	key[0] = prefix
	binary.BigEndian.PutUint64(key[1:], uint64(id))
	return key
}

// nextID returns the next id of a sequence. Badger sequences start at 0;
// ids start at 1 like SQLite rowids.
func nextID(seq *badger.Sequence) (int64, error) {
	n, err := seq.Next()
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	return int64(n) + 1, nil
}

// getJSON decodes the value at key into v. It reports false if the key is absent.
func getJSON(txn *badger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// scanPrefix calls fn with the value of every key under prefix, in key order.
func scanPrefix(txn *badger.Txn, prefix byte, fn func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte{prefix}
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := it.Item().Value(fn); err != nil {
			return err
		}
	}
	return nil
}

func deleteIfExists(txn *badger.Txn, key []byte) (bool, error) {
	if _, err := txn.Get(key); errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, txn.Delete(key)
}

// CreatePattern stores a newly taught pattern with zeroed statistics.
func (kv *KV) CreatePattern(patternText, correctionText string) (*Pattern, error) {
	p := &Pattern{PatternText: patternText, CorrectionText: correctionText}
	if err := kv.InsertPattern(p); err != nil {
		return nil, err
	}
	return p, nil
}

// InsertPattern stores p as a new pattern and assigns p.ID.
func (kv *KV) InsertPattern(p *Pattern) error {
	if err := preparePattern(p, time.Now()); err != nil {
		return err
	}
	id, err := nextID(kv.patternSeq)
	if err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	row := *p
	row.ID = id
	if err := kv.db.Update(func(txn *badger.Txn) error {
		return setJSON(txn, idKey(prefixPattern, id), row)
	}); err != nil {
		return fmt.Errorf("insert pattern: %w", err)
	}
	p.ID = id
	return nil
}

// GetPattern returns a pattern by id, or nil if not found.
func (kv *KV) GetPattern(id int64) (*Pattern, error) {
	var p Pattern
	var found bool
	err := kv.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, idKey(prefixPattern, id), &p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &p, nil
}

// ListPatterns returns every live pattern ordered by id.
func (kv *KV) ListPatterns() ([]Pattern, error) {
	var patterns []Pattern
	err := kv.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixPattern, func(val []byte) error {
			var p Pattern
			if err := json.Unmarshal(val, &p); err != nil {
				return err
			}
			patterns = append(patterns, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	return patterns, nil
}

// CountPatterns returns the number of live patterns.
func (kv *KV) CountPatterns() (int, error) {
	count := 0
	err := kv.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixPattern}
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return count, nil
}

// RecordOutcome counts one use of a pattern and whether it helped.
func (kv *KV) RecordOutcome(id int64, success bool) error {
	now := normalizeTime(time.Now())
	err := kv.db.Update(func(txn *badger.Txn) error {
		var p Pattern
		found, err := getJSON(txn, idKey(prefixPattern, id), &p)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("pattern %d: %w", id, ErrNotFound)
		}
		p.UseCount++
		if success {
			p.SuccessCount++
		} else {
			p.FailureCount++
		}
		p.LastUsed = &now
		return setJSON(txn, idKey(prefixPattern, id), p)
	})
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// SetFavorite marks or unmarks a pattern as protected from pruning.
func (kv *KV) SetFavorite(id int64, favorite bool) error {
	err := kv.db.Update(func(txn *badger.Txn) error {
		if !favorite {
			_, err := deleteIfExists(txn, idKey(prefixFavorite, id))
			return err
		}
		if _, err := txn.Get(idKey(prefixPattern, id)); errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("pattern %d: %w", id, ErrNotFound)
		} else if err != nil {
			return err
		}
		return setJSON(txn, idKey(prefixFavorite, id), time.Now().UnixMilli())
	})
	if err != nil {
		return fmt.Errorf("set favorite: %w", err)
	}
	return nil
}

// FavoriteIDs returns the set of favorited pattern ids.
func (kv *KV) FavoriteIDs() (map[int64]bool, error) {
	ids := make(map[int64]bool)
	err := kv.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixFavorite}
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			ids[int64(binary.BigEndian.Uint64(key[1:]))] = true
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list favorites: %w", err)
	}
	return ids, nil
}

// ApplyMerge folds the absorbed rows into the survivor in one transaction;
// see DB.ApplyMerge. A concurrent write to any member fails the commit with
// badger.ErrConflict instead of being overwritten.
func (kv *KV) ApplyMerge(plan MergePlan) (*MergeRecord, error) {
	id, err := nextID(kv.mergeSeq)
	if err != nil {
		return nil, fmt.Errorf("apply merge: %w", err)
	}

	var rec MergeRecord
	err = kv.db.Update(func(txn *badger.Txn) error {
		var survivor Pattern
		found, err := getJSON(txn, idKey(prefixPattern, plan.SurvivorID), &survivor)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("survivor %d: %w", plan.SurvivorID, ErrNotFound)
		}
		absorbed := make([]Pattern, 0, len(plan.AbsorbedIDs))
		for _, aid := range plan.AbsorbedIDs {
			var p Pattern
			found, err := getJSON(txn, idKey(prefixPattern, aid), &p)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("absorbed %d: %w", aid, ErrNotFound)
			}
			absorbed = append(absorbed, p)
		}

		var folded Pattern
		folded, rec = foldMerge(plan, survivor, absorbed)
		rec.ID = id
		if folded.LastUsed != nil {
			lu := normalizeTime(*folded.LastUsed)
			folded.LastUsed = &lu
		}
		if err := setJSON(txn, idKey(prefixPattern, folded.ID), folded); err != nil {
			return err
		}

		favorite := false
		for _, aid := range plan.AbsorbedIDs {
			ok, err := deleteIfExists(txn, idKey(prefixFavorite, aid))
			if err != nil {
				return err
			}
			favorite = favorite || ok
			ok, err = deleteIfExists(txn, idKey(prefixPattern, aid))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("absorbed %d: %w", aid, ErrNotFound)
			}
		}
		if favorite {
			if err := setJSON(txn, idKey(prefixFavorite, folded.ID), time.Now().UnixMilli()); err != nil {
				return err
			}
		}

		var written Pattern
		found, err = getJSON(txn, idKey(prefixPattern, folded.ID), &written)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("survivor %d: %w", folded.ID, ErrNotFound)
		}
		rec.TotalUsesAfter = written.UseCount
		return setJSON(txn, idKey(prefixMerge, rec.ID), rec)
	})
	if err != nil {
		return nil, fmt.Errorf("apply merge: %w", err)
	}
	return &rec, nil
}

// MergeHistory returns up to limit merge records, most recent first.
func (kv *KV) MergeHistory(limit int) ([]MergeRecord, error) {
	var records []MergeRecord
	err := kv.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixMerge, func(val []byte) error {
			var r MergeRecord
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("merge history: %w", err)
	}
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].MergedAt.Equal(records[j].MergedAt) {
			return records[i].MergedAt.After(records[j].MergedAt)
		}
		return records[i].ID > records[j].ID
	})
	if limit >= 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// MergeStats aggregates the whole merge audit.
func (kv *KV) MergeStats() (MergeStats, error) {
	var stats MergeStats
	records, err := kv.MergeHistory(-1)
	if err != nil {
		return stats, err
	}
	for _, r := range records {
		stats.TotalMerges++
		stats.TotalPatternsMerged += r.GroupSize
		stats.TotalSpaceSaved += r.GroupSize - 1
	}
	return stats, nil
}

// BackupAndDelete snapshots the live pattern and deletes it in one
// transaction; see DB.BackupAndDelete.
func (kv *KV) BackupAndDelete(b *BackupRecord) error {
	pid := b.Pattern.ID
	id, err := nextID(kv.backupSeq)
	if err != nil {
		return fmt.Errorf("backup pattern %d: %w", pid, err)
	}
	rec := *b
	rec.ID = id
	rec.OriginalID = pid
	if rec.DeletedAt.IsZero() {
		rec.DeletedAt = time.Now()
	}
	rec.DeletedAt = normalizeTime(rec.DeletedAt)

	err = kv.db.Update(func(txn *badger.Txn) error {
		var live Pattern
		found, err := getJSON(txn, idKey(prefixPattern, pid), &live)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("pattern %d: %w", pid, ErrNotFound)
		}
		rec.Pattern = live
		if err := setJSON(txn, idKey(prefixBackup, id), rec); err != nil {
			return err
		}
		if _, err := deleteIfExists(txn, idKey(prefixFavorite, pid)); err != nil {
			return err
		}
		return txn.Delete(idKey(prefixPattern, pid))
	})
	if err != nil {
		return fmt.Errorf("backup pattern %d: %w", pid, err)
	}
	*b = rec
	return nil
}

// GetBackup returns a backup by id, or nil if not found.
func (kv *KV) GetBackup(id int64) (*BackupRecord, error) {
	var b BackupRecord
	var found bool
	err := kv.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, idKey(prefixBackup, id), &b)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get backup: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &b, nil
}

// Restore re-inserts a backed-up pattern; see DB.Restore.
func (kv *KV) Restore(backupID int64) (*RestoreResult, error) {
	res := &RestoreResult{BackupID: backupID}

	err := kv.db.Update(func(txn *badger.Txn) error {
		var b BackupRecord
		found, err := getJSON(txn, idKey(prefixBackup, backupID), &b)
		if err != nil || !found {
			return err
		}

		if b.RestoredAs != nil {
			if _, err := txn.Get(idKey(prefixPattern, *b.RestoredAs)); err == nil {
				res.Restored = true
				res.AlreadyRestored = true
				res.PatternID = *b.RestoredAs
				return nil
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		newID, err := nextID(kv.patternSeq)
		if err != nil {
			return err
		}
		p := b.Pattern
		p.ID = newID
		if err := setJSON(txn, idKey(prefixPattern, newID), p); err != nil {
			return err
		}
		now := normalizeTime(time.Now())
		b.RestoredAs = &newID
		b.RestoredAt = &now
		if err := setJSON(txn, idKey(prefixBackup, backupID), b); err != nil {
			return err
		}
		res.Restored = true
		res.PatternID = newID
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore backup %d: %w", backupID, err)
	}
	return res, nil
}

func (kv *KV) allBackups() ([]BackupRecord, error) {
	var backups []BackupRecord
	err := kv.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, prefixBackup, func(val []byte) error {
			var b BackupRecord
			if err := json.Unmarshal(val, &b); err != nil {
				return err
			}
			backups = append(backups, b)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	return backups, nil
}

// BackupStats returns the ledger size and the oldest/newest deletion times.
func (kv *KV) BackupStats() (BackupStats, error) {
	var stats BackupStats
	backups, err := kv.allBackups()
	if err != nil {
		return stats, err
	}
	for i := range backups {
		t := backups[i].DeletedAt
		stats.Total++
		if stats.Oldest == nil || t.Before(*stats.Oldest) {
			stats.Oldest = &t
		}
		if stats.Newest == nil || t.After(*stats.Newest) {
			stats.Newest = &t
		}
	}
	return stats, nil
}

// ListBackups returns up to limit backups, most recent first.
func (kv *KV) ListBackups(limit int) ([]BackupRecord, error) {
	backups, err := kv.allBackups()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].DeletedAt.Equal(backups[j].DeletedAt) {
			return backups[i].DeletedAt.After(backups[j].DeletedAt)
		}
		return backups[i].ID > backups[j].ID
	})
	if limit >= 0 && len(backups) > limit {
		backups = backups[:limit]
	}
	return backups, nil
}
