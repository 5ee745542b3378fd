package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/curator/internal/config"
	"github.com/lazypower/curator/internal/store"
)

func TestPruneOldPatternWithDefaults(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, nil)
		seedFresh(t, s, 60)
		old := seed(t, s, store.Pattern{PatternText: "ancient habit", CorrectionText: "new habit",
			CreatedAt: daysAgo(400), UseCount: 1})

		candidates, err := e.Candidates()
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, old.ID, candidates[0].ID)
		assert.Less(t, candidates[0].Score, 20.0)
		assert.Contains(t, candidates[0].Reason, "Low score")

		report, err := e.Prune(true)
		require.NoError(t, err)
		assert.Equal(t, "pruned", report.Action)
		assert.Equal(t, 1, report.Removed)
		assert.Equal(t, 1, report.BackedUp)
		assert.Equal(t, []int64{old.ID}, report.PatternIDs)
		assert.Equal(t, 61, report.TotalBefore)
		assert.Equal(t, 60, report.TotalAfter)

		backups, err := e.ListBackups(10)
		require.NoError(t, err)
		require.Len(t, backups, 1)
		assert.Equal(t, old.ID, backups[0].OriginalID)
		assert.Equal(t, candidates[0].Reason, backups[0].Reason)
		assert.InDelta(t, candidates[0].Score, backups[0].Score, 1e-9)

		stats, err := e.BackupStats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total)
	})
}

func TestCandidatesCappedByMinKeep(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, func(c *config.Config) { c.Pruner.MinKeepCount = 8 })
		var old []store.Pattern
		for i := 0; i < 5; i++ {
			old = append(old, seedOld(t, s, "stale", 400))
		}
		seedFresh(t, s, 5)

		candidates, err := e.Candidates()
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		// Equal scores fall back to ascending id.
		assert.Equal(t, old[0].ID, candidates[0].ID)
		assert.Equal(t, old[1].ID, candidates[1].ID)

		report, err := e.Prune(true)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Removed)
		assert.Equal(t, 8, report.TotalAfter)
	})
}

func TestCandidatesLowestScoreFirst(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, func(c *config.Config) { c.Pruner.MinKeepCount = 0 })
		worse := seed(t, s, store.Pattern{PatternText: "always wrong", CreatedAt: daysAgo(400), UseCount: 2, FailureCount: 2})
		bad := seedOld(t, s, "never used", 400)

		candidates, err := e.Candidates()
		require.NoError(t, err)
		require.Len(t, candidates, 2)
		assert.Equal(t, worse.ID, candidates[0].ID)
		assert.Equal(t, bad.ID, candidates[1].ID)
		assert.Less(t, candidates[0].Score, candidates[1].Score)
	})
}

func TestSafetyFilters(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, func(c *config.Config) {
			c.Pruner.MinKeepCount = 0
			c.Pruner.MinScoreThreshold = 100
		})
		favorite := seedOld(t, s, "favorite", 400)
		require.NoError(t, e.Favorite(favorite.ID))
		young := seedOld(t, s, "young", 29)
		eligible := seedOld(t, s, "eligible", 30)

		candidates, err := e.Candidates()
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		assert.Equal(t, eligible.ID, candidates[0].ID)

		report, err := e.Prune(true)
		require.NoError(t, err)
		assert.Equal(t, []int64{eligible.ID}, report.PatternIDs)
		for _, id := range []int64{favorite.ID, young.ID} {
			_, err := e.GetPattern(id)
			assert.NoError(t, err)
		}
	})
}

func TestNothingToPruneAtFloor(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, nil)
		for i := 0; i < 5; i++ {
			seedOld(t, s, "stale", 400)
		}

		candidates, err := e.Candidates()
		require.NoError(t, err)
		assert.Empty(t, candidates)

		report, err := e.Prune(true)
		require.NoError(t, err)
		assert.Equal(t, "none", report.Action)
		assert.Equal(t, 5, report.TotalAfter)
	})
}

func TestPruneDryRunChangesNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, func(c *config.Config) { c.Pruner.MinKeepCount = 1 })
		seedOld(t, s, "a", 400)
		seedOld(t, s, "b", 400)
		seedFresh(t, s, 1)

		before := takeSnapshot(t, s)
		report, err := e.Prune(false)
		require.NoError(t, err)
		assert.Equal(t, before, takeSnapshot(t, s))

		assert.Equal(t, "dry_run", report.Action)
		assert.Len(t, report.Candidates, 2)
		assert.Zero(t, report.Removed)
		assert.Equal(t, 3, report.TotalBefore)
		assert.Equal(t, 1, report.TotalAfter)
	})
}

func TestPruneNeverDropsBelowMinKeep(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, func(c *config.Config) {
			c.Pruner.MinKeepCount = 4
			c.Pruner.MinScoreThreshold = 100
		})
		for i := 0; i < 10; i++ {
			seedOld(t, s, "stale", 100)
		}

		for i := 0; i < 3; i++ {
			_, err := e.Prune(true)
			require.NoError(t, err)
			n, err := s.CountPatterns()
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		}
	})
}

func TestPruneSkipsFailedBackup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		a := seedOld(t, s, "a", 400)
		b := seedOld(t, s, "b", 400)
		c := seedOld(t, s, "c", 400)

		fs := &failingStore{testStore: s, failID: b.ID}
		e := testEngine(t, fs, func(cfg *config.Config) { cfg.Pruner.MinKeepCount = 0 })

		report, err := e.Prune(true)
		require.NoError(t, err)
		assert.Equal(t, []int64{a.ID, c.ID}, report.PatternIDs)
		assert.Equal(t, 2, report.BackedUp)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, b.ID, report.Failures[0].ID)
		assert.Contains(t, report.Failures[0].Err, "disk full")
		assert.Equal(t, 1, report.TotalAfter)

		// Every removed id has a backup; the failed one is still live.
		backups, err := s.ListBackups(10)
		require.NoError(t, err)
		var backedUp []int64
		for _, bk := range backups {
			backedUp = append(backedUp, bk.OriginalID)
		}
		assert.ElementsMatch(t, report.PatternIDs, backedUp)
		live, err := s.GetPattern(b.ID)
		require.NoError(t, err)
		assert.NotNil(t, live)
	})
}

func TestPruneBacksUpLatestRow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		old := seedOld(t, s, "stale", 400)
		e := testEngine(t, &racingStore{testStore: s, touch: old.ID}, func(c *config.Config) { c.Pruner.MinKeepCount = 0 })

		report, err := e.Prune(true)
		require.NoError(t, err)
		assert.Equal(t, []int64{old.ID}, report.PatternIDs)

		backups, err := s.ListBackups(10)
		require.NoError(t, err)
		require.Len(t, backups, 1)
		snap := backups[0].Pattern
		assert.Equal(t, 1, snap.UseCount)
		assert.Equal(t, 1, snap.FailureCount)
		assert.NotNil(t, snap.LastUsed)
	})
}

func TestRestoreReproducesPattern(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, func(c *config.Config) { c.Pruner.MinKeepCount = 0 })
		lastUsed := daysAgo(200)
		old := seed(t, s, store.Pattern{PatternText: "old habit", CorrectionText: "better habit",
			CreatedAt: daysAgo(400), LastUsed: &lastUsed, UseCount: 3, SuccessCount: 1, FailureCount: 2})

		_, err := e.Prune(true)
		require.NoError(t, err)
		backups, err := e.ListBackups(1)
		require.NoError(t, err)
		require.Len(t, backups, 1)

		res, err := e.Restore(backups[0].ID)
		require.NoError(t, err)
		assert.True(t, res.Restored)
		assert.False(t, res.AlreadyRestored)

		restored, err := e.GetPattern(res.PatternID)
		require.NoError(t, err)
		want := old
		want.ID = res.PatternID
		assert.Equal(t, want, *restored)

		again, err := e.Restore(backups[0].ID)
		require.NoError(t, err)
		assert.True(t, again.AlreadyRestored)
		n, err := s.CountPatterns()
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		stats, err := e.BackupStats()
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Total, "backup row is kept")
	})
}

func TestRestoreMissingBackup(t *testing.T) {
	forEachStore(t, func(t *testing.T, s testStore) {
		e := testEngine(t, s, nil)
		seedFresh(t, s, 2)

		before := takeSnapshot(t, s)
		res, err := e.Restore(12345)
		require.NoError(t, err)
		assert.False(t, res.Restored)
		assert.Equal(t, before, takeSnapshot(t, s))
	})
}

func TestNewPrunerRequiresScorer(t *testing.T) {
	_, err := NewPruner(nil, nil, config.DefaultPruner())
	assert.ErrorIs(t, err, config.ErrInvalid)
}
