package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"

	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/store"
)

var renderNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func before(d time.Duration) time.Time { return renderNow.Add(-d) }

func ptr[T any](v T) *T { return &v }

func assertGolden(t *testing.T, name string, buf *bytes.Buffer) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, buf.Bytes())
}

func TestRenderPattern(t *testing.T) {
	var buf bytes.Buffer
	renderPattern(&buf, store.Pattern{
		ID: 3, PatternText: "teh", CorrectionText: "the",
		CreatedAt: before(3 * day), LastUsed: ptr(before(2 * time.Hour)),
		UseCount: 5, SuccessCount: 3, FailureCount: 1,
	}, renderNow)
	renderPattern(&buf, store.Pattern{ID: 4, PatternText: "recieve", CreatedAt: before(5 * day)}, renderNow)
	assertGolden(t, "pattern", &buf)
}

func TestRenderBreakdown(t *testing.T) {
	var buf bytes.Buffer
	renderBreakdown(&buf, engine.Breakdown{ID: 7, Age: 90.48, Usage: 9.52, Success: 100, Recency: 100, Total: 73.52})
	assertGolden(t, "breakdown", &buf)
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, engine.Summary{Total: 1204, Average: 48.31, High: 12, Medium: 1000, Low: 192})
	renderSummary(&buf, engine.Summary{})
	assertGolden(t, "summary", &buf)
}

func TestRenderDistribution(t *testing.T) {
	var buf bytes.Buffer
	renderDistribution(&buf, [5]int{2, 0, 5, 10, 1})
	assertGolden(t, "distribution", &buf)
}

func TestRenderRanked(t *testing.T) {
	var buf bytes.Buffer
	renderRanked(&buf, []engine.Scored{
		{Pattern: store.Pattern{ID: 12, PatternText: "fix motor control issue", CorrectionText: "use PWM smoothing", UseCount: 10}, Score: 81.234},
		{Pattern: store.Pattern{ID: 5, PatternText: strings.Repeat("a", 50)}, Score: 42.5},
	})
	renderRanked(&buf, nil)
	assertGolden(t, "ranked", &buf)
}

func TestRenderMergeReports(t *testing.T) {
	var buf bytes.Buffer
	renderMergeReport(&buf, &engine.MergeReport{
		Action: "dry_run", GroupsFound: 2, PatternsBefore: 5, PatternsAfter: 2, SpaceSaved: 3,
		Groups: []engine.Group{
			{IDs: []int64{1, 3, 5}, Similarity: 0.7712},
			{IDs: []int64{2, 4}, Similarity: 0.8181},
		},
	})
	renderMergeReport(&buf, &engine.MergeReport{
		Action: "merged", GroupsFound: 2, GroupsMerged: 1, PatternsBefore: 5, PatternsAfter: 3, SpaceSaved: 2,
		Groups: []engine.Group{
			{IDs: []int64{1, 2, 3}, Similarity: 0.75},
			{IDs: []int64{4, 9}, Similarity: 0.9},
		},
		Merged:   []store.MergeRecord{{SurvivorID: 1, AbsorbedIDs: []int64{2, 3}, TotalUsesAfter: 18}},
		Failures: []engine.ItemError{{ID: 4, Err: "pattern vanished"}},
	})
	assertGolden(t, "merge_report", &buf)
}

func TestRenderMergeHistory(t *testing.T) {
	var buf bytes.Buffer
	renderMergeHistory(&buf, []store.MergeRecord{
		{ID: 2, MergedAt: before(2 * time.Hour), SurvivorID: 1, AbsorbedIDs: []int64{2, 3}, Similarity: 0.75, TotalUsesAfter: 18},
		{ID: 1, MergedAt: before(3 * day), SurvivorID: 4, AbsorbedIDs: []int64{6}, Similarity: 0.9, TotalUsesAfter: 3},
	}, renderNow)
	renderMergeStats(&buf, store.MergeStats{TotalMerges: 2, TotalPatternsMerged: 5, TotalSpaceSaved: 3})
	renderMergeHistory(&buf, nil, renderNow)
	assertGolden(t, "merge_history", &buf)
}

func TestRenderCandidates(t *testing.T) {
	var buf bytes.Buffer
	renderCandidates(&buf, []engine.Candidate{
		{ID: 61, Score: 14.8734, Reason: "Low score (14.87 < 20)", Pattern: store.Pattern{ID: 61, CreatedAt: before(5 * day)}},
		{ID: 8, Score: 19.5, Reason: "Low score (19.50 < 20)", Pattern: store.Pattern{ID: 8, CreatedAt: before(3 * day)}},
	}, renderNow)
	renderCandidates(&buf, nil, renderNow)
	assertGolden(t, "candidates", &buf)
}

func TestRenderPruneReports(t *testing.T) {
	low := engine.Candidate{ID: 61, Score: 14.8734, Reason: "Low score (14.87 < 20)"}
	lower := engine.Candidate{ID: 8, Score: 19.5, Reason: "Low score (19.50 < 20)"}

	var buf bytes.Buffer
	renderPruneReport(&buf, &engine.PruneReport{
		Action: "dry_run", Candidates: []engine.Candidate{low, lower}, TotalBefore: 61, TotalAfter: 59,
	})
	renderPruneReport(&buf, &engine.PruneReport{
		Action: "pruned", Candidates: []engine.Candidate{low, lower}, Removed: 1, PatternIDs: []int64{61},
		TotalBefore: 61, TotalAfter: 60, BackedUp: 1,
		Failures: []engine.ItemError{{ID: 8, Err: "disk full"}},
	})
	assertGolden(t, "prune_report", &buf)
}

func TestRenderBackups(t *testing.T) {
	var buf bytes.Buffer
	renderBackups(&buf, []store.BackupRecord{
		{ID: 2, OriginalID: 61, DeletedAt: before(2 * time.Hour), Reason: "Low score (14.87 < 20)", RestoredAs: ptr(int64(70))},
		{ID: 1, OriginalID: 8, DeletedAt: before(3 * day), Reason: "Low score (19.50 < 20)"},
	}, renderNow)
	renderBackupStats(&buf, store.BackupStats{Total: 2, Oldest: ptr(before(3 * day)), Newest: ptr(before(2 * time.Hour))}, renderNow)
	renderBackupStats(&buf, store.BackupStats{}, renderNow)
	renderBackups(&buf, nil, renderNow)
	assertGolden(t, "backups", &buf)
}

func TestRenderRestore(t *testing.T) {
	var buf bytes.Buffer
	renderRestore(&buf, &store.RestoreResult{BackupID: 2, Restored: true, PatternID: 70})
	renderRestore(&buf, &store.RestoreResult{BackupID: 2, Restored: true, PatternID: 70, AlreadyRestored: true})
	renderRestore(&buf, &store.RestoreResult{BackupID: 9})
	assertGolden(t, "restore", &buf)
}

func TestRenderMaintenance(t *testing.T) {
	var buf bytes.Buffer
	renderMaintenance(&buf, &engine.MaintenanceReport{
		RunID:   "0192f0c4-5a1e-7000-8000-000000000001",
		Applied: true,
		Scores:  engine.Summary{Total: 3, Average: 55.5, High: 1, Medium: 1, Low: 1},
		Merge:   &engine.MergeReport{Action: "none", PatternsBefore: 3, PatternsAfter: 3},
		Prune:   &engine.PruneReport{Action: "none", TotalBefore: 3, TotalAfter: 3},
	})
	assertGolden(t, "maintenance", &buf)
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"eleven char", 10, "eleven ..."},
		{"ééééééé", 5, "éé..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.max); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}
