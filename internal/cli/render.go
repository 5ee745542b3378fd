package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/store"
)

const (
	maxTextWidth = 40
	barWidth     = 20
)

func ago(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

func count(n int) string {
	return humanize.Comma(int64(n))
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func describe(p store.Pattern) string {
	text := truncate(p.PatternText, maxTextWidth)
	if p.CorrectionText == "" {
		return text
	}
	return text + " -> " + truncate(p.CorrectionText, maxTextWidth)
}

func renderPattern(w io.Writer, p store.Pattern, now time.Time) {
	fmt.Fprintf(w, "pattern %d: %s\n", p.ID, describe(p))
	fmt.Fprintf(w, "  created    %s\n", ago(p.CreatedAt, now))
	if p.LastUsed != nil {
		fmt.Fprintf(w, "  last used  %s\n", ago(*p.LastUsed, now))
	} else {
		fmt.Fprintln(w, "  last used  never")
	}
	fmt.Fprintf(w, "  uses       %d (%d succeeded, %d failed)\n", p.UseCount, p.SuccessCount, p.FailureCount)
}

func renderBreakdown(w io.Writer, b engine.Breakdown) {
	fmt.Fprintf(w, "pattern %d\n", b.ID)
	for _, row := range []struct {
		name  string
		value float64
	}{
		{"age", b.Age},
		{"usage", b.Usage},
		{"success", b.Success},
		{"recency", b.Recency},
		{"total", b.Total},
	} {
		fmt.Fprintf(w, "  %-8s %6.2f\n", row.name, row.value)
	}
}

func renderSummary(w io.Writer, sum engine.Summary) {
	if sum.Total == 0 {
		fmt.Fprintln(w, "No patterns.")
		return
	}
	fmt.Fprintf(w, "%s patterns, average score %.1f\n", count(sum.Total), sum.Average)
	fmt.Fprintf(w, "  high (>70)    %s\n", count(sum.High))
	fmt.Fprintf(w, "  medium (>50)  %s\n", count(sum.Medium))
	fmt.Fprintf(w, "  low           %s\n", count(sum.Low))
}

func renderDistribution(w io.Writer, buckets [5]int) {
	max := 0
	for _, n := range buckets {
		if n > max {
			max = n
		}
	}
	for i, n := range buckets {
		line := fmt.Sprintf("%-7s %5s", engine.BucketLabels[i], count(n))
		if max > 0 && n > 0 {
			line += " " + strings.Repeat("#", max1(n*barWidth/max))
		}
		fmt.Fprintln(w, line)
	}
}

// max1 keeps a non-empty bucket visible.
func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func renderRanked(w io.Writer, ranked []engine.Scored) {
	if len(ranked) == 0 {
		fmt.Fprintln(w, "No patterns.")
		return
	}
	fmt.Fprintf(w, "%6s  %6s  %5s  %s\n", "ID", "SCORE", "USES", "PATTERN")
	for _, s := range ranked {
		fmt.Fprintf(w, "%6d  %6.2f  %5d  %s\n", s.Pattern.ID, s.Score, s.Pattern.UseCount, describe(s.Pattern))
	}
}

func renderMergeReport(w io.Writer, r *engine.MergeReport) {
	fmt.Fprintf(w, "merge: %s\n", r.Action)
	fmt.Fprintf(w, "  patterns  %s -> %s (%s saved)\n", count(r.PatternsBefore), count(r.PatternsAfter), count(r.SpaceSaved))
	fmt.Fprintf(w, "  groups    %d found, %d merged\n", r.GroupsFound, r.GroupsMerged)
	for _, g := range r.Groups {
		fmt.Fprintf(w, "  group %v similarity %.2f\n", g.IDs, g.Similarity)
	}
	for _, m := range r.Merged {
		fmt.Fprintf(w, "  kept %d, absorbed %v (%d uses)\n", m.SurvivorID, m.AbsorbedIDs, m.TotalUsesAfter)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed %d: %s\n", f.ID, f.Err)
	}
}

func renderMergeHistory(w io.Writer, records []store.MergeRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No merges.")
		return
	}
	for _, r := range records {
		fmt.Fprintf(w, "#%d  %s  kept %d, absorbed %v (similarity %.2f, %d uses)\n",
			r.ID, ago(r.MergedAt, now), r.SurvivorID, r.AbsorbedIDs, r.Similarity, r.TotalUsesAfter)
	}
}

func renderMergeStats(w io.Writer, s store.MergeStats) {
	fmt.Fprintf(w, "%s merges, %s patterns merged, %s saved\n",
		count(s.TotalMerges), count(s.TotalPatternsMerged), count(s.TotalSpaceSaved))
}

func renderCandidates(w io.Writer, candidates []engine.Candidate, now time.Time) {
	if len(candidates) == 0 {
		fmt.Fprintln(w, "No candidates.")
		return
	}
	fmt.Fprintf(w, "%6s  %6s  %-12s  %s\n", "ID", "SCORE", "CREATED", "REASON")
	for _, c := range candidates {
		fmt.Fprintf(w, "%6d  %6.2f  %-12s  %s\n", c.ID, c.Score, ago(c.Pattern.CreatedAt, now), c.Reason)
	}
}

func renderPruneReport(w io.Writer, r *engine.PruneReport) {
	fmt.Fprintf(w, "prune: %s\n", r.Action)
	fmt.Fprintf(w, "  patterns  %s -> %s\n", count(r.TotalBefore), count(r.TotalAfter))
	if r.Action == "pruned" {
		fmt.Fprintf(w, "  removed   %d (%d backed up)\n", r.Removed, r.BackedUp)
	}
	for _, c := range r.Candidates {
		fmt.Fprintf(w, "  %d  %.2f  %s\n", c.ID, c.Score, c.Reason)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(w, "  failed %d: %s\n", f.ID, f.Err)
	}
}

func renderBackups(w io.Writer, backups []store.BackupRecord, now time.Time) {
	if len(backups) == 0 {
		fmt.Fprintln(w, "No backups.")
		return
	}
	for _, b := range backups {
		note := ""
		if b.RestoredAs != nil {
			note = fmt.Sprintf(" (restored as %d)", *b.RestoredAs)
		}
		fmt.Fprintf(w, "#%d  pattern %d  %s  %s%s\n", b.ID, b.OriginalID, ago(b.DeletedAt, now), b.Reason, note)
	}
}

func renderBackupStats(w io.Writer, s store.BackupStats, now time.Time) {
	if s.Total == 0 || s.Oldest == nil || s.Newest == nil {
		fmt.Fprintf(w, "%s backups\n", count(s.Total))
		return
	}
	fmt.Fprintf(w, "%s backups, oldest %s, newest %s\n", count(s.Total), ago(*s.Oldest, now), ago(*s.Newest, now))
}

func renderRestore(w io.Writer, res *store.RestoreResult) {
	switch {
	case !res.Restored:
		fmt.Fprintf(w, "Backup %d not found.\n", res.BackupID)
	case res.AlreadyRestored:
		fmt.Fprintf(w, "Backup %d already restored as pattern %d.\n", res.BackupID, res.PatternID)
	default:
		fmt.Fprintf(w, "Restored backup %d as pattern %d.\n", res.BackupID, res.PatternID)
	}
}

func renderMaintenance(w io.Writer, r *engine.MaintenanceReport) {
	mode := "dry run"
	if r.Applied {
		mode = "applied"
	}
	fmt.Fprintf(w, "maintenance %s (%s)\n", r.RunID, mode)
	renderSummary(w, r.Scores)
	if r.Merge != nil {
		renderMergeReport(w, r.Merge)
	}
	if r.Prune != nil {
		renderPruneReport(w, r.Prune)
	}
}
