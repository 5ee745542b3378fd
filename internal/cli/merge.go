package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// --- merge command ---

var (
	mergeApply bool
	mergeStats bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Find and merge near-duplicate patterns",
	Long:  "Group similar patterns and fold each group into its most used member. Dry run unless --apply is set.",
	Args:  cobra.NoArgs,
	RunE:  runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := eng.MergeAllSimilar(mergeApply)
	if err != nil {
		return err
	}
	renderMergeReport(cmd.OutOrStdout(), report)
	return nil
}

// --- history command ---

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the merge audit",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	if mergeStats {
		stats, err := eng.MergeStats()
		if err != nil {
			return err
		}
		renderMergeStats(out, stats)
		return nil
	}

	records, err := eng.MergeHistory(historyLimit)
	if err != nil {
		return err
	}
	renderMergeHistory(out, records, time.Now())
	return nil
}

func init() {
	mergeCmd.Flags().BoolVar(&mergeApply, "apply", false, "Merge the groups instead of reporting them")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Maximum number of merges")
	historyCmd.Flags().BoolVar(&mergeStats, "stats", false, "Print totals instead of individual merges")
}
