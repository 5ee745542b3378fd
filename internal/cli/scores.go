package cli

import (
	"github.com/spf13/cobra"
)

// --- score command ---

var scoreCmd = &cobra.Command{
	Use:   "score [id]",
	Short: "Score one pattern, or summarise every score",
	Long:  "With an id, print the pattern's score breakdown. Without one, score the whole store.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScore,
}

func runScore(cmd *cobra.Command, args []string) error {
	var id int64
	if len(args) > 0 {
		var err error
		if id, err = parseID(args[0]); err != nil {
			return err
		}
	}

	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if id > 0 {
		b, err := eng.Score(id)
		if err != nil {
			return err
		}
		renderBreakdown(cmd.OutOrStdout(), b)
		return nil
	}

	sum, err := eng.ScoreAll()
	if err != nil {
		return err
	}
	renderSummary(cmd.OutOrStdout(), sum)
	return nil
}

// --- top / bottom commands ---

var rankLimit int

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "List the highest scoring patterns",
	RunE:  func(cmd *cobra.Command, args []string) error { return runRank(cmd, true) },
}

var bottomCmd = &cobra.Command{
	Use:   "bottom",
	Short: "List the lowest scoring patterns",
	RunE:  func(cmd *cobra.Command, args []string) error { return runRank(cmd, false) },
}

func runRank(cmd *cobra.Command, top bool) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	rank := eng.Bottom
	if top {
		rank = eng.Top
	}
	ranked, err := rank(rankLimit)
	if err != nil {
		return err
	}
	renderRanked(cmd.OutOrStdout(), ranked)
	return nil
}

// --- distribution command ---

var distributionCmd = &cobra.Command{
	Use:   "distribution",
	Short: "Show how scores spread over 20-point buckets",
	RunE:  runDistribution,
}

func runDistribution(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	buckets, err := eng.Distribution()
	if err != nil {
		return err
	}
	renderDistribution(cmd.OutOrStdout(), buckets)
	return nil
}

func init() {
	topCmd.Flags().IntVarP(&rankLimit, "limit", "n", 10, "Maximum number of patterns")
	bottomCmd.Flags().IntVarP(&rankLimit, "limit", "n", 10, "Maximum number of patterns")
}
