package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// --- teach command ---

var teachCmd = &cobra.Command{
	Use:   "teach <pattern> [correction]",
	Short: "Record a new learned correction",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTeach,
}

func runTeach(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	correction := ""
	if len(args) > 1 {
		correction = args[1]
	}
	p, err := eng.CreatePattern(args[0], correction)
	if err != nil {
		return err
	}
	renderPattern(cmd.OutOrStdout(), *p, time.Now())
	return nil
}

// --- outcome command ---

var outcomeFailed bool

var outcomeCmd = &cobra.Command{
	Use:   "outcome <id>",
	Short: "Record a use of a pattern and whether it helped",
	Long:  "Record that a pattern was applied. The use counts as a success unless --failed is set.",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutcome,
}

func runOutcome(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := eng.RecordOutcome(id, !outcomeFailed); err != nil {
		return err
	}
	p, err := eng.GetPattern(id)
	if err != nil {
		return err
	}
	renderPattern(cmd.OutOrStdout(), *p, time.Now())
	return nil
}

// --- favorite / unfavorite commands ---

var favoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Protect a pattern from pruning",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runFavorite(cmd, args, true) },
}

var unfavoriteCmd = &cobra.Command{
	Use:   "unfavorite <id>",
	Short: "Remove pruning protection from a pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return runFavorite(cmd, args, false) },
}

func runFavorite(cmd *cobra.Command, args []string, favorite bool) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	if favorite {
		err = eng.Favorite(id)
	} else {
		err = eng.Unfavorite(id)
	}
	if err != nil {
		return err
	}
	if favorite {
		fmt.Fprintf(cmd.OutOrStdout(), "Pattern %d marked as favorite.\n", id)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Pattern %d is no longer a favorite.\n", id)
	}
	return nil
}

func init() {
	outcomeCmd.Flags().BoolVar(&outcomeFailed, "failed", false, "Record the use as a failure")
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
