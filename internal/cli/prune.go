package cli

import (
	"time"

	"github.com/spf13/cobra"
)

// --- candidates command ---

var candidatesCmd = &cobra.Command{
	Use:   "candidates",
	Short: "List patterns eligible for pruning",
	Args:  cobra.NoArgs,
	RunE:  runCandidates,
}

func runCandidates(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	candidates, err := eng.Candidates()
	if err != nil {
		return err
	}
	renderCandidates(cmd.OutOrStdout(), candidates, time.Now())
	return nil
}

// --- prune command ---

var pruneApply bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove low-value patterns into the backup ledger",
	Long:  "Back up and delete every pruning candidate. Dry run unless --apply is set.",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := eng.Prune(pruneApply)
	if err != nil {
		return err
	}
	renderPruneReport(cmd.OutOrStdout(), report)
	return nil
}

// --- restore command ---

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id>",
	Short: "Bring a pruned pattern back from its backup",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

func runRestore(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	res, err := eng.Restore(id)
	if err != nil {
		return err
	}
	renderRestore(cmd.OutOrStdout(), res)
	return nil
}

// --- backups command ---

var (
	backupsLimit int
	backupsStats bool
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List pruned pattern backups",
	Args:  cobra.NoArgs,
	RunE:  runBackups,
}

func runBackups(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	out := cmd.OutOrStdout()
	now := time.Now()
	if backupsStats {
		stats, err := eng.BackupStats()
		if err != nil {
			return err
		}
		renderBackupStats(out, stats, now)
		return nil
	}

	backups, err := eng.ListBackups(backupsLimit)
	if err != nil {
		return err
	}
	renderBackups(out, backups, now)
	return nil
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneApply, "apply", false, "Delete the candidates instead of reporting them")
	backupsCmd.Flags().IntVarP(&backupsLimit, "limit", "n", 20, "Maximum number of backups")
	backupsCmd.Flags().BoolVar(&backupsStats, "stats", false, "Print ledger totals instead of individual backups")
}
