package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var maintainApply bool

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run one maintenance pass: score, merge, prune",
	Long:  "Score every pattern, then merge similar groups, then prune. Dry run unless --apply is set.",
	Args:  cobra.NoArgs,
	RunE:  runMaintain,
}

func runMaintain(cmd *cobra.Command, args []string) error {
	eng, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()

	// Interrupting stops the pass between stages.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := eng.Maintain(ctx, maintainApply)
	if err != nil {
		return err
	}
	renderMaintenance(cmd.OutOrStdout(), report)
	return nil
}

func init() {
	maintainCmd.Flags().BoolVar(&maintainApply, "apply", false, "Apply merges and prunes")
}
