package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/driftwatch/pkg/store"
)

var auditCmd = &cobra.Command{
	Use:   "audit <account> <technology>",
	Short: "Run one technology for one account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		report, err := a.Orchestrator.Run(ctx, args[0], store.Technology(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("%s/%s: created %d changed %d deleted %d issues %d score %d\n",
			args[0], report.Technology,
			report.Created, report.Changed, report.Deleted,
			report.NewIssues, report.Score)
		return nil
	},
}

var dependentsCmd = &cobra.Command{
	Use:   "dependents <account> <technology>",
	Short: "Re-audit technologies that depend on one",
	Long: `Re-audits the full active item set of every technology registered as
depending on the named one, without watching anything. Useful after
manual data fixes.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		return a.Orchestrator.RunDependents(ctx, args[0], store.Technology(args[1]))
	},
}

var pruneCmd = &cobra.Command{
	Use:   "prune-exceptions",
	Short: "Drop expired diagnostic exception records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		n, err := a.Orchestrator.PruneExceptions(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("pruned %d expired exception records\n", n)
		return nil
	},
}
