package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/driftwatch/pkg/engine/notifier"
)

var runCmd = &cobra.Command{
	Use:   "run [account...]",
	Short: "Watch and audit accounts",
	Long: `Runs every registered technology for the named accounts, or for all
active accounts when none are named. Each technology is watched for
changes, changed items are audited, and technologies depending on a
durably changed one are re-audited.

Example:
  driftwatch run
  driftwatch run acme-prod`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		accounts := args
		if len(accounts) == 0 {
			all, err := a.Store.ListAccounts(ctx)
			if err != nil {
				return err
			}
			for _, acct := range all {
				if acct.Active && !acct.ThirdParty {
					accounts = append(accounts, acct.Name)
				}
			}
		}
		if len(accounts) == 0 {
			return fmt.Errorf("no accounts to run; configure accounts or name one")
		}

		failed := 0
		for _, account := range accounts {
			sum, err := a.Orchestrator.RunAccount(ctx, account)
			if err != nil {
				a.Logger.Error("account run failed", "account", account, "error", err)
				failed++
				continue
			}
			printSummary(sum)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d account runs failed", failed, len(accounts))
		}
		return nil
	},
}

func printSummary(sum notifier.Summary) {
	fmt.Printf("account %s (run %s)\n", sum.Account, sum.RunID)
	for _, r := range sum.Reports {
		fmt.Printf("  %-16s created %-4d changed %-4d deleted %-4d issues %-4d score %d\n",
			r.Technology, r.Created, r.Changed, r.Deleted, r.NewIssues, r.Score)
	}
}
