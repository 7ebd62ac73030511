package cmd

import (
	"time"

	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/spf13/cobra"
)

var (
	statusWait    bool
	statusTimeout time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status JOB_ID...",
	Short: "Show the status of work items",
	Long: `Show the current status of one or more work items. With --wait, block until
each of them reaches a final status.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		ctx := cmd.Context()

		var results []*qrunner.Result
		switch {
		case statusWait:
			for _, id := range args {
				res, err := sdk.Workflow.AwaitCompletion(ctx, id, qrunner.WaitOptions{Timeout: statusTimeout})
				if err != nil {
					return err
				}
				results = append(results, res)
			}
		case len(args) == 1:
			wi, err := sdk.Automation.Get(ctx, args[0])
			if err != nil {
				return err
			}
			results = append(results, wi.Result())
		default:
			items, err := sdk.Automation.Statuses(ctx, args)
			if err != nil {
				return err
			}
			for _, wi := range items {
				results = append(results, wi.Result())
			}
		}
		return printResults(results)
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel JOB_ID...",
	Short: "Cancel work items",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		for _, id := range args {
			if err := sdk.Workflow.CancelJob(cmd.Context(), id); err != nil {
				return err
			}
			logger(cmd).Info("work item cancelled", "job_id", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	statusCmd.Flags().BoolVarP(&statusWait, "wait", "w", false, "wait for final statuses")
	statusCmd.Flags().DurationVar(&statusTimeout, "timeout", 0, "give up waiting after this long (default from config)")
}
