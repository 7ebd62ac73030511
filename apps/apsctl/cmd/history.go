package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/quatton/apsflow/pkg/db"
	"github.com/quatton/apsflow/pkg/db/models"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/spf13/cobra"
)

var (
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history [JOB_ID]",
	Short: "Show recorded work items from the ledger",
	Long: `List work items recorded in the ledger, newest first, or the status events
of a single job. Requires databaseUrl.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		if sdk.Ledger == nil {
			return qerr.Newf(qerr.CodeConfiguration, "%s is required for history", qsdk.DatabaseUrlKey)
		}
		ctx := cmd.Context()

		if len(args) == 1 {
			rec, err := sdk.Ledger.Get(ctx, args[0])
			if err != nil {
				return err
			}
			evs, err := sdk.Ledger.Events(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{"workItem": rec, "events": evs})
			}
			printRecord(rec)
			rows := make([][]string, 0, len(evs))
			for _, ev := range evs {
				rows = append(rows, []string{ev.Status, orDash(ev.Progress), ev.Source, humanize.Time(ev.CreatedAt)})
			}
			renderTable([]string{"Status", "Progress", "Source", "Seen"}, rows)
			return nil
		}

		recs, err := sdk.Ledger.List(ctx, db.ListOptions{Status: qrunner.Status(historyStatus), Limit: historyLimit})
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(recs)
		}
		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{r.JobID, r.ActivityID, r.Status, humanize.Time(r.SubmittedAt), ago(r.FinishedAt)})
		}
		renderTable([]string{"Job", "Activity", "Status", "Submitted", "Finished"}, rows)
		return nil
	},
}

func printRecord(r *models.WorkItem) {
	fmt.Printf("Job:       %s\n", r.JobID)
	fmt.Printf("Activity:  %s\n", r.ActivityID)
	fmt.Printf("Status:    %s\n", r.Status)
	fmt.Printf("Submitted: %s\n", humanize.Time(r.SubmittedAt))
	fmt.Printf("Finished:  %s\n", ago(r.FinishedAt))
	fmt.Printf("Report:    %s\n", orDash(r.ReportURL))
	for name, verb := range r.Arguments {
		fmt.Printf("  %s: %s\n", name, verb)
	}
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "only show work items with this status")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum number of work items")
}
