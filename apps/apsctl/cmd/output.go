package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/quatton/apsflow/pkg/qrunner"
)

var jsonOutput bool

func renderTable(header []string, data [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(data)
	table.Render()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func ago(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// printResults shows one row per result, in order.
func printResults(results []*qrunner.Result) error {
	if jsonOutput {
		return printJSON(results)
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		var finished *time.Time
		var moved string
		if r.Stats != nil {
			finished = r.Stats.TimeFinished
			moved = humanize.Bytes(uint64(r.Stats.BytesDownloaded)) + " / " + humanize.Bytes(uint64(r.Stats.BytesUploaded))
		}
		rows = append(rows, []string{r.JobID, string(r.Status), ago(finished), orDash(moved), orDash(r.ReportURL)})
	}
	renderTable([]string{"Job", "Status", "Finished", "Down / Up", "Report"}, rows)
	return nil
}

// unsuccessful counts results that did not succeed.
func unsuccessful(results []*qrunner.Result) int {
	n := 0
	for _, r := range results {
		if !r.Status.Succeeded() {
			n++
		}
	}
	return n
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
}
