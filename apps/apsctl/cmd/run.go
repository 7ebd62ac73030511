package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/quatton/apsflow/pkg/qflow"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/spf13/cobra"
)

var (
	runInputs        []string
	runOutputs       []string
	runParams        []string
	runNickname      string
	runDownload      bool
	runOutDir        string
	runPollInterval  time.Duration
	runTimeout       time.Duration
	runOnCompleteURL string
	runOnProgressURL string
)

var runCmd = &cobra.Command{
	Use:   "run ACTIVITY",
	Short: "Upload inputs, run one work item and fetch its outputs",
	Long: `Run one work item of ACTIVITY (e.g. MyNickname.ConvertRvt+prod).

Each --input uploads a local file to the bucket and passes a signed download
URL as that argument. Each --output passes a signed upload URL for the object
key. Outputs are fetched into --out-dir once the work item succeeds; pass
--download=false to leave them in the bucket.

Examples:
  apsctl run me.Convert+prod --bucket my-bucket \
    --input inputFile=./model.rvt --output outputFile=result.ifc

  apsctl run me.Report+prod --param params=data:application/json,{"a":1}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inputs, err := parsePairs("input", runInputs)
		if err != nil {
			return err
		}
		outputs, err := parsePairs("output", runOutputs)
		if err != nil {
			return err
		}
		params, err := parsePairs("param", runParams)
		if err != nil {
			return err
		}

		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		log := logger(cmd)

		arguments := make(map[string]qrunner.Argument, len(params))
		for name, value := range params {
			arguments[name] = qrunner.NewArgument(value, qrunner.VerbGet)
		}

		res, err := sdk.Workflow.RunWithFiles(cmd.Context(), qflow.RunRequest{
			ActivityID:      args[0],
			InputFiles:      inputs,
			OutputFiles:     outputs,
			Arguments:       arguments,
			Nickname:        runNickname,
			DownloadOutputs: runDownload,
			OutputDir:       runOutDir,
			PollInterval:    runPollInterval,
			Timeout:         runTimeout,
			OnCompleteURL:   runOnCompleteURL,
			OnProgressURL:   runOnProgressURL,
			OnProgress: func(wi *qrunner.WorkItem) {
				log.Info("work item status", "job_id", wi.ID, "status", wi.Status, "progress", wi.Progress)
			},
		})
		if err != nil {
			return err
		}

		results := []*qrunner.Result{res}
		if err := printResults(results); err != nil {
			return err
		}
		if unsuccessful(results) > 0 {
			return fmt.Errorf("work item %s finished with status %s", res.JobID, res.Status)
		}
		return nil
	},
}

// parsePairs splits repeated name=value flags.
func parsePairs(flag string, values []string) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for _, v := range values {
		name, value, ok := strings.Cut(v, "=")
		if !ok || name == "" || value == "" {
			return nil, qerr.Newf(qerr.CodeConfiguration, "--%s %q: want name=value", flag, v)
		}
		if _, dup := out[name]; dup {
			return nil, qerr.Newf(qerr.CodeConfiguration, "--%s %s given twice", flag, name)
		}
		out[name] = value
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "argument=local/path of an input file (repeatable)")
	runCmd.Flags().StringArrayVarP(&runOutputs, "output", "o", nil, "argument=objectKey of an output (repeatable)")
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "argument=url passed through with verb get, e.g. a data: URL (repeatable)")
	runCmd.Flags().StringVar(&runNickname, "nickname", "", "owner nickname for the work item")
	runCmd.Flags().BoolVarP(&runDownload, "download", "d", true, "download outputs when the work item succeeds")
	runCmd.Flags().StringVar(&runOutDir, "out-dir", ".", "directory receiving downloaded outputs")
	runCmd.Flags().DurationVar(&runPollInterval, "poll-interval", 0, "status poll interval (default from config)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "give up waiting after this long (default from config)")
	runCmd.Flags().StringVar(&runOnCompleteURL, "on-complete-url", "", "URL the service posts the final status to")
	runCmd.Flags().StringVar(&runOnProgressURL, "on-progress-url", "", "URL the service posts progress to")
}
