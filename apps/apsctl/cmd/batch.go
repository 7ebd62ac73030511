package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/quatton/apsflow/pkg/qflow"
	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	batchFile         string
	batchConcurrency  int
	batchPollInterval time.Duration
	batchTimeout      time.Duration
)

// batchDocument is the -f file: either a top-level list of work items or a
// map with a jobs key.
type batchDocument struct {
	Jobs []qrunner.SpecInput `yaml:"jobs"`
}

func loadBatch(path string) ([]qrunner.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var inputs []qrunner.SpecInput
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("-")) {
		err = yaml.Unmarshal(raw, &inputs)
	} else {
		var doc batchDocument
		err = yaml.Unmarshal(raw, &doc)
		inputs = doc.Jobs
	}
	if err != nil {
		return nil, qerr.New(qerr.CodeConfiguration, fmt.Errorf("parsing %s: %w", path, err))
	}
	if len(inputs) == 0 {
		return nil, qerr.Newf(qerr.CodeConfiguration, "%s lists no work items", path)
	}

	specs := make([]qrunner.Spec, 0, len(inputs))
	for i, in := range inputs {
		spec, err := in.Spec()
		if err != nil {
			return nil, fmt.Errorf("%s: work item %d: %w", path, i, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

var batchCmd = &cobra.Command{
	Use:   "batch -f FILE",
	Short: "Submit several work items at once and wait for all of them",
	Long: `Submit every work item in FILE with one batch request, then wait for all of
them. Results are printed in file order.

FILE is YAML:

  jobs:
    - activityId: me.Convert+prod
      nickname: first
      arguments:
        inputFile: {url: "https://...", verb: get}
        outputFile: {url: "https://...", verb: put}`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := loadBatch(batchFile)
		if err != nil {
			return err
		}

		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		log := logger(cmd)

		log.Info("submitting batch", "count", len(specs))
		results, err := sdk.Workflow.RunBatch(cmd.Context(), specs, qflow.BatchOptions{
			PollInterval: batchPollInterval,
			Timeout:      batchTimeout,
			Concurrency:  batchConcurrency,
			OnProgress: func(index int, wi *qrunner.WorkItem) {
				log.Info("work item status", "index", index, "job_id", wi.ID, "status", wi.Status)
			},
		})
		if err != nil {
			return err
		}

		if err := printResults(results); err != nil {
			return err
		}
		if n := unsuccessful(results); n > 0 {
			return fmt.Errorf("%d of %d work items did not succeed", n, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "YAML file listing the work items")
	batchCmd.Flags().IntVarP(&batchConcurrency, "concurrency", "c", qflow.DefaultBatchConcurrency, "work items awaited at once")
	batchCmd.Flags().DurationVar(&batchPollInterval, "poll-interval", 0, "status poll interval (default from config)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 0, "per work item timeout (default from config)")
	_ = batchCmd.MarkFlagRequired("file")
}
