package cmd

import (
	"context"
	"errors"

	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/quatton/apsflow/pkg/qsdk"
	"github.com/spf13/cobra"
)

type contextKey string

const configContextKey contextKey = "apsconfig"

// flagKeys lets persistent flags override config keys.
var flagKeys = map[string]string{
	"base-url": qsdk.BaseUrlKey,
	"region":   qsdk.AutomationRegionKey,
	"bucket":   qsdk.DefaultBucketKey,
}

var (
	cfgFile string
	verbose bool
	quiet   bool
	rootCmd = &cobra.Command{
		Use:   "apsctl",
		Short: "Run Design Automation work items against cloud storage",
		Long: `apsctl drives the Design Automation job service end to end: it stages
local input files in an OSS bucket, submits work items, polls them to
completion and downloads the outputs.

Credentials come from apsflow.yaml, .apsflow/config.yaml or APS_* environment
variables (APS_CLIENT_ID, APS_CLIENT_SECRET, APS_BUCKET, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := qsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}

			for name, key := range flagKeys {
				if f := cmd.Flags().Lookup(name); f != nil {
					if err := cfg.Viper().BindPFlag(key, f); err != nil {
						return err
					}
				}
			}
			if err := cfg.Reload(); err != nil {
				return err
			}

			logger := qlog.NewDefault()
			switch {
			case verbose:
				logger = qlog.NewVerbose()
			case quiet:
				logger = qlog.NewQuiet()
			}

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			ctx = qlog.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			return nil
		},
	}
)

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	ctx := cmd.Context()
	cfg, ok := ctx.Value(configContextKey).(*qsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func logger(cmd *cobra.Command) *qlog.Logger {
	return qlog.FromContext(cmd.Context())
}

// newSdk builds the SDK for one command. Callers must Close it.
func newSdk(cmd *cobra.Command, opts ...qsdk.Option) (*qsdk.Sdk, error) {
	cfg, err := GetConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts = append(opts, qsdk.WithLogger(logger(cmd)))
	return qsdk.NewSdk(cmd.Context(), cfg, opts...)
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		exitIfSdkError(err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML). Searches: apsflow.yaml, .apsflow/config.yaml")
	rootCmd.PersistentFlags().String("base-url", "", "platform base URL (overrides config)")
	rootCmd.PersistentFlags().String("region", "", "Design Automation region, e.g. us-east or eu-west (overrides config)")
	rootCmd.PersistentFlags().String("bucket", "", "default OSS bucket for inputs and outputs (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "log warnings and errors only")
}
