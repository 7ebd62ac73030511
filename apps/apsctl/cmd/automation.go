package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/quatton/apsflow/pkg/qrunner"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/spf13/cobra"
)

// listCommand prints ids returned by list, one per line.
func listCommand(use, short string, list func(*qrunner.Client, *cobra.Command) ([]string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sdk, err := newSdk(cmd)
			if err != nil {
				return err
			}
			defer sdk.Close()

			ids, err := list(sdk.Automation, cmd)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(ids)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

var enginesCmd = listCommand("engines", "List Design Automation engines", func(c *qrunner.Client, cmd *cobra.Command) ([]string, error) {
	return c.Engines(cmd.Context())
})

var activitiesCmd = &cobra.Command{
	Use:   "activities [ID]",
	Short: "List activities, or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		if len(args) == 1 {
			raw, err := sdk.Automation.Activity(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(json.RawMessage(raw))
		}
		ids, err := sdk.Automation.Activities(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(ids)
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	},
}

var appBundlesCmd = listCommand("appbundles", "List app bundles", func(c *qrunner.Client, cmd *cobra.Command) ([]string, error) {
	return c.AppBundles(cmd.Context())
})

var (
	appBundleEngine      string
	appBundleDescription string
	appBundleAlias       string
)

var appBundlePublishCmd = &cobra.Command{
	Use:   "publish ID ZIP",
	Short: "Create an app bundle, or a new version of it, and upload its zip",
	Long: `Create app bundle ID at version 1 or, when it already exists, a new version,
then upload ZIP to it. With --alias the alias is pointed at the new version.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		ctx := cmd.Context()
		id, zip := args[0], args[1]

		def := qrunner.AppBundleDefinition{ID: id, Engine: appBundleEngine, Description: appBundleDescription}
		bundle, err := sdk.Automation.CreateAppBundle(ctx, def)
		if isConflict(err) {
			bundle, err = sdk.Automation.CreateAppBundleVersion(ctx, id, def)
		}
		if err != nil {
			return err
		}

		if err := sdk.Automation.UploadAppBundle(ctx, sdk.Transfer, bundle, zip); err != nil {
			return err
		}
		if appBundleAlias != "" {
			if err := sdk.Automation.CreateAppBundleAlias(ctx, id, appBundleAlias, bundle.Version); err != nil {
				return err
			}
		}
		logger(cmd).Info("app bundle published", "id", bundle.ID, "version", bundle.Version)
		return nil
	},
}

var nicknameCmd = &cobra.Command{
	Use:   "nickname",
	Short: "Show the nickname that owns this application's activities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		nick, err := sdk.Automation.Nickname(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(nick)
		return nil
	},
}

var limitsCmd = &cobra.Command{
	Use:   "limits [OWNER]",
	Short: "Show Design Automation service limits",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		owner := ""
		if len(args) == 1 {
			owner = args[0]
		}
		limits, err := sdk.Automation.ServiceLimits(cmd.Context(), owner)
		if err != nil {
			return err
		}
		return printJSON(limits)
	},
}

func isConflict(err error) bool {
	return qerr.StatusCode(err) == http.StatusConflict
}

func init() {
	rootCmd.AddCommand(enginesCmd, activitiesCmd, appBundlesCmd, nicknameCmd, limitsCmd)
	appBundlesCmd.AddCommand(appBundlePublishCmd)
	appBundlePublishCmd.Flags().StringVar(&appBundleEngine, "engine", "", "engine id, e.g. Autodesk.Revit+2024")
	appBundlePublishCmd.Flags().StringVar(&appBundleDescription, "description", "", "bundle description")
	appBundlePublishCmd.Flags().StringVar(&appBundleAlias, "alias", "", "alias to point at the new version")
	_ = appBundlePublishCmd.MarkFlagRequired("engine")
}
