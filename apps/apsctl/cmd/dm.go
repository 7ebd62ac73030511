package cmd

import (
	"fmt"

	"github.com/quatton/apsflow/pkg/qdm"
	"github.com/quatton/apsflow/pkg/qsdk"
	"github.com/spf13/cobra"
)

var (
	dmLimit   int
	dmUser    bool
	dmItem    string
	dmHidden  bool
	dmInclude string
)

var dmCmd = &cobra.Command{
	Use:     "dm",
	Aliases: []string{"data"},
	Short:   "Browse hubs and projects and store files in project folders",
	Long: `Work with Data Management hubs, projects, folders and items.

Most hubs only answer a user token: run "apsctl auth login" first and pass
--user. Scopes must include data:read (data:create and data:write to upload).`,
}

func newDmSdk(cmd *cobra.Command) (*qsdk.Sdk, error) {
	if dmUser {
		return newSdk(cmd, qsdk.WithUserToken())
	}
	return newSdk(cmd)
}

func printResources(rs []qdm.Resource) error {
	if jsonOutput {
		return printJSON(rs)
	}
	rows := make([][]string, 0, len(rs))
	for _, r := range rs {
		rows = append(rows, []string{r.ID, r.Type, orDash(r.Name())})
	}
	renderTable([]string{"ID", "Type", "Name"}, rows)
	return nil
}

var dmHubsCmd = &cobra.Command{
	Use:   "hubs",
	Short: "List accessible hubs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newDmSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		hubs, err := sdk.DataManagement.ListHubs(cmd.Context(), dmLimit)
		if err != nil {
			return err
		}
		return printResources(hubs)
	},
}

var dmProjectsCmd = &cobra.Command{
	Use:   "projects HUB",
	Short: "List projects in a hub",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newDmSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		projects, err := sdk.DataManagement.ListProjects(cmd.Context(), args[0], dmLimit)
		if err != nil {
			return err
		}
		return printResources(projects)
	},
}

var dmFoldersCmd = &cobra.Command{
	Use:   "folders HUB PROJECT",
	Short: "List the top folders of a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newDmSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		folders, err := sdk.DataManagement.TopFolders(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printResources(folders)
	},
}

var dmLsCmd = &cobra.Command{
	Use:   "ls PROJECT FOLDER",
	Short: "List folder contents",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newDmSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		contents, err := sdk.DataManagement.FolderContents(cmd.Context(), args[0], args[1], qdm.ContentsOptions{Limit: dmLimit, Include: dmInclude})
		if err != nil {
			return err
		}
		return printResources(contents)
	},
}

var dmMkdirCmd = &cobra.Command{
	Use:   "mkdir PROJECT PARENT NAME",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newDmSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		f, err := sdk.DataManagement.CreateFolder(cmd.Context(), args[0], args[1], args[2], dmHidden)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(f)
		}
		fmt.Println(f.ID)
		return nil
	},
}

var dmUploadCmd = &cobra.Command{
	Use:   "upload PROJECT FOLDER PATH",
	Short: "Upload a file as a new item, or as a new version with --item",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newDmSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		r, err := sdk.DataManagement.UploadFile(cmd.Context(), sdk.Transfer, args[0], args[1], dmItem, args[2])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(r)
		}
		fmt.Println(r.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dmCmd)
	dmCmd.AddCommand(dmHubsCmd, dmProjectsCmd, dmFoldersCmd, dmLsCmd, dmMkdirCmd, dmUploadCmd)

	dmCmd.PersistentFlags().BoolVar(&dmUser, "user", false, "use the token cached by auth login")
	dmCmd.PersistentFlags().IntVar(&dmLimit, "limit", 0, "page size")
	dmLsCmd.Flags().StringVar(&dmInclude, "include", "", "related resources to embed, e.g. versions")
	dmMkdirCmd.Flags().BoolVar(&dmHidden, "hidden", false, "create a hidden folder")
	dmUploadCmd.Flags().StringVar(&dmItem, "item", "", "existing item id receiving a new version")
}
