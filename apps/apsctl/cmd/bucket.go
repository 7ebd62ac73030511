package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/quatton/apsflow/pkg/qart"
	"github.com/quatton/apsflow/pkg/qsdk"
	"github.com/quatton/apsflow/pkg/qsdk/qerr"
	"github.com/spf13/cobra"
)

var (
	bucketPolicy string
	bucketRegion string
	objectKey    string
)

var bucketCmd = &cobra.Command{
	Use:     "bucket",
	Aliases: []string{"buckets"},
	Short:   "Manage OSS buckets and objects",
}

var bucketEnsureCmd = &cobra.Command{
	Use:   "ensure KEY",
	Short: "Create a bucket unless it already exists",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		c, err := sdk.Workflow.EnsureContainer(cmd.Context(), args[0], bucketRegion, qart.Policy(bucketPolicy))
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(c)
		}
		fmt.Printf("%s (%s)\n", c.Key, c.Policy)
		return nil
	},
}

var bucketListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the application's buckets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		oss, err := ossBroker(sdk)
		if err != nil {
			return err
		}

		containers, err := oss.ListContainers(cmd.Context(), bucketRegion)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(containers)
		}
		rows := make([][]string, 0, len(containers))
		for _, c := range containers {
			rows = append(rows, []string{c.Key, string(c.Policy), ago(&c.CreatedAt)})
		}
		renderTable([]string{"Bucket", "Policy", "Created"}, rows)
		return nil
	},
}

var bucketObjectsCmd = &cobra.Command{
	Use:   "objects KEY",
	Short: "List objects in a bucket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		oss, err := ossBroker(sdk)
		if err != nil {
			return err
		}

		objects, err := oss.ListObjects(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(objects)
		}
		rows := make([][]string, 0, len(objects))
		for _, o := range objects {
			rows = append(rows, []string{o.ObjectKey, humanize.Bytes(uint64(o.Size)), o.SHA1})
		}
		renderTable([]string{"Object", "Size", "SHA1"}, rows)
		return nil
	},
}

var bucketUploadCmd = &cobra.Command{
	Use:   "upload KEY PATH",
	Short: "Upload a file and print a signed download URL valid for an hour",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		url, err := sdk.Workflow.UploadInputFile(cmd.Context(), args[0], objectKey, args[1])
		if err != nil {
			return err
		}
		fmt.Println(url)
		return nil
	},
}

var bucketPutCmd = &cobra.Command{
	Use:   "put KEY PATH",
	Short: "Store a file through a direct S3 upload",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		oss, err := ossBroker(sdk)
		if err != nil {
			return err
		}

		key := objectKey
		if key == "" {
			key = filepath.Base(args[1])
		}
		o, err := oss.UploadObject(cmd.Context(), sdk.Transfer, args[0], key, args[1])
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(o)
		}
		fmt.Println(o.ObjectID)
		return nil
	},
}

var bucketDownloadCmd = &cobra.Command{
	Use:   "download KEY OBJECT [DEST]",
	Short: "Download an object",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		dest := filepath.Base(args[1])
		if len(args) == 3 {
			dest = args[2]
		}

		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		return sdk.Workflow.DownloadOutputFile(cmd.Context(), args[0], args[1], dest)
	},
}

var bucketRemoveCmd = &cobra.Command{
	Use:     "rm KEY OBJECT...",
	Aliases: []string{"delete"},
	Short:   "Delete objects",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		oss, err := ossBroker(sdk)
		if err != nil {
			return err
		}

		for _, o := range args[1:] {
			if err := oss.DeleteObject(cmd.Context(), args[0], o); err != nil {
				return err
			}
			logger(cmd).Info("object deleted", "bucket", args[0], "object", o)
		}
		return nil
	},
}

var bucketCopyCmd = &cobra.Command{
	Use:   "cp KEY OBJECT NEW_OBJECT",
	Short: "Copy an object within a bucket",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()
		oss, err := ossBroker(sdk)
		if err != nil {
			return err
		}

		o, err := oss.CopyObject(cmd.Context(), args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Println(o.ObjectKey, strconv.FormatInt(o.Size, 10))
		return nil
	},
}

// ossBroker returns the platform bucket client behind listing and object
// management, which the s3 backend does not offer.
func ossBroker(sdk *qsdk.Sdk) (*qart.OSSBroker, error) {
	if sdk.OSS == nil {
		return nil, qerr.Newf(qerr.CodeConfiguration, "this command needs %s %q", qsdk.StorageBackendKey, qsdk.BackendOSS)
	}
	return sdk.OSS, nil
}

func init() {
	rootCmd.AddCommand(bucketCmd)
	bucketCmd.AddCommand(bucketEnsureCmd, bucketListCmd, bucketObjectsCmd, bucketUploadCmd, bucketPutCmd, bucketDownloadCmd, bucketRemoveCmd, bucketCopyCmd)

	bucketCmd.PersistentFlags().StringVar(&bucketRegion, "bucket-region", "", "bucket region, e.g. US or EMEA")
	bucketEnsureCmd.Flags().StringVar(&bucketPolicy, "policy", "", "retention policy: transient, temporary or persistent (default from config)")
	bucketUploadCmd.Flags().StringVar(&objectKey, "key", "", "object key (default: file name)")
	bucketPutCmd.Flags().StringVar(&objectKey, "key", "", "object key (default: file name)")
}
