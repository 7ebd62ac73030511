package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/quatton/apsflow/pkg/qapi"
	"github.com/quatton/apsflow/pkg/qapi/routes"
	"github.com/spf13/cobra"
)

var openapiCmd = &cobra.Command{
	Use:     "openapi",
	Aliases: []string{"spec"},
	Short:   "Generate OpenAPI specification",
	Long:    `Outputs the OpenAPI specification of the webhook receiver without a database or environment.`,
	RunE:    generateOpenAPI,
}

var (
	openapiOutput    string
	openapiDowngrade bool
)

func init() {
	rootCmd.AddCommand(openapiCmd)
	openapiCmd.Flags().StringVarP(&openapiOutput, "output", "o", "", "Write output to file (default stdout)")
	openapiCmd.Flags().BoolVar(&openapiDowngrade, "downgrade", true, "Downgrade OpenAPI to 3.0 when generating the spec")
}

func generateOpenAPI(cmd *cobra.Command, args []string) error {
	api := qapi.NewApi()
	routes.RegisterAPI(api.Api, nil)

	var (
		spec []byte
		err  error
	)
	if openapiDowngrade {
		spec, err = api.Api.OpenAPI().Downgrade()
	} else {
		spec, err = json.Marshal(api.Api.OpenAPI())
	}
	if err != nil {
		return fmt.Errorf("failed to generate OpenAPI spec: %w", err)
	}

	if openapiOutput == "" {
		fmt.Println(string(spec))
		return nil
	}
	if err := os.WriteFile(openapiOutput, spec, 0644); err != nil {
		return fmt.Errorf("failed to write OpenAPI spec to %s: %w", openapiOutput, err)
	}
	return nil
}
