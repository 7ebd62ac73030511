package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/quatton/apsflow/pkg/qsdk"
	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Log in to Autodesk Platform Services as a user",
	Long: `Manage the 3-legged user login.

App-only commands authenticate with the client credentials and need no login.
The user token is kept in the token cache, so it survives between runs only
when redisAddr is configured.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate in the browser",
	Long: `Start an interactive login flow. Open the printed URL in a browser; the
redirect is caught on callbackUrl, which must match the one registered for
the application.

Examples:
	# default callback http://localhost:8080/callback
	apsctl auth login

	# custom registered callback
	APS_CALLBACK_URL=http://localhost:3000/oauth apsctl auth login`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		tok, err := sdk.Login(cmd.Context(), func(authorizeURL string) error {
			fmt.Printf("Please open the following URL in your browser to complete login:\n%s\n", authorizeURL)
			return nil
		})
		if err != nil {
			return err
		}

		if info, err := sdk.WhoAmI(cmd.Context()); err == nil {
			fmt.Printf("Logged in as: %s <%s>\n", info.Name, info.Email)
		} else {
			logger(cmd).Warn("failed to fetch user profile", "error", err)
		}
		fmt.Printf("Token expires: %s (%s)\n", tok.Expiry.Format(time.RFC3339), humanize.Time(tok.Expiry))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke and forget the user token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd)
		if err != nil {
			return err
		}
		defer sdk.Close()

		logoutURL, err := sdk.Logout(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Logged out. To end the browser session open:\n%s\n", logoutURL)
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sdk, err := newSdk(cmd, qsdk.WithUserToken())
		if err != nil {
			return err
		}
		defer sdk.Close()

		info, err := sdk.WhoAmI(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(info)
		}
		fmt.Printf("Name:     %s\n", orDash(info.Name))
		fmt.Printf("Email:    %s\n", orDash(info.Email))
		fmt.Printf("Username: %s\n", orDash(info.PreferredUsername))
		fmt.Printf("Subject:  %s\n", info.Subject)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print an access token",
	Long: `Print the app-only access token, or the user token with --user. Handy for
calling the REST API directly:

	curl -H "Authorization: Bearer $(apsctl auth token)" ...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetBool("user")
		var opts []qsdk.Option
		if user {
			opts = append(opts, qsdk.WithUserToken())
		}
		sdk, err := newSdk(cmd, opts...)
		if err != nil {
			return err
		}
		defer sdk.Close()

		tok, err := sdk.Tokens.Token()
		if err != nil {
			return err
		}
		fmt.Println(tok.AccessToken)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd, tokenCmd)
	tokenCmd.Flags().Bool("user", false, "print the cached 3-legged token")
}
