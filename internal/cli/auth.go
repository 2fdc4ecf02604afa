package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
)

// newLoginCmd creates the 'login' command: it exchanges a username and
// password for a session token and caches it on disk, so later commands
// never need the password again.
func newLoginCmd() *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and cache a session token",
		Long: `Exchange a username and password for a session token and save it to the
token cache (see --token-file / auth_token_path in the config file).

Subsequent commands read the cached token automatically; re-run login
whenever it expires.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}

			if username == "" {
				fmt.Print("Username: ")
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				username = strings.TrimSpace(line)
			}
			if username == "" {
				return fmt.Errorf("username is required")
			}

			fmt.Print("Password: ")
			passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Println()
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}

			client, err := apiclient.New(cfg, GetLogger())
			if err != nil {
				return err
			}

			resp, err := client.Login(GetContext(), username, string(passwordBytes))
			if err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			if err := apiclient.SaveStoredToken(cfg.AuthTokenPath, apiclient.StoredToken{
				AuthToken: resp.AuthToken,
				DeviceID:  resp.DeviceID,
			}); err != nil {
				return fmt.Errorf("save token cache: %w", err)
			}

			fmt.Printf("Logged in; token cached at %s\n", cfg.AuthTokenPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Account username (prompted if omitted)")

	return cmd
}
