package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rescale-labs/ultratransfer/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage ultratransfer configuration",
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigTestCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Printf("Configuration already exists at: %s\n", path)
					fmt.Println("Use --force to overwrite, or run 'config show' to view it.")
					return nil
				}
			}

			fmt.Println("ultratransfer configuration setup")
			fmt.Println("==================================")
			fmt.Println()

			reader := bufio.NewReader(os.Stdin)
			cfg := config.New()

			fmt.Printf("API base URL [%s]: ", cfg.APIBaseURL)
			if v := readLine(reader); v != "" {
				cfg.APIBaseURL = v
			}

			fmt.Print("Auth token (leave blank to log in later with 'ultratransfer login'): ")
			cfg.APIKey = readLine(reader)

			fmt.Printf("Temp directory for in-progress fragments [%s]: ", cfg.TempRoot)
			if v := readLine(reader); v != "" {
				cfg.TempRoot = v
			}

			fmt.Printf("Max download threads [%d]: ", cfg.MaxDownloadThreads)
			if v := readLine(reader); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					cfg.MaxDownloadThreads = n
				}
			}

			fmt.Printf("Max upload threads [%d]: ", cfg.MaxUploadThreads)
			if v := readLine(reader); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					cfg.MaxUploadThreads = n
				}
			}

			if err := config.Save(cfg, path); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Println()
			fmt.Printf("Configuration saved to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the resolved configuration",
		Long: `Display the configuration merged from the --token-file/--api-key/--api-url
flags, the config file, and defaults, in that priority order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}

			fmt.Println("API settings:")
			fmt.Printf("  Base URL:        %s\n", cfg.APIBaseURL)
			if cfg.APIKey != "" {
				fmt.Printf("  Auth token:      <set (%d chars)>\n", len(cfg.APIKey))
			} else {
				fmt.Println("  Auth token:      <not set>")
			}
			fmt.Printf("  Token cache:     %s\n", cfg.AuthTokenPath)
			fmt.Println()
			fmt.Println("Transfer settings:")
			fmt.Printf("  Temp root:             %s\n", cfg.TempRoot)
			fmt.Printf("  Max download threads:  %d\n", cfg.MaxDownloadThreads)
			fmt.Printf("  Max upload threads:    %d\n", cfg.MaxUploadThreads)
			fmt.Printf("  Log level:             %s\n", cfg.LogLevel)
			fmt.Println()

			path := cfgFile
			if path == "" {
				path, _ = config.DefaultConfigPath()
			}
			fmt.Printf("Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Println("  (file does not exist - using defaults)")
			}
			return nil
		},
	}
}

func newConfigTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the API connection and cached credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateForConnection(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			client, err := newAuthenticatedClient(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(GetContext(), 10*time.Second)
			defer cancel()

			profile, err := client.GetUserProfile(ctx)
			if err != nil {
				fmt.Println("connection FAILED")
				return fmt.Errorf("connection test failed: %w", err)
			}

			fmt.Println("connection OK")
			fmt.Printf("  user:     %s (%s)\n", profile.Username, profile.ID)
			fmt.Printf("  root:     %s\n", profile.Root)
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				var err error
				path, err = config.DefaultConfigPath()
				if err != nil {
					return err
				}
				fmt.Println("Default configuration path:")
			} else {
				fmt.Println("Configuration path (from --config):")
			}
			fmt.Printf("  %s\n", path)
			if _, err := os.Stat(path); err != nil {
				fmt.Println("  (file does not exist)")
			}
			return nil
		},
	}
}
