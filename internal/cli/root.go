// Package cli provides the command-line interface for ultratransfer.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rescale-labs/ultratransfer/internal/apiclient"
	"github.com/rescale-labs/ultratransfer/internal/config"
	"github.com/rescale-labs/ultratransfer/internal/logging"
	"github.com/rescale-labs/ultratransfer/internal/version"
)

var (
	// Global flags
	cfgFile    string
	apiKey     string
	tokenFile  string
	apiBaseURL string
	verbose    bool
	debug      bool

	// Thread control flags
	maxDownloadThreads int
	maxUploadThreads   int

	// Global logger
	logger *logging.Logger

	// Global context for signal handling
	rootContext context.Context
	cancelFunc  context.CancelFunc
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ultratransfer",
		Short:   "Parallel fragment-based file transfer against the attachment host",
		Version: version.Version + " (" + version.BuildTime + ")",
		Long: `ultratransfer ` + version.Version + `

Downloads and uploads files by splitting them into encrypted fragments
stored as attachments on a chat-style CDN host, pulling or pushing
fragments in parallel and auto-scaling the worker pool to the observed
error rate.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger = logging.NewDefault()
			if verbose || debug {
				logging.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Bearer auth token (overrides config and token file)")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file", "", "Path to a file containing the auth token")
	rootCmd.PersistentFlags().StringVar(&apiBaseURL, "api-url", "", "Backend API base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug level)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Same as --verbose")
	rootCmd.PersistentFlags().IntVar(&maxDownloadThreads, "max-download-threads", 0, "Ceiling for the download worker pool (0 = use config)")
	rootCmd.PersistentFlags().IntVar(&maxUploadThreads, "max-upload-threads", 0, "Ceiling for the upload worker pool (0 = use config)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute builds the root command, wires signal handling into its context,
// and runs it.
func Execute() error {
	rootContext, cancelFunc = context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range sigChan {
			if sig != nil {
				fmt.Fprintf(os.Stderr, "\nreceived %v, cancelling in-flight transfers...\n", sig)
				cancelFunc()
			}
		}
	}()

	rootCmd := NewRootCmd()
	AddCommands(rootCmd)
	err := rootCmd.Execute()

	signal.Stop(sigChan)
	close(sigChan)
	return err
}

// AddCommands wires every subcommand onto root.
func AddCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(newDownloadCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newConfigCmd())
}

// GetLogger returns the process-wide logger, creating the default one if
// PersistentPreRun hasn't run yet (e.g. under test).
func GetLogger() *logging.Logger {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return logger
}

// GetContext returns the signal-aware root context, falling back to
// context.Background() if Execute hasn't run (e.g. under test).
func GetContext() context.Context {
	if rootContext == nil {
		return context.Background()
	}
	return rootContext
}

// resolveConfig loads the config file (or defaults) and layers the
// persistent flags over it, flags taking priority.
func resolveConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	if tokenFile != "" && apiKey == "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		cfg.APIKey = trimNewline(string(data))
	}
	if maxDownloadThreads > 0 {
		cfg.MaxDownloadThreads = maxDownloadThreads
	}
	if maxUploadThreads > 0 {
		cfg.MaxUploadThreads = maxUploadThreads
	}

	return cfg, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// newAuthenticatedClient builds an apiclient.Client from the resolved
// config. If cfg.APIKey is set it is installed directly as the bearer
// token (the attachment host issues long-lived tokens, so most callers
// never need the interactive login flow); otherwise it falls back to the
// on-disk token cache written by `ultratransfer login`.
func newAuthenticatedClient(cfg *config.Config) (*apiclient.Client, error) {
	client, err := apiclient.New(cfg, GetLogger())
	if err != nil {
		return nil, err
	}

	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
		return client, nil
	}

	tok, err := apiclient.LoadStoredToken(cfg.AuthTokenPath)
	if err != nil {
		return nil, fmt.Errorf("load token cache: %w", err)
	}
	if tok.AuthToken == "" {
		return nil, fmt.Errorf("not authenticated: set --api-key, or run 'ultratransfer login' first")
	}
	client.SetAuthToken(tok.AuthToken)
	return client, nil
}
