package cmd

import (
	"errors"
	"os"

	"gisauth/internal/autherr"
	"gisauth/internal/config"
	"gisauth/pkg/logging"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates configuration or a session is missing.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the portal refused the credentials or the
	// user denied access.
	ExitCodeAuthFailed = 3
	// ExitCodeNetwork indicates the portal or server could not be reached.
	ExitCodeNetwork = 4
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

// rootCmd represents the base command for the gisauth application.
var rootCmd = &cobra.Command{
	Use:   "gisauth",
	Short: "Sign in to ArcGIS portals and manage their tokens",
	Long: `gisauth signs in to an ArcGIS Online or ArcGIS Enterprise portal with
OAuth 2.0 or a username and password, keeps the session on disk or in the
OS keyring, and hands out the right token for any portal or federated
server URL.`,
	// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(logLevel)
	},
}

// SetVersion sets the version for the root command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the root command and exits with a code derived from the error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gisauth version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps an error onto the documented exit codes.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var cfgErr *autherr.ConfigurationError
	if errors.As(err, &cfgErr) || errors.Is(err, errNoSession) {
		return ExitCodeAuthRequired
	}

	var denied *autherr.AccessDeniedError
	var authErr *autherr.AuthError
	if errors.As(err, &denied) || errors.As(err, &authErr) {
		return ExitCodeAuthFailed
	}

	var netErr *autherr.NetworkError
	if errors.As(err, &netErr) {
		return ExitCodeNetwork
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default $HOME/.config/gisauth)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newRefreshCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newRequestCmd())
	rootCmd.AddCommand(newBridgeCmd())
	rootCmd.AddCommand(newAppCmd())
}

// loadConfig loads configuration from --config-path or the default
// directory and applies --log-level.
func loadConfig() (config.GisauthConfig, error) {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if logLevel == "" && cfg.LogLevel != "" {
		initLogging(cfg.LogLevel)
	}
	return cfg, nil
}

func initLogging(level string) {
	if jsonLogs {
		logging.InitForJSON(logging.ParseLevel(level), os.Stderr)
		return
	}
	logging.InitForCLI(logging.ParseLevel(level), os.Stderr)
}
