package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/eventrelay/internal/config"
)

// rootCmd represents the base command for the eventrelay application
var rootCmd = &cobra.Command{
	Use:   "eventrelay",
	Short: "Relays Twitch EventSub webhooks to WebSocket clients",
	Long: `eventrelay logs a broadcaster in with Twitch, subscribes to EventSub
notifications on their behalf and forwards every delivery to the WebSocket
client that owns the session.

Commands:
  - serve:   run the relay
  - cleanup: delete stale EventSub subscriptions`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// configPath is the optional YAML config file shared by all commands.
var configPath string

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "eventrelay version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment. Flag overrides are
// applied by the caller before Validate.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		configPath = os.Getenv("EVENTRELAY_CONFIG")
	}
	return config.Load(configPath)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file. Can also use EVENTRELAY_CONFIG env var.")

	rootCmd.AddCommand(newCleanupCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
