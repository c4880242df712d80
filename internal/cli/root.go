package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/ayureze/astra/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"     _        _\n" +
		"    / \\   ___| |_ _ __ __ _\n" +
		"   / _ \\ / __| __| '__/ _` |\n" +
		"  / ___ \\\\__ \\ |_| | | (_| |\n" +
		" /_/   \\_\\___/\\__|_|  \\__,_|\n"

	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "astra",
	Short: "Astra - AI wellness companion",
	Long:  color.CyanString(logo) + "\nA safety-gated wellness companion. Every message passes the mandatory pipeline.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(capabilitiesCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(ratelimitCmd)
	rootCmd.AddCommand(configCmd)
}
