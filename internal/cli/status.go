package cli

import (
	"fmt"
	"os"

	"github.com/ayureze/astra/internal/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		w := cmd.OutOrStdout()
		printHeader(w, "🏷️ Astra Version")
		fmt.Fprintf(w, "Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		printHeader(w, "📊 Astra Status")
		fmt.Fprintf(w, "Version: %s\n", version)

		configPath, _ := config.ConfigPath()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(w, "Config:  %s Found (%s)\n", check(true), configPath)
		} else {
			fmt.Fprintf(w, "Config:  %s Not found (run 'astra config init' to create one)\n", check(false))
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "API Key: %s\n", check(cfg.Provider.APIKey != ""))
		fmt.Fprintf(w, "Model:   %s\n", cfg.Model.Name)

		cat, err := loadCatalog(cfg)
		if err != nil {
			fmt.Fprintf(w, "Catalogue: %s %v\n", check(false), err)
			return err
		}
		fmt.Fprintf(w, "Catalogue: %s %d capabilities\n", check(true), len(cat.Capabilities()))

		_, dbErr := os.Stat(cfg.Paths.Database)
		fmt.Fprintf(w, "Database:  %s %s\n", check(dbErr == nil), cfg.Paths.Database)
		fmt.Fprintf(w, "Memory:    %s (%s embedder)\n", check(cfg.Memory.Enabled), cfg.Memory.Embedder)
		fmt.Fprintf(w, "RateLimit: %s\n", check(cfg.RateLimit.Enabled))
		fmt.Fprintf(w, "Quota:     %s %d/day\n", check(cfg.Quota.Enabled), cfg.Quota.DailyLimit)
		if cfg.Audit.ChainFile != "" {
			fmt.Fprintf(w, "Audit chain: %s\n", cfg.Audit.ChainFile)
		}
		if cfg.Audit.KafkaBrokers != "" {
			fmt.Fprintf(w, "Audit topic: %s @ %s\n", cfg.Audit.KafkaTopic, cfg.Audit.KafkaBrokers)
		}
		fmt.Fprintf(w, "Gateway:   %s:%d (auth %s)\n", cfg.Gateway.Host, cfg.Gateway.Port, check(cfg.Gateway.AuthToken != ""))
		return nil
	},
}
