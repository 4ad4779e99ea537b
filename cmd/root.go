// Package cmd defines the certpull command line interface.
package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/certpull/certpull/internal/config"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certpull",
		Short: "Resilient scraper for the data.edu.az certificate registry",
		Long: `certpull walks a numeric certificate ID range on data.edu.az, extracts
the certificate fields from each verification page, and persists them to an
atomically replaced CSV dataset. Interrupted runs resume from the dataset
and checkpoint files left by the previous run.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (defaults apply without one; CERTPULL_* env vars override)")

	cmd.AddCommand(newScrapeCmd(), newDiscoverCmd(), newVersionCmd())
	return cmd
}

// loadConfig reads configuration honoring the persistent --config flag.
func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
