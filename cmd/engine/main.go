package main

import (
	"os"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	dataDir  string
	logLevel string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "engine",
		Short: "Scrape multi-page profiles through a controlled Chrome tab",
		Long: `engine drives a Chrome tab through a profile and its detail pages,
assembles one candidate record, writes a generated description for it and
stores it in a local SQLite database.`,
		SilenceUsage: true,
	}

	def := os.Getenv("PROFILESCRAPE_DATA_DIR")
	if def == "" {
		def = "."
	}
	root.PersistentFlags().StringVar(&f.dataDir, "data-dir", def, "directory holding config.yml, the database and the lock file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "override logging.level from the config")

	root.AddCommand(
		newServeCmd(f),
		newScrapeCmd(f),
		newCandidatesCmd(f),
		newKeyCmd(f),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
