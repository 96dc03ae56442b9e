package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/scaffoldir/scaffoldir/internal/output"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

var (
	listingsOutput string
	listingsCity   string
	listingsLimit  int
	runsOutput     string
	runsLimit      int
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "Inspect stored listings and scrape history",
}

var listingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored listings",
	Long: `List listings persisted by scrape --persist or the admin scrape endpoint.

Examples:
  scaffoldir listings list --city Berlin
  scaffoldir listings list --output-format csv --out verzeichnis.csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(listingsOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		items, err := db.ListListings(cmd.Context(), store.ListingQuery{
			City:  strings.TrimSpace(listingsCity),
			Limit: listingsLimit,
		})
		if err != nil {
			return err
		}

		stem := "listings"
		if listingsCity != "" {
			stem += "." + listingsCity
		}
		outPath, err := resolveOutputPath(cmd, format, stem)
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatListings(items)
		if err != nil {
			return err
		}
		return writeRendered(outPath, rendered)
	},
}

var listingsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Show recent scrape runs and their mirror attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(runsOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		runs, err := db.ListScrapeRuns(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}

		outPath, err := resolveOutputPath(cmd, format, "scrape-runs")
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatScrapeRuns(runs)
		if err != nil {
			return err
		}
		return writeRendered(outPath, rendered)
	},
}

func init() {
	addOutputFlags(listingsListCmd, &listingsOutput)
	listingsListCmd.Flags().StringVar(&listingsCity, "city", "", "Only listings in this city (case-insensitive)")
	listingsListCmd.Flags().IntVar(&listingsLimit, "limit", 0, "Maximum number of listings (0 = all)")

	addOutputFlags(listingsRunsCmd, &runsOutput)
	listingsRunsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs")

	listingsCmd.AddCommand(listingsListCmd)
	listingsCmd.AddCommand(listingsRunsCmd)
	rootCmd.AddCommand(listingsCmd)
}
