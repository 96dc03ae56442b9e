package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/failover"
	"github.com/scaffoldir/scaffoldir/internal/metrics"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/output"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

var (
	scrapeArea        string
	scrapeOutput      string
	scrapePersist     bool
	scrapeMirrorsFile string
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Fetch scaffolding businesses from Overpass mirrors",
	Long: `Run the Overpass query for an area against the configured mirrors, one
after another, and print the listings from the first mirror that answers.

Examples:
  scaffoldir scrape --area DE-BY
  scaffoldir scrape --area Hamburg --output-format csv --out hamburg.csv
  scaffoldir scrape --area DE --persist`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(scrapeOutput)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if scrapeMirrorsFile != "" {
			mirrors, err := loadMirrorsFile(scrapeMirrorsFile)
			if err != nil {
				return err
			}
			cfg.Overpass.Mirrors = mirrors
		}

		area := strings.TrimSpace(scrapeArea)
		if area == "" {
			area = cfg.Overpass.DefaultArea
		}

		scraper := buildScraper(cfg.Overpass, observability.CLILogger)

		started := time.Now()
		run, err := scraper.Run(cmd.Context(), overpass.Query{Area: area, Timeout: cfg.Overpass.QueryTimeout})
		metrics.RecordFetchRun(store.OutcomeOf(err), time.Since(started))

		if scrapePersist {
			if persistErr := persistScrape(cmd.Context(), area, run, err, started); persistErr != nil {
				return persistErr
			}
		}
		if err != nil {
			return describeScrapeError(err)
		}

		outPath, err := resolveOutputPath(cmd, format, "scrape."+area)
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatScrape(run)
		if err != nil {
			return err
		}
		return writeRendered(outPath, rendered)
	},
}

func persistScrape(ctx context.Context, area string, run *overpass.Run, runErr error, started time.Time) error {
	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	recordRun(ctx, db, area, run, runErr, started)
	if runErr != nil {
		return nil
	}

	stored, err := db.UpsertListings(ctx, run.Listings)
	if err != nil {
		return err
	}
	metrics.RecordListingsStored(stored)
	observability.CLILogger.Info("Listings stored", zap.Int("count", stored))
	return nil
}

// recordRun stores the run history. Failures to record are logged only.
func recordRun(ctx context.Context, db *store.Store, area string, run *overpass.Run, runErr error, started time.Time) {
	record := store.ScrapeRun{
		Area:       area,
		Outcome:    store.OutcomeOf(runErr),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if run != nil {
		record.ID = run.ID
		record.Source = run.Source
		record.Elements = run.Elements
		record.Listings = len(run.Listings)
		record.Attempts = run.Attempts
		record.StartedAt = run.StartedAt
		record.FinishedAt = run.FinishedAt
	}
	if runErr != nil {
		record.Error = runErr.Error()
		record.Attempts = failover.AttemptsOf(runErr)
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := db.RecordScrapeRun(recordCtx, record); err != nil {
		observability.CLILogger.Warn("Failed to record scrape run", zap.Error(err))
	}
}

// describeScrapeError turns fetch failures into an operator-readable error.
func describeScrapeError(err error) error {
	var exhausted *failover.ExhaustedError
	if errors.As(err, &exhausted) {
		return errors.New(exhausted.Detail())
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("scrape canceled after %d attempt(s)", len(failover.AttemptsOf(err)))
	}
	return err
}

func init() {
	scrapeCmd.Flags().StringVar(&scrapeArea, "area", "", "ISO 3166 code (DE, DE-BY) or area name (default overpass.default_area)")
	addOutputFlags(scrapeCmd, &scrapeOutput)
	scrapeCmd.Flags().BoolVar(&scrapePersist, "persist", false, "Store listings and the run in the database")
	scrapeCmd.Flags().StringVar(&scrapeMirrorsFile, "mirrors-file", "", "YAML file with a 'mirrors' list overriding overpass.mirrors")
	scrapeCmd.Flags().Duration("timeout", 0, "Per-mirror attempt timeout (default overpass.timeout)")

	_ = viper.BindPFlag("overpass.timeout", scrapeCmd.Flags().Lookup("timeout"))

	rootCmd.AddCommand(scrapeCmd)
}
