package cmd

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/observability"
	"github.com/scaffoldir/scaffoldir/internal/output"
)

var (
	verifyOutput    string
	verifyListingID string
	verifyPersist   bool
)

var verifyWebsiteCmd = &cobra.Command{
	Use:   "verify-website [url]",
	Short: "Check over RDAP that a listing website's domain is registered",
	Long: `Look up the registered domain of a website over RDAP.

Either pass the URL directly or name a stored listing with --listing-id;
with --persist the result is saved on that listing.

Examples:
  scaffoldir verify-website https://www.geruestbau-nord.de
  scaffoldir verify-website --listing-id osm:node/123 --persist`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(verifyOutput)
		if err != nil {
			return err
		}

		listingID := strings.TrimSpace(verifyListingID)
		if verifyPersist && listingID == "" {
			return errors.New("--persist requires --listing-id")
		}

		website := ""
		if len(args) == 1 {
			website = strings.TrimSpace(args[0])
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if listingID != "" {
			db, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer db.Close() // nolint:errcheck // best-effort cleanup

			item, err := db.GetListing(ctx, listingID)
			if err != nil {
				return err
			}
			if website == "" {
				website = item.Website
			}
			if website == "" {
				return errors.New("listing has no website")
			}

			result, err := buildVerifier(cfg.RDAP, observability.CLILogger).Verify(ctx, website)
			if err != nil {
				return err
			}
			if verifyPersist {
				if err := db.SetListingVerification(ctx, listingID, *result); err != nil {
					return err
				}
				observability.CLILogger.Info("Verification stored",
					zap.String("listing", listingID),
					zap.String("status", string(result.Status)))
			}
			return renderVerification(cmd, format, result)
		}

		if website == "" {
			return errors.New("website url or --listing-id required")
		}
		result, err := buildVerifier(cfg.RDAP, observability.CLILogger).Verify(ctx, website)
		if err != nil {
			return err
		}
		return renderVerification(cmd, format, result)
	},
}

func renderVerification(cmd *cobra.Command, format output.Format, result *listing.Verification) error {
	outPath, err := resolveOutputPath(cmd, format, "verify."+result.Domain)
	if err != nil {
		return err
	}
	rendered, err := output.NewFormatter(format).FormatVerification(result)
	if err != nil {
		return err
	}
	return writeRendered(outPath, rendered)
}

func init() {
	addOutputFlags(verifyWebsiteCmd, &verifyOutput)
	verifyWebsiteCmd.Flags().StringVar(&verifyListingID, "listing-id", "", "Stored listing to verify (e.g. osm:node/123)")
	verifyWebsiteCmd.Flags().BoolVar(&verifyPersist, "persist", false, "Save the result on the listing")
	rootCmd.AddCommand(verifyWebsiteCmd)
}
