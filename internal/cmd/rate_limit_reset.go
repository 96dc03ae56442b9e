package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/scaffoldir/scaffoldir/internal/output"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

var (
	rateLimitResetAll    bool
	rateLimitResetKey    string
	rateLimitResetPrefix string
	rateLimitResetYes    bool
	rateLimitResetDryRun bool
	rateLimitResetOutput string
)

type rateLimitResetResult struct {
	Matched int   `json:"matched" yaml:"matched"`
	Deleted int64 `json:"deleted" yaml:"deleted"`
	DryRun  bool  `json:"dry_run" yaml:"dry_run"`
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset stored rate limit state",
	Long: `Delete persisted rate limit windows so the affected clients start fresh.

Examples:
  scaffoldir rate-limit reset --key otp:203.0.113.7
  scaffoldir rate-limit reset --prefix otp-verify: --dry-run
  scaffoldir rate-limit reset --all --yes`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitResetOutput)
		if err != nil {
			return err
		}

		query := store.RateLimitQuery{
			All:    rateLimitResetAll,
			Key:    strings.TrimSpace(rateLimitResetKey),
			Prefix: strings.TrimSpace(rateLimitResetPrefix),
		}
		if err := query.Validate(); err != nil {
			return err
		}
		if query.All && !rateLimitResetYes && !rateLimitResetDryRun {
			return errors.New("--all requires --yes (or use --dry-run)")
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		matched, err := db.CountRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		result := rateLimitResetResult{Matched: matched, DryRun: rateLimitResetDryRun}
		if !result.DryRun {
			result.Deleted, err = db.ResetRateLimits(cmd.Context(), query)
			if err != nil {
				return err
			}
		}

		outPath, err := resolveOutputPath(cmd, format, "rate-limit.reset")
		if err != nil {
			return err
		}
		rendered, err := renderResetResult(format, result)
		if err != nil {
			return err
		}
		return writeRendered(outPath, rendered)
	},
}

func renderResetResult(format output.Format, result rateLimitResetResult) (string, error) {
	switch format {
	case output.FormatJSON:
		payload, err := json.MarshalIndent(result, "", "  ")
		return string(payload), err
	case output.FormatYAML:
		payload, err := yaml.Marshal(result)
		return strings.TrimRight(string(payload), "\n"), err
	}
	if result.DryRun {
		return fmt.Sprintf("Would delete %d rate limit entr(ies)", result.Matched), nil
	}
	return fmt.Sprintf("Deleted %d/%d rate limit entr(ies)", result.Deleted, result.Matched), nil
}

func init() {
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetAll, "all", false, "Reset all keys")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetKey, "key", "", "Reset a single key (exact match, e.g. otp:203.0.113.7)")
	rateLimitResetCmd.Flags().StringVar(&rateLimitResetPrefix, "prefix", "", "Reset keys with matching prefix")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetYes, "yes", false, "Confirm destructive reset")
	rateLimitResetCmd.Flags().BoolVar(&rateLimitResetDryRun, "dry-run", false, "Show what would be deleted")
	addOutputFlags(rateLimitResetCmd, &rateLimitResetOutput)
}
