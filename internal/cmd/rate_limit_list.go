package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/scaffoldir/scaffoldir/internal/output"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

var (
	rateLimitListOutput string
	rateLimitListAll    bool
	rateLimitListPrefix string
)

var rateLimitListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored rate limit state",
	Long: `List rate limit windows persisted by the libsql backend.

Keys have the form <operation>:<client>, for example otp:203.0.113.7.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(rateLimitListOutput)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		query := store.RateLimitQuery{
			All:    rateLimitListAll,
			Prefix: strings.TrimSpace(rateLimitListPrefix),
		}
		if !query.All && query.Prefix == "" {
			query.All = true
		}

		entries, err := db.ListRateLimits(cmd.Context(), query)
		if err != nil {
			return err
		}

		outPath, err := resolveOutputPath(cmd, format, "rate-limit.list")
		if err != nil {
			return err
		}
		rendered, err := output.NewFormatter(format).FormatRateLimits(entries)
		if err != nil {
			return err
		}
		return writeRendered(outPath, rendered)
	},
}

func init() {
	addOutputFlags(rateLimitListCmd, &rateLimitListOutput)
	rateLimitListCmd.Flags().BoolVar(&rateLimitListAll, "all", false, "List all keys")
	rateLimitListCmd.Flags().StringVar(&rateLimitListPrefix, "prefix", "", "List keys with matching prefix (e.g. otp:)")
}
