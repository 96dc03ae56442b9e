// Package output renders scrape results, listings and limiter state for the
// CLI.
package output

import (
	"fmt"
	"strings"

	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
)

// Formatter renders the CLI's result types.
type Formatter interface {
	FormatScrape(run *overpass.Run) (string, error)
	FormatListings(listings []store.StoredListing) (string, error)
	FormatRateLimits(entries []store.RateLimitEntry) (string, error)
	FormatScrapeRuns(runs []store.ScrapeRun) (string, error)
	FormatVerification(v *listing.Verification) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case "yml", string(FormatYAML):
		return FormatYAML, nil
	case string(FormatCSV):
		return FormatCSV, nil
	case "md", string(FormatMarkdown):
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatYAML:
		return &YAMLFormatter{}
	case FormatCSV:
		return &CSVFormatter{}
	case FormatMarkdown:
		return &TableFormatter{Markdown: true}
	default:
		return &TableFormatter{}
	}
}

// Extension returns the file extension used when writing format to a directory.
func Extension(format Format) string {
	switch format {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	case FormatCSV:
		return "csv"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

func baseListings(stored []store.StoredListing) []listing.Listing {
	out := make([]listing.Listing, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Listing)
	}
	return out
}
