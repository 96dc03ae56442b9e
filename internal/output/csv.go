package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// CSVFormatter renders listings in the directory export column order.
// Other result types fall back to go-pretty's CSV rendering.
type CSVFormatter struct{}

func (f *CSVFormatter) FormatScrape(run *overpass.Run) (string, error) {
	if run == nil {
		return "", nil
	}
	return writeListingsCSV(run.Listings)
}

func (f *CSVFormatter) FormatListings(listings []store.StoredListing) (string, error) {
	return writeListingsCSV(baseListings(listings))
}

func (f *CSVFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"key", "count", "reset_at", "last_allowed"})
	for _, e := range entries {
		t.AppendRow(table.Row{e.Key, e.Count, e.ResetAt.UTC().Format("2006-01-02T15:04:05Z"), e.LastAllowed})
	}
	return t.RenderCSV(), nil
}

func (f *CSVFormatter) FormatScrapeRuns(runs []store.ScrapeRun) (string, error) {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"id", "area", "outcome", "source", "elements", "listings", "started_at"})
	for _, r := range runs {
		t.AppendRow(table.Row{r.ID, r.Area, r.Outcome, r.Source, r.Elements, r.Listings, r.StartedAt.UTC().Format("2006-01-02T15:04:05Z")})
	}
	return t.RenderCSV(), nil
}

func (f *CSVFormatter) FormatVerification(v *listing.Verification) (string, error) {
	if v == nil {
		return "", nil
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"website", "domain", "status", "registrar", "expiration"})
	t.AppendRow(table.Row{v.Website, v.Domain, string(v.Status), v.Registrar, v.Expiration})
	return t.RenderCSV(), nil
}

func writeListingsCSV(listings []listing.Listing) (string, error) {
	var sb strings.Builder
	if err := listing.WriteCSV(&sb, listings); err != nil {
		return "", err
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
