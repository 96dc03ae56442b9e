package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/scaffoldir/scaffoldir/internal/failover"
	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// TableFormatter renders results as ASCII tables, or Markdown tables when
// Markdown is set.
type TableFormatter struct {
	Markdown bool
}

// FormatScrape renders the attempt trail followed by the listings found.
func (f *TableFormatter) FormatScrape(run *overpass.Run) (string, error) {
	if run == nil {
		return "", nil
	}

	attempts := f.newTable()
	attempts.SetTitle(fmt.Sprintf("Scrape %s (%s)", run.Area, run.ID))
	attempts.AppendHeader(table.Row{"#", "Mirror", "Outcome", "Elapsed"})
	for i, a := range run.Attempts {
		attempts.AppendRow(table.Row{i + 1, a.Endpoint, attemptOutcome(a), a.Elapsed.Round(time.Millisecond)})
	}
	attempts.AppendFooter(table.Row{"", "", fmt.Sprintf("%d elements", run.Elements), run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)})

	stored := make([]store.StoredListing, 0, len(run.Listings))
	for _, l := range run.Listings {
		stored = append(stored, store.StoredListing{Listing: l})
	}
	listings, err := f.FormatListings(stored)
	if err != nil {
		return "", err
	}

	return f.render(attempts) + "\n\n" + listings, nil
}

func (f *TableFormatter) FormatListings(listings []store.StoredListing) (string, error) {
	t := f.newTable()
	t.AppendHeader(table.Row{"Name", "Address", "Phone", "Website", "Verified"})
	for _, l := range listings {
		t.AppendRow(table.Row{l.Name, l.Address(), l.Phone, l.Website, dash(l.VerifiedStatus)})
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%d listings", len(listings))})
	return f.render(t), nil
}

func (f *TableFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	if len(entries) == 0 {
		return "(no stored rate limit state)", nil
	}

	t := f.newTable()
	t.AppendHeader(table.Row{"Key", "Count", "Resets", "Last"})
	for _, e := range entries {
		last := "allowed"
		if !e.LastAllowed {
			last = "denied"
		}
		t.AppendRow(table.Row{e.Key, e.Count, e.ResetAt.UTC().Format(time.RFC3339), last})
	}
	return f.render(t), nil
}

func (f *TableFormatter) FormatScrapeRuns(runs []store.ScrapeRun) (string, error) {
	t := f.newTable()
	t.AppendHeader(table.Row{"Started", "Area", "Outcome", "Source", "Listings", "Attempts"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.StartedAt.UTC().Format(time.RFC3339),
			r.Area,
			r.Outcome,
			dash(r.Source),
			r.Listings,
			len(r.Attempts),
		})
	}
	return f.render(t), nil
}

func (f *TableFormatter) FormatVerification(v *listing.Verification) (string, error) {
	if v == nil {
		return "", nil
	}

	t := f.newTable()
	t.AppendRows([]table.Row{
		{"Website", v.Website},
		{"Domain", v.Domain},
		{"Status", string(v.Status)},
		{"Registrar", dash(v.Registrar)},
		{"Expires", dash(v.Expiration)},
		{"Server", dash(v.Server)},
	})
	if v.Message != "" {
		t.AppendRow(table.Row{"Note", v.Message})
	}
	return f.render(t), nil
}

func (f *TableFormatter) newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

func (f *TableFormatter) render(t table.Writer) string {
	if f.Markdown {
		return t.RenderMarkdown()
	}
	return t.Render()
}

func attemptOutcome(a failover.Attempt) string {
	if a.Succeeded() {
		return "ok"
	}
	switch a.Kind {
	case failover.KindBadStatus:
		return fmt.Sprintf("%s %d", a.Kind, a.StatusCode)
	default:
		if a.Err != "" {
			return fmt.Sprintf("%s: %s", a.Kind, truncate(a.Err, 60))
		}
		return string(a.Kind)
	}
}

func truncate(value string, n int) string {
	value = strings.TrimSpace(value)
	if len(value) <= n {
		return value
	}
	return value[:n] + "…"
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
