package output

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/scaffoldir/scaffoldir/internal/failover"
	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

func sampleRun() *overpass.Run {
	started := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	return &overpass.Run{
		ID:       "run-1",
		Area:     "DE-HH",
		Source:   "https://overpass.private.coffee/api/interpreter",
		Elements: 2,
		Listings: []listing.Listing{
			{
				ID:          "node/42",
				Source:      "osm",
				SourceRef:   "https://www.openstreetmap.org/node/42",
				Name:        "Gerüstbau Petersen",
				Street:      "Hafenstraße",
				HouseNumber: "3",
				PostalCode:  "20457",
				City:        "Hamburg",
				Phone:       "+49401234567",
				Website:     "https://geruestbau-petersen.de",
				Lat:         53.54,
				Lon:         9.98,
			},
		},
		Attempts: []failover.Attempt{
			{Endpoint: "https://overpass-api.de/api/interpreter", Kind: failover.KindBadStatus, StatusCode: 504, Elapsed: 1200 * time.Millisecond},
			{Endpoint: "https://overpass.private.coffee/api/interpreter", Elapsed: 800 * time.Millisecond},
		},
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":         FormatTable,
		"table":    FormatTable,
		"JSON":     FormatJSON,
		"yml":      FormatYAML,
		"csv":      FormatCSV,
		"markdown": FormatMarkdown,
	}
	for input, want := range cases {
		got, err := ParseFormat(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	_, err := ParseFormat("xml")
	require.Error(t, err)
}

func TestFormatScrapeTable(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatScrape(sampleRun())
	require.NoError(t, err)
	require.Contains(t, rendered, "bad-status 504")
	require.Contains(t, rendered, "ok")
	require.Contains(t, rendered, "Gerüstbau Petersen")
	require.Contains(t, rendered, "Hafenstraße 3, 20457 Hamburg")
	require.Contains(t, strings.ToUpper(rendered), "1 LISTINGS")
}

func TestFormatScrapeJSONAndYAML(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatScrape(sampleRun())
	require.NoError(t, err)
	require.Contains(t, rendered, `"source": "https://overpass.private.coffee/api/interpreter"`)
	require.Contains(t, rendered, `"status_code": 504`)

	rendered, err = NewFormatter(FormatYAML).FormatScrape(sampleRun())
	require.NoError(t, err)
	require.Contains(t, rendered, "area: DE-HH")
	require.Contains(t, rendered, "status_code: 504")
}

func TestFormatListingsCSV(t *testing.T) {
	stored := []store.StoredListing{{Listing: sampleRun().Listings[0], VerifiedStatus: "registered"}}

	rendered, err := NewFormatter(FormatCSV).FormatListings(stored)
	require.NoError(t, err)

	lines := strings.Split(rendered, "\n")
	require.Len(t, lines, 2)
	require.Equal(t, strings.Join(listing.CSVHeader, ","), lines[0])
	require.True(t, strings.HasPrefix(lines[1], "Gerüstbau Petersen,Hafenstraße,3,20457,Hamburg"))
}

func TestFormatListingsEmptyJSON(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatListings(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestFormatRateLimits(t *testing.T) {
	entries := []store.RateLimitEntry{
		{Key: "otp:203.0.113.7", Count: 5, ResetAt: time.Date(2026, 4, 2, 8, 1, 0, 0, time.UTC), LastAllowed: false},
	}

	rendered, err := NewFormatter(FormatTable).FormatRateLimits(entries)
	require.NoError(t, err)
	require.Contains(t, rendered, "otp:203.0.113.7")
	require.Contains(t, rendered, "denied")

	rendered, err = NewFormatter(FormatTable).FormatRateLimits(nil)
	require.NoError(t, err)
	require.Equal(t, "(no stored rate limit state)", rendered)

	rendered, err = NewFormatter(FormatMarkdown).FormatRateLimits(entries)
	require.NoError(t, err)
	require.Contains(t, rendered, "| otp:203.0.113.7 |")
}

func TestFormatVerification(t *testing.T) {
	v := &listing.Verification{
		Website:   "https://geruestbau-petersen.de",
		Domain:    "geruestbau-petersen.de",
		Status:    listing.DomainRegistered,
		Registrar: "DENIC eG",
	}

	rendered, err := NewFormatter(FormatTable).FormatVerification(v)
	require.NoError(t, err)
	require.Contains(t, rendered, "registered")
	require.Contains(t, rendered, "DENIC eG")
}

func TestExtension(t *testing.T) {
	require.Equal(t, "csv", Extension(FormatCSV))
	require.Equal(t, "md", Extension(FormatMarkdown))
	require.Equal(t, "txt", Extension(FormatTable))
}
