package output

import (
	"encoding/json"

	"gopkg.in/yaml.v3"

	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// JSONFormatter renders results as JSON.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatScrape(run *overpass.Run) (string, error) {
	return f.encode(run)
}

func (f *JSONFormatter) FormatListings(listings []store.StoredListing) (string, error) {
	return f.encode(nonNil(listings))
}

func (f *JSONFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	return f.encode(nonNil(entries))
}

func (f *JSONFormatter) FormatScrapeRuns(runs []store.ScrapeRun) (string, error) {
	return f.encode(nonNil(runs))
}

func (f *JSONFormatter) FormatVerification(v *listing.Verification) (string, error) {
	return f.encode(v)
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// YAMLFormatter renders results as YAML documents.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatScrape(run *overpass.Run) (string, error) {
	return encodeYAML(run)
}

func (f *YAMLFormatter) FormatListings(listings []store.StoredListing) (string, error) {
	return encodeYAML(nonNil(listings))
}

func (f *YAMLFormatter) FormatRateLimits(entries []store.RateLimitEntry) (string, error) {
	return encodeYAML(nonNil(entries))
}

func (f *YAMLFormatter) FormatScrapeRuns(runs []store.ScrapeRun) (string, error) {
	return encodeYAML(nonNil(runs))
}

func (f *YAMLFormatter) FormatVerification(v *listing.Verification) (string, error) {
	return encodeYAML(v)
}

func encodeYAML(value any) (string, error) {
	data, err := yaml.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// nonNil keeps empty results rendering as [] instead of null.
func nonNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
