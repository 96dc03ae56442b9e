// Package overpass queries public Overpass API mirrors for scaffolding
// businesses and converts the result into directory listings.
package overpass

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/scaffoldir/scaffoldir/internal/failover"
)

// DefaultMirrors is the preference order of public Overpass instances.
var DefaultMirrors = []string{
	"https://overpass-api.de/api/interpreter",
	"https://overpass.private.coffee/api/interpreter",
	"https://maps.mail.ru/osm/tools/overpass/api/interpreter",
	"https://overpass.kumi.systems/api/interpreter",
}

// DefaultQueryTimeout is the server-side [timeout:] of a query.
const DefaultQueryTimeout = 25 * time.Second

// Filter selects elements by tag. An empty Value matches any value.
type Filter struct {
	Key   string `json:"key" yaml:"key" mapstructure:"key"`
	Value string `json:"value" yaml:"value" mapstructure:"value"`
	Regex bool   `json:"regex" yaml:"regex" mapstructure:"regex"`
}

// DefaultFilters select scaffolding businesses.
var DefaultFilters = []Filter{
	{Key: "craft", Value: "scaffolder"},
	{Key: "name", Value: "Gerüstbau|Geruestbau|Gerüstverleih", Regex: true},
}

// Query describes one search.
type Query struct {
	// Area is an ISO 3166 code ("DE", "DE-BY") or an administrative area name.
	Area    string
	Filters []Filter
	Timeout time.Duration
}

var isoCode = regexp.MustCompile(`^[A-Z]{2}(-[A-Z0-9]{1,3})?$`)

// Validate reports whether the query can be rendered.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Area) == "" {
		return errors.New("area is required")
	}
	for _, f := range q.filters() {
		if strings.TrimSpace(f.Key) == "" {
			return errors.New("filter key is required")
		}
	}
	return nil
}

// QL renders the query in Overpass QL.
func (q Query) QL() string {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[out:json][timeout:%d];\n", int(timeout.Seconds()))
	b.WriteString(areaSelector(strings.TrimSpace(q.Area)))
	b.WriteString("(\n")
	for _, f := range q.filters() {
		fmt.Fprintf(&b, "  nwr%s(area.searchArea);\n", f.selector())
	}
	b.WriteString(");\n")
	b.WriteString("out center tags;\n")
	return b.String()
}

func (q Query) filters() []Filter {
	if len(q.Filters) == 0 {
		return DefaultFilters
	}
	return q.Filters
}

func (f Filter) selector() string {
	key := quote(strings.TrimSpace(f.Key))
	value := strings.TrimSpace(f.Value)
	switch {
	case value == "":
		return "[" + key + "]"
	case f.Regex:
		return "[" + key + "~" + quote(value) + ",i]"
	default:
		return "[" + key + "=" + quote(value) + "]"
	}
}

func areaSelector(area string) string {
	upper := strings.ToUpper(area)
	if isoCode.MatchString(upper) {
		key := "ISO3166-1"
		if strings.Contains(upper, "-") {
			key = "ISO3166-2"
		}
		return fmt.Sprintf("area[%s=%s][boundary=administrative]->.searchArea;\n", quote(key), quote(upper))
	}
	return fmt.Sprintf("area[\"name\"=%s][boundary=administrative]->.searchArea;\n", quote(area))
}

func quote(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, `"`, `\"`)
	return `"` + value + `"`
}

// BuildRequest returns a request builder that POSTs the query to a mirror.
func BuildRequest(q Query, userAgent string) failover.RequestBuilder {
	form := url.Values{"data": {q.QL()}}.Encode()
	return func(ctx context.Context, endpoint string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		if userAgent != "" {
			req.Header.Set("User-Agent", userAgent)
		}
		return req, nil
	}
}
