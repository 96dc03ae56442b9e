package overpass

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scaffoldir/scaffoldir/internal/failover"
)

const sampleResponse = `{
  "version": 0.6,
  "generator": "Overpass API 0.7.62",
  "osm3s": {"timestamp_osm_base": "2025-03-01T10:00:00Z", "copyright": "ODbL"},
  "elements": [
    {"type": "node", "id": 1, "lat": 48.1, "lon": 11.5, "tags": {"name": "Gerüstbau Huber", "craft": "scaffolder", "addr:city": "München"}},
    {"type": "way", "id": 2, "center": {"lat": 48.2, "lon": 11.6}, "tags": {"name": "Gerüstverleih Maier", "addr:city": "Augsburg"}},
    {"type": "node", "id": 1, "lat": 48.1, "lon": 11.5, "tags": {"name": "Gerüstbau Huber"}},
    {"type": "node", "id": 3, "lat": 48.3, "lon": 11.7, "tags": {"craft": "scaffolder"}}
  ]
}`

func TestQueryQL(t *testing.T) {
	ql := Query{Area: "de-by", Timeout: 30 * time.Second}.QL()
	assert.Contains(t, ql, "[out:json][timeout:30];")
	assert.Contains(t, ql, `area["ISO3166-2"="DE-BY"][boundary=administrative]->.searchArea;`)
	assert.Contains(t, ql, `nwr["craft"="scaffolder"](area.searchArea);`)
	assert.Contains(t, ql, `nwr["name"~"Gerüstbau|Geruestbau|Gerüstverleih",i](area.searchArea);`)
	assert.True(t, strings.HasSuffix(ql, "out center tags;\n"))

	ql = Query{Area: "DE"}.QL()
	assert.Contains(t, ql, `area["ISO3166-1"="DE"]`)
	assert.Contains(t, ql, "[timeout:25]")

	ql = Query{Area: `Landkreis "Ost"`, Filters: []Filter{{Key: "shop"}}}.QL()
	assert.Contains(t, ql, `area["name"="Landkreis \"Ost\""]`)
	assert.Contains(t, ql, `nwr["shop"](area.searchArea);`)
}

func TestQueryValidate(t *testing.T) {
	require.Error(t, Query{}.Validate())
	require.Error(t, Query{Area: "DE", Filters: []Filter{{Value: "x"}}}.Validate())
	require.NoError(t, Query{Area: "DE"}.Validate())
}

func TestBuildRequest(t *testing.T) {
	build := BuildRequest(Query{Area: "DE-BE"}, "scaffoldir/test")
	req, err := build(context.Background(), "https://mirror.example/api/interpreter")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, "scaffoldir/test", req.Header.Get("User-Agent"))

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	assert.Contains(t, values.Get("data"), `"ISO3166-2"="DE-BE"`)
}

func TestDecode(t *testing.T) {
	resp, err := Decode(strings.NewReader(sampleResponse))
	require.NoError(t, err)
	assert.Len(t, resp.Elements, 4)
	assert.Equal(t, "2025-03-01T10:00:00Z", resp.OSM3S.TimestampOSMBase)

	osm := resp.Elements[1].OSM()
	assert.Equal(t, 48.2, osm.Lat)
	assert.Equal(t, 11.6, osm.Lon)
}

func TestDecodeRejectsUnusableBodies(t *testing.T) {
	tests := map[string]string{
		"html":          "<html><body>Too many requests</body></html>",
		"no elements":   `{"version":0.6,"generator":"Overpass API"}`,
		"runtime error": `{"version":0.6,"remark":"runtime error: Query timed out in \"query\" at line 3 after 26 seconds.","elements":[]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(body))
			require.Error(t, err)
		})
	}

	resp, err := Decode(strings.NewReader(`{"elements":[]}`))
	require.NoError(t, err)
	assert.Empty(t, resp.Elements)
}

func TestScraperFailsOverToNextMirror(t *testing.T) {
	var busyHits, okHits atomic.Int32
	busy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		busyHits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "rate_limited")
	}))
	defer busy.Close()

	overloaded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html>server overloaded</html>")
	}))
	defer overloaded.Close()

	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okHits.Add(1)
		require.NoError(t, r.ParseForm())
		if !strings.Contains(r.PostForm.Get("data"), "out center tags") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, sampleResponse)
	}))
	defer ok.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	scraper := &Scraper{
		Client:  &failover.Client{Timeout: time.Second},
		Mirrors: []string{busy.URL, overloaded.URL, ok.URL},
		Clock:   func() time.Time { return now },
	}

	run, err := scraper.Run(context.Background(), Query{Area: "DE-BY"})
	require.NoError(t, err)
	assert.Equal(t, ok.URL, run.Source)
	assert.Equal(t, 4, run.Elements)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "2025-03-01T10:00:00Z", run.DataAsOf)
	require.Len(t, run.Attempts, 3)
	assert.Equal(t, failover.KindBadStatus, run.Attempts[0].Kind)
	assert.Equal(t, failover.KindDecode, run.Attempts[1].Kind)

	require.Len(t, run.Listings, 2)
	assert.Equal(t, "Gerüstverleih Maier", run.Listings[0].Name)
	assert.Equal(t, "Gerüstbau Huber", run.Listings[1].Name)
	assert.Equal(t, int32(1), busyHits.Load())
	assert.Equal(t, int32(1), okHits.Load())
}

func TestScraperExhausted(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
	}))
	defer down.Close()

	scraper := &Scraper{
		Client:  &failover.Client{Timeout: time.Second},
		Mirrors: []string{down.URL, down.URL},
	}

	_, err := scraper.Run(context.Background(), Query{Area: "DE"})
	require.ErrorIs(t, err, failover.ErrExhausted)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Len(t, failover.AttemptsOf(err), 2)
}

func TestScraperInvalidQuery(t *testing.T) {
	scraper := &Scraper{}
	_, err := scraper.Run(context.Background(), Query{})
	require.Error(t, err)
}
