package overpass

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/scaffoldir/scaffoldir/internal/listing"
)

// Response is the Overpass JSON envelope.
type Response struct {
	Version   float64   `json:"version"`
	Generator string    `json:"generator"`
	OSM3S     OSM3S     `json:"osm3s"`
	Remark    string    `json:"remark,omitempty"`
	Elements  []Element `json:"elements"`
}

// OSM3S carries data freshness metadata.
type OSM3S struct {
	TimestampOSMBase string `json:"timestamp_osm_base"`
	Copyright        string `json:"copyright"`
}

// Element is a node, way or relation returned by "out center tags".
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat,omitempty"`
	Lon    float64           `json:"lon,omitempty"`
	Center *Center           `json:"center,omitempty"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// Center is the computed centroid of a way or relation.
type Center struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// OSM converts the element for listing.FromOSM.
func (e Element) OSM() listing.OSMElement {
	lat, lon := e.Lat, e.Lon
	if e.Center != nil {
		lat, lon = e.Center.Lat, e.Center.Lon
	}
	return listing.OSMElement{Type: e.Type, ID: e.ID, Lat: lat, Lon: lon, Tags: e.Tags}
}

var errMissingElements = errors.New("overpass response has no elements array")

// Decode parses a 2xx Overpass body. Mirrors under load answer 200 with an
// HTML page or a JSON remark instead of data; both are decode errors.
func Decode(r io.Reader) (*Response, error) {
	var envelope struct {
		Response
		Elements *[]Element `json:"elements"`
	}
	if err := json.NewDecoder(r).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}
	if envelope.Elements == nil {
		return nil, errMissingElements
	}

	resp := envelope.Response
	resp.Elements = *envelope.Elements

	remark := strings.ToLower(resp.Remark)
	if len(resp.Elements) == 0 && (strings.Contains(remark, "runtime error") || strings.Contains(remark, "timed out")) {
		return nil, fmt.Errorf("overpass runtime error: %s", strings.TrimSpace(resp.Remark))
	}
	return &resp, nil
}
