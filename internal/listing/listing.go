// Package listing holds the directory entry model for scaffolding businesses
// and its conversions from OpenStreetMap data and to export formats.
package listing

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// SourceOSM marks listings imported from OpenStreetMap.
const SourceOSM = "osm"

// Listing is one scaffolding business in the directory.
type Listing struct {
	ID          string    `json:"id" yaml:"id"`
	Source      string    `json:"source" yaml:"source"`
	SourceRef   string    `json:"source_ref" yaml:"source_ref"`
	Name        string    `json:"name" yaml:"name"`
	Street      string    `json:"street,omitempty" yaml:"street,omitempty"`
	HouseNumber string    `json:"house_number,omitempty" yaml:"house_number,omitempty"`
	PostalCode  string    `json:"postal_code,omitempty" yaml:"postal_code,omitempty"`
	City        string    `json:"city,omitempty" yaml:"city,omitempty"`
	State       string    `json:"state,omitempty" yaml:"state,omitempty"`
	Phone       string    `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email       string    `json:"email,omitempty" yaml:"email,omitempty"`
	Website     string    `json:"website,omitempty" yaml:"website,omitempty"`
	Lat         float64   `json:"lat" yaml:"lat"`
	Lon         float64   `json:"lon" yaml:"lon"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// OSMElement is the subset of an OpenStreetMap element needed for a listing.
type OSMElement struct {
	Type string
	ID   int64
	Lat  float64
	Lon  float64
	Tags map[string]string
}

// FromOSM maps an element to a listing. ok is false when the element has
// no usable name.
func FromOSM(el OSMElement, now time.Time) (Listing, bool) {
	tag := func(keys ...string) string {
		for _, key := range keys {
			if value := strings.TrimSpace(el.Tags[key]); value != "" {
				return value
			}
		}
		return ""
	}

	name := tag("name", "operator", "brand")
	if name == "" {
		return Listing{}, false
	}

	kind := strings.TrimSpace(el.Type)
	if kind == "" {
		kind = "node"
	}
	ref := fmt.Sprintf("%s/%d", kind, el.ID)

	l := Listing{
		ID:          SourceOSM + ":" + ref,
		Source:      SourceOSM,
		SourceRef:   ref,
		Name:        name,
		Street:      tag("addr:street"),
		HouseNumber: tag("addr:housenumber"),
		PostalCode:  tag("addr:postcode"),
		City:        tag("addr:city"),
		State:       tag("addr:state"),
		Phone:       tag("contact:phone", "phone", "contact:mobile", "mobile"),
		Email:       tag("contact:email", "email"),
		Website:     tag("contact:website", "website", "url"),
		Lat:         el.Lat,
		Lon:         el.Lon,
		UpdatedAt:   now.UTC(),
	}
	return l.Normalize(), true
}

// Normalize trims fields, cleans the phone number and ensures the website
// has a scheme.
func (l Listing) Normalize() Listing {
	l.Name = collapseSpaces(l.Name)
	l.Street = collapseSpaces(l.Street)
	l.HouseNumber = strings.TrimSpace(l.HouseNumber)
	l.PostalCode = strings.TrimSpace(l.PostalCode)
	l.City = collapseSpaces(l.City)
	l.State = collapseSpaces(l.State)
	l.Phone = NormalizePhone(l.Phone)
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	l.Website = NormalizeWebsite(l.Website)
	return l
}

// Address renders the postal address on one line.
func (l Listing) Address() string {
	street := strings.TrimSpace(l.Street + " " + l.HouseNumber)
	city := strings.TrimSpace(l.PostalCode + " " + l.City)
	switch {
	case street != "" && city != "":
		return street + ", " + city
	case street != "":
		return street
	default:
		return city
	}
}

// NormalizePhone keeps digits and a leading plus. Several numbers separated
// by ";" keep only the first.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if idx := strings.IndexAny(phone, ";,"); idx >= 0 {
		phone = strings.TrimSpace(phone[:idx])
	}
	if phone == "" {
		return ""
	}

	var b strings.Builder
	for i, r := range phone {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case unicode.IsDigit(r):
			b.WriteRune(r)
		}
	}
	out := b.String()
	if strings.HasPrefix(out, "00") {
		out = "+" + strings.TrimPrefix(out, "00")
	}
	return out
}

// NormalizeWebsite trims the value and adds https:// when no scheme is set.
func NormalizeWebsite(website string) string {
	website = strings.TrimSpace(website)
	if idx := strings.Index(website, ";"); idx >= 0 {
		website = strings.TrimSpace(website[:idx])
	}
	if website == "" {
		return ""
	}
	lower := strings.ToLower(website)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		website = "https://" + website
	}
	return website
}

// Dedupe keeps the first listing per ID and returns them sorted by city
// and name.
func Dedupe(listings []Listing) []Listing {
	seen := make(map[string]struct{}, len(listings))
	out := make([]Listing, 0, len(listings))
	for _, l := range listings {
		if _, ok := seen[l.ID]; ok {
			continue
		}
		seen[l.ID] = struct{}{}
		out = append(out, l)
	}
	Sort(out)
	return out
}

// Sort orders listings by city, then name, then ID.
func Sort(listings []Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		a, b := listings[i], listings[j]
		if !strings.EqualFold(a.City, b.City) {
			return strings.ToLower(a.City) < strings.ToLower(b.City)
		}
		if !strings.EqualFold(a.Name, b.Name) {
			return strings.ToLower(a.Name) < strings.ToLower(b.Name)
		}
		return a.ID < b.ID
	})
}

func collapseSpaces(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
