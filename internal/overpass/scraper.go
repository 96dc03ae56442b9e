package overpass

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/scaffoldir/scaffoldir/internal/failover"
	"github.com/scaffoldir/scaffoldir/internal/listing"
)

// Run is the outcome of one successful scrape.
type Run struct {
	ID         string             `json:"id" yaml:"id"`
	Area       string             `json:"area" yaml:"area"`
	Source     string             `json:"source" yaml:"source"`
	Elements   int                `json:"elements" yaml:"elements"`
	Listings   []listing.Listing  `json:"listings" yaml:"listings"`
	Attempts   []failover.Attempt `json:"attempts" yaml:"attempts"`
	DataAsOf   string             `json:"data_as_of,omitempty" yaml:"data_as_of,omitempty"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at" yaml:"finished_at"`
}

// Scraper fetches listings from the first healthy Overpass mirror.
type Scraper struct {
	Client    *failover.Client
	Mirrors   []string
	UserAgent string
	Clock     func() time.Time
	Logger    interface {
		Info(msg string, fields ...zap.Field)
	}
}

// Run executes q against the mirrors in order. Errors from the fetcher are
// returned unchanged so callers can tell exhaustion from cancellation.
func (s *Scraper) Run(ctx context.Context, q Query) (*Run, error) {
	if s == nil {
		return nil, errors.New("scraper is not configured")
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	mirrors := s.Mirrors
	if len(mirrors) == 0 {
		mirrors = DefaultMirrors
	}

	run := &Run{
		ID:        uuid.NewString(),
		Area:      q.Area,
		StartedAt: s.now(),
	}

	result, err := failover.Fetch[*Response](ctx, s.Client, mirrors, BuildRequest(q, s.UserAgent), Decode)
	if err != nil {
		return nil, err
	}

	run.Source = result.Source
	run.Attempts = result.Attempts
	run.Elements = len(result.Payload.Elements)
	run.DataAsOf = result.Payload.OSM3S.TimestampOSMBase

	listings := make([]listing.Listing, 0, len(result.Payload.Elements))
	for _, el := range result.Payload.Elements {
		if l, ok := listing.FromOSM(el.OSM(), run.StartedAt); ok {
			listings = append(listings, l)
		}
	}
	run.Listings = listing.Dedupe(listings)
	run.FinishedAt = s.now()

	if s.Logger != nil {
		s.Logger.Info("Scrape completed",
			zap.String("run_id", run.ID),
			zap.String("area", run.Area),
			zap.String("source", run.Source),
			zap.Int("elements", run.Elements),
			zap.Int("listings", len(run.Listings)),
			zap.Int("attempts", len(run.Attempts)))
	}

	return run, nil
}

func (s *Scraper) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}
