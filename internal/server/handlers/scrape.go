package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/scaffoldir/scaffoldir/internal/errors"
	"github.com/scaffoldir/scaffoldir/internal/failover"
	"github.com/scaffoldir/scaffoldir/internal/listing"
	"github.com/scaffoldir/scaffoldir/internal/metrics"
	"github.com/scaffoldir/scaffoldir/internal/overpass"
	"github.com/scaffoldir/scaffoldir/internal/store"
)

// Scraper runs one Overpass query.
type Scraper interface {
	Run(ctx context.Context, q overpass.Query) (*overpass.Run, error)
}

// ScrapeStore persists scraped listings and run history.
type ScrapeStore interface {
	UpsertListings(ctx context.Context, listings []listing.Listing) (int, error)
	RecordScrapeRun(ctx context.Context, run store.ScrapeRun) (string, error)
}

type ScrapeRequest struct {
	Area    string `json:"area"`
	Persist *bool  `json:"persist,omitempty"`
}

type ScrapeResponse struct {
	RunID    string `json:"run_id"`
	Area     string `json:"area"`
	Source   string `json:"source"`
	Elements int    `json:"elements"`
	Listings int    `json:"listings"`
	Stored   int    `json:"stored"`
	Attempts int    `json:"attempts"`
	DataAsOf string `json:"data_as_of,omitempty"`
}

// ScrapeHandler triggers a scrape from the admin API.
type ScrapeHandler struct {
	Scraper      Scraper
	Store        ScrapeStore
	DefaultArea  string
	QueryTimeout time.Duration
	Logger       interface {
		Info(msg string, fields ...zap.Field)
		Warn(msg string, fields ...zap.Field)
	}
}

func (h *ScrapeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body ScrapeRequest
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Ungültige Anfrage."))
		return
	}

	area := strings.TrimSpace(body.Area)
	if area == "" {
		area = h.DefaultArea
	}
	persist := h.Store != nil
	if body.Persist != nil {
		persist = persist && *body.Persist
	}

	started := time.Now()
	run, err := h.Scraper.Run(r.Context(), overpass.Query{Area: area, Timeout: h.QueryTimeout})
	outcome := store.OutcomeOf(err)
	metrics.RecordFetchRun(outcome, time.Since(started))

	if err != nil {
		if persist {
			h.recordFailure(r.Context(), area, outcome, started, err)
		}
		h.respondScrapeError(w, r, area, err)
		return
	}

	stored := 0
	if persist {
		stored, err = h.Store.UpsertListings(r.Context(), run.Listings)
		if err != nil {
			respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, apperrors.MessageInternal))
			return
		}
		metrics.RecordListingsStored(stored)
		if _, err := h.Store.RecordScrapeRun(r.Context(), store.ScrapeRun{
			ID:         run.ID,
			Area:       run.Area,
			Outcome:    outcome,
			Source:     run.Source,
			Elements:   run.Elements,
			Listings:   len(run.Listings),
			Attempts:   run.Attempts,
			StartedAt:  run.StartedAt,
			FinishedAt: run.FinishedAt,
		}); err != nil {
			h.warn("Failed to record scrape run", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, ScrapeResponse{
		RunID:    run.ID,
		Area:     run.Area,
		Source:   run.Source,
		Elements: run.Elements,
		Listings: len(run.Listings),
		Stored:   stored,
		Attempts: len(run.Attempts),
		DataAsOf: run.DataAsOf,
	})
}

func (h *ScrapeHandler) respondScrapeError(w http.ResponseWriter, r *http.Request, area string, err error) {
	var exhausted *failover.ExhaustedError
	var canceled *failover.CanceledError
	switch {
	case errors.As(err, &exhausted):
		h.warn("All Overpass mirrors failed",
			zap.String("area", area),
			zap.String("detail", exhausted.Detail()))
		respondWithError(w, r, apperrors.WrapServiceUnavailable(r.Context(), err, apperrors.MessageServiceUnavailable))
	case errors.Is(err, context.DeadlineExceeded):
		respondWithError(w, r, apperrors.WrapServiceUnavailable(r.Context(), err, apperrors.MessageServiceUnavailable))
	case errors.As(err, &canceled), errors.Is(err, context.Canceled):
		// The caller went away; nobody reads a response.
		h.info("Scrape canceled by caller",
			zap.String("area", area),
			zap.Int("attempts", len(failover.AttemptsOf(err))))
	default:
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "Ungültige Anfrage: "+err.Error()))
	}
}

func (h *ScrapeHandler) recordFailure(ctx context.Context, area, outcome string, started time.Time, err error) {
	if outcome == store.OutcomeFailed {
		return
	}
	// The request context may already be done when the caller left.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, recErr := h.Store.RecordScrapeRun(recordCtx, store.ScrapeRun{
		Area:       area,
		Outcome:    outcome,
		Attempts:   failover.AttemptsOf(err),
		Error:      err.Error(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}); recErr != nil {
		h.warn("Failed to record scrape run", zap.String("area", area), zap.Error(recErr))
	}
}

func (h *ScrapeHandler) info(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Info(msg, fields...)
	}
}

func (h *ScrapeHandler) warn(msg string, fields ...zap.Field) {
	if h.Logger != nil {
		h.Logger.Warn(msg, fields...)
	}
}
