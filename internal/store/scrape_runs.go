package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scaffoldir/scaffoldir/internal/failover"
)

// Scrape run outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeExhausted = "exhausted"
	OutcomeCanceled  = "canceled"
	OutcomeFailed    = "failed"
)

// ScrapeRun is the persisted record of one scrape attempt sequence.
type ScrapeRun struct {
	ID         string             `json:"id" yaml:"id"`
	Area       string             `json:"area" yaml:"area"`
	Outcome    string             `json:"outcome" yaml:"outcome"`
	Source     string             `json:"source,omitempty" yaml:"source,omitempty"`
	Elements   int                `json:"elements" yaml:"elements"`
	Listings   int                `json:"listings" yaml:"listings"`
	Attempts   []failover.Attempt `json:"attempts" yaml:"attempts"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time          `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time          `json:"finished_at" yaml:"finished_at"`
}

// OutcomeOf maps a scrape error to its recorded outcome.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSucceeded
	case errors.Is(err, failover.ErrExhausted):
		return OutcomeExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

// RecordScrapeRun stores run. A missing ID is generated.
func (s *Store) RecordScrapeRun(ctx context.Context, run ScrapeRun) (string, error) {
	if s == nil || s.DB == nil {
		return "", errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(run.ID) == "" {
		run.ID = uuid.NewString()
	}
	if strings.TrimSpace(run.Outcome) == "" {
		return "", errors.New("scrape run outcome is required")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = run.StartedAt
	}

	attempts := run.Attempts
	if attempts == nil {
		attempts = []failover.Attempt{}
	}
	payload, err := json.Marshal(attempts)
	if err != nil {
		return "", fmt.Errorf("encode scrape attempts: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO scrape_runs (
			id, area, outcome, source, elements, listings, attempts, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Area, run.Outcome, nullString(run.Source), run.Elements, run.Listings,
		string(payload), nullString(run.Error), run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("record scrape run: %w", err)
	}
	return run.ID, nil
}

// ListScrapeRuns returns the most recent runs first.
func (s *Store) ListScrapeRuns(ctx context.Context, limit int) ([]ScrapeRun, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, area, outcome, source, elements, listings, attempts, error, started_at, finished_at
		FROM scrape_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list scrape runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	runs := []ScrapeRun{}
	for rows.Next() {
		var (
			run        ScrapeRun
			source     sql.NullString
			attempts   string
			errText    sql.NullString
			startedAt  int64
			finishedAt int64
		)
		if err := rows.Scan(&run.ID, &run.Area, &run.Outcome, &source, &run.Elements, &run.Listings,
			&attempts, &errText, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan scrape run: %w", err)
		}
		if err := json.Unmarshal([]byte(attempts), &run.Attempts); err != nil {
			return nil, fmt.Errorf("decode scrape attempts: %w", err)
		}
		run.Source = source.String
		run.Error = errText.String
		run.StartedAt = time.UnixMilli(startedAt).UTC()
		run.FinishedAt = time.UnixMilli(finishedAt).UTC()
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scrape runs: %w", err)
	}
	return runs, nil
}

func nullString(value string) sql.NullString {
	value = strings.TrimSpace(value)
	return sql.NullString{String: value, Valid: value != ""}
}
