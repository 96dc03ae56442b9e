package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// RateLimitEntry is one persisted limiter window.
type RateLimitEntry struct {
	Key         string    `json:"key" yaml:"key"`
	Count       int       `json:"count" yaml:"count"`
	ResetAt     time.Time `json:"reset_at" yaml:"reset_at"`
	LastAllowed bool      `json:"last_allowed" yaml:"last_allowed"`
}

// RateLimitQuery selects entries for the admin commands. Exactly one of the
// fields is honored, in the order All, Key, Prefix.
type RateLimitQuery struct {
	All    bool
	Key    string
	Prefix string
}

var errNoSelector = errors.New("must specify --all, --key, or --prefix")

func (q RateLimitQuery) Validate() error {
	_, _, err := q.whereClause()
	return err
}

// likeEscaper keeps LIKE wildcards in a prefix literal.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (q RateLimitQuery) whereClause() (string, []any, error) {
	switch {
	case q.All:
		return "", nil, nil
	case strings.TrimSpace(q.Key) != "":
		return "WHERE key = ?", []any{strings.TrimSpace(q.Key)}, nil
	case strings.TrimSpace(q.Prefix) != "":
		return `WHERE key LIKE ? ESCAPE '\'`, []any{likeEscaper.Replace(strings.TrimSpace(q.Prefix)) + "%"}, nil
	default:
		return "", nil, errNoSelector
	}
}

func (s *Store) ready(ctx context.Context) (context.Context, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx, nil
}

func (s *Store) ListRateLimits(ctx context.Context, q RateLimitQuery) ([]RateLimitEntry, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT key, request_count, reset_at, last_allowed FROM rate_limits `+where+` ORDER BY key`, args...)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []RateLimitEntry{}
	for rows.Next() {
		var (
			entry       RateLimitEntry
			resetAt     int64
			lastAllowed int
		)
		if err := rows.Scan(&entry.Key, &entry.Count, &resetAt, &lastAllowed); err != nil {
			return nil, fmt.Errorf("scan rate limits: %w", err)
		}
		entry.ResetAt = time.UnixMilli(resetAt).UTC()
		entry.LastAllowed = lastAllowed == 1
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	return entries, nil
}

func (s *Store) CountRateLimits(ctx context.Context, q RateLimitQuery) (int, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limits `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rate limits: %w", err)
	}
	return count, nil
}

// ResetRateLimits deletes the selected windows; their clients start fresh.
func (s *Store) ResetRateLimits(ctx context.Context, q RateLimitQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}
	return s.deleteRateLimits(ctx, "reset", `DELETE FROM rate_limits `+where, args...)
}

// SweepRateLimits deletes entries whose window ended at or before now.
func (s *Store) SweepRateLimits(ctx context.Context, now time.Time) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	return s.deleteRateLimits(ctx, "sweep", `DELETE FROM rate_limits WHERE reset_at <= ?`, now.UnixMilli())
}

func (s *Store) deleteRateLimits(ctx context.Context, op, query string, args ...any) (int64, error) {
	result, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s rate limits: %w", op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s rate limits: %w", op, err)
	}
	return affected, nil
}
