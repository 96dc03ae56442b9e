package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scaffoldir/scaffoldir/internal/listing"
)

// StoredListing is a listing plus its last website verification.
type StoredListing struct {
	listing.Listing `yaml:",inline"`
	VerifiedStatus  string     `json:"verified_status,omitempty" yaml:"verified_status,omitempty"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty" yaml:"verified_at,omitempty"`
}

// ListingQuery filters ListListings. Zero values match everything.
type ListingQuery struct {
	City  string
	Limit int
}

// UpsertListings inserts or replaces listings by ID in one transaction.
// Verification columns of existing rows are kept.
func (s *Store) UpsertListings(ctx context.Context, listings []listing.Listing) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin listing upsert: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO listings (
			id, source, source_ref, name, street, house_number, postal_code,
			city, state, phone, email, website, lat, lon, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			source_ref = excluded.source_ref,
			name = excluded.name,
			street = excluded.street,
			house_number = excluded.house_number,
			postal_code = excluded.postal_code,
			city = excluded.city,
			state = excluded.state,
			phone = excluded.phone,
			email = excluded.email,
			website = excluded.website,
			lat = excluded.lat,
			lon = excluded.lon,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare listing upsert: %w", err)
	}
	defer stmt.Close() // nolint:errcheck // closed with the transaction

	written := 0
	for _, l := range listings {
		if strings.TrimSpace(l.ID) == "" {
			continue
		}
		updated := l.UpdatedAt
		if updated.IsZero() {
			updated = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			l.ID, l.Source, l.SourceRef, l.Name, l.Street, l.HouseNumber, l.PostalCode,
			l.City, l.State, l.Phone, l.Email, l.Website, l.Lat, l.Lon, updated.Unix(),
		); err != nil {
			return 0, fmt.Errorf("upsert listing %s: %w", l.ID, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit listing upsert: %w", err)
	}
	return written, nil
}

// ListListings returns stored listings ordered by city and name.
func (s *Store) ListListings(ctx context.Context, q ListingQuery) ([]StoredListing, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT `+listingColumns+`
		FROM listings`
	var args []any
	if city := strings.TrimSpace(q.City); city != "" {
		query += ` WHERE city = ? COLLATE NOCASE`
		args = append(args, city)
	}
	query += ` ORDER BY city COLLATE NOCASE, name COLLATE NOCASE, id`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	out := []StoredListing{}
	for rows.Next() {
		item, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return out, nil
}

const listingColumns = `id, source, source_ref, name, street, house_number, postal_code,
			city, state, phone, email, website, lat, lon, updated_at,
			verified_status, verified_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (StoredListing, error) {
	var (
		item       StoredListing
		street     sql.NullString
		number     sql.NullString
		postalCode sql.NullString
		city       sql.NullString
		state      sql.NullString
		phone      sql.NullString
		email      sql.NullString
		website    sql.NullString
		lat        sql.NullFloat64
		lon        sql.NullFloat64
		updatedAt  int64
		verified   sql.NullString
		verifiedAt sql.NullInt64
	)
	if err := row.Scan(
		&item.ID, &item.Source, &item.SourceRef, &item.Name,
		&street, &number, &postalCode, &city, &state,
		&phone, &email, &website, &lat, &lon, &updatedAt,
		&verified, &verifiedAt,
	); err != nil {
		return StoredListing{}, fmt.Errorf("scan listing: %w", err)
	}
	item.Street = street.String
	item.HouseNumber = number.String
	item.PostalCode = postalCode.String
	item.City = city.String
	item.State = state.String
	item.Phone = phone.String
	item.Email = email.String
	item.Website = website.String
	item.Lat = lat.Float64
	item.Lon = lon.Float64
	item.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	item.VerifiedStatus = verified.String
	if verifiedAt.Valid {
		at := time.Unix(verifiedAt.Int64, 0).UTC()
		item.VerifiedAt = &at
	}
	return item, nil
}

// GetListing returns the stored listing with id, or sql.ErrNoRows.
func (s *Store) GetListing(ctx context.Context, id string) (*StoredListing, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, strings.TrimSpace(id))
	item, err := scanListing(row)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// CountListings returns the number of stored listings.
func (s *Store) CountListings(ctx context.Context) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count listings: %w", err)
	}
	return count, nil
}

// SetListingVerification records a website check for listing id.
func (s *Store) SetListingVerification(ctx context.Context, id string, v listing.Verification) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	checked := v.CheckedAt
	if checked.IsZero() {
		checked = time.Now().UTC()
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE listings SET verified_status = ?, verified_at = ? WHERE id = ?
	`, string(v.Status), checked.Unix(), strings.TrimSpace(id))
	if err != nil {
		return fmt.Errorf("update listing verification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update listing verification: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("listing %q not found", id)
	}
	return nil
}
