package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

const listingSelect = `SELECT l.id, l.seller_id, u.display_name AS seller_name, l.product_id, l.title,
	l.description, l.category, l.quantity, l.unit, l.price_cents, l.original_price_cents, l.expires_on,
	l.pickup_location, l.lat, l.lng, l.image_keys, l.status, l.buyer_id, l.reserved_at, l.completed_at,
	l.created_at, l.updated_at
	FROM listings l
	JOIN users u ON u.id = l.seller_id`

func (s *PostgresStore) CreateListing(ctx context.Context, l Listing) (Listing, error) {
	if l.Status == "" {
		l.Status = ListingActive
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO listings (id, seller_id, product_id, title, description, category, quantity, unit,
			price_cents, original_price_cents, expires_on, pickup_location, lat, lng, image_keys, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, l.ID, l.SellerID, l.ProductID, l.Title, l.Description, l.Category, l.Quantity, l.Unit,
		l.PriceCents, l.OriginalPriceCents, l.ExpiresOn, l.PickupLocation, l.Lat, l.Lng, l.ImageKeys, l.Status)
	if err != nil {
		return Listing{}, fmt.Errorf("insert listing: %w", err)
	}
	return s.GetListing(ctx, l.ID)
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (Listing, error) {
	var l Listing
	err := s.db.GetContext(ctx, &l, listingSelect+` WHERE l.id = $1`, id)
	return l, err
}

// UpdateListing rewrites the editable fields of an active listing.
func (s *PostgresStore) UpdateListing(ctx context.Context, l Listing) (Listing, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET title = $2, description = $3, category = $4, quantity = $5, unit = $6, price_cents = $7,
			original_price_cents = $8, expires_on = $9, pickup_location = $10, lat = $11, lng = $12,
			image_keys = $13, updated_at = NOW()
		WHERE id = $1 AND status = 'active'
	`, l.ID, l.Title, l.Description, l.Category, l.Quantity, l.Unit, l.PriceCents,
		l.OriginalPriceCents, l.ExpiresOn, l.PickupLocation, l.Lat, l.Lng, l.ImageKeys)
	if err != nil {
		return Listing{}, fmt.Errorf("update listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Listing{}, ErrStaleStatus
	}
	return s.GetListing(ctx, l.ID)
}

func (s *PostgresStore) DeleteListing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1 AND status <> 'sold'`, id)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStaleStatus
	}
	return nil
}

// BrowseListings returns active listings matching filter, newest first.
func (s *PostgresStore) BrowseListings(ctx context.Context, filter ListingFilter) ([]Listing, error) {
	out := []Listing{}
	if filter.IDs != nil && len(filter.IDs) == 0 {
		return out, nil
	}

	conds := []string{`l.status = 'active'`}
	args := []any{}
	if filter.Category != "" {
		conds = append(conds, `l.category = ?`)
		args = append(args, filter.Category)
	}
	if q := strings.TrimSpace(filter.Query); q != "" && filter.IDs == nil {
		conds = append(conds, `l.search_vector @@ plainto_tsquery('english', ?)`)
		args = append(args, q)
	}
	if filter.MinPrice != nil {
		conds = append(conds, `l.price_cents >= ?`)
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		conds = append(conds, `l.price_cents <= ?`)
		args = append(args, *filter.MaxPrice)
	}
	if filter.MinLat != nil && filter.MaxLat != nil && filter.MinLng != nil && filter.MaxLng != nil {
		conds = append(conds, `l.lat BETWEEN ? AND ?`)
		args = append(args, *filter.MinLat, *filter.MaxLat)
		if *filter.MinLng <= *filter.MaxLng {
			conds = append(conds, `l.lng BETWEEN ? AND ?`)
		} else {
			// Box crosses the antimeridian.
			conds = append(conds, `(l.lng >= ? OR l.lng <= ?)`)
		}
		args = append(args, *filter.MinLng, *filter.MaxLng)
	}
	if len(filter.IDs) > 0 {
		conds = append(conds, `l.id IN (?)`)
		args = append(args, filter.IDs)
	}

	query := listingSelect + ` WHERE ` + strings.Join(conds, ` AND `) + ` ORDER BY l.created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build browse query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("browse listings: %w", err)
	}
	return out, nil
}

// ListingsBySeller returns a seller's listings; status "" means all.
func (s *PostgresStore) ListingsBySeller(ctx context.Context, sellerID, status string) ([]Listing, error) {
	query := listingSelect + ` WHERE l.seller_id = $1`
	args := []any{sellerID}
	if status != "" {
		query += ` AND l.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY l.created_at DESC`

	out := []Listing{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list seller listings: %w", err)
	}
	return out, nil
}

// ListingsByBuyer returns listings reserved or bought by buyerID.
func (s *PostgresStore) ListingsByBuyer(ctx context.Context, buyerID string) ([]Listing, error) {
	out := []Listing{}
	if err := s.db.SelectContext(ctx, &out, listingSelect+` WHERE l.buyer_id = $1 ORDER BY l.updated_at DESC`, buyerID); err != nil {
		return nil, fmt.Errorf("list buyer listings: %w", err)
	}
	return out, nil
}

// TransitionListing moves a listing from status `from` to next.Status,
// writing next's buyer and timestamps. It fails with ErrStaleStatus if the
// row is no longer in `from`.
func (s *PostgresStore) TransitionListing(ctx context.Context, from string, next Listing) (Listing, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE listings
		SET status = $3, buyer_id = $4, reserved_at = $5, completed_at = $6, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, next.ID, from, next.Status, next.BuyerID, next.ReservedAt, next.CompletedAt)
	if err != nil {
		return Listing{}, fmt.Errorf("transition listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Listing{}, ErrStaleStatus
	}
	return s.GetListing(ctx, next.ID)
}

// ExpireOverdueListings marks active and reserved listings whose expiry date
// is before today as expired and returns them.
func (s *PostgresStore) ExpireOverdueListings(ctx context.Context, today time.Time) ([]Listing, error) {
	out := []Listing{}
	err := s.db.SelectContext(ctx, &out, `
		UPDATE listings
		SET status = 'expired', updated_at = NOW()
		WHERE status IN ('active', 'reserved') AND expires_on < $1
		RETURNING id, seller_id, title, status, buyer_id
	`, today.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("expire listings: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountActiveListings(ctx context.Context, sellerID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM listings WHERE seller_id = $1 AND status = 'active'`, sellerID)
	if err != nil {
		return 0, fmt.Errorf("count active listings: %w", err)
	}
	return n, nil
}
