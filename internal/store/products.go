package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, owner_id, name, category, quantity, unit, unit_price_cents,
	purchased_on, expires_on, notes, created_at, updated_at`

func (s *PostgresStore) CreateProduct(ctx context.Context, p Product) (Product, error) {
	var created Product
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO products (id, owner_id, name, category, quantity, unit, unit_price_cents, purchased_on, expires_on, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+productColumns,
		p.ID, p.OwnerID, p.Name, p.Category, p.Quantity, p.Unit, p.UnitPriceCents, p.PurchasedOn, p.ExpiresOn, p.Notes)
	if err != nil {
		return Product{}, fmt.Errorf("insert product: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (Product, error) {
	var p Product
	err := s.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return p, err
}

func (s *PostgresStore) ListProducts(ctx context.Context, ownerID string, filter ProductFilter) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE owner_id = $1`
	args := []any{ownerID}
	if !filter.IncludeEmpty {
		query += ` AND quantity > 0`
	}
	if filter.ExpiringWithinDays != nil {
		now := filter.Now
		if now.IsZero() {
			now = time.Now()
		}
		cutoff := now.AddDate(0, 0, *filter.ExpiringWithinDays)
		args = append(args, cutoff.Format(time.DateOnly))
		query += fmt.Sprintf(` AND expires_on IS NOT NULL AND expires_on <= $%d`, len(args))
	}
	query += ` ORDER BY expires_on ASC NULLS LAST, created_at DESC`

	products := []Product{}
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p Product) (Product, error) {
	var updated Product
	err := s.db.GetContext(ctx, &updated, `
		UPDATE products
		SET name = $3, category = $4, quantity = $5, unit = $6, unit_price_cents = $7,
			purchased_on = $8, expires_on = $9, notes = $10, updated_at = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING `+productColumns,
		p.ID, p.OwnerID, p.Name, p.Category, p.Quantity, p.Unit, p.UnitPriceCents, p.PurchasedOn, p.ExpiresOn, p.Notes)
	return updated, err
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	return requireAffected(res, "delete product")
}

// RecordInteraction decrements the product and logs the interaction in one
// transaction. The product row is locked so concurrent interactions cannot
// overdraw it.
func (s *PostgresStore) RecordInteraction(ctx context.Context, in ProductInteraction) (Product, ProductInteraction, error) {
	var (
		product  Product
		recorded ProductInteraction
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &product, `
			SELECT `+productColumns+` FROM products WHERE id = $1 AND owner_id = $2 FOR UPDATE
		`, in.ProductID, in.UserID); err != nil {
			return err
		}
		if in.Quantity > product.Quantity+1e-9 {
			return ErrInsufficientQuantity
		}
		remaining := math.Max(0, math.Round((product.Quantity-in.Quantity)*1000)/1000)

		if err := tx.GetContext(ctx, &product, `
			UPDATE products SET quantity = $2, updated_at = NOW() WHERE id = $1
			RETURNING `+productColumns, product.ID, remaining); err != nil {
			return fmt.Errorf("decrement product: %w", err)
		}

		in.Unit = product.Unit
		in.Category = product.Category
		in.UnitPriceCents = product.UnitPriceCents
		if err := tx.GetContext(ctx, &recorded, `
			INSERT INTO product_interactions (id, product_id, user_id, type, quantity, unit, category, unit_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, product_id, user_id, type, quantity, unit, category, unit_price_cents, created_at
		`, in.ID, in.ProductID, in.UserID, in.Type, in.Quantity, in.Unit, in.Category, in.UnitPriceCents); err != nil {
			return fmt.Errorf("insert interaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return Product{}, ProductInteraction{}, err
	}
	return product, recorded, nil
}

// ListInteractions returns a user's interactions since the given time, or all
// of them when since is zero.
func (s *PostgresStore) ListInteractions(ctx context.Context, userID string, since time.Time) ([]ProductInteraction, error) {
	query := `SELECT id, product_id, user_id, type, quantity, unit, category, unit_price_cents, created_at
		FROM product_interactions WHERE user_id = $1`
	args := []any{userID}
	if !since.IsZero() {
		query += ` AND created_at >= $2`
		args = append(args, since)
	}
	query += ` ORDER BY created_at ASC`

	out := []ProductInteraction{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CountExpiringProducts(ctx context.Context, ownerID string, until time.Time) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `
		SELECT COUNT(*) FROM products
		WHERE owner_id = $1 AND quantity > 0 AND expires_on IS NOT NULL AND expires_on <= $2
	`, ownerID, until.Format(time.DateOnly))
	if err != nil {
		return 0, fmt.Errorf("count expiring products: %w", err)
	}
	return n, nil
}

// ListProductsExpiringBetween returns non-empty products across all users
// whose expiry date falls in [from, to].
func (s *PostgresStore) ListProductsExpiringBetween(ctx context.Context, from, to time.Time) ([]ExpiringProduct, error) {
	out := []ExpiringProduct{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT p.id, p.owner_id, p.name, p.category, p.quantity, p.unit, p.unit_price_cents,
			p.purchased_on, p.expires_on, p.notes, p.created_at, p.updated_at,
			u.email AS owner_email, u.display_name AS owner_display_name
		FROM products p
		JOIN users u ON u.id = p.owner_id
		WHERE p.quantity > 0 AND p.expires_on BETWEEN $1 AND $2
		ORDER BY p.owner_id, p.expires_on
	`, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("list expiring products: %w", err)
	}
	return out, nil
}

