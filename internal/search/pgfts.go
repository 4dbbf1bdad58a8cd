package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// PgFTS implements Searcher over the listings.search_vector column.
type PgFTS struct {
	db *sqlx.DB
}

func NewPgFTS(db *sqlx.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search ranks active listings with ts_rank and builds snippets with
// ts_headline.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	where := `l.status = 'active' AND l.search_vector @@ plainto_tsquery('english', $1)`
	args := []any{q.Text}
	if q.Category != "" {
		where += ` AND l.category = $2`
		args = append(args, q.Category)
	}

	var total int
	if err := p.db.GetContext(ctx, &total, `SELECT count(*) FROM listings l WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	dataSQL := fmt.Sprintf(`
		SELECT l.id, l.title, l.category, l.price_cents,
			ts_headline('english', coalesce(l.description, ''), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM listings l
		WHERE %s
		ORDER BY ts_rank(l.search_vector, plainto_tsquery('english', $1)) DESC, l.created_at DESC
		LIMIT %d OFFSET %d`, where, q.limit(), offset)

	var results []Result
	if err := p.db.SelectContext(ctx, &results, dataSQL, args...); err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	return results, total, nil
}

// LoadActiveListings returns every active listing for a full reindex.
func (p *PgFTS) LoadActiveListings(ctx context.Context) ([]ListingRecord, error) {
	records := []ListingRecord{}
	err := p.db.SelectContext(ctx, &records, `
		SELECT id, title, description, category, status, seller_id, price_cents,
			EXTRACT(EPOCH FROM created_at)::bigint AS created_at
		FROM listings
		WHERE status = 'active'`)
	if err != nil {
		return nil, fmt.Errorf("load listings: %w", err)
	}
	return records, nil
}
