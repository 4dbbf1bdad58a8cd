// Package search indexes marketplace listings in Meilisearch and falls back
// to Postgres full-text search when Meilisearch is unavailable.
package search

import "context"

const (
	SourceMeili = "meilisearch"
	SourcePgFTS = "pgfts"

	defaultLimit = 20
	maxLimit     = 200
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID         string `json:"id" db:"id"`
	Title      string `json:"title" db:"title"`
	Snippet    string `json:"snippet" db:"snippet"`
	Category   string `json:"category" db:"category"`
	PriceCents int64  `json:"priceCents" db:"price_cents"`
}

// Query describes a search request. Only active listings are searched.
type Query struct {
	Text     string
	Category string
	Limit    int
	Offset   int
}

func (q Query) limit() int {
	switch {
	case q.Limit <= 0:
		return defaultLimit
	case q.Limit > maxLimit:
		return maxLimit
	}
	return q.Limit
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// IDs returns the result IDs in rank order.
func (r Response) IDs() []string {
	ids := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		ids = append(ids, res.ID)
	}
	return ids
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push listings into a search index.
type Indexer interface {
	IndexListings(ctx context.Context, records []ListingRecord) error
	DeleteListing(ctx context.Context, id string) error
}

// ListingRecord is the data we index for a listing.
type ListingRecord struct {
	ID          string `json:"id" db:"id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	Category    string `json:"category" db:"category"`
	Status      string `json:"status" db:"status"`
	SellerID    string `json:"sellerId" db:"seller_id"`
	PriceCents  int64  `json:"priceCents" db:"price_cents"`
	CreatedAt   int64  `json:"createdAt" db:"created_at"`
}
