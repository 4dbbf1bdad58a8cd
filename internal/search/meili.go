package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
)

const idxListings = "ecoplate_listings"

var errUnhealthy = errors.New("meilisearch unhealthy")

// Meili implements Searcher and Indexer via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the listings index.
// A failed initial health check leaves the client unhealthy; the health loop
// reconfigures the index once Meilisearch becomes reachable.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxListings,
		PrimaryKey: "id",
	}); err != nil {
		logging.Debug().Err(err).Str("index", idxListings).Msg("create index (may already exist)")
	}

	index := m.client.Index(idxListings)
	filterable := []interface{}{"category", "status", "sellerId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		logging.Warn().Err(err).Str("index", idxListings).Msg("update filterable attributes")
	}
	searchable := []string{"title", "description", "category"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		logging.Warn().Err(err).Str("index", idxListings).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				logging.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, errUnhealthy
	}

	sr := &meili.SearchRequest{
		IndexUID:              idxListings,
		Query:                 q.Text,
		Limit:                 int64(q.limit()),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"title", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		Filter:                buildFilter(q),
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	var results []Result
	total := 0
	for _, r := range resp.Results {
		total += int(r.EstimatedTotalHits)
		for _, hit := range r.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func buildFilter(q Query) []string {
	filters := []string{`status = "active"`}
	if q.Category != "" {
		filters = append(filters, fmt.Sprintf("category = %q", q.Category))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:       decodeString(hit, "id"),
		Category: decodeString(hit, "category"),
		Title:    firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title")),
		Snippet:  firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description")),
	}
	if raw, ok := hit["priceCents"]; ok {
		_ = json.Unmarshal(raw, &r.PriceCents)
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexListings adds or replaces listings in the index.
func (m *Meili) IndexListings(_ context.Context, records []ListingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if !m.healthy.Load() {
		return errUnhealthy
	}
	_, err := m.client.Index(idxListings).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteListing(_ context.Context, id string) error {
	if !m.healthy.Load() {
		return errUnhealthy
	}
	_, err := m.client.Index(idxListings).DeleteDocument(id, nil)
	return err
}
