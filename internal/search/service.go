package search

import (
	"context"
	"sync"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
)

const indexTimeout = 10 * time.Second

type primary interface {
	Searcher
	Indexer
}

// RecordLoader supplies the full set of listings for a reindex.
type RecordLoader interface {
	LoadActiveListings(ctx context.Context) ([]ListingRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  primary
	fallback Searcher
	loader   RecordLoader
	pending  sync.WaitGroup
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(m *Meili, pgfts *PgFTS) *Service {
	s := &Service{}
	if m != nil {
		s.primary = m
	}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourceMeili}
		}
		logging.Ctx(ctx).Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text, Source: SourcePgFTS}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Query: q.Text, Source: SourcePgFTS}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: SourcePgFTS}
}

// IndexListing pushes a listing to Meilisearch in the background. Listings
// that are no longer active are removed from the index instead.
func (s *Service) IndexListing(rec ListingRecord) {
	if rec.Status != "" && rec.Status != "active" {
		s.DeleteListing(rec.ID)
		return
	}
	s.background("index", rec.ID, func(ctx context.Context) error {
		return s.primary.IndexListings(ctx, []ListingRecord{rec})
	})
}

// DeleteListing removes a listing from the index in the background.
func (s *Service) DeleteListing(id string) {
	s.background("delete", id, func(ctx context.Context) error {
		return s.primary.DeleteListing(ctx, id)
	})
}

func (s *Service) background(op, id string, fn func(context.Context) error) {
	if !s.primaryHealthy() {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			logging.Warn().Err(err).Str("op", op).Str("listing_id", id).Msg("search index update failed")
		}
	}()
}

// Wait blocks until background index updates finish.
func (s *Service) Wait() {
	s.pending.Wait()
}

// ReindexAll reads active listings from Postgres and pushes them to
// Meilisearch. It returns the number of listings sent.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	if !s.primaryHealthy() || s.loader == nil {
		return 0, nil
	}
	records, err := s.loader.LoadActiveListings(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexListings(ctx, records); err != nil {
		return 0, err
	}
	logging.Info().Int("listings", len(records)).Msg("search reindex complete")
	return len(records), nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
