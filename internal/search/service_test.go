package search

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	healthy  bool
	results  []Result
	err      error
	indexed  []ListingRecord
	deleted  []string
	searched int
}

func (f *fakeBackend) Healthy() bool { return f.healthy }

func (f *fakeBackend) Search(context.Context, Query) ([]Result, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searched++
	return f.results, len(f.results), f.err
}

func (f *fakeBackend) IndexListings(_ context.Context, recs []ListingRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, recs...)
	return nil
}

func (f *fakeBackend) DeleteListing(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) LoadActiveListings(context.Context) ([]ListingRecord, error) {
	return []ListingRecord{{ID: "lst_1", Status: "active"}, {ID: "lst_2", Status: "active"}}, nil
}

func TestServiceUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &fakeBackend{healthy: true, results: []Result{{ID: "lst_1"}}}
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: "lst_9"}}}
	svc := &Service{primary: primary, fallback: fallback}

	resp := svc.Search(context.Background(), Query{Text: "bread"})
	assert.Equal(t, SourceMeili, resp.Source)
	assert.Equal(t, []string{"lst_1"}, resp.IDs())
	assert.Zero(t, fallback.searched)
}

func TestServiceFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeBackend{healthy: true, err: errors.New("boom")}
	fallback := &fakeBackend{healthy: true, results: []Result{{ID: "lst_9"}}}
	svc := &Service{primary: primary, fallback: fallback}

	resp := svc.Search(context.Background(), Query{Text: "bread"})
	assert.Equal(t, SourcePgFTS, resp.Source)
	assert.Equal(t, []string{"lst_9"}, resp.IDs())
}

func TestServiceSkipsUnhealthyPrimary(t *testing.T) {
	primary := &fakeBackend{healthy: false}
	svc := &Service{primary: primary, fallback: &fakeBackend{}}

	resp := svc.Search(context.Background(), Query{Text: "bread"})
	assert.Equal(t, SourcePgFTS, resp.Source)
	assert.NotNil(t, resp.Results)
	assert.Zero(t, primary.searched)

	svc.IndexListing(ListingRecord{ID: "lst_1", Status: "active"})
	svc.Wait()
	assert.Empty(t, primary.indexed)
}

func TestServiceIndexesActiveAndDropsInactive(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := &Service{primary: primary}

	svc.IndexListing(ListingRecord{ID: "lst_1", Status: "active"})
	svc.IndexListing(ListingRecord{ID: "lst_2", Status: "sold"})
	svc.DeleteListing("lst_3")
	svc.Wait()

	require.Len(t, primary.indexed, 1)
	assert.Equal(t, "lst_1", primary.indexed[0].ID)
	assert.ElementsMatch(t, []string{"lst_2", "lst_3"}, primary.deleted)
}

func TestReindexAll(t *testing.T) {
	primary := &fakeBackend{healthy: true}
	svc := &Service{primary: primary, loader: primary}

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, primary.indexed, 2)
}

func TestPgFTSSearch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	p := NewPgFTS(sqlx.NewDb(db, "pgx"))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM listings l WHERE l.status = 'active'`)).
		WithArgs("sourdough", "bakery").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT l.id, l.title, l.category, l.price_cents,.*LIMIT 20 OFFSET 0`).
		WithArgs("sourdough", "bakery").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "category", "price_cents", "snippet"}).
			AddRow("lst_1", "Sourdough loaf", "bakery", int64(200), "fresh <b>sourdough</b>"))

	results, total, err := p.Search(context.Background(), Query{Text: "sourdough", Category: "bakery"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "Sourdough loaf", results[0].Title)
	assert.Equal(t, int64(200), results[0].PriceCents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgFTSBlankQuery(t *testing.T) {
	p := NewPgFTS(nil)
	results, total, err := p.Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	assert.Nil(t, results)
	assert.Zero(t, total)
}

func TestQueryLimitClamp(t *testing.T) {
	assert.Equal(t, defaultLimit, Query{}.limit())
	assert.Equal(t, maxLimit, Query{Limit: 5000}.limit())
	assert.Equal(t, 7, Query{Limit: 7}.limit())
}

func TestBuildFilter(t *testing.T) {
	assert.Equal(t, []string{`status = "active"`}, buildFilter(Query{}))
	assert.Equal(t, []string{`status = "active"`, `category = "dairy"`}, buildFilter(Query{Category: "dairy"}))
}
