package app

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/recommend"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{store.ListingActive, store.ListingReserved, true},
		{store.ListingActive, store.ListingExpired, true},
		{store.ListingActive, store.ListingSold, false},
		{store.ListingReserved, store.ListingSold, true},
		{store.ListingReserved, store.ListingActive, true},
		{store.ListingReserved, store.ListingExpired, true},
		{store.ListingSold, store.ListingActive, false},
		{store.ListingSold, store.ListingExpired, false},
		{store.ListingExpired, store.ListingActive, false},
		{store.ListingActive, store.ListingActive, false},
		{"draft", store.ListingActive, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

// listingStore serves one listing and applies transitions to it in place.
func listingStore(l store.Listing, users ...store.User) *fakeStore {
	fs := newFakeStore(users...)
	current := l
	fs.getListingFn = func(_ context.Context, id string) (store.Listing, error) {
		if id != current.ID {
			return store.Listing{}, errNoListing
		}
		return current, nil
	}
	fs.transitionListingFn = func(_ context.Context, from string, next store.Listing) (store.Listing, error) {
		if current.Status != from {
			return store.Listing{}, store.ErrStaleStatus
		}
		current = next
		return current, nil
	}
	return fs
}

var errNoListing = notFound("Listing")

func activeListing(price int64) store.Listing {
	return store.Listing{
		ID:         "lst_1",
		SellerID:   alice.ID,
		Title:      "Sourdough loaf",
		Category:   "bakery",
		Quantity:   1,
		Unit:       "pcs",
		PriceCents: price,
		Status:     store.ListingActive,
		ImageKeys:  store.StringList{},
		CreatedAt:  testNow,
	}
}

func TestReserveOwnListingIsForbidden(t *testing.T) {
	svc := newTestService(listingStore(activeListing(0), alice), Deps{})

	_, err := svc.ReserveListing(context.Background(), sessionOf(alice), "lst_1")
	requireDomainError(t, err, http.StatusForbidden, "OWN_LISTING")
}

func TestReserveListingNotifiesSeller(t *testing.T) {
	fs := listingStore(activeListing(300), alice, bob)
	hub := &fakeHub{}
	idx := &fakeSearch{}
	svc := newTestService(fs, Deps{Hub: hub, Search: idx})

	l, err := svc.ReserveListing(context.Background(), sessionOf(bob), "lst_1")
	require.NoError(t, err)
	assert.Equal(t, store.ListingReserved, l.Status)
	require.NotNil(t, l.BuyerID)
	assert.Equal(t, bob.ID, *l.BuyerID)
	require.NotNil(t, l.ReservedAt)

	reserved := fs.notificationsOf(NotificationListingReserved)
	require.Len(t, reserved, 1)
	assert.Equal(t, alice.ID, reserved[0].UserID)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, hub.recipients(realtime.MessageTypeListing))
	require.Len(t, idx.indexed, 1)
	assert.Equal(t, store.ListingReserved, idx.indexed[0].Status)

	_, err = svc.ReserveListing(context.Background(), Session{UserID: "usr_carol", UserName: "Carol"}, "lst_1")
	requireDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")
}

func TestReleaseListingClearsBuyer(t *testing.T) {
	l := activeListing(300)
	l.Status = store.ListingReserved
	l.BuyerID = ptr(bob.ID)
	fs := listingStore(l, alice, bob)
	hub := &fakeHub{}
	svc := newTestService(fs, Deps{Hub: hub})

	_, err := svc.ReleaseListing(context.Background(), sessionOf(bob), "lst_1")
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	released, err := svc.ReleaseListing(context.Background(), sessionOf(alice), "lst_1")
	require.NoError(t, err)
	assert.Equal(t, store.ListingActive, released.Status)
	assert.Nil(t, released.BuyerID)
	// The released buyer still hears about the change.
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, hub.recipients(realtime.MessageTypeListing))
	require.Len(t, fs.notificationsOf(NotificationListingReleased), 1)
	assert.Equal(t, bob.ID, fs.notificationsOf(NotificationListingReleased)[0].UserID)
}

func TestCompleteRequiresReservation(t *testing.T) {
	svc := newTestService(listingStore(activeListing(0), alice), Deps{})

	_, err := svc.CompleteListing(context.Background(), sessionOf(alice), "lst_1")
	requireDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")
}

func TestCompleteFreeListingScoresShareAndPurchase(t *testing.T) {
	l := activeListing(0)
	l.Status = store.ListingReserved
	l.BuyerID = ptr(bob.ID)
	fs := listingStore(l, alice, bob)
	svc := newTestService(fs, Deps{})

	result, err := svc.CompleteListing(context.Background(), sessionOf(alice), "lst_1")
	require.NoError(t, err)
	assert.Equal(t, store.ListingSold, result.Listing.Status)
	require.NotNil(t, result.Listing.CompletedAt)

	// Sharing is worth 10 plus Good Neighbour's 15.
	assert.Equal(t, 25, result.Gamification.PointsDelta)
	assert.Equal(t, 1, fs.stats[alice.ID].Shared)
	assert.Equal(t, 0, fs.stats[alice.ID].Sold)
	assert.Equal(t, 1, fs.stats[bob.ID].Bought)
	assert.Equal(t, 3, fs.stats[bob.ID].TotalPoints)

	completed := fs.notificationsOf(NotificationListingCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, bob.ID, completed[0].UserID)
}

func TestCompletePaidListingScoresSale(t *testing.T) {
	l := activeListing(450)
	l.Status = store.ListingReserved
	l.BuyerID = ptr(bob.ID)
	fs := listingStore(l, alice, bob)
	svc := newTestService(fs, Deps{})

	result, err := svc.CompleteListing(context.Background(), sessionOf(alice), "lst_1")
	require.NoError(t, err)
	assert.Equal(t, 1, fs.stats[alice.ID].Sold)
	require.Len(t, result.Gamification.Awards, 1)
	assert.Equal(t, "first_sale", result.Gamification.Awards[0].Badge.Code)

	_, err = svc.CompleteListing(context.Background(), sessionOf(alice), "lst_1")
	requireDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")
}

func TestTransitionReportsConcurrentChange(t *testing.T) {
	fs := listingStore(activeListing(0), alice, bob)
	fs.transitionListingFn = func(context.Context, string, store.Listing) (store.Listing, error) {
		return store.Listing{}, store.ErrStaleStatus
	}
	svc := newTestService(fs, Deps{})

	_, err := svc.ReserveListing(context.Background(), sessionOf(bob), "lst_1")
	requireDomainError(t, err, http.StatusConflict, "INVALID_TRANSITION")
	assert.Empty(t, fs.notificationsOf(NotificationListingReserved))
}

func TestExpireListingAllowsAdmin(t *testing.T) {
	fs := listingStore(activeListing(0), alice, bob, admin)
	svc := newTestService(fs, Deps{})

	_, err := svc.ExpireListing(context.Background(), sessionOf(bob), "lst_1")
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")

	l, err := svc.ExpireListing(context.Background(), sessionOf(admin), "lst_1")
	require.NoError(t, err)
	assert.Equal(t, store.ListingExpired, l.Status)
}

func TestDeleteSoldListingIsRejected(t *testing.T) {
	l := activeListing(0)
	l.Status = store.ListingSold
	svc := newTestService(listingStore(l, alice), Deps{})

	err := svc.DeleteListing(context.Background(), sessionOf(alice), "lst_1")
	requireDomainError(t, err, http.StatusConflict, "LISTING_SOLD")
}

func TestUpdateReservedListingIsRejected(t *testing.T) {
	l := activeListing(0)
	l.Status = store.ListingReserved
	svc := newTestService(listingStore(l, alice), Deps{})

	_, err := svc.UpdateListing(context.Background(), sessionOf(alice), "lst_1", ListingInput{
		Title: "Bread", Category: "bakery", Quantity: 1, Unit: "pcs",
	})
	requireDomainError(t, err, http.StatusConflict, "LISTING_NOT_EDITABLE")
}

func TestCreateListingFromProductFillsBlanks(t *testing.T) {
	fs := newFakeStore(alice, bob)
	expires := testNow.AddDate(0, 0, 3)
	fs.getProductFn = func(_ context.Context, id string) (store.Product, error) {
		return store.Product{
			ID: id, OwnerID: alice.ID, Name: "Greek yoghurt", Category: "dairy",
			Quantity: 4, Unit: "pcs", UnitPriceCents: 125, ExpiresOn: &expires,
		}, nil
	}
	svc := newTestService(fs, Deps{})

	l, err := svc.CreateListing(context.Background(), sessionOf(alice), ListingInput{
		ProductID:  ptr("prd_1"),
		Quantity:   2,
		PriceCents: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "Greek yoghurt", l.Title)
	assert.Equal(t, "dairy", l.Category)
	assert.Equal(t, "pcs", l.Unit)
	assert.Equal(t, store.ListingActive, l.Status)
	require.NotNil(t, l.OriginalPriceCents)
	assert.Equal(t, int64(250), *l.OriginalPriceCents)
	require.NotNil(t, l.ExpiresOn)
	assert.Equal(t, expires.Format(time.DateOnly), l.ExpiresOn.Format(time.DateOnly))

	_, err = svc.CreateListing(context.Background(), sessionOf(alice), ListingInput{ProductID: ptr("prd_1"), Quantity: 5})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "INSUFFICIENT_QUANTITY")

	_, err = svc.CreateListing(context.Background(), sessionOf(bob), ListingInput{ProductID: ptr("prd_1")})
	requireDomainError(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestCreateListingValidation(t *testing.T) {
	svc := newTestService(newFakeStore(alice), Deps{})
	base := ListingInput{Title: "Apples", Category: "produce", Quantity: 2, Unit: "kg", PriceCents: 200}

	withOriginal := base
	withOriginal.OriginalPriceCents = ptr(int64(100))
	_, err := svc.CreateListing(context.Background(), sessionOf(alice), withOriginal)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	halfLocated := base
	halfLocated.Lat = ptr(1.3)
	_, err = svc.CreateListing(context.Background(), sessionOf(alice), halfLocated)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	foreignImage := base
	foreignImage.ImageKeys = []string{"listings/usr_bob/abc.jpg"}
	_, err = svc.CreateListing(context.Background(), sessionOf(alice), foreignImage)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	traversal := foreignImage
	traversal.ImageKeys = []string{"listings/" + alice.ID + "/../usr_bob/0b6c5f8e-3a1d-4c55-9a6e-2f1d7c9b8a10.jpg"}
	_, err = svc.CreateListing(context.Background(), sessionOf(alice), traversal)
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func located(id string, lat, lng float64) store.Listing {
	l := activeListing(0)
	l.ID = id
	l.Lat, l.Lng = ptr(lat), ptr(lng)
	return l
}

func TestBrowseListingsAcrossAntimeridian(t *testing.T) {
	fs := newFakeStore()
	var got store.ListingFilter
	fs.browseListingsFn = func(_ context.Context, filter store.ListingFilter) ([]store.Listing, error) {
		got = filter
		return []store.Listing{located("fiji", 0, -179.95)}, nil
	}
	svc := newTestService(fs, Deps{})

	result, err := svc.BrowseListings(context.Background(), BrowseInput{Lat: ptr(0.0), Lng: ptr(179.95), RadiusKm: 20})
	require.NoError(t, err)

	require.NotNil(t, got.MinLng)
	require.NotNil(t, got.MaxLng)
	assert.Greater(t, *got.MinLng, *got.MaxLng)
	assert.LessOrEqual(t, -179.95, *got.MaxLng)
	require.Len(t, result.Listings, 1)
	require.NotNil(t, result.Listings[0].DistanceKm)
	assert.InDelta(t, 11.12, *result.Listings[0].DistanceKm, 0.05)
}

func TestBrowseListingsByDistance(t *testing.T) {
	fs := newFakeStore()
	var got store.ListingFilter
	fs.browseListingsFn = func(_ context.Context, filter store.ListingFilter) ([]store.Listing, error) {
		got = filter
		return []store.Listing{
			located("far", 1.3521, 103.9500),  // ~14.5 km east
			located("near", 1.3530, 103.8200), // ~0.1 km
			located("mid", 1.3000, 103.8198),  // ~5.8 km south
			activeListing(0),                  // no location
		}, nil
	}
	svc := newTestService(fs, Deps{})

	result, err := svc.BrowseListings(context.Background(), BrowseInput{Lat: ptr(1.3521), Lng: ptr(103.8198)})
	require.NoError(t, err)

	require.NotNil(t, got.MinLat)
	require.NotNil(t, got.MaxLng)
	assert.Less(t, *got.MinLat, 1.3521)
	assert.Greater(t, *got.MaxLng, 103.8198)
	require.Len(t, result.Listings, 2)
	assert.Equal(t, "near", result.Listings[0].ID)
	assert.Equal(t, "mid", result.Listings[1].ID)
	require.NotNil(t, result.Listings[1].DistanceKm)
	assert.InDelta(t, 5.8, *result.Listings[1].DistanceKm, 0.2)

	result, err = svc.BrowseListings(context.Background(), BrowseInput{Lat: ptr(1.3521), Lng: ptr(103.8198), RadiusKm: 20, Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Listings, 1)
	assert.Equal(t, "mid", result.Listings[0].ID)
}

func TestBrowseListingsRejectsBadInput(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{})
	ctx := context.Background()

	_, err := svc.BrowseListings(ctx, BrowseInput{Lat: ptr(1.3)})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.BrowseListings(ctx, BrowseInput{Lat: ptr(1.3), Lng: ptr(103.8), RadiusKm: 500})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.BrowseListings(ctx, BrowseInput{MinPrice: ptr(int64(500)), MaxPrice: ptr(int64(100))})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestBrowseListingsUsesSearchRanking(t *testing.T) {
	fs := newFakeStore()
	var got store.ListingFilter
	fs.browseListingsFn = func(_ context.Context, filter store.ListingFilter) ([]store.Listing, error) {
		got = filter
		return nil, nil
	}
	idx := &fakeSearch{response: search.Response{
		Results: []search.Result{{ID: "lst_9"}, {ID: "lst_2"}},
		Source:  "meilisearch",
	}}
	svc := newTestService(fs, Deps{Search: idx})

	result, err := svc.BrowseListings(context.Background(), BrowseInput{Query: " bread ", Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, []string{"lst_9", "lst_2"}, got.IDs)
	assert.Equal(t, maxBrowseLimit, got.Limit)
	assert.Equal(t, "meilisearch", result.SearchSource)
}

func TestBrowseListingsOverHTTP(t *testing.T) {
	fs := newFakeStore(bob)
	fs.browseListingsFn = func(_ context.Context, filter store.ListingFilter) ([]store.Listing, error) {
		assert.Equal(t, "bakery", filter.Category)
		require.NotNil(t, filter.MaxPrice)
		assert.Equal(t, int64(500), *filter.MaxPrice)
		return []store.Listing{activeListing(0)}, nil
	}
	svc := newTestService(fs, Deps{})
	handler := NewHTTPServer(svc).Handler()
	token := tokenFor(t, svc, bob)

	rr := doJSON(t, handler, http.MethodGet, "/api/marketplace/listings?category=Bakery&maxPrice=500", token, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "lst_1", gjson.Get(rr.Body.String(), "listings.0.id").String())

	rr = doJSON(t, handler, http.MethodGet, "/api/marketplace/listings?maxPrice=cheap", token, "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "maxPrice", gjson.Get(rr.Body.String(), "details.param").String())
}

func TestMyListingsRouteIsNotAListingID(t *testing.T) {
	fs := newFakeStore(alice)
	fs.getListingFn = func(context.Context, string) (store.Listing, error) {
		t.Fatal("mine must not be routed to the listing lookup")
		return store.Listing{}, nil
	}
	svc := newTestService(fs, Deps{})

	rr := doJSON(t, NewHTTPServer(svc).Handler(), http.MethodGet, "/api/marketplace/listings/mine", tokenFor(t, svc, alice), "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

type recordingRecommender struct {
	got recommend.Request
}

func (r *recordingRecommender) Suggest(_ context.Context, req recommend.Request) recommend.Suggestion {
	r.got = req
	return recommend.Suggestion{RecommendedCents: req.OriginalPriceCents / 2, Source: "test"}
}

func TestPriceSuggestionDefaults(t *testing.T) {
	rec := &recordingRecommender{}
	l := activeListing(300)
	svc := newTestService(listingStore(l, alice), Deps{Recommender: rec})

	s, err := svc.PriceSuggestion(context.Background(), "lst_1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), s.RecommendedCents)
	assert.Equal(t, int64(300), rec.got.OriginalPriceCents)
	assert.Equal(t, defaultDaysUntilExpiry, rec.got.DaysUntilExpiry)

	_, err = svc.SuggestDraftPrice(context.Background(), PriceRequest{
		Category:           "Dairy",
		OriginalPriceCents: 400,
		ExpiresOn:          testNow.AddDate(0, 0, 2).Format(time.DateOnly),
	})
	require.NoError(t, err)
	assert.Equal(t, "dairy", rec.got.Category)
	assert.Equal(t, 2, rec.got.DaysUntilExpiry)

	free := activeListing(0)
	svc = newTestService(listingStore(free, alice), Deps{Recommender: rec})
	_, err = svc.PriceSuggestion(context.Background(), "lst_1")
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestUploadWithoutMediaStore(t *testing.T) {
	svc := newTestService(newFakeStore(alice), Deps{})

	_, err := svc.UploadImage(context.Background(), sessionOf(alice), nil)
	requireDomainError(t, err, http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE")
}

func TestSearchListingsRequiresQuery(t *testing.T) {
	svc := newTestService(newFakeStore(), Deps{Search: &fakeSearch{}})

	_, err := svc.SearchListings(context.Background(), search.Query{Text: "  "})
	requireDomainError(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	svc = newTestService(newFakeStore(), Deps{})
	_, err = svc.SearchListings(context.Background(), search.Query{Text: "milk"})
	requireDomainError(t, err, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE")
}
