package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/GDIPSA-Team2/ecoplate/internal/gamification"
	"github.com/GDIPSA-Team2/ecoplate/internal/geo"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/media"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
	"github.com/GDIPSA-Team2/ecoplate/internal/rbac"
	"github.com/GDIPSA-Team2/ecoplate/internal/realtime"
	"github.com/GDIPSA-Team2/ecoplate/internal/recommend"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
	"github.com/GDIPSA-Team2/ecoplate/internal/store"
	"github.com/GDIPSA-Team2/ecoplate/internal/util"
)

const (
	NotificationListingReserved  = "listing_reserved"
	NotificationListingReleased  = "listing_released"
	NotificationListingCompleted = "listing_completed"
	NotificationListingExpired   = "listing_expired"

	defaultBrowseLimit = 20
	maxBrowseLimit     = 100
	defaultRadiusKm    = 10.0
	maxRadiusKm        = 100.0
	maxSearchHits      = 200
	// Used for price suggestions when a listing has no expiry date.
	defaultDaysUntilExpiry = 14
)

type ListingInput struct {
	ProductID          *string  `json:"productId"`
	Title              string   `json:"title" validate:"required,max=120"`
	Description        string   `json:"description" validate:"max=2000"`
	Category           string   `json:"category" validate:"required,oneof=produce dairy meat seafood bakery grains beverages prepared eggs other"`
	Quantity           float64  `json:"quantity" validate:"gt=0"`
	Unit               string   `json:"unit" validate:"required,oneof=kg g l ml pcs"`
	PriceCents         int64    `json:"priceCents" validate:"gte=0"`
	OriginalPriceCents *int64   `json:"originalPriceCents" validate:"omitempty,gte=0"`
	ExpiresOn          string   `json:"expiresOn"`
	PickupLocation     string   `json:"pickupLocation" validate:"max=200"`
	Lat                *float64 `json:"lat" validate:"omitempty,latitude"`
	Lng                *float64 `json:"lng" validate:"omitempty,longitude"`
	ImageKeys          []string `json:"imageKeys" validate:"max=5,dive,required"`
}

func (in *ListingInput) normalise() {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	in.Unit = strings.ToLower(strings.TrimSpace(in.Unit))
	in.PickupLocation = strings.TrimSpace(in.PickupLocation)
}

// fromProduct fills blank fields from the source product.
func (in *ListingInput) fromProduct(p store.Product) {
	if in.Title == "" {
		in.Title = p.Name
	}
	if in.Category == "" {
		in.Category = p.Category
	}
	if in.Unit == "" {
		in.Unit = p.Unit
	}
	if in.Quantity == 0 {
		in.Quantity = p.Quantity
	}
	if in.ExpiresOn == "" && p.ExpiresOn != nil {
		in.ExpiresOn = p.ExpiresOn.Format(time.DateOnly)
	}
	if in.OriginalPriceCents == nil && p.UnitPriceCents > 0 {
		original := int64(math.Round(float64(p.UnitPriceCents) * in.Quantity))
		in.OriginalPriceCents = &original
	}
}

func (s *Service) listingFromInput(sess Session, in ListingInput) (store.Listing, error) {
	if err := validate(in); err != nil {
		return store.Listing{}, err
	}
	if in.OriginalPriceCents != nil && *in.OriginalPriceCents < in.PriceCents {
		return store.Listing{}, invalidInput("originalPriceCents must be at least priceCents", nil)
	}
	if (in.Lat == nil) != (in.Lng == nil) {
		return store.Listing{}, invalidInput("lat and lng must be set together", nil)
	}
	for _, key := range in.ImageKeys {
		if !media.OwnedBy(key, sess.UserID) {
			return store.Listing{}, invalidInput("Image does not belong to you", map[string]string{"key": key})
		}
	}
	expires, err := parseDate("expiresOn", in.ExpiresOn)
	if err != nil {
		return store.Listing{}, err
	}
	keys := store.StringList(in.ImageKeys)
	if keys == nil {
		keys = store.StringList{}
	}
	return store.Listing{
		SellerID:           sess.UserID,
		ProductID:          in.ProductID,
		Title:              in.Title,
		Description:        in.Description,
		Category:           in.Category,
		Quantity:           in.Quantity,
		Unit:               in.Unit,
		PriceCents:         in.PriceCents,
		OriginalPriceCents: in.OriginalPriceCents,
		ExpiresOn:          expires,
		PickupLocation:     in.PickupLocation,
		Lat:                in.Lat,
		Lng:                in.Lng,
		ImageKeys:          keys,
	}, nil
}

func (s *Service) CreateListing(ctx context.Context, sess Session, in ListingInput) (store.Listing, error) {
	in.normalise()
	if in.ProductID != nil && *in.ProductID != "" {
		p, err := s.store.GetProduct(ctx, *in.ProductID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Listing{}, notFound("Product")
		}
		if err != nil {
			return store.Listing{}, err
		}
		if p.OwnerID != sess.UserID {
			return store.Listing{}, forbidden("You can only list your own products")
		}
		in.fromProduct(p)
		if in.Quantity > p.Quantity {
			return store.Listing{}, domainError(http.StatusUnprocessableEntity, "INSUFFICIENT_QUANTITY",
				"Quantity exceeds what is left of this product", nil)
		}
	} else {
		in.ProductID = nil
	}

	l, err := s.listingFromInput(sess, in)
	if err != nil {
		return store.Listing{}, err
	}
	l.ID = util.NewID("lst")
	l.Status = store.ListingActive

	created, err := s.store.CreateListing(ctx, l)
	if err != nil {
		return store.Listing{}, err
	}
	s.reindex(created)
	s.attachImageURLs(ctx, &created)
	return created, nil
}

func (s *Service) loadListing(ctx context.Context, id string) (store.Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Listing{}, notFound("Listing")
	}
	return l, err
}

func (s *Service) GetListing(ctx context.Context, id string) (store.Listing, error) {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return store.Listing{}, err
	}
	s.attachImageURLs(ctx, &l)
	return l, nil
}

func (s *Service) UpdateListing(ctx context.Context, sess Session, id string, in ListingInput) (store.Listing, error) {
	existing, err := s.loadListing(ctx, id)
	if err != nil {
		return store.Listing{}, err
	}
	if existing.SellerID != sess.UserID {
		return store.Listing{}, forbidden("Only the seller can edit this listing")
	}
	if existing.Status != store.ListingActive {
		return store.Listing{}, listingNotEditable(existing.Status)
	}
	in.normalise()
	in.ProductID = existing.ProductID
	l, err := s.listingFromInput(sess, in)
	if err != nil {
		return store.Listing{}, err
	}
	l.ID = existing.ID

	updated, err := s.store.UpdateListing(ctx, l)
	if errors.Is(err, store.ErrStaleStatus) {
		return store.Listing{}, listingNotEditable("")
	}
	if err != nil {
		return store.Listing{}, err
	}
	s.reindex(updated)
	s.attachImageURLs(ctx, &updated)
	return updated, nil
}

func listingNotEditable(status string) *DomainError {
	var details any
	if status != "" {
		details = map[string]string{"status": status}
	}
	return domainError(http.StatusConflict, "LISTING_NOT_EDITABLE", "Only active listings can be edited", details)
}

// DeleteListing removes a listing. Sellers delete their own; moderators can
// delete any. Sold listings are kept for both parties' history.
func (s *Service) DeleteListing(ctx context.Context, sess Session, id string) error {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return err
	}
	if l.SellerID != sess.UserID && !s.Can(sess.Role, rbac.ActionModerate) {
		return forbidden("Only the seller can delete this listing")
	}
	if l.Status == store.ListingSold {
		return domainError(http.StatusConflict, "LISTING_SOLD", "Sold listings cannot be deleted", nil)
	}
	if err := s.store.DeleteListing(ctx, id); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return domainError(http.StatusConflict, "LISTING_SOLD", "Sold listings cannot be deleted", nil)
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteListing(id)
	}
	logging.Ctx(ctx).Info().Str("listing_id", id).Str("user_id", sess.UserID).Msg("listing deleted")
	return nil
}

type BrowseInput struct {
	Category string
	Query    string
	MinPrice *int64
	MaxPrice *int64
	Lat      *float64
	Lng      *float64
	RadiusKm float64
	Limit    int
	Offset   int
}

type BrowseResult struct {
	Listings     []store.Listing `json:"listings"`
	SearchSource string          `json:"searchSource,omitempty"`
}

// BrowseListings lists active listings. With a location the result is
// sorted by distance and limited to the radius, otherwise newest first.
func (s *Service) BrowseListings(ctx context.Context, in BrowseInput) (BrowseResult, error) {
	switch {
	case in.Limit <= 0:
		in.Limit = defaultBrowseLimit
	case in.Limit > maxBrowseLimit:
		in.Limit = maxBrowseLimit
	}
	if in.Offset < 0 {
		in.Offset = 0
	}
	if in.MinPrice != nil && in.MaxPrice != nil && *in.MinPrice > *in.MaxPrice {
		return BrowseResult{}, invalidInput("minPrice cannot exceed maxPrice", nil)
	}

	filter := store.ListingFilter{
		Category: strings.ToLower(strings.TrimSpace(in.Category)),
		Query:    strings.TrimSpace(in.Query),
		MinPrice: in.MinPrice,
		MaxPrice: in.MaxPrice,
	}
	var result BrowseResult
	if filter.Query != "" && s.search != nil {
		resp := s.search.Search(ctx, search.Query{Text: filter.Query, Category: filter.Category, Limit: maxSearchHits})
		filter.IDs = resp.IDs()
		result.SearchSource = resp.Source
	}

	if in.Lat == nil && in.Lng == nil {
		filter.Limit, filter.Offset = in.Limit, in.Offset
		listings, err := s.store.BrowseListings(ctx, filter)
		if err != nil {
			return BrowseResult{}, err
		}
		result.Listings = s.withImageURLs(ctx, listings)
		return result, nil
	}

	if in.Lat == nil || in.Lng == nil {
		return BrowseResult{}, invalidInput("lat and lng must be set together", nil)
	}
	center := geo.Point{Lat: *in.Lat, Lng: *in.Lng}
	if !center.Valid() {
		return BrowseResult{}, invalidInput("Location is out of range", nil)
	}
	radius := in.RadiusKm
	if radius == 0 {
		radius = defaultRadiusKm
	}
	if radius < 0 || radius > maxRadiusKm {
		return BrowseResult{}, invalidInput(fmt.Sprintf("radiusKm must be between 0 and %.0f", maxRadiusKm), nil)
	}
	minPt, maxPt := geo.BoundingBox(center, radius)
	filter.MinLat, filter.MaxLat = &minPt.Lat, &maxPt.Lat
	filter.MinLng, filter.MaxLng = &minPt.Lng, &maxPt.Lng

	candidates, err := s.store.BrowseListings(ctx, filter)
	if err != nil {
		return BrowseResult{}, err
	}
	nearby := make([]store.Listing, 0, len(candidates))
	for _, l := range candidates {
		if l.Lat == nil || l.Lng == nil {
			continue
		}
		d := geo.Haversine(center, geo.Point{Lat: *l.Lat, Lng: *l.Lng})
		if d > radius {
			continue
		}
		d = math.Round(d*100) / 100
		l.DistanceKm = &d
		nearby = append(nearby, l)
	}
	sort.SliceStable(nearby, func(i, j int) bool { return *nearby[i].DistanceKm < *nearby[j].DistanceKm })

	if in.Offset >= len(nearby) {
		nearby = nearby[:0]
	} else {
		nearby = nearby[in.Offset:]
	}
	if len(nearby) > in.Limit {
		nearby = nearby[:in.Limit]
	}
	result.Listings = s.withImageURLs(ctx, nearby)
	return result, nil
}

// MyListings returns listings the caller sells, or with buying=true the ones
// they reserved or bought.
func (s *Service) MyListings(ctx context.Context, sess Session, buying bool, status string) ([]store.Listing, error) {
	if buying {
		return s.store.ListingsByBuyer(ctx, sess.UserID)
	}
	switch status {
	case "", store.ListingActive, store.ListingReserved, store.ListingSold, store.ListingExpired:
	default:
		return nil, invalidInput("Unknown listing status", map[string]string{"status": status})
	}
	return s.store.ListingsBySeller(ctx, sess.UserID, status)
}

// transition moves current to next.Status if the lifecycle allows it.
func (s *Service) transition(ctx context.Context, current, next store.Listing) (store.Listing, error) {
	if !canTransition(current.Status, next.Status) {
		return store.Listing{}, invalidTransition(current.Status, next.Status)
	}
	updated, err := s.store.TransitionListing(ctx, current.Status, next)
	if errors.Is(err, store.ErrStaleStatus) {
		return store.Listing{}, domainError(http.StatusConflict, "INVALID_TRANSITION",
			"Listing was changed by someone else, reload and try again", nil)
	}
	if err != nil {
		return store.Listing{}, err
	}
	metrics.RecordTransition(current.Status, updated.Status)
	s.reindex(updated)

	event := realtime.Message{Type: realtime.MessageTypeListing, Data: updated}
	s.hub.SendToUser(updated.SellerID, event)
	if buyer := participantBuyer(current, updated); buyer != "" {
		s.hub.SendToUser(buyer, event)
	}
	logging.Ctx(ctx).Info().
		Str("listing_id", updated.ID).
		Str("from", current.Status).
		Str("to", updated.Status).
		Msg("listing transition")
	return updated, nil
}

// participantBuyer is the buyer before or after a transition; releasing
// clears it on the new row.
func participantBuyer(before, after store.Listing) string {
	if after.BuyerID != nil {
		return *after.BuyerID
	}
	if before.BuyerID != nil {
		return *before.BuyerID
	}
	return ""
}

func (s *Service) ReserveListing(ctx context.Context, sess Session, id string) (store.Listing, error) {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return store.Listing{}, err
	}
	if l.SellerID == sess.UserID {
		return store.Listing{}, domainError(http.StatusForbidden, "OWN_LISTING", "You cannot reserve your own listing", nil)
	}
	next := l
	buyer := sess.UserID
	now := s.now()
	next.Status = store.ListingReserved
	next.BuyerID = &buyer
	next.ReservedAt = &now

	updated, err := s.transition(ctx, l, next)
	if err != nil {
		return store.Listing{}, err
	}
	s.notify(ctx, store.Notification{
		UserID: l.SellerID,
		Type:   NotificationListingReserved,
		Title:  "Listing reserved",
		Body:   fmt.Sprintf("%s reserved %q", sess.UserName, l.Title),
		RefID:  &l.ID,
	})
	return updated, nil
}

// ReleaseListing returns a reserved listing to the market.
func (s *Service) ReleaseListing(ctx context.Context, sess Session, id string) (store.Listing, error) {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return store.Listing{}, err
	}
	if l.SellerID != sess.UserID {
		return store.Listing{}, forbidden("Only the seller can release this listing")
	}
	next := l
	next.Status = store.ListingActive
	next.BuyerID = nil
	next.ReservedAt = nil

	updated, err := s.transition(ctx, l, next)
	if err != nil {
		return store.Listing{}, err
	}
	if l.BuyerID != nil {
		s.notify(ctx, store.Notification{
			UserID: *l.BuyerID,
			Type:   NotificationListingReleased,
			Title:  "Reservation released",
			Body:   fmt.Sprintf("The seller released your reservation of %q", l.Title),
			RefID:  &l.ID,
		})
	}
	return updated, nil
}

type CompleteResult struct {
	Listing      store.Listing     `json:"listing"`
	Gamification GamificationDelta `json:"gamification"`
}

// CompleteListing marks a reserved listing as handed over and scores both
// parties: the seller for sharing or selling, the buyer for buying.
func (s *Service) CompleteListing(ctx context.Context, sess Session, id string) (CompleteResult, error) {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return CompleteResult{}, err
	}
	if l.SellerID != sess.UserID {
		return CompleteResult{}, forbidden("Only the seller can complete this listing")
	}
	if l.Status == store.ListingReserved && l.BuyerID == nil {
		return CompleteResult{}, domainError(http.StatusConflict, "BUYER_REQUIRED", "Listing has no buyer", nil)
	}
	next := l
	now := s.now()
	next.Status = store.ListingSold
	next.CompletedAt = &now

	updated, err := s.transition(ctx, l, next)
	if err != nil {
		return CompleteResult{}, err
	}

	sellerAction := gamification.ActionSold
	if l.IsFree() {
		sellerAction = gamification.ActionShared
	}
	result := CompleteResult{Listing: updated, Gamification: deltaOf(gamification.Outcome{})}
	if out, err := s.award(ctx, l.SellerID, sellerAction, l.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("listing_id", l.ID).Msg("seller award failed")
	} else {
		result.Gamification = deltaOf(out)
	}
	buyer := *l.BuyerID
	if _, err := s.award(ctx, buyer, gamification.ActionBought, l.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("listing_id", l.ID).Msg("buyer award failed")
	}
	s.notify(ctx, store.Notification{
		UserID: buyer,
		Type:   NotificationListingCompleted,
		Title:  "Pickup complete",
		Body:   fmt.Sprintf("Thanks for rescuing %q", l.Title),
		RefID:  &l.ID,
	})
	return result, nil
}

func (s *Service) ExpireListing(ctx context.Context, sess Session, id string) (store.Listing, error) {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return store.Listing{}, err
	}
	if l.SellerID != sess.UserID && !s.Can(sess.Role, rbac.ActionModerate) {
		return store.Listing{}, forbidden("Only the seller can expire this listing")
	}
	next := l
	next.Status = store.ListingExpired
	return s.transition(ctx, l, next)
}

// PriceSuggestion asks the recommender for a price for an existing listing.
func (s *Service) PriceSuggestion(ctx context.Context, id string) (recommend.Suggestion, error) {
	l, err := s.loadListing(ctx, id)
	if err != nil {
		return recommend.Suggestion{}, err
	}
	base := l.PriceCents
	if l.OriginalPriceCents != nil {
		base = *l.OriginalPriceCents
	}
	days := defaultDaysUntilExpiry
	if l.ExpiresOn != nil {
		days = s.daysUntil(*l.ExpiresOn)
	}
	return s.SuggestPrice(ctx, recommend.Request{
		Category:           l.Category,
		OriginalPriceCents: base,
		DaysUntilExpiry:    days,
		Quantity:           l.Quantity,
	})
}

type PriceRequest struct {
	Category           string  `json:"category" validate:"required,oneof=produce dairy meat seafood bakery grains beverages prepared eggs other"`
	OriginalPriceCents int64   `json:"originalPriceCents" validate:"gt=0"`
	ExpiresOn          string  `json:"expiresOn"`
	Quantity           float64 `json:"quantity" validate:"gte=0"`
}

// SuggestDraftPrice prices a listing that has not been created yet.
func (s *Service) SuggestDraftPrice(ctx context.Context, in PriceRequest) (recommend.Suggestion, error) {
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if err := validate(in); err != nil {
		return recommend.Suggestion{}, err
	}
	days := defaultDaysUntilExpiry
	expires, err := parseDate("expiresOn", in.ExpiresOn)
	if err != nil {
		return recommend.Suggestion{}, err
	}
	if expires != nil {
		days = s.daysUntil(*expires)
	}
	return s.SuggestPrice(ctx, recommend.Request{
		Category:           in.Category,
		OriginalPriceCents: in.OriginalPriceCents,
		DaysUntilExpiry:    days,
		Quantity:           in.Quantity,
	})
}

func (s *Service) SuggestPrice(ctx context.Context, req recommend.Request) (recommend.Suggestion, error) {
	if req.OriginalPriceCents <= 0 {
		return recommend.Suggestion{}, invalidInput("An original price is needed to suggest a discount", nil)
	}
	return s.prices.Suggest(ctx, req), nil
}

// daysUntil counts calendar days from today to date; past dates are 0.
func (s *Service) daysUntil(date time.Time) int {
	d := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.loc)
	days := int(math.Round(d.Sub(s.today()).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

func (s *Service) UploadImage(ctx context.Context, sess Session, r io.Reader) (media.Upload, error) {
	if s.media == nil {
		return media.Upload{}, domainError(http.StatusServiceUnavailable, "UPLOADS_UNAVAILABLE", "Image uploads are not configured", nil)
	}
	up, err := s.media.Put(ctx, sess.UserID, r)
	switch {
	case errors.Is(err, media.ErrTooLarge):
		return media.Upload{}, domainError(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Images are limited to 5 MiB", nil)
	case errors.Is(err, media.ErrUnsupportedMedia):
		return media.Upload{}, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA", "Only JPEG, PNG, GIF and WebP images are accepted", nil)
	case err != nil:
		return media.Upload{}, err
	}
	return up, nil
}

func (s *Service) reindex(l store.Listing) {
	if s.search == nil {
		return
	}
	s.search.IndexListing(search.ListingRecord{
		ID:          l.ID,
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Status:      l.Status,
		SellerID:    l.SellerID,
		PriceCents:  l.PriceCents,
		CreatedAt:   l.CreatedAt.Unix(),
	})
}

func (s *Service) attachImageURLs(ctx context.Context, l *store.Listing) {
	if s.media == nil || len(l.ImageKeys) == 0 {
		return
	}
	urls := make([]string, 0, len(l.ImageKeys))
	for _, key := range l.ImageKeys {
		u, err := s.media.PresignedURL(ctx, key)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("presign listing image")
			continue
		}
		urls = append(urls, u)
	}
	l.ImageURLs = urls
}

func (s *Service) withImageURLs(ctx context.Context, listings []store.Listing) []store.Listing {
	for i := range listings {
		s.attachImageURLs(ctx, &listings[i])
	}
	return listings
}

// SearchListings runs a ranked full-text search over active listings.
func (s *Service) SearchListings(ctx context.Context, q search.Query) (search.Response, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return search.Response{}, invalidInput("q is required", nil)
	}
	if s.search == nil {
		return search.Response{}, domainError(http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
	}
	q.Category = strings.ToLower(strings.TrimSpace(q.Category))
	return s.search.Search(ctx, q), nil
}
