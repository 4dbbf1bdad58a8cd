package app

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GDIPSA-Team2/ecoplate/internal/media"
	"github.com/GDIPSA-Team2/ecoplate/internal/search"
)

// multipartOverhead leaves room for form boundaries around the image part.
const multipartOverhead = 64 << 10

func (s *HTTPServer) handleBrowseListings(w http.ResponseWriter, r *http.Request) {
	in, err := browseInput(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	result, err := s.service.BrowseListings(r.Context(), in)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func browseInput(r *http.Request) (BrowseInput, error) {
	query := r.URL.Query()
	in := BrowseInput{
		Category: query.Get("category"),
		Query:    query.Get("q"),
	}
	var err error
	if in.MinPrice, err = queryInt64(r, "minPrice"); err != nil {
		return BrowseInput{}, err
	}
	if in.MaxPrice, err = queryInt64(r, "maxPrice"); err != nil {
		return BrowseInput{}, err
	}
	if in.Lat, err = queryFloat(r, "lat"); err != nil {
		return BrowseInput{}, err
	}
	if in.Lng, err = queryFloat(r, "lng"); err != nil {
		return BrowseInput{}, err
	}
	radius, err := queryFloat(r, "radiusKm")
	if err != nil {
		return BrowseInput{}, err
	}
	if radius != nil {
		in.RadiusKm = *radius
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return BrowseInput{}, err
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		return BrowseInput{}, err
	}
	in.Limit, in.Offset = valueOr(limit, 0), valueOr(offset, 0)
	return in, nil
}

func (s *HTTPServer) handleSearchListings(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		fail(w, r, err)
		return
	}
	resp, err := s.service.SearchListings(r.Context(), search.Query{
		Text:     r.URL.Query().Get("q"),
		Category: r.URL.Query().Get("category"),
		Limit:    valueOr(limit, 0),
		Offset:   valueOr(offset, 0),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var body ListingInput
	if !decode(w, r, &body) {
		return
	}
	listing, err := s.service.CreateListing(r.Context(), sessionFrom(r), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"listing": listing})
}

func (s *HTTPServer) handleMyListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	listings, err := s.service.MyListings(r.Context(), sessionFrom(r), query.Get("role") == "buying", query.Get("status"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

func (s *HTTPServer) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.service.GetListing(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
}

func (s *HTTPServer) handleUpdateListing(w http.ResponseWriter, r *http.Request) {
	var body ListingInput
	if !decode(w, r, &body) {
		return
	}
	listing, err := s.service.UpdateListing(r.Context(), sessionFrom(r), chi.URLParam(r, "listingID"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
}

func (s *HTTPServer) handleDeleteListing(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteListing(r.Context(), sessionFrom(r), chi.URLParam(r, "listingID")); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReserveListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.service.ReserveListing(r.Context(), sessionFrom(r), chi.URLParam(r, "listingID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
}

func (s *HTTPServer) handleReleaseListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.service.ReleaseListing(r.Context(), sessionFrom(r), chi.URLParam(r, "listingID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
}

func (s *HTTPServer) handleCompleteListing(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.CompleteListing(r.Context(), sessionFrom(r), chi.URLParam(r, "listingID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleExpireListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.service.ExpireListing(r.Context(), sessionFrom(r), chi.URLParam(r, "listingID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"listing": listing})
}

func (s *HTTPServer) handlePriceSuggestion(w http.ResponseWriter, r *http.Request) {
	suggestion, err := s.service.PriceSuggestion(r.Context(), chi.URLParam(r, "listingID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (s *HTTPServer) handleDraftPriceSuggestion(w http.ResponseWriter, r *http.Request) {
	var body PriceRequest
	if !decode(w, r, &body) {
		return
	}
	suggestion, err := s.service.SuggestDraftPrice(r.Context(), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestion)
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, media.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Images are limited to 5 MiB", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form", nil)
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "MISSING_FILE", "Form field \"image\" is required", nil)
		return
	}
	defer file.Close()

	upload, err := s.service.UploadImage(r.Context(), sessionFrom(r), file)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, upload)
}
