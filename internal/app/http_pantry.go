package app

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	within, err := queryInt(r, "expiringWithinDays")
	if err != nil {
		fail(w, r, err)
		return
	}
	includeEmpty, _ := strconv.ParseBool(r.URL.Query().Get("includeEmpty"))
	products, err := s.service.ListProducts(r.Context(), sessionFrom(r), within, includeEmpty)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (s *HTTPServer) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var body ProductInput
	if !decode(w, r, &body) {
		return
	}
	product, err := s.service.CreateProduct(r.Context(), sessionFrom(r), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (s *HTTPServer) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := s.service.GetProduct(r.Context(), sessionFrom(r), chi.URLParam(r, "productID"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (s *HTTPServer) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var body ProductInput
	if !decode(w, r, &body) {
		return
	}
	product, err := s.service.UpdateProduct(r.Context(), sessionFrom(r), chi.URLParam(r, "productID"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (s *HTTPServer) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProduct(r.Context(), sessionFrom(r), chi.URLParam(r, "productID")); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var body InteractionInput
	if !decode(w, r, &body) {
		return
	}
	result, err := s.service.RecordInteraction(r.Context(), sessionFrom(r), chi.URLParam(r, "productID"), body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := parseDate("since", raw)
		if err != nil {
			fail(w, r, err)
			return
		}
		since = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, s.service.loc)
	}
	interactions, err := s.service.ListInteractions(r.Context(), sessionFrom(r), since)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interactions": interactions})
}

func (s *HTTPServer) handleWasteMetrics(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.WasteMetrics(r.Context(), sessionFrom(r), r.URL.Query().Get("period"))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Dashboard(r.Context(), sessionFrom(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleImpactReport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result, err := s.service.ImpactReport(r.Context(), sessionFrom(r), query.Get("period"), query.Get("format"))
	if err != nil {
		fail(w, r, err)
		return
	}
	disposition := "inline"
	if query.Get("download") == "true" || result.MimeType == "application/pdf" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", disposition+`; filename="`+result.Filename+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleGamificationProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := s.service.GamificationProfile(r.Context(), sessionFrom(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *HTTPServer) handleBadgeCatalogue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"badges": s.service.BadgeCatalogue()})
}

func (s *HTTPServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	entries, err := s.service.Leaderboard(r.Context(), valueOr(limit, 0))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (s *HTTPServer) handleSeedBadges(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.SeedBadges(r.Context(), sessionFrom(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"seeded": n})
}
