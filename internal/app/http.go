package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/GDIPSA-Team2/ecoplate/internal/auth"
	"github.com/GDIPSA-Team2/ecoplate/internal/logging"
	"github.com/GDIPSA-Team2/ecoplate/internal/metrics"
	"github.com/GDIPSA-Team2/ecoplate/internal/validation"
)

type HTTPServer struct {
	service *Service
}

func NewHTTPServer(service *Service) *HTTPServer {
	return &HTTPServer{service: service}
}

func (s *HTTPServer) Handler() http.Handler {
	cfg := s.service.cfg
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(s.rateLimit(cfg.RateLimit.Requests))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Head("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(cfg.RateLimit.AuthRequests))
			r.Post("/auth/signup", s.handleAuthSignUp)
			r.Post("/auth/signin", s.handleAuthSignIn)
			r.Post("/auth/verify-email", s.handleAuthVerifyEmail)
			r.Post("/auth/reset-password/request", s.handleAuthRequestReset)
			r.Post("/auth/reset-password", s.handleAuthResetPassword)
			r.Post("/auth/refresh", s.handleAuthRefresh)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/auth/logout", s.handleAuthLogout)
			r.Get("/me", s.handleGetMe)
			r.Put("/me", s.handleUpdateMe)
			r.Get("/dashboard", s.handleDashboard)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", s.handleListProducts)
				r.Post("/", s.handleCreateProduct)
				r.Get("/{productID}", s.handleGetProduct)
				r.Put("/{productID}", s.handleUpdateProduct)
				r.Delete("/{productID}", s.handleDeleteProduct)
				r.Post("/{productID}/interactions", s.handleRecordInteraction)
			})
			r.Get("/interactions", s.handleListInteractions)
			r.Get("/metrics/waste", s.handleWasteMetrics)
			r.Get("/reports/impact", s.handleImpactReport)

			r.Route("/gamification", func(r chi.Router) {
				r.Get("/profile", s.handleGamificationProfile)
				r.Get("/badges", s.handleBadgeCatalogue)
				r.Get("/leaderboard", s.handleLeaderboard)
			})
			r.Post("/admin/badges/seed", s.handleSeedBadges)

			r.Route("/marketplace", func(r chi.Router) {
				r.Get("/search", s.handleSearchListings)
				r.Post("/price-suggestion", s.handleDraftPriceSuggestion)
				r.Get("/listings", s.handleBrowseListings)
				r.Post("/listings", s.handleCreateListing)
				r.Get("/listings/mine", s.handleMyListings)
				r.Route("/listings/{listingID}", func(r chi.Router) {
					r.Get("/", s.handleGetListing)
					r.Put("/", s.handleUpdateListing)
					r.Delete("/", s.handleDeleteListing)
					r.Post("/reserve", s.handleReserveListing)
					r.Post("/release", s.handleReleaseListing)
					r.Post("/complete", s.handleCompleteListing)
					r.Post("/expire", s.handleExpireListing)
					r.Get("/price-suggestion", s.handlePriceSuggestion)
				})
			})
			r.Post("/uploads", s.handleUpload)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", s.handleListConversations)
				r.Post("/", s.handleStartConversation)
				r.Get("/{conversationID}/messages", s.handleListMessages)
				r.Post("/{conversationID}/messages", s.handleSendMessage)
			})
			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", s.handleListNotifications)
				r.Post("/read-all", s.handleMarkAllNotificationsRead)
				r.Post("/{notificationID}/read", s.handleMarkNotificationRead)
			})
		})
	})
	return r
}

// requestLogger tags the request with an ID, then logs and records it once
// the route pattern is known.
func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := logging.WithRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		metrics.RecordAPIRequest(r.Method, route, status, elapsed)
		logging.Ctx(ctx).Info().
			Str("method", r.Method).
			Str("route", route).
			Str("path", r.URL.Path).
			Int("status", status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Msg("request")
	})
}

func (s *HTTPServer) rateLimit(requests int) func(http.Handler) http.Handler {
	limits := s.service.cfg.RateLimit
	if limits.Disabled || requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(requests, limits.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
		}),
	)
}

type sessionKey struct{}

func (s *HTTPServer) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r, bearerToken(r))
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		logging.Ctx(r.Context()).Error().Err(err).Msg("session lookup failed")
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// fail maps err to a response and logs server-side failures.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logging.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// decode writes a 400 and returns false when the body is not valid JSON.
func decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *validation.Error
	if errors.As(err, &validationErr) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validationErr.Error(), validationErr.Details()
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// queryInt reads an optional integer query parameter.
func queryInt(r *http.Request, name string) (*int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, invalidInput(name+" must be an integer", map[string]string{"param": name})
	}
	return &v, nil
}

func queryInt64(r *http.Request, name string) (*int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, invalidInput(name+" must be an integer", map[string]string{"param": name})
	}
	return &v, nil
}

func queryFloat(r *http.Request, name string) (*float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, invalidInput(name+" must be a number", map[string]string{"param": name})
	}
	return &v, nil
}

func valueOr(v *int, fallback int) int {
	if v == nil {
		return fallback
	}
	return *v
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.Readiness(ctx)
	status, statusCode := "ready", http.StatusOK
	if !ready {
		status, statusCode = "not_ready", http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.service.sockets == nil {
		writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime updates are not enabled", nil)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}
	session, ok := s.requireSession(w, r, token)
	if !ok {
		return
	}
	if err := s.service.sockets.ServeWS(w, r, session.UserID); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("user_id", session.UserID).Msg("websocket upgrade failed")
	}
}
