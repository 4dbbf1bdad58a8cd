package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleListConversations(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.service.ListConversations(r.Context(), sessionFrom(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": conversations})
}

func (s *HTTPServer) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ListingID string `json:"listingId"`
		Message   string `json:"message"`
	}
	if !decode(w, r, &body) {
		return
	}
	if body.ListingID == "" {
		fail(w, r, invalidInput("listingId is required", nil))
		return
	}
	result, err := s.service.StartConversation(r.Context(), sessionFrom(r), body.ListingID, body.Message)
	if err != nil {
		fail(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	messages, err := s.service.Messages(r.Context(), sessionFrom(r), chi.URLParam(r, "conversationID"), valueOr(limit, 0))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *HTTPServer) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if !decode(w, r, &body) {
		return
	}
	message, err := s.service.SendMessage(r.Context(), sessionFrom(r), chi.URLParam(r, "conversationID"), body.Body)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": message})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		fail(w, r, err)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"
	notifications, err := s.service.Notifications(r.Context(), sessionFrom(r), unreadOnly, valueOr(limit, 0))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

func (s *HTTPServer) handleMarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkNotificationRead(r.Context(), sessionFrom(r), chi.URLParam(r, "notificationID")); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.MarkAllNotificationsRead(r.Context(), sessionFrom(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}
