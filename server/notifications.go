package server

import (
	"net/http"
	"strings"
)

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Notifications())
}

// handleNotificationAction serves POST /api/notifications/{id}/read.
// Acknowledging an already-read notification succeeds again; an unknown id
// is a 404 every time.
func (s *Server) handleNotificationAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/notifications/")
	idPart, action, found := strings.Cut(rest, "/")
	if !found || strings.TrimSuffix(action, "/") != "read" {
		s.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, ok := pathID(idPart)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "Invalid notification id")
		return
	}
	if !s.allowMutation(w, r) {
		return
	}

	n, err := s.store.MarkNotificationRead(r.Context(), id)
	if err != nil {
		s.writeNotFoundOrError(w, err, "Notification not found")
		return
	}
	s.writeJSON(w, http.StatusOK, n)
}
