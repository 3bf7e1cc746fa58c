package notifications

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type Handler struct {
	Service *Service
	Log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{Service: service, Log: log}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/notifications", h.handleList)
	r.Post("/notifications/read-all", h.handleMarkAllRead)
	r.Post("/notifications/{notificationID}/read", h.handleMarkRead)
	r.Delete("/notifications/{notificationID}", h.handleDelete)

	return r
}

type listResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	opts := ListOptions{
		Limit:      intParam(q.Get("limit")),
		Offset:     intParam(q.Get("offset")),
		UnreadOnly: q.Get("unread") == "true",
	}
	list, unread, err := h.Service.List(r.Context(), userID, opts)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if list == nil {
		list = []Notification{}
	}
	h.writeJSON(w, http.StatusOK, listResponse{Notifications: list, UnreadCount: unread})
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	updated, err := h.Service.MarkRead(r.Context(), chi.URLParam(r, "notificationID"), userID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if !updated {
		h.writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	count, err := h.Service.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"updated": count})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}
	deleted, err := h.Service.Delete(r.Context(), chi.URLParam(r, "notificationID"), userID)
	if err != nil {
		h.internalError(w, err)
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "notification not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return userID, true
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	h.Log.Error("notification handler failure", zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

func intParam(raw string) int {
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
