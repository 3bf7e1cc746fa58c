package tasks

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler is the thin HTTP edge over the state machine. Session handling is
// the gateway's business; the authenticated user arrives in X-User-ID.
type Handler struct {
	Service *Service
	Log     *zap.Logger
}

func NewHandler(service *Service, log *zap.Logger) *Handler {
	return &Handler{Service: service, Log: log}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/tasks", h.handleCreate)
	r.Post("/tasks/{taskID}/status", h.handleChangeStatus)
	r.Post("/tasks/{taskID}/assignee", h.handleAssign)
	r.Delete("/tasks/{taskID}", h.handleDelete)
	r.Get("/tasks/{taskID}/history", h.handleHistory)
	r.Get("/projects/{projectID}/tasks", h.handleByProject)
	r.Get("/users/{userID}/tasks", h.handleByUser)

	return r
}

type createTaskRequest struct {
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	AssigneeID  *string    `json:"assignee_id"`
	DueAt       *time.Time `json:"due_at"`
}

type changeStatusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

type assignRequest struct {
	AssigneeID *string `json:"assignee_id"`
	Comment    string  `json:"comment"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	task, err := h.Service.Create(r.Context(), CreateTaskInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    Priority(req.Priority),
		Status:      Status(req.Status),
		AssigneeID:  req.AssigneeID,
		DueAt:       req.DueAt,
		CreatorID:   actorID,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, task)
}

func (h *Handler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	task, err := h.Service.ChangeStatus(r.Context(), chi.URLParam(r, "taskID"), Status(req.Status), actorID, req.Comment)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	task, err := h.Service.Assign(r.Context(), chi.URLParam(r, "taskID"), req.AssigneeID, actorID, req.Comment)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, task)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actor(w, r)
	if !ok {
		return
	}
	if err := h.Service.Delete(r.Context(), chi.URLParam(r, "taskID"), actorID); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Service.History(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleByProject(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.TasksByProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []Task{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleByUser(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.TasksByUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if list == nil {
		list = []Task{}
	}
	h.writeJSON(w, http.StatusOK, list)
}

func (h *Handler) actor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actorID := r.Header.Get("X-User-ID")
	if actorID == "" {
		h.writeError(w, http.StatusUnauthorized, "missing X-User-ID header")
		return "", false
	}
	return actorID, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTaskNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTitleRequired),
		errors.Is(err, ErrProjectRequired),
		errors.Is(err, ErrActorRequired),
		errors.Is(err, ErrInvalidStatus),
		errors.Is(err, ErrInvalidPriority):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Log.Error("task handler failure", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
