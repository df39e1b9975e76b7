package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/taskdeck/taskdeck/internal/api/middleware"
	"github.com/taskdeck/taskdeck/internal/store"
	"github.com/taskdeck/taskdeck/pkg/models"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Task Handlers ────────────────────────────────────────────

func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	q := r.URL.Query()

	filter := store.TaskFilter{
		Status:    q.Get("status"),
		Tag:       q.Get("tag"),
		Search:    q.Get("search"),
		Overdue:   q.Get("overdue") == "true",
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
		Priority:  queryInt(r, "priority", 0),
		Limit:     queryInt(r, "limit", 0),
	}

	tasks, err := h.Store.ListTasks(r.Context(), userID, filter)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}

	counts, err := h.Store.CountTasks(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"tasks":  tasks,
		"counts": counts,
	})
}

func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "Title is required")
		return
	}
	if req.Priority != nil && (*req.Priority < 1 || *req.Priority > 3) {
		respondError(w, http.StatusBadRequest, "Priority must be 1, 2, or 3")
		return
	}

	userID := middleware.GetUserID(r.Context())
	now := time.Now().UTC()
	task := &models.Task{
		ID:             uuid.NewString(),
		Title:          req.Title,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
		DueDate:        req.DueDate,
		RemindAt:       req.RemindAt,
		Priority:       req.Priority,
		RecurrenceRule: req.RecurrenceRule,
		Tags:           req.Tags,
	}

	if err := h.Store.CreateTask(r.Context(), task); err != nil {
		respondStoreError(w, err)
		return
	}
	h.recordTaskEvent(r, task, "created", map[string]any{"title": task.Title})

	log.Info().Str("task_id", task.ID).Str("user_id", userID).Msg("Task created")
	respondJSON(w, http.StatusCreated, task)
}

func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	task, err := h.Store.GetTask(r.Context(), userID, chi.URLParam(r, "taskId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, task)
}

func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	var req models.TaskUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Priority != nil && (*req.Priority < 1 || *req.Priority > 3) {
		respondError(w, http.StatusBadRequest, "Priority must be 1, 2, or 3")
		return
	}

	userID := middleware.GetUserID(r.Context())
	task, err := h.Store.GetTask(r.Context(), userID, chi.URLParam(r, "taskId"))
	if err != nil {
		respondStoreError(w, err)
		return
	}

	changes := map[string]any{}
	if req.Title != nil && *req.Title != task.Title {
		changes["title"] = map[string]any{"from": task.Title, "to": *req.Title}
		task.Title = *req.Title
	}
	if req.Completed != nil && *req.Completed != task.Completed {
		task.Completed = *req.Completed
		changes["completed"] = *req.Completed
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
		changes["due_date"] = req.DueDate
	}
	if req.RemindAt != nil {
		task.RemindAt = req.RemindAt
	}
	if req.Priority != nil {
		task.Priority = req.Priority
		changes["priority"] = *req.Priority
	}
	if req.RecurrenceRule != nil {
		task.RecurrenceRule = *req.RecurrenceRule
	}
	if req.Tags != nil {
		task.Tags = req.Tags
		changes["tags"] = req.Tags
	}
	task.UpdatedAt = time.Now().UTC()

	if err := h.Store.UpdateTask(r.Context(), task); err != nil {
		respondStoreError(w, err)
		return
	}
	eventType := "updated"
	if done, ok := changes["completed"].(bool); ok && done {
		eventType = "completed"
	}
	h.recordTaskEvent(r, task, eventType, changes)

	respondJSON(w, http.StatusOK, task)
}

func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "taskId")

	task, err := h.Store.GetTask(r.Context(), userID, id)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if err := h.Store.DeleteTask(r.Context(), userID, id); err != nil {
		respondStoreError(w, err)
		return
	}
	h.recordTaskEvent(r, task, "deleted", nil)

	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "id": id})
}

func (h *Handlers) TaskCounts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	counts, err := h.Store.CountTasks(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (h *Handlers) ListTaskEvents(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	events, err := h.Store.ListTaskEvents(r.Context(), userID, queryInt(r, "limit", 100))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if events == nil {
		events = []models.TaskEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (h *Handlers) recordTaskEvent(r *http.Request, task *models.Task, eventType string, data map[string]any) {
	event := &models.TaskEvent{
		ID:        uuid.NewString(),
		TaskID:    task.ID,
		UserID:    task.UserID,
		EventType: eventType,
		EventData: data,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateTaskEvent(r.Context(), event); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("Audit event write failed")
	}
}

// ── Tag Handlers ─────────────────────────────────────────────

func (h *Handlers) ListTags(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	tags, err := h.Store.ListTags(r.Context(), userID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	if tags == nil {
		tags = []models.Tag{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

func (h *Handlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req models.TagCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Color == "" {
		req.Color = models.DefaultTagColor
	}

	tag := &models.Tag{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Color:     req.Color,
		UserID:    middleware.GetUserID(r.Context()),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.Store.CreateTag(r.Context(), tag); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, tag)
}

func (h *Handlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	name := chi.URLParam(r, "tagName")
	if err := h.Store.DeleteTag(r.Context(), userID, name); err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "name": name})
}
