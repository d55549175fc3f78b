package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

// Repository defines the database operations the handlers need.
type Repository interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]*db.Notification, error)
	MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error
	Dismiss(ctx context.Context, id uuid.UUID) error
	UpsertDeliveryTarget(ctx context.Context, t *db.DeliveryTarget) error
	ListNudgesByUser(ctx context.Context, userID string, limit int) ([]*db.Nudge, error)
	GetHabit(ctx context.Context, habitID, userID string) (*db.Habit, error)
}

// Scheduler writes pending notifications with computed trigger times.
type Scheduler interface {
	ScheduleBriefing(ctx context.Context, userID, slot string, hour, minute int, title, body string) (*db.Notification, error)
	ScheduleHabitReminder(ctx context.Context, userID, habitID, habitName string, hour, minute int) (*db.Notification, error)
	ScheduleTaskDueReminder(ctx context.Context, userID, taskID, taskTitle string, dueAt time.Time, lead time.Duration) (*db.Notification, error)
}

// JobManager re-derives per-user jobs after a preference change.
type JobManager interface {
	RescheduleUser(ctx context.Context, userID string) error
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ScheduleResponse is returned after creating a scheduled notification.
type ScheduleResponse struct {
	ID          string    `json:"id"`
	TriggerTime time.Time `json:"trigger_time"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	repo      Repository
	scheduler Scheduler
	jobs      JobManager // nil when the scheduler runtime is not running
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, repo Repository, scheduler Scheduler, jobs JobManager) *Handler {
	return &Handler{
		logger:    logger,
		repo:      repo,
		scheduler: scheduler,
		jobs:      jobs,
	}
}

// ScheduleBriefing handles POST /v1/schedules/briefing
func (h *Handler) ScheduleBriefing(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID string `json:"user_id"`
		Slot   string `json:"slot"`
		Hour   int    `json:"hour"`
		Minute int    `json:"minute"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.UserID == "" || req.Slot == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and slot are required")
		return
	}

	notif, err := h.scheduler.ScheduleBriefing(ctx, req.UserID, req.Slot, req.Hour, req.Minute, req.Title, req.Body)
	if err != nil {
		h.logger.Error("failed to schedule briefing",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("slot", req.Slot),
		)
		h.writeError(w, http.StatusUnprocessableEntity, "schedule_error", "Failed to schedule briefing", err.Error())
		return
	}

	h.writeCreated(w, notif)
}

// ScheduleHabitReminder handles POST /v1/schedules/habit-reminder
func (h *Handler) ScheduleHabitReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID  string `json:"user_id"`
		HabitID string `json:"habit_id"`
		Hour    *int   `json:"hour,omitempty"`
		Minute  *int   `json:"minute,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.UserID == "" || req.HabitID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and habit_id are required")
		return
	}

	habit, err := h.repo.GetHabit(ctx, req.HabitID, req.UserID)
	if err != nil {
		h.logger.Error("failed to load habit", zap.Error(err), zap.String("habit_id", req.HabitID))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load habit", "")
		return
	}
	if habit == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Habit not found", "")
		return
	}

	// Fall back to the habit's stored reminder time when the request
	// omits one.
	hour, minute := req.Hour, req.Minute
	if hour == nil {
		hour = habit.ReminderHour
	}
	if minute == nil {
		minute = habit.ReminderMinute
	}
	if hour == nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing reminder time",
			"hour is required when the habit has no stored reminder time")
		return
	}
	if minute == nil {
		minute = new(int)
	}

	notif, err := h.scheduler.ScheduleHabitReminder(ctx, req.UserID, habit.ID, habit.Name, *hour, *minute)
	if err != nil {
		h.logger.Error("failed to schedule habit reminder",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("habit_id", req.HabitID),
		)
		h.writeError(w, http.StatusUnprocessableEntity, "schedule_error", "Failed to schedule habit reminder", err.Error())
		return
	}

	h.writeCreated(w, notif)
}

// ScheduleTaskReminder handles POST /v1/schedules/task-reminder
func (h *Handler) ScheduleTaskReminder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID    string    `json:"user_id"`
		TaskID    string    `json:"task_id"`
		Title     string    `json:"title"`
		DueAt     time.Time `json:"due_at"`
		LeadHours int       `json:"lead_hours"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.UserID == "" || req.TaskID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and task_id are required")
		return
	}
	if req.DueAt.IsZero() {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing due_at", "due_at must be an RFC 3339 timestamp")
		return
	}

	lead := time.Duration(req.LeadHours) * time.Hour
	notif, err := h.scheduler.ScheduleTaskDueReminder(ctx, req.UserID, req.TaskID, req.Title, req.DueAt, lead)
	if err != nil {
		h.logger.Error("failed to schedule task reminder",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("task_id", req.TaskID),
		)
		h.writeError(w, http.StatusUnprocessableEntity, "schedule_error", "Failed to schedule task reminder", err.Error())
		return
	}

	h.writeCreated(w, notif)
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	notifID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	notif, err := h.repo.GetNotification(ctx, notifID)
	if err != nil {
		h.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("id", notifID.String()),
		)
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(notif)
}

// ListNotifications handles GET /v1/notifications?user_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}

	limit, offset := paginationParams(r)

	notifications, err := h.repo.ListNotificationsByUser(ctx, userID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// MarkRead handles PATCH /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	notifID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	err := h.repo.MarkRead(ctx, notifID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, db.ErrStaleTransition) {
			h.writeError(w, http.StatusConflict, "stale_transition", "Notification is not in state sent",
				"Only a sent notification can be marked read")
			return
		}
		h.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("id", notifID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notification read", "")
		return
	}

	h.writeStatus(w, notifID, db.StatusRead)
}

// Dismiss handles PATCH /v1/notifications/{id}/dismiss
func (h *Handler) Dismiss(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	notifID, ok := h.parseID(w, r)
	if !ok {
		return
	}

	err := h.repo.Dismiss(ctx, notifID)
	if err != nil {
		if errors.Is(err, db.ErrStaleTransition) {
			h.writeError(w, http.StatusConflict, "stale_transition", "Notification already dismissed", "")
			return
		}
		h.logger.Error("failed to dismiss notification",
			zap.Error(err),
			zap.String("id", notifID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to dismiss notification", "")
		return
	}

	h.writeStatus(w, notifID, db.StatusDismissed)
}

// RegisterTarget handles PUT /v1/targets
func (h *Handler) RegisterTarget(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		UserID string `json:"user_id"`
		Kind   string `json:"kind"`
		Addr   string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.UserID == "" || req.Addr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "user_id and addr are required")
		return
	}
	if req.Kind != db.TargetSNS && req.Kind != db.TargetWebhook && req.Kind != db.TargetEmail {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid kind", "kind must be sns, webhook, or email")
		return
	}

	target := &db.DeliveryTarget{UserID: req.UserID, Kind: req.Kind, Addr: req.Addr}
	if err := h.repo.UpsertDeliveryTarget(ctx, target); err != nil {
		h.logger.Error("failed to register delivery target",
			zap.Error(err),
			zap.String("user_id", req.UserID),
			zap.String("kind", req.Kind),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to register delivery target", "")
		return
	}

	h.logger.Info("delivery target registered",
		zap.String("user_id", req.UserID),
		zap.String("kind", req.Kind),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(target)
}

// ListNudges handles GET /v1/nudges?user_id=xxx&limit=20
func (h *Handler) ListNudges(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user_id", "user_id query parameter is required")
		return
	}

	limit, _ := paginationParams(r)

	nudges, err := h.repo.ListNudgesByUser(ctx, userID, limit)
	if err != nil {
		h.logger.Error("failed to list nudges",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list nudges", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":  nudges,
		"count": len(nudges),
	})
}

// RescheduleUser handles POST /v1/users/{id}/reschedule. Preference
// changes take effect immediately instead of waiting for the nightly
// sweep.
func (h *Handler) RescheduleUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := chi.URLParam(r, "id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing user ID", "")
		return
	}
	if h.jobs == nil {
		h.writeError(w, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler is not running", "")
		return
	}

	if err := h.jobs.RescheduleUser(ctx, userID); err != nil {
		h.logger.Error("failed to reschedule user",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		h.writeError(w, http.StatusInternalServerError, "reschedule_error", "Failed to reschedule user", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"user_id": userID,
		"status":  "rescheduled",
	})
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return notifID, true
}

func paginationParams(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}
	return limit, offset
}

func (h *Handler) writeCreated(w http.ResponseWriter, notif *db.Notification) {
	h.logger.Info("notification scheduled via api",
		zap.String("id", notif.ID.String()),
		zap.String("user_id", notif.UserID),
		zap.String("type", notif.Type),
		zap.Time("trigger_time", notif.TriggerTime),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ScheduleResponse{
		ID:          notif.ID.String(),
		TriggerTime: notif.TriggerTime,
	})
}

func (h *Handler) writeStatus(w http.ResponseWriter, id uuid.UUID, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"id":     id.String(),
		"status": status,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
