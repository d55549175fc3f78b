package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Notification is one unit of deferred user-facing delivery.
// TriggerTime is always stored in UTC; conversion from the user's local
// wall-clock preference happens at schedule-computation time.
type Notification struct {
	ID           uuid.UUID       `json:"id"`
	UserID       string          `json:"user_id"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Body         string          `json:"body"`
	Context      json.RawMessage `json:"context,omitempty"`
	TriggerTime  time.Time       `json:"trigger_time"`
	Status       string          `json:"status"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	SentAt       *time.Time      `json:"sent_at,omitempty"`
	ReadAt       *time.Time      `json:"read_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Status constants. Transitions are monotonic: pending -> sent -> read ->
// dismissed, with pending -> failed as the delivery dead end. The guards
// live in the repository's UPDATE statements.
const (
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusFailed    = "failed"
	StatusRead      = "read"
	StatusDismissed = "dismissed"
)

// Notification type constants
const (
	TypeMorningBriefing = "morning_briefing"
	TypeEveningReview   = "evening_review"
	TypeHabitReminder   = "habit_reminder"
	TypeTaskDue         = "task_due"
	TypeGeneric         = "generic"
)

// Delivery target kinds
const (
	TargetSNS     = "sns"     // mobile push via SNS platform endpoint ARN
	TargetWebhook = "webhook" // push gateway token
	TargetEmail   = "email"   // SES digest fallback
)

// DeliveryTarget is an opaque recipient address resolved per user.
type DeliveryTarget struct {
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Addr      string    `json:"addr"`
	CreatedAt time.Time `json:"created_at"`
}

// User carries the schedule preferences the daily rescheduling sweep
// re-derives per-user jobs from.
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Timezone      string `json:"timezone"` // IANA name, defaults to UTC
	Active        bool   `json:"active"`
	MorningHour   *int   `json:"morning_hour,omitempty"`
	MorningMinute *int   `json:"morning_minute,omitempty"`
	EveningHour   *int   `json:"evening_hour,omitempty"`
	EveningMinute *int   `json:"evening_minute,omitempty"`
}

// Habit is a recurring user habit with an optional daily reminder time.
type Habit struct {
	ID             string `json:"id"`
	UserID         string `json:"user_id"`
	Name           string `json:"name"`
	ReminderHour   *int   `json:"reminder_hour,omitempty"`
	ReminderMinute *int   `json:"reminder_minute,omitempty"`
}

// Nudge is a proactive suggestion surfaced through the pull feed rather
// than the push pipeline.
type Nudge struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}
