// Package notify turns schedule definitions into pending notification
// rows. It owns the mapping from a user-local wall time to a concrete
// UTC trigger instant; everything after the row exists belongs to the
// dispatch cycle.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/metrics"
	"github.com/daybreakhq/daybreak/internal/trigger"
)

// BriefingMorning and BriefingEvening name the two daily briefing slots.
const (
	BriefingMorning = "morning"
	BriefingEvening = "evening"
)

type Repository interface {
	GetUser(ctx context.Context, userID string) (*db.User, error)
	CreatePendingNotification(ctx context.Context, notif *db.Notification) error
}

// Scheduler writes pending notifications with computed trigger times.
type Scheduler struct {
	repo   Repository
	logger *zap.Logger
	nowFn  func() time.Time
}

func NewScheduler(repo Repository, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		repo:   repo,
		logger: logger,
		nowFn:  time.Now,
	}
}

// userLocation resolves the user's IANA timezone, falling back to UTC
// when the zone is missing or unknown.
func (s *Scheduler) userLocation(ctx context.Context, userID string) (*time.Location, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %s not found", userID)
	}
	if user.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		s.logger.Warn("unknown user timezone, falling back to UTC",
			zap.String("user_id", userID),
			zap.String("timezone", user.Timezone),
		)
		return time.UTC, nil
	}
	return loc, nil
}

// ScheduleBriefing writes the next pending briefing notification for the
// given slot at the user-local wall time hour:minute.
func (s *Scheduler) ScheduleBriefing(ctx context.Context, userID, slot string, hour, minute int, title, body string) (*db.Notification, error) {
	var notifType string
	switch slot {
	case BriefingMorning:
		notifType = db.TypeMorningBriefing
	case BriefingEvening:
		notifType = db.TypeEveningReview
	default:
		return nil, fmt.Errorf("unknown briefing slot %q", slot)
	}

	loc, err := s.userLocation(ctx, userID)
	if err != nil {
		return nil, err
	}

	spec, err := trigger.Daily(hour, minute, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid briefing time: %w", err)
	}

	contextJSON, _ := json.Marshal(map[string]string{"slot": slot})
	return s.create(ctx, &db.Notification{
		UserID:      userID,
		Type:        notifType,
		Title:       title,
		Body:        body,
		Context:     contextJSON,
		TriggerTime: spec.Next(s.nowFn()),
	})
}

// ScheduleHabitReminder writes the next pending reminder for a habit at
// the user-local wall time hour:minute.
func (s *Scheduler) ScheduleHabitReminder(ctx context.Context, userID, habitID, habitName string, hour, minute int) (*db.Notification, error) {
	loc, err := s.userLocation(ctx, userID)
	if err != nil {
		return nil, err
	}

	spec, err := trigger.Daily(hour, minute, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder time: %w", err)
	}

	contextJSON, _ := json.Marshal(map[string]string{"habit_id": habitID})
	return s.create(ctx, &db.Notification{
		UserID:      userID,
		Type:        db.TypeHabitReminder,
		Title:       "Habit reminder",
		Body:        fmt.Sprintf("Time for: %s", habitName),
		Context:     contextJSON,
		TriggerTime: spec.Next(s.nowFn()),
	})
}

// ScheduleTaskDueReminder writes a pending reminder firing lead before
// the task's due time. The trigger is not clamped: a lead that lands in
// the past produces an immediately due notification, which the next
// dispatch cycle picks up.
func (s *Scheduler) ScheduleTaskDueReminder(ctx context.Context, userID, taskID, taskTitle string, dueAt time.Time, lead time.Duration) (*db.Notification, error) {
	if lead < 0 {
		return nil, fmt.Errorf("lead must be non-negative, got %s", lead)
	}

	contextJSON, _ := json.Marshal(map[string]string{"task_id": taskID})
	return s.create(ctx, &db.Notification{
		UserID:      userID,
		Type:        db.TypeTaskDue,
		Title:       "Task due soon",
		Body:        fmt.Sprintf("%q is due at %s", taskTitle, dueAt.UTC().Format(time.RFC3339)),
		Context:     contextJSON,
		TriggerTime: dueAt.Add(-lead).UTC(),
	})
}

// ScheduleAt writes a pending notification with an explicit trigger
// instant. Per-user jobs use this for immediately due briefings.
func (s *Scheduler) ScheduleAt(ctx context.Context, userID, notifType, title, body string, at time.Time) (*db.Notification, error) {
	return s.create(ctx, &db.Notification{
		UserID:      userID,
		Type:        notifType,
		Title:       title,
		Body:        body,
		TriggerTime: at.UTC(),
	})
}

func (s *Scheduler) create(ctx context.Context, notif *db.Notification) (*db.Notification, error) {
	if err := s.repo.CreatePendingNotification(ctx, notif); err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	metrics.RecordNotificationScheduled(notif.Type)
	s.logger.Info("notification scheduled",
		zap.String("id", notif.ID.String()),
		zap.String("user_id", notif.UserID),
		zap.String("type", notif.Type),
		zap.Time("trigger_time", notif.TriggerTime),
	)
	return notif, nil
}
