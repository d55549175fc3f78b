package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrStaleTransition is returned when a status update finds the row no
// longer in the expected prior state. Status moves only forward, so a
// lost race is reported rather than applied.
var ErrStaleTransition = errors.New("notification not in expected state")

// Repository is the store adapter for notifications, delivery targets,
// users, habits, and nudges
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new store repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `
	id, user_id, type, title, body, context, trigger_time,
	status, error_message, sent_at, read_at, created_at, updated_at
`

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Body,
		&n.Context,
		&n.TriggerTime,
		&n.Status,
		&n.ErrorMessage,
		&n.SentAt,
		&n.ReadAt,
		&n.CreatedAt,
		&n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// CreatePendingNotification inserts a new notification in state pending
func (r *Repository) CreatePendingNotification(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	n.Status = StatusPending

	query := `
		INSERT INTO notifications (
			id, user_id, type, title, body, context, trigger_time, status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(
		ctx,
		query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Body,
		n.Context,
		n.TriggerTime.UTC(),
		n.Status,
	).Scan(&n.CreatedAt, &n.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", n.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Info("notification created",
		zap.String("notification_id", n.ID.String()),
		zap.String("user_id", n.UserID),
		zap.String("type", n.Type),
		zap.Time("trigger_time", n.TriggerTime),
	)

	return nil
}

// GetNotification retrieves a notification by ID
func (r *Repository) GetNotification(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	n, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("notification not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}

	return n, nil
}

// GetDueNotifications fetches the due set: pending notifications whose
// trigger time has passed, oldest first. The result is a snapshot; the
// dispatch cycle does not expect it to stay consistent while processing.
func (r *Repository) GetDueNotifications(ctx context.Context, now time.Time, limit int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'pending' AND trigger_time <= $1
		ORDER BY trigger_time ASC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query due notifications: %w", err)
	}
	defer rows.Close()

	var due []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		due = append(due, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return due, nil
}

// MarkSent transitions pending -> sent and stamps sent_at.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent', sent_at = $1, error_message = NULL
		WHERE id = $2 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("mark sent %s: %w", id, ErrStaleTransition)
	}

	return nil
}

// MarkFailed transitions pending -> failed with the delivery error recorded
// for operator visibility. Failed notifications are never retried.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	query := `
		UPDATE notifications
		SET status = 'failed', error_message = $1
		WHERE id = $2 AND status = 'pending'
	`

	result, err := r.db.Pool().Exec(ctx, query, reason, id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("mark failed %s: %w", id, ErrStaleTransition)
	}

	r.logger.Warn("notification marked failed",
		zap.String("notification_id", id.String()),
		zap.String("reason", reason),
	)

	return nil
}

// MarkRead transitions sent -> read.
func (r *Repository) MarkRead(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'read', read_at = $1
		WHERE id = $2 AND status = 'sent'
	`

	result, err := r.db.Pool().Exec(ctx, query, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("mark read %s: %w", id, ErrStaleTransition)
	}

	return nil
}

// Dismiss moves any non-dismissed notification to dismissed.
func (r *Repository) Dismiss(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE notifications
		SET status = 'dismissed'
		WHERE id = $1 AND status <> 'dismissed'
	`

	result, err := r.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("dismiss notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("dismiss %s: %w", id, ErrStaleTransition)
	}

	return nil
}

// ListNotificationsByUser retrieves a user's notifications with pagination
func (r *Repository) ListNotificationsByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1
		ORDER BY trigger_time DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// GetDeliveryTarget resolves the user's preferred delivery target.
// Returns (nil, nil) when the user has no registered target; the dispatch
// cycle leaves such notifications pending rather than failing them.
func (r *Repository) GetDeliveryTarget(ctx context.Context, userID string) (*DeliveryTarget, error) {
	query := `
		SELECT user_id, kind, addr, created_at
		FROM delivery_targets
		WHERE user_id = $1
		ORDER BY CASE kind WHEN 'sns' THEN 0 WHEN 'webhook' THEN 1 ELSE 2 END
		LIMIT 1
	`

	var t DeliveryTarget
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(&t.UserID, &t.Kind, &t.Addr, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery target: %w", err)
	}

	return &t, nil
}

// UpsertDeliveryTarget registers or refreshes a user's target of one kind.
func (r *Repository) UpsertDeliveryTarget(ctx context.Context, t *DeliveryTarget) error {
	query := `
		INSERT INTO delivery_targets (user_id, kind, addr)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, kind) DO UPDATE SET addr = EXCLUDED.addr
	`

	if _, err := r.db.Pool().Exec(ctx, query, t.UserID, t.Kind, t.Addr); err != nil {
		return fmt.Errorf("upsert delivery target: %w", err)
	}

	return nil
}

// ListActiveUsers returns all active users with their schedule preferences.
func (r *Repository) ListActiveUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT id, email, timezone, active,
			morning_hour, morning_minute, evening_hour, evening_minute
		FROM users
		WHERE active = TRUE
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.Timezone,
			&u.Active,
			&u.MorningHour,
			&u.MorningMinute,
			&u.EveningHour,
			&u.EveningMinute,
		)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, &u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return users, nil
}

// GetUser retrieves one user by id. Returns (nil, nil) if absent.
func (r *Repository) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, email, timezone, active,
			morning_hour, morning_minute, evening_hour, evening_minute
		FROM users
		WHERE id = $1
	`

	var u User
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&u.ID,
		&u.Email,
		&u.Timezone,
		&u.Active,
		&u.MorningHour,
		&u.MorningMinute,
		&u.EveningHour,
		&u.EveningMinute,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &u, nil
}

// GetHabit retrieves a habit scoped to its owner. Returns (nil, nil) if absent.
func (r *Repository) GetHabit(ctx context.Context, habitID, userID string) (*Habit, error) {
	query := `
		SELECT id, user_id, name, reminder_hour, reminder_minute
		FROM habits
		WHERE id = $1 AND user_id = $2
	`

	var h Habit
	err := r.db.Pool().QueryRow(ctx, query, habitID, userID).Scan(
		&h.ID,
		&h.UserID,
		&h.Name,
		&h.ReminderHour,
		&h.ReminderMinute,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query habit: %w", err)
	}

	return &h, nil
}

// ListHabitsByUser returns the user's habits that have a reminder time set.
func (r *Repository) ListHabitsByUser(ctx context.Context, userID string) ([]*Habit, error) {
	query := `
		SELECT id, user_id, name, reminder_hour, reminder_minute
		FROM habits
		WHERE user_id = $1 AND reminder_hour IS NOT NULL
		ORDER BY id
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query habits: %w", err)
	}
	defer rows.Close()

	var habits []*Habit
	for rows.Next() {
		var h Habit
		if err := rows.Scan(&h.ID, &h.UserID, &h.Name, &h.ReminderHour, &h.ReminderMinute); err != nil {
			return nil, fmt.Errorf("scan habit: %w", err)
		}
		habits = append(habits, &h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return habits, nil
}

// InsertNudge persists one proactive nudge for the pull feed.
func (r *Repository) InsertNudge(ctx context.Context, n *Nudge) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	query := `
		INSERT INTO nudges (id, user_id, title, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query, n.ID, n.UserID, n.Title, n.Body).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert nudge: %w", err)
	}

	return nil
}

// ListNudgesByUser returns the user's most recent nudges.
func (r *Repository) ListNudgesByUser(ctx context.Context, userID string, limit int) ([]*Nudge, error) {
	query := `
		SELECT id, user_id, title, body, created_at
		FROM nudges
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query nudges: %w", err)
	}
	defer rows.Close()

	var nudges []*Nudge
	for rows.Next() {
		var n Nudge
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan nudge: %w", err)
		}
		nudges = append(nudges, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return nudges, nil
}
