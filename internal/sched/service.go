// Package sched owns the scheduler runtime: it registers the global jobs
// (dispatch cycle, proactive sweep, daily reschedule) and derives the
// per-user jobs (briefings, habit reminders) from stored preferences.
package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/engine"
	"github.com/daybreakhq/daybreak/internal/jobs"
	"github.com/daybreakhq/daybreak/internal/metrics"
	"github.com/daybreakhq/daybreak/internal/notify"
	"github.com/daybreakhq/daybreak/internal/trigger"
)

// Well-known global job keys.
const (
	JobDispatchCycle   = "dispatch_cycle"
	JobProactiveSweep  = "proactive_sweep"
	JobDailyReschedule = "daily_reschedule"
)

type Repository interface {
	GetUser(ctx context.Context, userID string) (*db.User, error)
	ListActiveUsers(ctx context.Context) ([]*db.User, error)
	ListHabitsByUser(ctx context.Context, userID string) ([]*db.Habit, error)
	InsertNudge(ctx context.Context, n *db.Nudge) error
}

// Notifier writes pending notification rows.
type Notifier interface {
	ScheduleAt(ctx context.Context, userID, notifType, title, body string, at time.Time) (*db.Notification, error)
}

// Dispatcher runs one delivery pass over the due set.
type Dispatcher interface {
	Run(ctx context.Context, now time.Time) error
}

// Engine produces briefing text and proactive nudges. Nil disables both;
// briefings fall back to static copy.
type Engine interface {
	MorningBriefing(ctx context.Context, snap engine.DaySnapshot) (string, error)
	EveningReview(ctx context.Context, snap engine.DaySnapshot) (string, error)
	CheckForNudges(ctx context.Context, snap engine.DaySnapshot) ([]engine.Nudge, error)
}

// Config holds scheduler cadences.
type Config struct {
	TickInterval      time.Duration
	DispatchInterval  time.Duration
	ProactiveInterval time.Duration
	RescheduleHourUTC int
	JobTimeout        time.Duration
}

// Service wires the registry, runtime, and job derivation together.
type Service struct {
	registry   *jobs.Registry
	runtime    *jobs.Runtime
	repo       Repository
	notifier   Notifier
	dispatcher Dispatcher
	eng        Engine
	config     Config
	logger     *zap.Logger
	nowFn      func() time.Time
}

func New(repo Repository, notifier Notifier, dispatcher Dispatcher, eng Engine, cfg Config, logger *zap.Logger) *Service {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = time.Minute
	}
	if cfg.ProactiveInterval <= 0 {
		cfg.ProactiveInterval = 30 * time.Minute
	}

	registry := jobs.NewRegistry(cfg.JobTimeout, logger)
	return &Service{
		registry:   registry,
		runtime:    jobs.NewRuntime(registry, cfg.TickInterval, logger),
		repo:       repo,
		notifier:   notifier,
		dispatcher: dispatcher,
		eng:        eng,
		config:     cfg,
		logger:     logger,
		nowFn:      time.Now,
	}
}

// Registry exposes the job registry for inspection.
func (s *Service) Registry() *jobs.Registry {
	return s.registry
}

// Start registers the global jobs, derives per-user jobs from stored
// preferences, and starts the tick loop.
func (s *Service) Start(ctx context.Context) error {
	if err := s.registerGlobalJobs(); err != nil {
		return err
	}

	// Job state is in-memory only, so every boot rebuilds the per-user
	// set before the first tick.
	s.rescheduleAll(ctx)

	s.runtime.Start(ctx)
	s.logger.Info("scheduler started",
		zap.Duration("tick_interval", s.config.TickInterval),
		zap.Int("jobs", s.registry.Size()),
	)
	return nil
}

// Shutdown stops the tick loop and waits for in-flight jobs to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.runtime.Shutdown(ctx)
}

func (s *Service) registerGlobalJobs() error {
	dispatchSpec, err := trigger.Every(s.config.DispatchInterval)
	if err != nil {
		return fmt.Errorf("dispatch spec: %w", err)
	}
	if err := s.registry.Upsert(JobDispatchCycle, dispatchSpec, func(ctx context.Context) error {
		return s.dispatcher.Run(ctx, s.nowFn().UTC())
	}); err != nil {
		return err
	}

	rescheduleSpec, err := trigger.Daily(s.config.RescheduleHourUTC, 0, time.UTC)
	if err != nil {
		return fmt.Errorf("reschedule spec: %w", err)
	}
	if err := s.registry.Upsert(JobDailyReschedule, rescheduleSpec, func(ctx context.Context) error {
		s.rescheduleAll(ctx)
		return nil
	}); err != nil {
		return err
	}

	if s.eng == nil {
		s.logger.Info("engine disabled, proactive sweep not registered")
		return nil
	}
	proactiveSpec, err := trigger.Every(s.config.ProactiveInterval)
	if err != nil {
		return fmt.Errorf("proactive spec: %w", err)
	}
	return s.registry.Upsert(JobProactiveSweep, proactiveSpec, s.proactiveSweep)
}

// rescheduleAll re-derives the per-user job set for every active user.
// Per-user failures are isolated; one bad row never blocks the sweep.
func (s *Service) rescheduleAll(ctx context.Context) {
	users, err := s.repo.ListActiveUsers(ctx)
	if err != nil {
		s.logger.Error("reschedule sweep failed to list users", zap.Error(err))
		return
	}

	for _, user := range users {
		if err := s.rescheduleUser(ctx, user); err != nil {
			s.logger.Error("failed to reschedule user",
				zap.Error(err),
				zap.String("user_id", user.ID),
			)
		}
	}

	s.logger.Info("reschedule sweep complete",
		zap.Int("users", len(users)),
		zap.Int("jobs", s.registry.Size()),
	)
}

// RescheduleUser re-derives one user's jobs. An inactive or deleted user
// keeps no jobs.
func (s *Service) RescheduleUser(ctx context.Context, userID string) error {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil || !user.Active {
		s.CancelUserJobs(ctx, userID)
		return nil
	}
	return s.rescheduleUser(ctx, user)
}

func (s *Service) rescheduleUser(ctx context.Context, user *db.User) error {
	loc := s.locationFor(user)
	keep := make(map[string]bool)

	if user.MorningHour != nil {
		minute := 0
		if user.MorningMinute != nil {
			minute = *user.MorningMinute
		}
		spec, err := trigger.Daily(*user.MorningHour, minute, loc)
		if err != nil {
			return fmt.Errorf("morning briefing spec: %w", err)
		}
		key := briefingJobKey(notify.BriefingMorning, user.ID)
		if err := s.registry.Upsert(key, spec, s.briefingJob(user.ID, notify.BriefingMorning)); err != nil {
			return err
		}
		keep[key] = true
	}

	if user.EveningHour != nil {
		minute := 0
		if user.EveningMinute != nil {
			minute = *user.EveningMinute
		}
		spec, err := trigger.Daily(*user.EveningHour, minute, loc)
		if err != nil {
			return fmt.Errorf("evening review spec: %w", err)
		}
		key := briefingJobKey(notify.BriefingEvening, user.ID)
		if err := s.registry.Upsert(key, spec, s.briefingJob(user.ID, notify.BriefingEvening)); err != nil {
			return err
		}
		keep[key] = true
	}

	habits, err := s.repo.ListHabitsByUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to list habits for %s: %w", user.ID, err)
	}
	for _, habit := range habits {
		if habit.ReminderHour == nil {
			continue
		}
		minute := 0
		if habit.ReminderMinute != nil {
			minute = *habit.ReminderMinute
		}
		spec, err := trigger.Daily(*habit.ReminderHour, minute, loc)
		if err != nil {
			return fmt.Errorf("habit %s spec: %w", habit.ID, err)
		}
		key := habitJobKey(habit.ID, user.ID)
		if err := s.registry.Upsert(key, spec, s.habitJob(user.ID, habit.ID, habit.Name)); err != nil {
			return err
		}
		keep[key] = true
	}

	// Drop jobs for preferences that no longer exist, e.g. a habit whose
	// reminder was cleared since the last sweep.
	for _, key := range s.registry.KeysWithSuffix(userSuffix(user.ID)) {
		if !keep[key] {
			s.registry.Cancel(key)
		}
	}

	return nil
}

// CancelUserJobs removes every job derived for userID.
func (s *Service) CancelUserJobs(ctx context.Context, userID string) {
	for _, key := range s.registry.KeysWithSuffix(userSuffix(userID)) {
		s.registry.Cancel(key)
	}
}

func (s *Service) locationFor(user *db.User) *time.Location {
	if user.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(user.Timezone)
	if err != nil {
		s.logger.Warn("unknown user timezone, falling back to UTC",
			zap.String("user_id", user.ID),
			zap.String("timezone", user.Timezone),
		)
		return time.UTC
	}
	return loc
}

// briefingJob returns the callback for one user's briefing slot. When it
// fires, the briefing text is generated and written as an immediately due
// pending notification; the next dispatch cycle delivers it.
func (s *Service) briefingJob(userID, slot string) jobs.Func {
	return func(ctx context.Context) error {
		title, notifType := "Good morning", db.TypeMorningBriefing
		if slot == notify.BriefingEvening {
			title, notifType = "Evening review", db.TypeEveningReview
		}

		body := s.briefingBody(ctx, userID, slot)
		_, err := s.notifier.ScheduleAt(ctx, userID, notifType, title, body, s.nowFn())
		return err
	}
}

func (s *Service) briefingBody(ctx context.Context, userID, slot string) string {
	fallback := "Here's your plan for today. Open the app for details."
	if slot == notify.BriefingEvening {
		fallback = "Time to wrap up. Review what you got done today."
	}
	if s.eng == nil {
		return fallback
	}

	snap, err := s.snapshotFor(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to build day snapshot", zap.Error(err), zap.String("user_id", userID))
		return fallback
	}

	var body string
	if slot == notify.BriefingEvening {
		body, err = s.eng.EveningReview(ctx, snap)
	} else {
		body, err = s.eng.MorningBriefing(ctx, snap)
	}
	if err != nil {
		s.logger.Warn("engine briefing generation failed, using fallback",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return fallback
	}
	return body
}

// habitJob returns the callback for one habit reminder.
func (s *Service) habitJob(userID, habitID, habitName string) jobs.Func {
	return func(ctx context.Context) error {
		_, err := s.notifier.ScheduleAt(ctx, userID, db.TypeHabitReminder,
			"Habit reminder", fmt.Sprintf("Time for: %s", habitName), s.nowFn())
		return err
	}
}

// proactiveSweep asks the engine whether any active user deserves a
// nudge and persists the suggestions to the pull feed.
func (s *Service) proactiveSweep(ctx context.Context) error {
	users, err := s.repo.ListActiveUsers(ctx)
	if err != nil {
		return fmt.Errorf("proactive sweep failed to list users: %w", err)
	}

	total := 0
	for _, user := range users {
		snap, err := s.snapshotFor(ctx, user.ID)
		if err != nil {
			s.logger.Warn("failed to build day snapshot", zap.Error(err), zap.String("user_id", user.ID))
			continue
		}

		nudges, err := s.eng.CheckForNudges(ctx, snap)
		if err != nil {
			s.logger.Warn("nudge check failed", zap.Error(err), zap.String("user_id", user.ID))
			continue
		}

		for _, nudge := range nudges {
			row := &db.Nudge{
				ID:     uuid.New(),
				UserID: user.ID,
				Title:  nudge.Title,
				Body:   nudge.Body,
			}
			if err := s.repo.InsertNudge(ctx, row); err != nil {
				s.logger.Error("failed to persist nudge", zap.Error(err), zap.String("user_id", user.ID))
				continue
			}
			total++
		}
	}

	metrics.RecordNudges(total)
	s.logger.Info("proactive sweep complete",
		zap.Int("users", len(users)),
		zap.Int("nudges", total),
	)
	return nil
}

func (s *Service) snapshotFor(ctx context.Context, userID string) (engine.DaySnapshot, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return engine.DaySnapshot{}, err
	}
	if user == nil {
		return engine.DaySnapshot{}, fmt.Errorf("user %s not found", userID)
	}

	now := s.nowFn().In(s.locationFor(user))
	snap := engine.DaySnapshot{
		UserID:    userID,
		Date:      now.Format("2006-01-02"),
		LocalHour: now.Hour(),
	}

	habits, err := s.repo.ListHabitsByUser(ctx, userID)
	if err != nil {
		return engine.DaySnapshot{}, err
	}
	for _, h := range habits {
		snap.Habits = append(snap.Habits, h.Name)
	}
	return snap, nil
}

func briefingJobKey(slot, userID string) string {
	return fmt.Sprintf("briefing_%s_%s", slot, userID)
}

func habitJobKey(habitID, userID string) string {
	return fmt.Sprintf("habit_%s_%s", habitID, userID)
}

func userSuffix(userID string) string {
	return "_" + userID
}
