package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
)

type fakeRepo struct {
	users   map[string]*db.User
	created []*db.Notification
	failAt  error
}

func (f *fakeRepo) GetUser(ctx context.Context, userID string) (*db.User, error) {
	return f.users[userID], nil
}

func (f *fakeRepo) CreatePendingNotification(ctx context.Context, n *db.Notification) error {
	if f.failAt != nil {
		return f.failAt
	}
	n.Status = db.StatusPending
	f.created = append(f.created, n)
	return nil
}

func testScheduler(repo *fakeRepo, now time.Time) *Scheduler {
	s := NewScheduler(repo, zap.NewNop())
	s.nowFn = func() time.Time { return now }
	return s
}

func utcUser(id string) *db.User {
	return &db.User{ID: id, Email: id + "@example.com", Timezone: "UTC", Active: true}
}

func TestScheduleHabitReminder_NextOccurrence(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{"u1": utcUser("u1")}}
	now := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
	s := testScheduler(repo, now)

	notif, err := s.ScheduleHabitReminder(context.Background(), "u1", "h1", "Run", 7, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC)
	if !notif.TriggerTime.Equal(want) {
		t.Errorf("trigger = %v, want %v (07:00 already passed today)", notif.TriggerTime, want)
	}
	if notif.Status != db.StatusPending {
		t.Errorf("status = %s, want pending", notif.Status)
	}
	if notif.Type != db.TypeHabitReminder {
		t.Errorf("type = %s, want %s", notif.Type, db.TypeHabitReminder)
	}
}

func TestScheduleBriefing_UserTimezone(t *testing.T) {
	if _, err := time.LoadLocation("America/New_York"); err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	repo := &fakeRepo{users: map[string]*db.User{
		"u1": {ID: "u1", Email: "u1@example.com", Timezone: "America/New_York", Active: true},
	}}
	now := time.Date(2026, 1, 6, 1, 0, 0, 0, time.UTC)
	s := testScheduler(repo, now)

	notif, err := s.ScheduleBriefing(context.Background(), "u1", BriefingMorning, 7, 0, "Good morning", "Here is your day.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 07:00 in New York (UTC-5 in January) is 12:00 UTC the same day.
	want := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	if !notif.TriggerTime.Equal(want) {
		t.Errorf("trigger = %v, want %v", notif.TriggerTime, want)
	}
	if notif.Type != db.TypeMorningBriefing {
		t.Errorf("type = %s, want %s", notif.Type, db.TypeMorningBriefing)
	}
}

func TestScheduleBriefing_EveningSlot(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{"u1": utcUser("u1")}}
	now := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
	s := testScheduler(repo, now)

	notif, err := s.ScheduleBriefing(context.Background(), "u1", BriefingEvening, 21, 30, "Evening review", "How did today go?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if notif.Type != db.TypeEveningReview {
		t.Errorf("type = %s, want %s", notif.Type, db.TypeEveningReview)
	}
	want := time.Date(2026, 1, 6, 21, 30, 0, 0, time.UTC)
	if !notif.TriggerTime.Equal(want) {
		t.Errorf("trigger = %v, want %v", notif.TriggerTime, want)
	}
}

func TestScheduleBriefing_UnknownSlot(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{"u1": utcUser("u1")}}
	s := testScheduler(repo, time.Now())

	if _, err := s.ScheduleBriefing(context.Background(), "u1", "noon", 12, 0, "", ""); err == nil {
		t.Fatal("expected error for unknown briefing slot")
	}
}

func TestScheduleBriefing_UnknownUser(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{}}
	s := testScheduler(repo, time.Now())

	if _, err := s.ScheduleBriefing(context.Background(), "ghost", BriefingMorning, 7, 0, "", ""); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestScheduleHabitReminder_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{
		"u1": {ID: "u1", Email: "u1@example.com", Timezone: "Mars/Olympus", Active: true},
	}}
	now := time.Date(2026, 1, 6, 6, 0, 0, 0, time.UTC)
	s := testScheduler(repo, now)

	notif, err := s.ScheduleHabitReminder(context.Background(), "u1", "h1", "Stretch", 7, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 6, 7, 0, 0, 0, time.UTC)
	if !notif.TriggerTime.Equal(want) {
		t.Errorf("trigger = %v, want %v (UTC fallback)", notif.TriggerTime, want)
	}
}

func TestScheduleTaskDueReminder_LeadSubtraction(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{"u1": utcUser("u1")}}
	s := testScheduler(repo, time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC))

	due := time.Date(2026, 1, 8, 17, 0, 0, 0, time.UTC)
	notif, err := s.ScheduleTaskDueReminder(context.Background(), "u1", "t1", "File taxes", due, 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := time.Date(2026, 1, 8, 15, 0, 0, 0, time.UTC)
	if !notif.TriggerTime.Equal(want) {
		t.Errorf("trigger = %v, want %v", notif.TriggerTime, want)
	}
}

func TestScheduleTaskDueReminder_PastTriggerIsImmediatelyDue(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{"u1": utcUser("u1")}}
	now := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
	s := testScheduler(repo, now)

	// Due in one hour with a two hour lead: the computed trigger is in
	// the past and stays there, so the next cycle delivers it.
	due := now.Add(time.Hour)
	notif, err := s.ScheduleTaskDueReminder(context.Background(), "u1", "t1", "Call dentist", due, 2*time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !notif.TriggerTime.Before(now) {
		t.Errorf("trigger = %v, want before %v (no clamping)", notif.TriggerTime, now)
	}
}

func TestScheduleTaskDueReminder_NegativeLead(t *testing.T) {
	repo := &fakeRepo{users: map[string]*db.User{"u1": utcUser("u1")}}
	s := testScheduler(repo, time.Now())

	if _, err := s.ScheduleTaskDueReminder(context.Background(), "u1", "t1", "x", time.Now(), -time.Hour); err == nil {
		t.Fatal("expected error for negative lead")
	}
}

func TestScheduler_CreateFailurePropagates(t *testing.T) {
	repo := &fakeRepo{
		users:  map[string]*db.User{"u1": utcUser("u1")},
		failAt: errors.New("db down"),
	}
	s := testScheduler(repo, time.Now())

	if _, err := s.ScheduleHabitReminder(context.Background(), "u1", "h1", "Run", 7, 0); err == nil {
		t.Fatal("expected create failure to propagate")
	}
	if len(repo.created) != 0 {
		t.Errorf("created %d notifications, want 0", len(repo.created))
	}
}
