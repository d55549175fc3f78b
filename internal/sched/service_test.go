package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/engine"
)

type fakeRepo struct {
	mu     sync.Mutex
	users  map[string]*db.User
	habits map[string][]*db.Habit
	nudges []*db.Nudge
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:  make(map[string]*db.User),
		habits: make(map[string][]*db.Habit),
	}
}

func (f *fakeRepo) GetUser(ctx context.Context, userID string) (*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[userID], nil
}

func (f *fakeRepo) ListActiveUsers(ctx context.Context) ([]*db.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*db.User
	for _, u := range f.users {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListHabitsByUser(ctx context.Context, userID string) ([]*db.Habit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.habits[userID], nil
}

func (f *fakeRepo) InsertNudge(ctx context.Context, n *db.Nudge) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nudges = append(f.nudges, n)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	created []*db.Notification
}

func (f *fakeNotifier) ScheduleAt(ctx context.Context, userID, notifType, title, body string, at time.Time) (*db.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := &db.Notification{
		UserID:      userID,
		Type:        notifType,
		Title:       title,
		Body:        body,
		TriggerTime: at.UTC(),
		Status:      db.StatusPending,
	}
	f.created = append(f.created, n)
	return n, nil
}

type fakeDispatcher struct {
	mu   sync.Mutex
	runs int
}

func (f *fakeDispatcher) Run(ctx context.Context, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	return nil
}

type fakeEngine struct {
	nudges   []engine.Nudge
	nudgeErr error
}

func (f *fakeEngine) MorningBriefing(ctx context.Context, snap engine.DaySnapshot) (string, error) {
	return "Three tasks today, light afternoon.", nil
}

func (f *fakeEngine) EveningReview(ctx context.Context, snap engine.DaySnapshot) (string, error) {
	return "Two done, one slipped to tomorrow.", nil
}

func (f *fakeEngine) CheckForNudges(ctx context.Context, snap engine.DaySnapshot) ([]engine.Nudge, error) {
	return f.nudges, f.nudgeErr
}

func intPtr(n int) *int { return &n }

func activeUser(id string) *db.User {
	return &db.User{ID: id, Email: id + "@example.com", Timezone: "UTC", Active: true}
}

func testService(repo Repository, notifier Notifier, eng Engine) *Service {
	return New(repo, notifier, &fakeDispatcher{}, eng, Config{
		TickInterval:      time.Second,
		DispatchInterval:  time.Minute,
		ProactiveInterval: 30 * time.Minute,
		RescheduleHourUTC: 3,
	}, zap.NewNop())
}

func TestStart_RegistersGlobalJobs(t *testing.T) {
	svc := testService(newFakeRepo(), &fakeNotifier{}, &fakeEngine{})
	if err := svc.registerGlobalJobs(); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, key := range []string{JobDispatchCycle, JobProactiveSweep, JobDailyReschedule} {
		if _, ok := svc.Registry().NextFire(key); !ok {
			t.Errorf("global job %q not registered", key)
		}
	}
}

func TestStart_NoProactiveSweepWithoutEngine(t *testing.T) {
	svc := testService(newFakeRepo(), &fakeNotifier{}, nil)
	if err := svc.registerGlobalJobs(); err != nil {
		t.Fatalf("register: %v", err)
	}

	if _, ok := svc.Registry().NextFire(JobProactiveSweep); ok {
		t.Error("proactive sweep must not register without an engine")
	}
}

func TestRescheduleUser_DerivesJobs(t *testing.T) {
	repo := newFakeRepo()
	u := activeUser("u1")
	u.MorningHour = intPtr(7)
	u.EveningHour = intPtr(21)
	u.EveningMinute = intPtr(30)
	repo.users["u1"] = u
	repo.habits["u1"] = []*db.Habit{
		{ID: "h1", UserID: "u1", Name: "Run", ReminderHour: intPtr(7)},
		{ID: "h2", UserID: "u1", Name: "Journal"}, // no reminder time
	}

	svc := testService(repo, &fakeNotifier{}, nil)
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	for _, key := range []string{"briefing_morning_u1", "briefing_evening_u1", "habit_h1_u1"} {
		if _, ok := svc.Registry().NextFire(key); !ok {
			t.Errorf("job %q not derived", key)
		}
	}
	if _, ok := svc.Registry().NextFire("habit_h2_u1"); ok {
		t.Error("habit without reminder time must not get a job")
	}
	if got := svc.Registry().Size(); got != 3 {
		t.Errorf("registry size = %d, want 3", got)
	}
}

func TestRescheduleUser_ReplacesChangedHabitTime(t *testing.T) {
	repo := newFakeRepo()
	repo.users["u1"] = activeUser("u1")
	repo.habits["u1"] = []*db.Habit{
		{ID: "h1", UserID: "u1", Name: "Run", ReminderHour: intPtr(7)},
	}

	svc := testService(repo, &fakeNotifier{}, nil)
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule 1: %v", err)
	}
	first, ok := svc.Registry().NextFire("habit_h1_u1")
	if !ok {
		t.Fatal("habit job not registered")
	}

	// The user moves the reminder to 09:00. One job per key: the entry
	// is replaced, not duplicated.
	repo.habits["u1"] = []*db.Habit{
		{ID: "h1", UserID: "u1", Name: "Run", ReminderHour: intPtr(9)},
	}
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule 2: %v", err)
	}

	second, ok := svc.Registry().NextFire("habit_h1_u1")
	if !ok {
		t.Fatal("habit job missing after reschedule")
	}
	if first.Equal(second) {
		t.Error("next fire time should change when the reminder moves")
	}
	if got := svc.Registry().Size(); got != 1 {
		t.Errorf("registry size = %d, want 1 (replaced, not duplicated)", got)
	}
}

func TestRescheduleUser_DropsStaleJobs(t *testing.T) {
	repo := newFakeRepo()
	repo.users["u1"] = activeUser("u1")
	repo.habits["u1"] = []*db.Habit{
		{ID: "h1", UserID: "u1", Name: "Run", ReminderHour: intPtr(7)},
	}

	svc := testService(repo, &fakeNotifier{}, nil)
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule 1: %v", err)
	}

	// The reminder was cleared since the last sweep.
	repo.habits["u1"] = []*db.Habit{
		{ID: "h1", UserID: "u1", Name: "Run"},
	}
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule 2: %v", err)
	}

	if _, ok := svc.Registry().NextFire("habit_h1_u1"); ok {
		t.Error("stale habit job should have been cancelled")
	}
}

func TestRescheduleUser_InactiveUserKeepsNoJobs(t *testing.T) {
	repo := newFakeRepo()
	u := activeUser("u1")
	u.MorningHour = intPtr(7)
	repo.users["u1"] = u

	svc := testService(repo, &fakeNotifier{}, nil)
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	if svc.Registry().Size() != 1 {
		t.Fatalf("registry size = %d, want 1", svc.Registry().Size())
	}

	u.Active = false
	if err := svc.RescheduleUser(context.Background(), "u1"); err != nil {
		t.Fatalf("reschedule inactive: %v", err)
	}
	if got := svc.Registry().Size(); got != 0 {
		t.Errorf("registry size = %d, want 0 for inactive user", got)
	}
}

func TestBriefingJob_WritesImmediatelyDueNotification(t *testing.T) {
	repo := newFakeRepo()
	repo.users["u1"] = activeUser("u1")
	notifier := &fakeNotifier{}

	svc := testService(repo, notifier, nil)
	now := time.Date(2026, 1, 6, 7, 0, 0, 0, time.UTC)
	svc.nowFn = func() time.Time { return now }

	job := svc.briefingJob("u1", "morning")
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}

	if len(notifier.created) != 1 {
		t.Fatalf("created %d notifications, want 1", len(notifier.created))
	}
	n := notifier.created[0]
	if n.Type != db.TypeMorningBriefing {
		t.Errorf("type = %s, want %s", n.Type, db.TypeMorningBriefing)
	}
	if !n.TriggerTime.Equal(now) {
		t.Errorf("trigger = %v, want %v (immediately due)", n.TriggerTime, now)
	}
	if n.Body == "" {
		t.Error("fallback briefing body must not be empty without an engine")
	}
}

func TestBriefingJob_UsesEngineText(t *testing.T) {
	repo := newFakeRepo()
	repo.users["u1"] = activeUser("u1")
	notifier := &fakeNotifier{}

	svc := testService(repo, notifier, &fakeEngine{})
	job := svc.briefingJob("u1", "evening")
	if err := job(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}

	if len(notifier.created) != 1 {
		t.Fatalf("created %d notifications, want 1", len(notifier.created))
	}
	if got := notifier.created[0].Body; got != "Two done, one slipped to tomorrow." {
		t.Errorf("body = %q, want engine text", got)
	}
}

func TestProactiveSweep_PersistsNudges(t *testing.T) {
	repo := newFakeRepo()
	repo.users["u1"] = activeUser("u1")
	repo.users["u2"] = activeUser("u2")

	eng := &fakeEngine{nudges: []engine.Nudge{
		{Title: "Overdue task", Body: "File taxes slipped two days."},
	}}
	svc := testService(repo, &fakeNotifier{}, eng)

	if err := svc.proactiveSweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if len(repo.nudges) != 2 {
		t.Fatalf("persisted %d nudges, want 2 (one per user)", len(repo.nudges))
	}
	for _, n := range repo.nudges {
		if n.Title != "Overdue task" {
			t.Errorf("title = %q", n.Title)
		}
	}
}

func TestProactiveSweep_EngineFailureIsolatedPerUser(t *testing.T) {
	repo := newFakeRepo()
	repo.users["u1"] = activeUser("u1")

	eng := &fakeEngine{nudgeErr: errors.New("engine timeout")}
	svc := testService(repo, &fakeNotifier{}, eng)

	if err := svc.proactiveSweep(context.Background()); err != nil {
		t.Fatalf("sweep must not fail outright: %v", err)
	}
	if len(repo.nudges) != 0 {
		t.Errorf("persisted %d nudges, want 0", len(repo.nudges))
	}
}

func TestDispatchJob_RunsDispatcher(t *testing.T) {
	repo := newFakeRepo()
	dispatcher := &fakeDispatcher{}
	svc := New(repo, &fakeNotifier{}, dispatcher, nil, Config{
		TickInterval:      10 * time.Millisecond,
		DispatchInterval:  20 * time.Millisecond,
		ProactiveInterval: time.Hour,
		RescheduleHourUTC: 3,
	}, zap.NewNop())

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for {
		dispatcher.mu.Lock()
		runs := dispatcher.runs
		dispatcher.mu.Unlock()
		if runs >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("dispatch job never fired")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
