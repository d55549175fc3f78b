package trigger

import (
	"testing"
	"time"
)

func mustDaily(t *testing.T, hour, minute int, loc *time.Location) Spec {
	t.Helper()
	s, err := Daily(hour, minute, loc)
	if err != nil {
		t.Fatalf("Daily(%d, %d): %v", hour, minute, err)
	}
	return s
}

func TestDaily_BeforeTarget_FiresSameDay(t *testing.T) {
	s := mustDaily(t, 7, 0, time.UTC)
	ref := time.Date(2026, 1, 6, 5, 30, 0, 0, time.UTC)

	got := s.Next(ref)
	want := time.Date(2026, 1, 6, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}
}

func TestDaily_AfterTarget_AdvancesToNextDay(t *testing.T) {
	s := mustDaily(t, 7, 0, time.UTC)
	ref := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)

	got := s.Next(ref)
	want := time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}
}

func TestDaily_ExactlyAtTarget_DoesNotMatch(t *testing.T) {
	// A reference at exactly H:M must advance one full day, never re-fire
	// within the same tick.
	for _, tc := range []struct{ h, m int }{{7, 0}, {0, 0}, {23, 59}} {
		s := mustDaily(t, tc.h, tc.m, time.UTC)
		ref := time.Date(2026, 1, 6, tc.h, tc.m, 0, 0, time.UTC)

		got := s.Next(ref)
		if !got.After(ref) {
			t.Errorf("%02d:%02d: Next = %s, not strictly after ref", tc.h, tc.m, got)
		}
		want := ref.AddDate(0, 0, 1)
		if !got.Equal(want) {
			t.Errorf("%02d:%02d: Next = %s, want %s", tc.h, tc.m, got, want)
		}
	}
}

func TestDaily_MidMinute_AdvancesToNextDay(t *testing.T) {
	s := mustDaily(t, 7, 0, time.UTC)
	ref := time.Date(2026, 1, 6, 7, 0, 30, 0, time.UTC)

	got := s.Next(ref)
	want := time.Date(2026, 1, 7, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}
}

func TestDaily_UserTimezone_StoredAsUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 07:00 in New York during EST is 12:00 UTC.
	s := mustDaily(t, 7, 0, loc)
	ref := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)

	got := s.Next(ref)
	want := time.Date(2026, 1, 6, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}
	if got.Location() != time.UTC {
		t.Errorf("Next returned location %s, want UTC", got.Location())
	}
}

func TestWeekly_AdvancesToMatchingWeekday(t *testing.T) {
	s, err := Weekly(time.Monday, 9, 30, time.UTC)
	if err != nil {
		t.Fatalf("Weekly: %v", err)
	}

	// 2026-01-06 is a Tuesday; next Monday is 2026-01-12.
	ref := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
	got := s.Next(ref)
	want := time.Date(2026, 1, 12, 9, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Next = %s, want %s", got, want)
	}
}

func TestEvery_AddsPeriodUnconditionally(t *testing.T) {
	for _, period := range []time.Duration{time.Second, time.Minute, time.Hour} {
		s, err := Every(period)
		if err != nil {
			t.Fatalf("Every(%s): %v", period, err)
		}

		ref := time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)
		got := s.Next(ref)
		if !got.Equal(ref.Add(period)) {
			t.Errorf("Every(%s).Next = %s, want %s", period, got, ref.Add(period))
		}
	}
}

func TestInvalidSpecs(t *testing.T) {
	if _, err := Daily(24, 0, time.UTC); err == nil {
		t.Error("expected error for hour 24")
	}
	if _, err := Daily(-1, 0, time.UTC); err == nil {
		t.Error("expected error for hour -1")
	}
	if _, err := Daily(7, 60, time.UTC); err == nil {
		t.Error("expected error for minute 60")
	}
	if _, err := Every(0); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := Every(-time.Minute); err == nil {
		t.Error("expected error for negative interval")
	}
}

func TestInterval_Accessor(t *testing.T) {
	s, _ := Every(time.Minute)
	if d, ok := s.Interval(); !ok || d != time.Minute {
		t.Errorf("Interval() = (%s, %v), want (1m, true)", d, ok)
	}

	c := mustDaily(t, 7, 0, time.UTC)
	if _, ok := c.Interval(); ok {
		t.Error("cron spec should not report an interval")
	}
}
