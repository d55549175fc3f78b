// Package trigger computes next-fire times for job schedules. It is pure
// computation: no clocks, no I/O. Callers validate specs at construction,
// so Next never fails.
package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type kind int

const (
	kindCron kind = iota
	kindInterval
)

// Spec describes when a job fires: either a cron-style wall-clock time
// (daily, or weekly on one weekday) evaluated in a fixed location, or a
// fixed interval. Construct via Daily, Weekly, or Every.
type Spec struct {
	k        kind
	schedule cron.Schedule
	every    time.Duration
	desc     string
}

// Daily returns a spec firing once per day at hour:minute in loc.
// A nil loc means UTC.
func Daily(hour, minute int, loc *time.Location) (Spec, error) {
	return cronSpec(hour, minute, "*", loc)
}

// Weekly returns a spec firing at hour:minute in loc on the given weekday.
func Weekly(weekday time.Weekday, hour, minute int, loc *time.Location) (Spec, error) {
	return cronSpec(hour, minute, fmt.Sprintf("%d", int(weekday)), loc)
}

// Every returns a fixed-interval spec.
func Every(period time.Duration) (Spec, error) {
	if period <= 0 {
		return Spec{}, fmt.Errorf("interval must be positive, got %s", period)
	}
	return Spec{
		k:     kindInterval,
		every: period,
		desc:  fmt.Sprintf("every %s", period),
	}, nil
}

func cronSpec(hour, minute int, dow string, loc *time.Location) (Spec, error) {
	if hour < 0 || hour > 23 {
		return Spec{}, fmt.Errorf("hour out of range: %d", hour)
	}
	if minute < 0 || minute > 59 {
		return Spec{}, fmt.Errorf("minute out of range: %d", minute)
	}
	if loc == nil {
		loc = time.UTC
	}

	expr := fmt.Sprintf("CRON_TZ=%s %d %d * * %s", loc.String(), minute, hour, dow)
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("parse schedule %q: %w", expr, err)
	}

	return Spec{
		k:        kindCron,
		schedule: schedule,
		desc:     expr,
	}, nil
}

// Next returns the next fire time strictly after ref, in UTC.
//
// For cron specs a reference landing exactly on the wall-clock target does
// not match; the spec advances a full period. This keeps a job from
// re-firing within the tick that just ran it.
func (s Spec) Next(ref time.Time) time.Time {
	if s.k == kindInterval {
		return ref.Add(s.every).UTC()
	}
	return s.schedule.Next(ref).UTC()
}

// Interval reports whether this is a fixed-interval spec and its period.
func (s Spec) Interval() (time.Duration, bool) {
	if s.k == kindInterval {
		return s.every, true
	}
	return 0, false
}

func (s Spec) String() string {
	return s.desc
}
