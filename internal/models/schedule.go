package models

import "time"

// RepeatKind determines when a schedule fires.
type RepeatKind string

const (
	RepeatOnce         RepeatKind = "once"
	RepeatDaily        RepeatKind = "daily"
	RepeatWeekly       RepeatKind = "weekly"
	RepeatContinuously RepeatKind = "continuously"
	RepeatTriggered    RepeatKind = "triggered"
)

// IsValid reports whether k is a known repeat kind.
func (k RepeatKind) IsValid() bool {
	switch k {
	case RepeatOnce, RepeatDaily, RepeatWeekly, RepeatContinuously, RepeatTriggered:
		return true
	}
	return false
}

// DefaultMinDelayMinutes is the backpressure delay for continuous schedules.
const DefaultMinDelayMinutes = 10

// Schedule creates jobs over time or on external trigger. It targets either
// a single configuration id or every configuration matching a tag selector.
type Schedule struct {
	ID     string     `json:"id"`
	Repeat RepeatKind `json:"repeat"`

	ConfigID string `json:"config_id,omitempty"`
	TagKey   string `json:"tag_key,omitempty"`
	TagValue string `json:"tag_value,omitempty"`

	StartTime time.Time `json:"start_time,omitempty"` // Zero means "as soon as possible"

	// Days is the weekly day-of-week bitmap; bit n corresponds to
	// time.Weekday(n), so bit 0 is Sunday.
	Days uint8 `json:"days,omitempty"`

	MinDelayMinutes int  `json:"min_delay_minutes,omitempty"` // Continuous only
	TriggerFired    bool `json:"trigger_fired,omitempty"`     // Triggered only

	Owner     string `json:"owner,omitempty"`
	Comment   string `json:"comment,omitempty"`
	Suspended bool   `json:"suspended"`

	LastStart time.Time `json:"last_start,omitempty"`
	LastJobs  []string  `json:"last_jobs,omitempty"`
	Done      bool      `json:"done"` // Once-only schedules

	CreatedAt time.Time `json:"created_at"`
}

// DayEnabled reports whether the weekly bitmap enables the given weekday.
func (s *Schedule) DayEnabled(day time.Weekday) bool {
	return s.Days&(1<<uint(day)) != 0
}

// NextWeekday returns the first instant at or after t whose weekday is
// enabled. With an empty bitmap it returns t unchanged.
func (s *Schedule) NextWeekday(t time.Time) time.Time {
	if s.Days == 0 {
		return t
	}
	for i := 0; i < 7; i++ {
		if s.DayEnabled(t.Weekday()) {
			return t
		}
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// Due reports whether the schedule should be considered on this tick.
func (s *Schedule) Due(now time.Time) bool {
	if s.Suspended || s.Done {
		return false
	}
	if s.Repeat == RepeatTriggered {
		return s.TriggerFired
	}
	return s.StartTime.IsZero() || !s.StartTime.After(now)
}

// ScheduleStatus is the computed, never stored, UI status of a schedule.
type ScheduleStatus string

const (
	ScheduleDone      ScheduleStatus = "done"
	ScheduleRunning   ScheduleStatus = "running"
	ScheduleError     ScheduleStatus = "error"
	ScheduleWarning   ScheduleStatus = "warning"
	ScheduleSuspended ScheduleStatus = "suspended"
	ScheduleOK        ScheduleStatus = "ok"
)
