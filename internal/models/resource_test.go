package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testWarn = 7 * time.Second
	testLost = 302 * time.Second
)

func TestConnectionStatusFromSyncAge(t *testing.T) {
	now := time.Now()
	runner := &Resource{ID: "r1", Type: TaskRunnerType}

	assert.Equal(t, ConnectionNew, runner.ConnectionStatus(now, testWarn, testLost))

	runner.LastSync = now.Add(-2 * time.Second)
	assert.Equal(t, ConnectionConnected, runner.ConnectionStatus(now, testWarn, testLost))

	runner.LastSync = now.Add(-30 * time.Second)
	assert.Equal(t, ConnectionWarning, runner.ConnectionStatus(now, testWarn, testLost))

	runner.LastSync = now.Add(-10 * time.Minute)
	assert.Equal(t, ConnectionLost, runner.ConnectionStatus(now, testWarn, testLost))

	// Non-runner resources have no sync protocol and always count as connected.
	repo := &Resource{ID: "repo", Type: RepoType}
	assert.Equal(t, ConnectionConnected, repo.ConnectionStatus(now, testWarn, testLost))
}

func TestStatusLevelOrdering(t *testing.T) {
	now := time.Now()
	res := &Resource{ID: "r1", Type: TaskRunnerType, LastSync: now}

	assert.Equal(t, LevelFree, res.StatusLevel(now, testWarn, testLost))

	res.Suspended = true
	assert.Equal(t, LevelSuspended, res.StatusLevel(now, testWarn, testLost))

	// A reservation outranks suspension: the holder still gets to finish.
	res.ReservedBy = "run1"
	assert.Equal(t, LevelReserved, res.StatusLevel(now, testWarn, testLost))

	res.LastSync = now.Add(-time.Hour)
	assert.Equal(t, LevelLost, res.StatusLevel(now, testWarn, testLost))
}

func TestReserved(t *testing.T) {
	res := &Resource{ID: "r1"}
	assert.False(t, res.Reserved())

	res.ReservedBy = "run1"
	assert.True(t, res.Reserved())

	res.ReservedBy = ""
	res.ReservedForJob = "job1"
	assert.True(t, res.Reserved())
}

func TestScheduleDue(t *testing.T) {
	now := time.Now()

	sched := &Schedule{Repeat: RepeatOnce}
	assert.True(t, sched.Due(now), "zero start time means as soon as possible")

	sched.StartTime = now.Add(time.Hour)
	assert.False(t, sched.Due(now))

	sched.StartTime = now.Add(-time.Hour)
	assert.True(t, sched.Due(now))

	sched.Suspended = true
	assert.False(t, sched.Due(now))

	trig := &Schedule{Repeat: RepeatTriggered}
	assert.False(t, trig.Due(now))
	trig.TriggerFired = true
	assert.True(t, trig.Due(now))
}

func TestNextWeekday(t *testing.T) {
	// 2026-08-24 is a Monday.
	monday := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)

	sched := &Schedule{Days: 1 << uint(time.Thursday)}
	next := sched.NextWeekday(monday)
	assert.Equal(t, time.Thursday, next.Weekday())
	assert.Equal(t, monday.AddDate(0, 0, 3), next)

	// An enabled day returns the instant unchanged.
	sched.Days |= 1 << uint(time.Monday)
	assert.Equal(t, monday, sched.NextWeekday(monday))

	// An empty bitmap is a no-op.
	empty := &Schedule{}
	assert.Equal(t, monday, empty.NextWeekday(monday))
}
