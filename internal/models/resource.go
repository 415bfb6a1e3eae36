package models

import (
	"strings"
	"time"
)

// ResType is resource type metadata. The reserved types sf.tr (task runner)
// and sf.repo (repository) exist at all times and cannot be removed.
type ResType struct {
	ID               string    `json:"id"`
	Description      string    `json:"description,omitempty"`
	PerTaskExclusive bool      `json:"per_task_exclusive"`
	PerJobExclusive  bool      `json:"per_job_exclusive"`
	CreatedAt        time.Time `json:"created_at"`
}

// Reserved reports whether the type id belongs to the system.
func (t *ResType) Reserved() bool {
	return strings.HasPrefix(t.ID, ReservedPrefix)
}

// ReservedResTypes returns the resource types that exist at all times.
func ReservedResTypes() []*ResType {
	return []*ResType{
		{
			ID:               TaskRunnerType,
			Description:      "Task Runner",
			PerTaskExclusive: true,
			PerJobExclusive:  false,
		},
		{
			ID:               RepoType,
			Description:      "Repository",
			PerTaskExclusive: false,
			PerJobExclusive:  false,
		},
	}
}

// ConnectionStatus is derived from a runner's last-sync age, never stored.
type ConnectionStatus string

const (
	ConnectionNew       ConnectionStatus = "new"     // Never synced
	ConnectionConnected ConnectionStatus = "connected"
	ConnectionWarning   ConnectionStatus = "warning" // No sync since the warn threshold
	ConnectionLost      ConnectionStatus = "lost"    // No sync since the lost threshold
)

// StatusLevel orders resource availability for broker diagnostics.
// The broker only ever reserves at LevelFree; the higher levels exist so a
// "reason to wait" can name what is blocking progress.
type StatusLevel int

const (
	LevelFree StatusLevel = iota
	LevelReserved
	LevelSuspended
	LevelLost
)

// String implements fmt.Stringer for log and reason output.
func (l StatusLevel) String() string {
	switch l {
	case LevelFree:
		return "free"
	case LevelReserved:
		return "reserved"
	case LevelSuspended:
		return "suspended"
	case LevelLost:
		return "lost"
	}
	return "unknown"
}

// StatusLevels lists all levels from most to least available.
func StatusLevels() []StatusLevel {
	return []StatusLevel{LevelFree, LevelReserved, LevelSuspended, LevelLost}
}

// Resource is a concrete instance of a ResType. Task runners are resources of
// the reserved sf.tr type with the runner fields populated; repositories are
// resources of sf.repo carrying a webhook secret.
type Resource struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities,omitempty"`
	Locator      string   `json:"locator,omitempty"`
	Description  string   `json:"description,omitempty"`

	Suspended bool `json:"suspended"`

	// ReservedBy holds the id of the active TaskRun, or, when UserReserved
	// is set, the id of the user who reserved the resource manually.
	ReservedBy   string `json:"reserved_by,omitempty"`
	UserReserved bool   `json:"user_reserved,omitempty"`

	// ReservedForJob is set for resources of a per-job-exclusive type; the
	// reservation is only released when that job terminates.
	ReservedForJob string `json:"reserved_for_job,omitempty"`

	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Task runner fields (Type == sf.tr).
	TokenID      string    `json:"token_id,omitempty"`
	LastSync     time.Time `json:"last_sync,omitempty"`
	RunnerVersion string   `json:"runner_version,omitempty"`
	RunningRunID string    `json:"running_run_id,omitempty"`
	ShadowRunID  string    `json:"shadow_run_id,omitempty"`
	ExitOnIdle   bool      `json:"exit_on_idle,omitempty"`

	// Repository fields (Type == sf.repo).
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Cost is the dispatch tie-breaking cost of reserving this resource: richer
// resources are more valuable elsewhere and should be held back.
func (r *Resource) Cost() int {
	return len(r.Capabilities)
}

// IsRunner reports whether the resource is an execution agent.
func (r *Resource) IsRunner() bool {
	return r.Type == TaskRunnerType
}

// Reserved reports whether the resource is held by a run, a user, or a job
// with exclusive use of its type.
func (r *Resource) Reserved() bool {
	return r.ReservedBy != "" || r.ReservedForJob != ""
}

// ConnectionStatus derives the runner's connection state from its last-sync
// age. Non-runner resources are always considered connected.
func (r *Resource) ConnectionStatus(now time.Time, warn, lost time.Duration) ConnectionStatus {
	if !r.IsRunner() {
		return ConnectionConnected
	}
	if r.LastSync.IsZero() {
		return ConnectionNew
	}
	age := now.Sub(r.LastSync)
	switch {
	case age >= lost:
		return ConnectionLost
	case age >= warn:
		return ConnectionWarning
	default:
		return ConnectionConnected
	}
}

// StatusLevel combines reservation, suspension and connection state into the
// availability level the broker matches on.
func (r *Resource) StatusLevel(now time.Time, warn, lost time.Duration) StatusLevel {
	switch r.ConnectionStatus(now, warn, lost) {
	case ConnectionLost, ConnectionNew:
		return LevelLost
	}
	if r.Reserved() {
		return LevelReserved
	}
	if r.Suspended {
		return LevelSuspended
	}
	return LevelFree
}
