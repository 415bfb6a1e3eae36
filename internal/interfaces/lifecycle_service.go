package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// Assignment is the work descriptor handed to an agent.
type Assignment struct {
	JobID          string            `json:"job_id"`
	TaskName       string            `json:"task_name"`
	RunID          string            `json:"run_id"`
	Wrapper        string            `json:"wrapper"`
	Params         map[string]string `json:"params,omitempty"`
	Inputs         map[string]string `json:"inputs,omitempty"`  // Product name -> locator
	Outputs        []string          `json:"outputs,omitempty"` // Product names to report back
	Resources      map[string]string `json:"resources,omitempty"` // Claim reference -> locator
	TimeoutMinutes int               `json:"timeout_minutes,omitempty"`
}

// ShadowAssignment is the descriptor of an extraction shadow run.
type ShadowAssignment struct {
	ShadowID string            `json:"shadow_id"`
	JobID    string            `json:"job_id"`
	TaskName string            `json:"task_name"`
	Wrapper  string            `json:"wrapper"`
	Params   map[string]string `json:"params,omitempty"`
}

// TaskReport is a completed-task report from an agent.
type TaskReport struct {
	JobID    string
	TaskName string
	RunnerID string
	Result   models.ResultCode
	Summary  string
	Outputs  map[string]string // Product name -> locator
	Data     map[string]string // Mid-level data pass-through
}

// LifecycleService instantiates configurations into jobs and drives the task
// state machines through to a final job result.
type LifecycleService interface {
	// CreateJob instantiates the named configuration. scheduleID records
	// which schedule fired, empty for manual submissions.
	CreateJob(ctx context.Context, configID, owner, scheduleID string) (*models.Job, error)

	// CreateJobFromConfig instantiates an ad hoc configuration that need not
	// be stored.
	CreateJobFromConfig(ctx context.Context, cfg *models.Configuration, owner, scheduleID string) (*models.Job, error)

	// ValidateConfig checks that a configuration can be instantiated: every
	// task definition resolves and every external input has a locator or,
	// for local products, an agent binding.
	ValidateConfig(ctx context.Context, cfg *models.Configuration) error

	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)

	// AssignNext offers the runner the oldest ready task it can serve, in
	// job id order, reserving the task's claim. Returns nil when no work is
	// available.
	AssignNext(ctx context.Context, runner *models.Resource) (*Assignment, error)

	// AssignShadow offers the runner its pending extraction shadow run, if
	// any.
	AssignShadow(ctx context.Context, runner *models.Resource) (*ShadowAssignment, error)

	// TaskDone applies a result report. Reports from a runner that does not
	// hold the active run fail with ErrMismatch.
	TaskDone(ctx context.Context, report *TaskReport) error

	// ShadowDone completes an extraction shadow run and stores the
	// extracted mid-level data on it.
	ShadowDone(ctx context.Context, shadowID, runnerID string, result models.ResultCode, data map[string]string) error

	// AbortTask cancels a waiting task immediately; for a running task it
	// sets the abort flag served on the runner's next sync.
	AbortTask(ctx context.Context, jobID, taskName, user string) error

	// CancelRun settles an aborting run as cancelled once the agent has been
	// told to drop it, and releases its resources.
	CancelRun(ctx context.Context, jobID, runID string) error

	// AbandonRun marks an assigned run lost with result error and releases
	// its resources. Used when an agent reports idle while the controller
	// believes it is running, or when a runner is declared lost.
	AbandonRun(ctx context.Context, jobID, runID string) error

	// RetryTask appends a fresh waiting run to a terminal task.
	RetryTask(ctx context.Context, jobID, taskName string) error

	// SetAlert flags or clears the attention marker on a task's latest run.
	SetAlert(ctx context.Context, jobID, taskName string, alert bool) error

	// SetComment and SetRunners edit a job after creation.
	SetComment(ctx context.Context, jobID, comment string) error
	SetRunners(ctx context.Context, jobID string, runners []string) error

	// ReconcileRunners abandons runs held by runners that have been lost for
	// longer than the lost threshold.
	ReconcileRunners(ctx context.Context) error
}
