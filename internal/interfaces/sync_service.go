package interfaces

import "context"

// SyncRequest is what an agent reports on each poll.
type SyncRequest struct {
	RunnerID      string   `json:"runner_id" validate:"required"`
	RunnerVersion string   `json:"runner_version,omitempty"`
	Target        string   `json:"target,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`

	// RunID is present iff the agent believes it is executing a run.
	RunID string `json:"run_id,omitempty"`
	JobID string `json:"job_id,omitempty"`

	// ShadowID is present iff the agent believes it is executing a shadow run.
	ShadowID string `json:"shadow_id,omitempty"`

	ExitOnIdle bool `json:"exit_on_idle,omitempty"`
}

// SyncAction is the single instruction a sync response carries.
type SyncAction string

const (
	SyncWait   SyncAction = "wait"
	SyncExit   SyncAction = "exit"
	SyncAbort  SyncAction = "abort"
	SyncAssign SyncAction = "assignment"
	SyncShadow SyncAction = "shadowrun"
)

// SyncResponse answers an agent poll with exactly one action.
type SyncResponse struct {
	Action      SyncAction        `json:"action"`
	WaitSeconds int               `json:"wait_seconds,omitempty"`
	Assignment  *Assignment       `json:"assignment,omitempty"`
	Shadow      *ShadowAssignment `json:"shadow,omitempty"`
}

// SyncService serves the agent synchronization protocol. Calls for the same
// runner are serialised; calls for different runners may run in parallel up
// to the assignment step.
type SyncService interface {
	// Sync authenticates the token, reconciles the reported state and
	// either assigns work or tells the agent how long to wait.
	Sync(ctx context.Context, tokenID, secret string, req *SyncRequest) (*SyncResponse, error)
}
