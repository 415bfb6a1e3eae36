package models

import "time"

// RunState is the lifecycle state of a task run or shadow run.
// Transitions are monotonic: waiting -> running -> done, or
// waiting -> cancelled directly.
type RunState string

const (
	RunWaiting   RunState = "waiting"
	RunRunning   RunState = "running"
	RunDone      RunState = "done"
	RunCancelled RunState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == RunDone || s == RunCancelled
}

// TaskRun is a single execution attempt of a task.
type TaskRun struct {
	ID        string     `json:"id"`
	RunnerID  string     `json:"runner_id,omitempty"` // Never reassigned once set
	State     RunState   `json:"state"`
	Result    ResultCode `json:"result,omitempty"`
	Summary   string     `json:"summary,omitempty"`
	ReportURL string     `json:"report_url,omitempty"`
	Alert     bool       `json:"alert,omitempty"`
	Aborting  bool       `json:"aborting,omitempty"` // Abort requested; served on next agent sync
	ShadowID  string     `json:"shadow_id,omitempty"` // Extraction shadow run spawned on completion
	StartedAt time.Time  `json:"started_at,omitempty"`
	StoppedAt time.Time  `json:"stopped_at,omitempty"`

	// Data holds the mid-level key/value pairs reported with the result.
	Data map[string]string `json:"data,omitempty"`
}

// Task is a named unit of work within a job. The definition, framework,
// parameters and claim are snapshotted at job creation so later edits cannot
// change a running job.
type Task struct {
	Name             string `json:"name"`
	TaskDefID        string `json:"taskdef_id"`
	DefVersion       string `json:"def_version"`
	FrameworkID      string `json:"framework_id"`
	FrameworkVersion string `json:"framework_version"`

	Priority int `json:"priority,omitempty"`
	Sequence int `json:"sequence"` // Insertion order within the job

	Params    map[string]string `json:"params,omitempty"` // Effective parameters
	Claim     ResourceClaim     `json:"claim,omitempty"`  // Merged claim including SF_TR
	Wrapper   string            `json:"wrapper"`
	Extractor bool              `json:"extractor,omitempty"`

	Inputs  []string `json:"inputs,omitempty"`
	Outputs []string `json:"outputs,omitempty"`
	Runners []string `json:"runners,omitempty"` // Per-task runner restriction

	Runs []TaskRun `json:"runs,omitempty"`
}

// LatestRun returns the most recent run, or nil before the first assignment.
func (t *Task) LatestRun() *TaskRun {
	if len(t.Runs) == 0 {
		return nil
	}
	return &t.Runs[len(t.Runs)-1]
}

// State derives the task's state from its run sequence. A task without runs
// is waiting.
func (t *Task) State() RunState {
	run := t.LatestRun()
	if run == nil {
		return RunWaiting
	}
	return run.State
}

// Result is the result of the task's last terminal run.
func (t *Task) Result() ResultCode {
	run := t.LatestRun()
	if run == nil || !run.State.Terminal() {
		return ResultNone
	}
	return run.Result
}

// Terminal reports whether the task has reached a final state.
func (t *Task) Terminal() bool {
	return t.State().Terminal()
}

// RunByID returns the run with the given id, or nil.
func (t *Task) RunByID(runID string) *TaskRun {
	for i := range t.Runs {
		if t.Runs[i].ID == runID {
			return &t.Runs[i]
		}
	}
	return nil
}

// ProductState is the lifecycle state of a product within a job.
// DONE and BLOCKED are terminal; each is reached at most once.
type ProductState string

const (
	ProductWaiting ProductState = "waiting"
	ProductDone    ProductState = "done"
	ProductBlocked ProductState = "blocked"
)

// TokenLocator is the fixed marker stored for token products.
const TokenLocator = "token"

// Product is a typed artifact flowing between tasks within a job.
type Product struct {
	Name     string            `json:"name"`
	Type     ProductType       `json:"type"`
	State    ProductState      `json:"state"`
	Local    bool              `json:"local,omitempty"`
	LocalAt  string            `json:"local_at,omitempty"` // Agent the local product is bound to
	Locators map[string]string `json:"locators,omitempty"` // Producer task -> locator
	Locator  string            `json:"locator,omitempty"`  // Default locator (first reported)
}

// StoreLocator records a locator reported by a producer task. The first
// locator reported becomes the product's default. Token products normalise
// the locator to a fixed marker.
func (p *Product) StoreLocator(locator, taskName string) {
	if p.Type == ProductToken {
		locator = TokenLocator
	}
	if p.Locators == nil {
		p.Locators = make(map[string]string)
	}
	p.Locators[taskName] = locator
	if p.Locator == "" {
		p.Locator = locator
	}
}

// Done reports whether the product is available to consumers.
func (p *Product) Done() bool { return p.State == ProductDone }

// Blocked reports whether the product will never become available.
func (p *Product) Blocked() bool { return p.State == ProductBlocked }

// ShadowRun is a secondary execution (mid-level data extraction) bound to the
// same agent as its parent run.
type ShadowRun struct {
	ID        string     `json:"id"`
	TaskName  string     `json:"task_name"`
	ParentRun string     `json:"parent_run"`
	RunnerID  string     `json:"runner_id"`
	State     RunState   `json:"state"`
	Result    ResultCode `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	StoppedAt time.Time  `json:"stopped_at,omitempty"`

	// Data holds the extracted mid-level key/value pairs.
	Data map[string]string `json:"data,omitempty"`
}

// Job is a running or completed instance of a configuration.
type Job struct {
	ID         string            `json:"id"`
	CreatedAt  time.Time         `json:"created_at"`
	Owner      string            `json:"owner,omitempty"`
	Target     string            `json:"target,omitempty"`
	ConfigID   string            `json:"config_id,omitempty"`
	ScheduleID string            `json:"schedule_id,omitempty"`
	Comment    string            `json:"comment,omitempty"`
	Params     map[string]string `json:"params,omitempty"`

	Tasks    []*Task             `json:"tasks"`
	Products map[string]*Product `json:"products"`
	Runners  []string            `json:"runners,omitempty"` // Per-job allowed runner set

	ShadowRuns []*ShadowRun `json:"shadow_runs,omitempty"`

	Final     bool       `json:"final"`
	Result    ResultCode `json:"result,omitempty"`
	StoppedAt time.Time  `json:"stopped_at,omitempty"`
}

// Task returns the named task, or nil.
func (j *Job) Task(name string) *Task {
	for _, t := range j.Tasks {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Product returns the named product record, or nil.
func (j *Job) Product(name string) *Product {
	return j.Products[name]
}

// TaskHoldingRun returns the task whose run sequence contains runID, plus the
// run itself.
func (j *Job) TaskHoldingRun(runID string) (*Task, *TaskRun) {
	for _, t := range j.Tasks {
		if run := t.RunByID(runID); run != nil {
			return t, run
		}
	}
	return nil, nil
}

// ShadowRun returns the shadow run with the given id, or nil.
func (j *Job) ShadowRun(id string) *ShadowRun {
	for _, s := range j.ShadowRuns {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// TaskReady reports whether the task can be offered to an agent: it has not
// been attempted (or a retry opened a fresh unassigned run) and every input
// it consumes is done.
func (j *Job) TaskReady(t *Task) bool {
	if run := t.LatestRun(); run != nil && !(run.State == RunWaiting && run.RunnerID == "") {
		return false
	}
	for _, name := range t.Inputs {
		p := j.Product(name)
		if p == nil || !p.Done() {
			return false
		}
	}
	return true
}

// ReadyTasks returns the runnable tasks ordered by priority descending, then
// insertion order.
func (j *Job) ReadyTasks() []*Task {
	var ready []*Task
	for _, t := range j.Tasks {
		if j.TaskReady(t) {
			ready = append(ready, t)
		}
	}
	// Insertion order is preserved by the stable walk; sort by priority only.
	for i := 1; i < len(ready); i++ {
		for k := i; k > 0 && ready[k].Priority > ready[k-1].Priority; k-- {
			ready[k], ready[k-1] = ready[k-1], ready[k]
		}
	}
	return ready
}

// RunnerAllowed reports whether the per-task runner set (or, if empty, the
// per-job set) admits the given runner.
func (j *Job) RunnerAllowed(t *Task, runnerID string) bool {
	if len(t.Runners) > 0 {
		return HasCap(t.Runners, runnerID)
	}
	if len(j.Runners) > 0 {
		return HasCap(j.Runners, runnerID)
	}
	return true
}

// ExecutionFinished reports whether every task is terminal.
func (j *Job) ExecutionFinished() bool {
	for _, t := range j.Tasks {
		if !t.Terminal() {
			return false
		}
	}
	return true
}

// ShadowsFinished reports whether every extraction shadow run is terminal.
func (j *Job) ShadowsFinished() bool {
	for _, s := range j.ShadowRuns {
		if !s.State.Terminal() {
			return false
		}
	}
	return true
}

// TaskCounts returns the number of waiting, running and terminal tasks.
func (j *Job) TaskCounts() (waiting, running, done int) {
	for _, t := range j.Tasks {
		switch t.State() {
		case RunRunning:
			running++
		case RunDone, RunCancelled:
			done++
		default:
			waiting++
		}
	}
	return
}
