package lifecycle

import (
	"context"
	"strconv"
	"time"

	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// AssignNext offers the runner the oldest ready task it qualifies for. Jobs
// are walked in id order, so the oldest job wins; within a job, tasks are
// ordered by priority and insertion order.
func (s *Service) AssignNext(ctx context.Context, runner *models.Resource) (*interfaces.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := s.store.JobStorage().ListActive(ctx)
	if err != nil {
		return nil, err
	}

	for _, job := range jobs {
		if job.Target != "" && !models.HasCap(runner.Capabilities, job.Target) {
			continue
		}
		for _, task := range job.ReadyTasks() {
			if !job.RunnerAllowed(task, runner.ID) {
				continue
			}
			assignment, err := s.tryAssign(ctx, job, task, runner)
			if err != nil {
				return nil, err
			}
			if assignment != nil {
				return assignment, nil
			}
		}
	}
	return nil, nil
}

// tryAssign reserves the task's claim for the runner and opens the run.
// A failed reservation is not an error; the caller moves on.
func (s *Service) tryAssign(ctx context.Context, job *models.Job, task *models.Task, runner *models.Resource) (*interfaces.Assignment, error) {
	// A retry leaves a waiting placeholder run; reuse its id so the
	// reservation stays bound to the run that executes.
	runID := ""
	placeholder := task.LatestRun()
	if placeholder != nil && placeholder.State == models.RunWaiting && placeholder.RunnerID == "" {
		runID = placeholder.ID
	} else {
		placeholder = nil
		runID = common.NewRunID()
	}

	reserved, err := s.broker.Reserve(ctx, task.Claim, runner, runID, job.ID)
	if err != nil {
		return nil, err
	}
	if reserved == nil {
		return nil, nil
	}

	now := time.Now()
	if placeholder != nil {
		placeholder.RunnerID = runner.ID
		placeholder.State = models.RunRunning
		placeholder.StartedAt = now
	} else {
		task.Runs = append(task.Runs, models.TaskRun{
			ID:        runID,
			RunnerID:  runner.ID,
			State:     models.RunRunning,
			StartedAt: now,
		})
	}

	runner.RunningRunID = runID
	if err := s.store.ResourceStorage().Update(ctx, runner); err != nil {
		return nil, err
	}
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("task", task.Name).
		Str("runner", runner.ID).
		Str("run_id", runID).
		Msg("Task assigned")
	s.publishTask(ctx, job.ID, task.Name)

	return s.describeAssignment(job, task, runID, reserved), nil
}

// describeAssignment builds the work descriptor the agent receives.
func (s *Service) describeAssignment(job *models.Job, task *models.Task, runID string, reserved map[string]*models.Resource) *interfaces.Assignment {
	inputs := make(map[string]string, len(task.Inputs))
	for _, name := range task.Inputs {
		if p := job.Product(name); p != nil {
			inputs[name] = p.Locator
		}
	}
	resources := make(map[string]string, len(reserved))
	for ref, res := range reserved {
		if ref == models.TaskRunnerReference {
			continue
		}
		resources[ref] = res.Locator
	}

	timeout := 0
	if v, ok := task.Params["sf.timeout"]; ok {
		if minutes, err := strconv.Atoi(v); err == nil {
			timeout = minutes
		}
	}

	return &interfaces.Assignment{
		JobID:          job.ID,
		TaskName:       task.Name,
		RunID:          runID,
		Wrapper:        task.Wrapper,
		Params:         task.Params,
		Inputs:         inputs,
		Outputs:        task.Outputs,
		Resources:      resources,
		TimeoutMinutes: timeout,
	}
}

// AssignShadow hands the runner its pending extraction run, if one exists.
func (s *Service) AssignShadow(ctx context.Context, runner *models.Resource) (*interfaces.ShadowAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runner.ShadowRunID == "" {
		return nil, nil
	}

	job, shadow, err := s.findShadow(ctx, runner.ShadowRunID)
	if err != nil {
		return nil, err
	}
	if job == nil || shadow.State != models.RunWaiting {
		// Stale pointer; drop it.
		runner.ShadowRunID = ""
		return nil, s.store.ResourceStorage().Update(ctx, runner)
	}

	shadow.State = models.RunRunning
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return nil, err
	}

	task := job.Task(shadow.TaskName)
	params := map[string]string{}
	if task != nil {
		params = task.Params
	}
	wrapper := ""
	if task != nil {
		wrapper = task.Wrapper
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("shadow_id", shadow.ID).
		Str("runner", runner.ID).
		Msg("Extraction shadow run assigned")

	return &interfaces.ShadowAssignment{
		ShadowID: shadow.ID,
		JobID:    job.ID,
		TaskName: shadow.TaskName,
		Wrapper:  wrapper,
		Params:   params,
	}, nil
}

// findShadow locates the active job holding a shadow run.
func (s *Service) findShadow(ctx context.Context, shadowID string) (*models.Job, *models.ShadowRun, error) {
	jobs, err := s.store.JobStorage().ListActive(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, job := range jobs {
		if shadow := job.ShadowRun(shadowID); shadow != nil {
			return job, shadow, nil
		}
	}
	return nil, nil, nil
}
