package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// TaskDone applies a completed-task report from an agent.
func (s *Service) TaskDone(ctx context.Context, report *interfaces.TaskReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, report.JobID)
	if err != nil {
		return err
	}
	task := job.Task(report.TaskName)
	if task == nil {
		return common.NewInvalidRequest("job %s has no task %q", report.JobID, report.TaskName)
	}

	run := task.LatestRun()
	if run == nil || run.State != models.RunRunning || run.RunnerID != report.RunnerID {
		return fmt.Errorf("task %q: %w", report.TaskName, common.ErrMismatch)
	}
	if !report.Result.IsValid() || report.Result == models.ResultCancelled {
		return common.NewInvalidRequest("invalid result %q", report.Result)
	}

	now := time.Now()
	run.State = models.RunDone
	run.Result = report.Result
	run.Summary = report.Summary
	run.Data = report.Data
	run.StoppedAt = now
	if root := s.config.Report.RootURL; root != "" {
		run.ReportURL = fmt.Sprintf("%s/%s/%s", root, job.ID, task.Name)
	}

	for name, locator := range report.Outputs {
		product := job.Product(name)
		if product == nil || !models.HasCap(task.Outputs, name) {
			return common.NewInvalidRequest("task %q does not produce %q", task.Name, name)
		}
		if locator == "" || product.Blocked() {
			continue
		}
		product.StoreLocator(locator, task.Name)
		product.State = models.ProductDone
	}

	s.reevaluateBlocking(ctx, job)

	if err := s.broker.Release(ctx, run.ID); err != nil {
		return err
	}
	if err := s.clearRunnerRun(ctx, report.RunnerID, run.ID); err != nil {
		return err
	}

	// Extraction follows every run that actually produced something to
	// extract from; an errored process has no mid-level data.
	if task.Extractor && report.Result != models.ResultError {
		shadow := &models.ShadowRun{
			ID:        common.NewShadowRunID(),
			TaskName:  task.Name,
			ParentRun: run.ID,
			RunnerID:  report.RunnerID,
			State:     models.RunWaiting,
			CreatedAt: now,
		}
		job.ShadowRuns = append(job.ShadowRuns, shadow)
		run.ShadowID = shadow.ID
		if err := s.pointRunnerShadow(ctx, report.RunnerID, shadow.ID); err != nil {
			return err
		}
	}

	s.finalizeIfDone(ctx, job, now)

	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("task", task.Name).
		Str("result", string(report.Result)).
		Msg("Task completed")
	s.publishTask(ctx, job.ID, task.Name)

	return nil
}

// ShadowDone completes an extraction shadow run and stores the extracted
// mid-level data.
func (s *Service) ShadowDone(ctx context.Context, shadowID, runnerID string, result models.ResultCode, data map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, shadow, err := s.findShadow(ctx, shadowID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("shadow run %q: %w", shadowID, common.ErrNotFound)
	}
	if shadow.RunnerID != runnerID || shadow.State.Terminal() {
		return fmt.Errorf("shadow run %q: %w", shadowID, common.ErrMismatch)
	}

	now := time.Now()
	shadow.State = models.RunDone
	shadow.Result = result
	shadow.Data = data
	shadow.StoppedAt = now

	if err := s.clearRunnerShadow(ctx, runnerID, shadowID); err != nil {
		return err
	}

	s.finalizeIfDone(ctx, job, now)
	return s.store.JobStorage().Update(ctx, job)
}

// AbortTask cancels a waiting task immediately. A running task only gets the
// abort flag; the state change happens when the agent reports back or is told
// to abort on its next sync.
func (s *Service) AbortTask(ctx context.Context, jobID, taskName, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	task := job.Task(taskName)
	if task == nil {
		return common.NewInvalidRequest("job %s has no task %q", jobID, taskName)
	}
	if task.Terminal() {
		return common.NewPresentable("task %q has already finished", taskName)
	}

	now := time.Now()
	run := task.LatestRun()
	if run != nil && run.State == models.RunRunning {
		run.Aborting = true
		if err := s.store.JobStorage().Update(ctx, job); err != nil {
			return err
		}
		s.logger.Info().Str("job_id", jobID).Str("task", taskName).Str("user", user).Msg("Task abort requested")
		s.publishTask(ctx, jobID, taskName)
		return nil
	}

	s.cancelTask(ctx, job, task, fmt.Sprintf("aborted by %s", user), now)
	s.reevaluateBlocking(ctx, job)
	s.finalizeIfDone(ctx, job, now)
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return err
	}
	s.publishTask(ctx, jobID, taskName)
	return nil
}

// CancelRun settles an aborting run as cancelled. The sync handler calls
// this after telling the agent to drop the run.
func (s *Service) CancelRun(ctx context.Context, jobID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	task, run := job.TaskHoldingRun(runID)
	if task == nil || run.State.Terminal() {
		return nil
	}

	now := time.Now()
	run.State = models.RunCancelled
	run.Result = models.ResultCancelled
	run.StoppedAt = now

	if err := s.broker.Release(ctx, runID); err != nil {
		return err
	}
	if err := s.clearRunnerRun(ctx, run.RunnerID, runID); err != nil {
		return err
	}

	s.reevaluateBlocking(ctx, job)
	s.finalizeIfDone(ctx, job, now)
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return err
	}
	s.publishTask(ctx, job.ID, task.Name)
	return nil
}

// AbandonRun marks an assigned run lost. Called when an agent reports idle
// while the controller believes it holds the run, or when a runner is
// declared lost.
func (s *Service) AbandonRun(ctx context.Context, jobID, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abandonRunLocked(ctx, jobID, runID)
}

func (s *Service) abandonRunLocked(ctx context.Context, jobID, runID string) error {
	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	task, run := job.TaskHoldingRun(runID)
	if task == nil || run.State != models.RunRunning {
		// Already settled; abandoning twice is a no-op.
		return nil
	}

	now := time.Now()
	run.State = models.RunDone
	run.Result = models.ResultError
	run.Summary = "runner abandoned the run"
	run.StoppedAt = now

	if err := s.broker.Release(ctx, runID); err != nil {
		return err
	}
	if err := s.clearRunnerRun(ctx, run.RunnerID, runID); err != nil {
		return err
	}

	s.reevaluateBlocking(ctx, job)
	s.finalizeIfDone(ctx, job, now)
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return err
	}

	s.logger.Warn().
		Str("job_id", jobID).
		Str("task", task.Name).
		Str("run_id", runID).
		Msg("Run abandoned")
	s.publishTask(ctx, jobID, task.Name)
	return nil
}

// RetryTask appends a fresh waiting run to a terminal task. Upstream products
// keep their state.
func (s *Service) RetryTask(ctx context.Context, jobID, taskName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Final {
		return common.NewPresentable("job %s is final", jobID)
	}
	task := job.Task(taskName)
	if task == nil {
		return common.NewInvalidRequest("job %s has no task %q", jobID, taskName)
	}
	if !task.Terminal() {
		return common.NewPresentable("task %q is still active", taskName)
	}

	task.Runs = append(task.Runs, models.TaskRun{
		ID:    common.NewRunID(),
		State: models.RunWaiting,
	})
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return err
	}
	s.publishTask(ctx, jobID, taskName)
	return nil
}

// ReconcileRunners abandons runs held by runners that have crossed the lost
// threshold.
func (s *Service) ReconcileRunners(ctx context.Context) error {
	runners, err := s.store.ResourceStorage().ListByType(ctx, models.TaskRunnerType)
	if err != nil {
		return err
	}

	warn := time.Duration(s.config.Agents.WarnTimeoutSeconds()) * time.Second
	lost := time.Duration(s.config.Agents.LostTimeoutSeconds()) * time.Second
	now := time.Now()

	for _, runner := range runners {
		if runner.ConnectionStatus(now, warn, lost) != models.ConnectionLost {
			continue
		}
		if runner.RunningRunID != "" {
			if jobID := s.jobHoldingRun(ctx, runner.RunningRunID); jobID != "" {
				s.mu.Lock()
				err := s.abandonRunLocked(ctx, jobID, runner.RunningRunID)
				s.mu.Unlock()
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Service) jobHoldingRun(ctx context.Context, runID string) string {
	jobs, err := s.store.JobStorage().ListActive(ctx)
	if err != nil {
		return ""
	}
	for _, job := range jobs {
		if task, _ := job.TaskHoldingRun(runID); task != nil {
			return job.ID
		}
	}
	return ""
}

// cancelTask transitions a non-running task to cancelled, converting or
// appending a run record.
func (s *Service) cancelTask(ctx context.Context, job *models.Job, task *models.Task, summary string, now time.Time) {
	run := task.LatestRun()
	if run != nil && run.State == models.RunWaiting {
		run.State = models.RunCancelled
		run.Result = models.ResultCancelled
		run.Summary = summary
		run.StoppedAt = now
	} else {
		task.Runs = append(task.Runs, models.TaskRun{
			ID:        common.NewRunID(),
			State:     models.RunCancelled,
			Result:    models.ResultCancelled,
			Summary:   summary,
			StoppedAt: now,
		})
	}
	s.publishTask(ctx, job.ID, task.Name)
}

// reevaluateBlocking applies the product blocking rule until a fixed point:
// a produced product with every producer terminal and no locator blocks, and
// a blocked input cancels its consumers, blocking their outputs in turn.
func (s *Service) reevaluateBlocking(ctx context.Context, job *models.Job) {
	now := time.Now()
	for changed := true; changed; {
		changed = false

		for name, product := range job.Products {
			if product.Done() || product.Blocked() {
				continue
			}
			producers := producersOf(job, name)
			if len(producers) == 0 {
				continue
			}
			allTerminal := true
			for _, t := range producers {
				if !t.Terminal() {
					allTerminal = false
					break
				}
			}
			if allTerminal {
				product.State = models.ProductBlocked
				changed = true
				s.publish(ctx, interfaces.EventProductUpdated, map[string]string{
					"job_id": job.ID, "product": name, "state": string(product.State),
				})
			}
		}

		for _, task := range job.Tasks {
			if task.Terminal() {
				continue
			}
			if run := task.LatestRun(); run != nil && run.State == models.RunRunning {
				continue
			}
			for _, input := range task.Inputs {
				if p := job.Product(input); p != nil && p.Blocked() {
					s.cancelTask(ctx, job, task, fmt.Sprintf("input %q is blocked", input), now)
					changed = true
					break
				}
			}
		}
	}
}

func producersOf(job *models.Job, product string) []*models.Task {
	var producers []*models.Task
	for _, t := range job.Tasks {
		if models.HasCap(t.Outputs, product) {
			producers = append(producers, t)
		}
	}
	return producers
}

// finalizeIfDone marks the job final once every task and shadow run is
// terminal, merges the job result and releases per-job reservations.
func (s *Service) finalizeIfDone(ctx context.Context, job *models.Job, now time.Time) {
	if job.Final || !job.ExecutionFinished() || !job.ShadowsFinished() {
		return
	}

	result := models.ResultNone
	for _, t := range job.Tasks {
		result = models.WorstResult(result, t.Result())
	}
	job.Final = true
	job.Result = result
	job.StoppedAt = now

	if err := s.broker.ReleaseJob(ctx, job.ID); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to release per-job reservations")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("result", string(result)).
		Msg("Job finalized")
	s.publish(ctx, interfaces.EventJobFinalized, map[string]string{
		"job_id": job.ID, "result": string(result),
	})
}

// clearRunnerRun drops the runner's running-run pointer once the run settles.
func (s *Service) clearRunnerRun(ctx context.Context, runnerID, runID string) error {
	if runnerID == "" {
		return nil
	}
	runner, err := s.store.ResourceStorage().Get(ctx, runnerID)
	if err != nil {
		return nil
	}
	if runner.RunningRunID != runID {
		return nil
	}
	runner.RunningRunID = ""
	return s.store.ResourceStorage().Update(ctx, runner)
}

func (s *Service) pointRunnerShadow(ctx context.Context, runnerID, shadowID string) error {
	runner, err := s.store.ResourceStorage().Get(ctx, runnerID)
	if err != nil {
		return nil
	}
	runner.ShadowRunID = shadowID
	return s.store.ResourceStorage().Update(ctx, runner)
}

func (s *Service) clearRunnerShadow(ctx context.Context, runnerID, shadowID string) error {
	runner, err := s.store.ResourceStorage().Get(ctx, runnerID)
	if err != nil {
		return nil
	}
	if runner.ShadowRunID != shadowID {
		return nil
	}
	runner.ShadowRunID = ""
	return s.store.ResourceStorage().Update(ctx, runner)
}
