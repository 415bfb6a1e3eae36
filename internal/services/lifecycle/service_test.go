package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/services/broker"
	"github.com/ternarybob/conductor/internal/services/definitions"
	"github.com/ternarybob/conductor/internal/services/events"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

type fixture struct {
	store     interfaces.StorageManager
	defs      interfaces.DefinitionService
	broker    interfaces.BrokerService
	lifecycle interfaces.LifecycleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := common.GetLogger()
	store, err := badger.NewManager(logger, &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := common.NewDefaultConfig()
	brk := broker.NewService(store, cfg.Agents, logger)
	bus := events.NewService(logger)
	return &fixture{
		store:     store,
		defs:      definitions.NewService(store, logger),
		broker:    brk,
		lifecycle: NewService(store, brk, bus, cfg, logger),
	}
}

// setupBuildTest creates the S1 definition graph: framework build produces
// bin, framework test consumes it.
func (f *fixture) setupBuildTest(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.defs.CreateProductDef(ctx, &models.ProductDef{ID: "bin", Type: models.ProductFile}))
	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "build", Outputs: []string{"bin"}, Wrapper: "build"}))
	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "test", Inputs: []string{"bin"}, Wrapper: "test"}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "b", FrameworkID: "build"}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "t", FrameworkID: "test"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID: "C1",
		Tasks: []models.ConfigTask{
			{Name: "b", TaskDefID: "b"},
			{Name: "t", TaskDefID: "t"},
		},
	}))
}

func (f *fixture) addRunner(t *testing.T, id string, caps ...string) *models.Resource {
	t.Helper()
	runner := &models.Resource{
		ID:           id,
		Type:         models.TaskRunnerType,
		Capabilities: models.NormalizeCaps(caps),
		LastSync:     time.Now(),
	}
	require.NoError(t, f.store.ResourceStorage().Create(context.Background(), runner))
	return runner
}

func (f *fixture) reloadRunner(t *testing.T, id string) *models.Resource {
	t.Helper()
	runner, err := f.store.ResourceStorage().Get(context.Background(), id)
	require.NoError(t, err)
	return runner
}

func TestTrivialSuccess(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	require.Len(t, job.Tasks, 2)

	runner := f.addRunner(t, "A1", "build", "test")

	// First assignment: b builds, t still waits on bin.
	a1, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a1)
	assert.Equal(t, "b", a1.TaskName)
	assert.Equal(t, "build", a1.Wrapper)
	assert.Contains(t, a1.Outputs, "bin")

	// t is not ready while bin is waiting.
	runner = f.reloadRunner(t, "A1")
	runner.RunningRunID = ""
	runner.ReservedBy = ""
	require.NoError(t, f.store.ResourceStorage().Update(ctx, runner))
	a2, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	assert.Nil(t, a2)

	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID:    job.ID,
		TaskName: "b",
		RunnerID: "A1",
		Result:   models.ResultOK,
		Outputs:  map[string]string{"bin": "http://reports/bin-1"},
	}))

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.Product("bin").Done())
	assert.Equal(t, "http://reports/bin-1", job.Product("bin").Locator)

	// Second assignment: t runs with bin's locator as input.
	runner = f.reloadRunner(t, "A1")
	a3, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a3)
	assert.Equal(t, "t", a3.TaskName)
	assert.Equal(t, "http://reports/bin-1", a3.Inputs["bin"])

	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID:    job.ID,
		TaskName: "t",
		RunnerID: "A1",
		Result:   models.ResultOK,
	}))

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.Final)
	assert.Equal(t, models.ResultOK, job.Result)
}

func TestBlockedPropagation(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "build", "test")

	a1, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a1)

	// b fails without producing bin.
	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID:    job.ID,
		TaskName: "b",
		RunnerID: "A1",
		Result:   models.ResultError,
		Summary:  "compile failed",
	}))

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.Product("bin").Blocked())
	assert.Equal(t, models.RunCancelled, job.Task("t").State())
	assert.True(t, job.Final)
	assert.Equal(t, models.ResultError, job.Result, "the producer's error dominates the propagated cancellation")

	// t was never offered to any agent.
	runner = f.reloadRunner(t, "A1")
	a2, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	assert.Nil(t, a2)
}

func TestTaskDoneMismatch(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "build", "test")

	_, err = f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)

	// A report from a runner that does not hold the run is rejected.
	err = f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "b", RunnerID: "A2", Result: models.ResultOK,
	})
	assert.True(t, errors.Is(err, common.ErrMismatch))

	report := &interfaces.TaskReport{
		JobID: job.ID, TaskName: "b", RunnerID: "A1", Result: models.ResultOK,
		Outputs: map[string]string{"bin": "loc"},
	}
	require.NoError(t, f.lifecycle.TaskDone(ctx, report))

	// The identical report a second time is a mismatch, not double-counted.
	err = f.lifecycle.TaskDone(ctx, report)
	assert.True(t, errors.Is(err, common.ErrMismatch))
}

func TestAbortWaitingTask(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "build", "test")

	// b is running; t is waiting on bin.
	_, err = f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)

	require.NoError(t, f.lifecycle.AbortTask(ctx, job.ID, "t", "alice"))
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, job.Task("t").State())
	assert.Equal(t, models.RunRunning, job.Task("b").State(), "b keeps running")
	assert.False(t, job.Final)

	// b finishing still stores its output, but t stays cancelled.
	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "b", RunnerID: "A1", Result: models.ResultOK,
		Outputs: map[string]string{"bin": "loc"},
	}))
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.Product("bin").Done())
	assert.Equal(t, models.RunCancelled, job.Task("t").State())
	assert.True(t, job.Final)
	assert.Equal(t, models.ResultCancelled, job.Result, "the cancellation was the only barrier")
}

func TestAbortRunningTaskSetsFlag(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "build", "test")

	a1, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a1)

	require.NoError(t, f.lifecycle.AbortTask(ctx, job.ID, "b", "alice"))
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	run := job.Task("b").LatestRun()
	assert.Equal(t, models.RunRunning, run.State, "state change waits for the agent")
	assert.True(t, run.Aborting)
}

func TestEmptyConfigurationImmediatelyFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{ID: "empty"}))

	job, err := f.lifecycle.CreateJob(ctx, "empty", "alice", "")
	require.NoError(t, err)
	assert.True(t, job.Final)
	assert.Equal(t, models.ResultOK, job.Result)
}

func TestTokenInputReadyImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.defs.CreateProductDef(ctx, &models.ProductDef{ID: "ticket", Type: models.ProductToken}))
	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "use", Inputs: []string{"ticket"}, Wrapper: "use"}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "u", FrameworkID: "use"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID:    "tok",
		Tasks: []models.ConfigTask{{Name: "u", TaskDefID: "u"}},
	}))

	job, err := f.lifecycle.CreateJob(ctx, "tok", "alice", "")
	require.NoError(t, err)
	assert.True(t, job.Product("ticket").Done())
	assert.Equal(t, models.TokenLocator, job.Product("ticket").Locator)

	runner := f.addRunner(t, "A1", "use")
	assignment, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "u", assignment.TaskName)
}

func TestRetryAppendsRun(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "build", "test")

	_, err = f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "b", RunnerID: "A1", Result: models.ResultError,
	}))

	// The job went final when bin blocked and t cancelled; retries on a
	// final job are refused.
	err = f.lifecycle.RetryTask(ctx, job.ID, "b")
	assert.Error(t, err)
}

func TestRetryBeforeFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two independent tasks so an error does not finalise the job.
	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "one", Wrapper: "one"}))
	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "two", Wrapper: "two"}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "t1", FrameworkID: "one"}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "t2", FrameworkID: "two"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID:    "pair",
		Tasks: []models.ConfigTask{{Name: "t1", TaskDefID: "t1"}, {Name: "t2", TaskDefID: "t2"}},
	}))

	job, err := f.lifecycle.CreateJob(ctx, "pair", "alice", "")
	require.NoError(t, err)

	runner := f.addRunner(t, "A1", "one", "two")
	a1, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a1)
	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: a1.TaskName, RunnerID: "A1", Result: models.ResultError,
	}))

	require.NoError(t, f.lifecycle.RetryTask(ctx, job.ID, a1.TaskName))

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	task := job.Task(a1.TaskName)
	require.Len(t, task.Runs, 2)
	assert.Equal(t, models.RunWaiting, task.State())
	assert.True(t, job.TaskReady(task), "a retried task is offered again")

	// The retried run keeps its id through assignment.
	retryID := task.LatestRun().ID
	runner = f.reloadRunner(t, "A1")
	a2, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a2)
	assert.Equal(t, retryID, a2.RunID)
}

func TestExtractionShadowRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "measure", Wrapper: "measure", Extractor: true}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "m", FrameworkID: "measure"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID:    "meas",
		Tasks: []models.ConfigTask{{Name: "m", TaskDefID: "m"}},
	}))

	job, err := f.lifecycle.CreateJob(ctx, "meas", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "measure")

	_, err = f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "m", RunnerID: "A1", Result: models.ResultOK,
		Data: map[string]string{"duration": "12.5"},
	}))

	// The job is not final until the shadow run completes.
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, job.Final)
	require.Len(t, job.ShadowRuns, 1)
	shadowID := job.ShadowRuns[0].ID

	runner = f.reloadRunner(t, "A1")
	assert.Equal(t, shadowID, runner.ShadowRunID)

	shadow, err := f.lifecycle.AssignShadow(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, shadow)
	assert.Equal(t, shadowID, shadow.ShadowID)
	assert.Equal(t, "measure", shadow.Wrapper)

	require.NoError(t, f.lifecycle.ShadowDone(ctx, shadowID, "A1", models.ResultOK,
		map[string]string{"throughput": "840"}))
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.Final)
	assert.Equal(t, models.ResultOK, job.Result)

	// Both the report data and the extracted data survive on the job.
	assert.Equal(t, map[string]string{"duration": "12.5"}, job.Task("m").LatestRun().Data)
	assert.Equal(t, map[string]string{"throughput": "840"}, job.ShadowRun(shadowID).Data)
}

func TestNoShadowRunAfterError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "measure", Wrapper: "measure", Extractor: true}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "m", FrameworkID: "measure"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID:    "meas",
		Tasks: []models.ConfigTask{{Name: "m", TaskDefID: "m"}},
	}))

	job, err := f.lifecycle.CreateJob(ctx, "meas", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "measure")

	_, err = f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "m", RunnerID: "A1", Result: models.ResultError,
	}))

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, job.ShadowRuns)
	assert.True(t, job.Final)
}

func TestAbandonRun(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)
	runner := f.addRunner(t, "A1", "build", "test")

	a1, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a1)

	require.NoError(t, f.lifecycle.AbandonRun(ctx, job.ID, a1.RunID))
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	run := job.Task("b").LatestRun()
	assert.Equal(t, models.RunDone, run.State)
	assert.Equal(t, models.ResultError, run.Result)

	// The runner's reservation is gone.
	runner = f.reloadRunner(t, "A1")
	assert.Empty(t, runner.ReservedBy)
	assert.Empty(t, runner.RunningRunID)

	// Abandoning twice is a no-op.
	assert.NoError(t, f.lifecycle.AbandonRun(ctx, job.ID, a1.RunID))
}

func TestCapabilityMismatchNeverAssigns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{
		ID:      "render",
		Wrapper: "render",
		Claim: models.NewResourceClaim(
			models.NewResourceSpec(models.TaskRunnerReference, models.TaskRunnerType, []string{"gpu"}),
		),
	}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "z", FrameworkID: "render"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID:    "gpu-job",
		Tasks: []models.ConfigTask{{Name: "z", TaskDefID: "z"}},
	}))

	job, err := f.lifecycle.CreateJob(ctx, "gpu-job", "alice", "")
	require.NoError(t, err)

	runner := f.addRunner(t, "A1", "cpu", "render")
	assignment, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	assert.Nil(t, assignment)

	reasons, err := f.broker.WhyNot(ctx, job.Task("z").Claim)
	require.NoError(t, err)
	require.NotEmpty(t, reasons)
	assert.Equal(t, interfaces.ReasonCaps, reasons[0].Kind)
	assert.Equal(t, models.TaskRunnerReference, reasons[0].Reference)
	assert.Equal(t, models.LevelFree, reasons[0].Level)
}

func TestPriorityOrdersReadyTasks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	project, err := f.store.ProjectStorage().Get(ctx)
	require.NoError(t, err)
	project.MaxPriority = 10
	require.NoError(t, f.store.ProjectStorage().Save(ctx, project))

	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: "work", Wrapper: "work"}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "w", FrameworkID: "work"}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID: "prio",
		Tasks: []models.ConfigTask{
			{Name: "low", TaskDefID: "w", Priority: 1},
			{Name: "high", TaskDefID: "w", Priority: 99}, // Clamped to 10
		},
	}))

	job, err := f.lifecycle.CreateJob(ctx, "prio", "alice", "")
	require.NoError(t, err)
	assert.Equal(t, 10, job.Task("high").Priority)

	runner := f.addRunner(t, "A1", "work")
	a1, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a1)
	assert.Equal(t, "high", a1.TaskName)
}

func TestUserReservedRunnerGetsNoWork(t *testing.T) {
	f := newFixture(t)
	f.setupBuildTest(t)
	ctx := context.Background()

	_, err := f.lifecycle.CreateJob(ctx, "C1", "alice", "")
	require.NoError(t, err)

	f.addRunner(t, "A1", "build", "test")
	require.NoError(t, f.broker.ReserveManual(ctx, "A1", "alice"))

	runner := f.reloadRunner(t, "A1")
	a, err := f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	assert.Nil(t, a, "a runner held by a user must not be dispatched")

	// The manual reservation is intact after the attempt.
	runner = f.reloadRunner(t, "A1")
	assert.Equal(t, "alice", runner.ReservedBy)
	assert.True(t, runner.UserReserved)

	// Releasing the runner makes the same task assignable.
	require.NoError(t, f.broker.ReleaseManual(ctx, "A1", "alice"))
	runner = f.reloadRunner(t, "A1")
	a, err = f.lifecycle.AssignNext(ctx, runner)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "b", a.TaskName)
}
