package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/services/auth"
	"github.com/ternarybob/conductor/internal/services/broker"
	"github.com/ternarybob/conductor/internal/services/definitions"
	"github.com/ternarybob/conductor/internal/services/events"
	"github.com/ternarybob/conductor/internal/services/lifecycle"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

type fixture struct {
	store     interfaces.StorageManager
	defs      interfaces.DefinitionService
	lifecycle interfaces.LifecycleService
	auth      interfaces.AuthService
	sync      interfaces.SyncService
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
	lc := lifecycle.NewService(store, brk, bus, cfg, logger)
	au := auth.NewService(store, logger)
	return &fixture{
		store:     store,
		defs:      definitions.NewService(store, logger),
		lifecycle: lc,
		auth:      au,
		sync:      NewService(store, au, lc, bus, cfg, logger),
	}
}

// enrolRunner creates a runner resource with a freshly minted token and
// returns the resource plus the token credentials.
func (f *fixture) enrolRunner(t *testing.T, id string, caps ...string) (*models.Resource, string, string) {
	t.Helper()
	ctx := context.Background()
	runner := &models.Resource{
		ID:           id,
		Type:         models.TaskRunnerType,
		Capabilities: models.NormalizeCaps(caps),
		LastSync:     time.Now(),
	}
	require.NoError(t, f.store.ResourceStorage().Create(ctx, runner))
	tokenID, secret, err := f.auth.CreateResourceToken(ctx, id)
	require.NoError(t, err)
	return runner, tokenID, secret
}

func (f *fixture) setupSingleTask(t *testing.T, frameworkID string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.defs.CreateFramework(ctx, &models.Framework{ID: frameworkID, Wrapper: frameworkID}))
	require.NoError(t, f.defs.CreateTaskDef(ctx, &models.TaskDef{ID: "d", FrameworkID: frameworkID}))
	require.NoError(t, f.store.ConfigurationStorage().Create(ctx, &models.Configuration{
		ID:    "cfg",
		Tasks: []models.ConfigTask{{Name: "d", TaskDefID: "d"}},
	}))
}

func TestSyncRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	_, tokenID, _ := f.enrolRunner(t, "A1", "work")

	_, err := f.sync.Sync(context.Background(), tokenID, "wrong", &interfaces.SyncRequest{RunnerID: "A1"})
	var denied *common.AccessDeniedError
	require.ErrorAs(t, err, &denied)

	_, err = f.sync.Sync(context.Background(), "tk_nope", "wrong", &interfaces.SyncRequest{RunnerID: "A1"})
	require.ErrorAs(t, err, &denied)
}

func TestSyncIdleWaitsWithBackoff(t *testing.T) {
	f := newFixture(t)
	_, tokenID, secret := f.enrolRunner(t, "A1", "work")

	resp, err := f.sync.Sync(context.Background(), tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncWait, resp.Action)
	assert.Equal(t, common.NewDefaultConfig().Agents.SyncDelaySeconds, resp.WaitSeconds)
}

func TestSyncAssignsReadyTask(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)

	_, tokenID, secret := f.enrolRunner(t, "A1", "work")
	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	require.Equal(t, interfaces.SyncAssign, resp.Action)
	require.NotNil(t, resp.Assignment)
	assert.Equal(t, job.ID, resp.Assignment.JobID)
	assert.Equal(t, "d", resp.Assignment.TaskName)

	// The controller now believes the agent holds the run.
	runner, err := f.store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, resp.Assignment.RunID, runner.RunningRunID)

	// The agent reporting its run back gets a plain wait.
	resp2, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{
		RunnerID: "A1", RunID: resp.Assignment.RunID, JobID: job.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncWait, resp2.Action)
}

func TestSyncUpdatesCapabilities(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	_, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)

	// Enrolled without the framework capability, reported on first sync.
	_, tokenID, secret := f.enrolRunner(t, "A1")
	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{
		RunnerID:      "A1",
		RunnerVersion: "2.1.0",
		Capabilities:  []string{"work"},
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncAssign, resp.Action)

	runner, err := f.store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "2.1.0", runner.RunnerVersion)
	assert.Contains(t, runner.Capabilities, "work")
}

func TestSyncAbandonsDroppedRun(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)
	_, tokenID, secret := f.enrolRunner(t, "A1", "work")

	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	require.Equal(t, interfaces.SyncAssign, resp.Action)

	// The agent restarts and reports idle; the run it held is abandoned.
	resp2, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	assert.NotEqual(t, interfaces.SyncAbort, resp2.Action)

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	run := job.Task("d").LatestRun()
	assert.Equal(t, models.RunDone, run.State)
	assert.Equal(t, models.ResultError, run.Result)
}

func TestSyncAbortsUnknownRun(t *testing.T) {
	f := newFixture(t)
	_, tokenID, secret := f.enrolRunner(t, "A1", "work")

	resp, err := f.sync.Sync(context.Background(), tokenID, secret, &interfaces.SyncRequest{
		RunnerID: "A1", RunID: "run_unknown", JobID: "nojob",
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncAbort, resp.Action)
}

func TestSyncServesAbortFlag(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)
	_, tokenID, secret := f.enrolRunner(t, "A1", "work")

	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	require.Equal(t, interfaces.SyncAssign, resp.Action)
	runID := resp.Assignment.RunID

	require.NoError(t, f.lifecycle.AbortTask(ctx, job.ID, "d", "alice"))

	resp2, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{
		RunnerID: "A1", RunID: runID, JobID: job.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncAbort, resp2.Action)

	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	run := job.Task("d").LatestRun()
	assert.Equal(t, models.RunCancelled, run.State)
	assert.True(t, job.Final)

	runner, err := f.store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Empty(t, runner.RunningRunID)
	assert.Empty(t, runner.ReservedBy)
}

func TestSyncExitOnIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, tokenID, secret := f.enrolRunner(t, "A1", "work")

	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{
		RunnerID: "A1", ExitOnIdle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncExit, resp.Action)

	// The flag is consumed by the exit response.
	runner, err := f.store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.False(t, runner.ExitOnIdle)
}

func TestSyncExitDeferredWhileRunning(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	job, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)
	_, tokenID, secret := f.enrolRunner(t, "A1", "work")

	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	require.Equal(t, interfaces.SyncAssign, resp.Action)

	// Busy agents finish their run before exiting.
	resp2, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{
		RunnerID: "A1", RunID: resp.Assignment.RunID, JobID: job.ID, ExitOnIdle: true,
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncWait, resp2.Action)

	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "d", RunnerID: "A1", Result: models.ResultOK,
	}))

	resp3, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncExit, resp3.Action)
}

func TestSyncSuspendedRunnerGetsNoWork(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	_, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)

	runner, tokenID, secret := f.enrolRunner(t, "A1", "work")
	runner, err = f.store.ResourceStorage().Get(ctx, runner.ID)
	require.NoError(t, err)
	runner.Suspended = true
	require.NoError(t, f.store.ResourceStorage().Update(ctx, runner))

	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncWait, resp.Action)
}

func TestSyncEagerWaitWhenWorkExistsElsewhere(t *testing.T) {
	f := newFixture(t)
	f.setupSingleTask(t, "work")
	ctx := context.Background()

	_, err := f.lifecycle.CreateJob(ctx, "cfg", "alice", "")
	require.NoError(t, err)

	// This agent cannot serve the ready task, but work exists, so it polls
	// back eagerly in case capabilities or resources change.
	_, tokenID, secret := f.enrolRunner(t, "A1", "other")
	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SyncWait, resp.Action)
	assert.Equal(t, common.NewDefaultConfig().Agents.EagerDelaySeconds, resp.WaitSeconds)
}

func TestSyncServesShadowRun(t *testing.T) {
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
	_, tokenID, secret := f.enrolRunner(t, "A1", "measure")

	resp, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	require.Equal(t, interfaces.SyncAssign, resp.Action)

	require.NoError(t, f.lifecycle.TaskDone(ctx, &interfaces.TaskReport{
		JobID: job.ID, TaskName: "m", RunnerID: "A1", Result: models.ResultOK,
	}))

	// The next sync hands out the extraction shadow run.
	resp2, err := f.sync.Sync(ctx, tokenID, secret, &interfaces.SyncRequest{RunnerID: "A1"})
	require.NoError(t, err)
	require.Equal(t, interfaces.SyncShadow, resp2.Action)
	require.NotNil(t, resp2.Shadow)
	assert.Equal(t, "measure", resp2.Shadow.Wrapper)

	require.NoError(t, f.lifecycle.ShadowDone(ctx, resp2.Shadow.ShadowID, "A1", models.ResultOK, nil))
	job, err = f.lifecycle.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, job.Final)
}
