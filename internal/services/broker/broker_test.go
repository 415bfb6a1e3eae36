package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

func newTestBroker(t *testing.T) (interfaces.BrokerService, interfaces.StorageManager) {
	t.Helper()
	store, err := badger.NewManager(common.GetLogger(), &common.BadgerConfig{Path: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	agents := common.AgentsConfig{SyncDelaySeconds: 30}
	return NewService(store, agents, common.GetLogger()), store
}

func addRunner(t *testing.T, store interfaces.StorageManager, id string, caps ...string) *models.Resource {
	t.Helper()
	runner := &models.Resource{
		ID:           id,
		Type:         models.TaskRunnerType,
		Capabilities: models.NormalizeCaps(caps),
		LastSync:     time.Now(),
	}
	require.NoError(t, store.ResourceStorage().Create(context.Background(), runner))
	return runner
}

func TestReserveBindsRunnerUnderTaskRunnerReference(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	runner := addRunner(t, store, "A1", "build")
	claim := models.ResourceClaim{}.WithTaskRunner([]string{"build"})

	assignment, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "A1", assignment[models.TaskRunnerReference].ID)

	stored, err := store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "run_1", stored.ReservedBy)
}

func TestReserveRejectsRunnerWithoutCapability(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	runner := addRunner(t, store, "A1", "cpu")
	claim := models.ResourceClaim{}.WithTaskRunner([]string{"gpu"})

	assignment, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)
	assert.Nil(t, assignment, "an unqualified runner is a wait, not an error")

	reasons, err := broker.WhyNot(ctx, claim)
	require.NoError(t, err)
	require.NotEmpty(t, reasons)
	assert.Equal(t, interfaces.ReasonCaps, reasons[0].Kind)
	assert.Equal(t, models.TaskRunnerReference, reasons[0].Reference)
	assert.Equal(t, models.LevelFree, reasons[0].Level)
}

func TestReserveAuxiliaryResources(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, store.ResTypeStorage().Create(ctx, &models.ResType{ID: "device", PerTaskExclusive: true}))
	require.NoError(t, store.ResourceStorage().Create(ctx, &models.Resource{
		ID: "D1", Type: "device", Capabilities: []string{"ate"},
	}))
	runner := addRunner(t, store, "A1", "flash")

	claim := models.NewResourceClaim(
		models.NewResourceSpec("dev", "device", []string{"ate"}),
	).WithTaskRunner([]string{"flash"})

	assignment, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "D1", assignment["dev"].ID)

	// The device is now reserved; a second run cannot take it.
	runner2 := addRunner(t, store, "A2", "flash")
	assignment2, err := broker.Reserve(ctx, claim, runner2, "run_2", "job_2")
	require.NoError(t, err)
	assert.Nil(t, assignment2)
}

func TestReleaseIsIdempotent(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	runner := addRunner(t, store, "A1", "build")
	claim := models.ResourceClaim{}.WithTaskRunner([]string{"build"})

	_, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)

	require.NoError(t, broker.Release(ctx, "run_1"))
	stored, err := store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Empty(t, stored.ReservedBy)

	// Releasing again is a no-op.
	assert.NoError(t, broker.Release(ctx, "run_1"))
}

func TestPerJobExclusiveHeldUntilJobEnd(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, store.ResTypeStorage().Create(ctx, &models.ResType{ID: "license", PerJobExclusive: true}))
	require.NoError(t, store.ResourceStorage().Create(ctx, &models.Resource{ID: "L1", Type: "license"}))
	runner := addRunner(t, store, "A1", "build")

	claim := models.NewResourceClaim(
		models.NewResourceSpec("lic", "license", nil),
	).WithTaskRunner([]string{"build"})

	_, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)

	// Task-level release keeps the license bound to the job.
	require.NoError(t, broker.Release(ctx, "run_1"))
	stored, err := store.ResourceStorage().Get(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, "job_1", stored.ReservedForJob)
	assert.True(t, stored.Reserved())

	// A later run of the same job reuses it.
	require.NoError(t, broker.Release(ctx, "run_1"))
	runner.ReservedBy = ""
	require.NoError(t, store.ResourceStorage().Update(ctx, runner))
	assignment, err := broker.Reserve(ctx, claim, runner, "run_2", "job_1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
	assert.Equal(t, "L1", assignment["lic"].ID)

	// Another job cannot.
	runner2 := addRunner(t, store, "A2", "build")
	require.NoError(t, broker.Release(ctx, "run_2"))
	assignment2, err := broker.Reserve(ctx, claim, runner2, "run_3", "job_2")
	require.NoError(t, err)
	assert.Nil(t, assignment2)

	// Job termination frees it for everyone.
	require.NoError(t, broker.ReleaseJob(ctx, "job_1"))
	assignment3, err := broker.Reserve(ctx, claim, runner2, "run_4", "job_2")
	require.NoError(t, err)
	require.NotNil(t, assignment3)
}

func TestWhyNotReportsReservedLevel(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, store.ResTypeStorage().Create(ctx, &models.ResType{ID: "device"}))
	require.NoError(t, store.ResourceStorage().Create(ctx, &models.Resource{
		ID: "D1", Type: "device", ReservedBy: "run_other",
	}))

	claim := models.NewResourceClaim(models.NewResourceSpec("dev", "device", nil))
	reasons, err := broker.WhyNot(ctx, claim)
	require.NoError(t, err)

	// At the free level nothing is available; adding reserved resources
	// satisfies the claim, so that is the only reason recorded.
	require.Len(t, reasons, 1)
	assert.Equal(t, models.LevelFree, reasons[0].Level)
	assert.Equal(t, interfaces.ReasonSpec, reasons[0].Kind)
}

func TestSuspendedResourceNotMatched(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	runner := addRunner(t, store, "A1", "build")
	runner.Suspended = true
	require.NoError(t, store.ResourceStorage().Update(ctx, runner))

	claim := models.ResourceClaim{}.WithTaskRunner([]string{"build"})
	reasons, err := broker.WhyNot(ctx, claim)
	require.NoError(t, err)
	require.NotEmpty(t, reasons)
	assert.Equal(t, models.LevelFree, reasons[0].Level)
}

func TestManualReservationAndSuspend(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	require.NoError(t, store.ResTypeStorage().Create(ctx, &models.ResType{ID: "device"}))
	require.NoError(t, broker.CreateResource(ctx, &models.Resource{ID: "D1", Type: "device"}))

	require.NoError(t, broker.ReserveManual(ctx, "D1", "alice"))
	res, err := broker.GetResource(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, "alice", res.ReservedBy)
	assert.True(t, res.UserReserved)

	// Run-level release never touches user reservations.
	require.NoError(t, broker.Release(ctx, "alice"))
	res, err = broker.GetResource(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, res.UserReserved)

	require.NoError(t, broker.ReleaseManual(ctx, "D1", "alice"))

	require.NoError(t, broker.Suspend(ctx, "D1", "bob"))
	res, err = broker.GetResource(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, res.Suspended)
	assert.Equal(t, "bob", res.ChangedBy)

	require.NoError(t, broker.Resume(ctx, "D1", "bob"))
	res, err = broker.GetResource(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, res.Suspended)
}

func TestReserveRefusesReservedRunner(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	runner := addRunner(t, store, "A1", "build")
	require.NoError(t, broker.ReserveManual(ctx, "A1", "alice"))
	runner, err := store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)

	claim := models.ResourceClaim{}.WithTaskRunner([]string{"build"})
	assignment, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)
	assert.Nil(t, assignment, "a user-reserved runner is a wait, not a match")

	// The user's reservation survives untouched.
	stored, err := store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.ReservedBy)
	assert.True(t, stored.UserReserved)

	require.NoError(t, broker.ReleaseManual(ctx, "A1", "alice"))
	runner, err = store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)
	assignment, err = broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)
	require.NotNil(t, assignment)
}

func TestReserveRefusesSuspendedRunner(t *testing.T) {
	broker, store := newTestBroker(t)
	ctx := context.Background()

	runner := addRunner(t, store, "A1", "build")
	require.NoError(t, broker.Suspend(ctx, "A1", "bob"))
	runner, err := store.ResourceStorage().Get(ctx, "A1")
	require.NoError(t, err)

	claim := models.ResourceClaim{}.WithTaskRunner([]string{"build"})
	assignment, err := broker.Reserve(ctx, claim, runner, "run_1", "job_1")
	require.NoError(t, err)
	assert.Nil(t, assignment)
}
