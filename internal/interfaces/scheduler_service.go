package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// SchedulerService advances schedule records and fires job creation. A cron
// driver evaluates every schedule once a minute; triggers force an immediate
// pass.
type SchedulerService interface {
	// Start begins the evaluation loop.
	Start() error

	// Stop halts the evaluation loop.
	Stop() error

	// IsRunning reports whether the loop is active.
	IsRunning() bool

	// Evaluate runs one scheduling pass synchronously.
	Evaluate(ctx context.Context)

	// Schedule CRUD.
	CreateSchedule(ctx context.Context, s *models.Schedule) error
	UpdateSchedule(ctx context.Context, s *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	ListSchedules(ctx context.Context) ([]*models.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) error

	// Trigger fires a triggered schedule by id and wakes the loop.
	Trigger(ctx context.Context, id string) error

	// FireTag sets the trigger flag on every triggered schedule whose tag
	// selector matches the value, returning how many were fired. Webhooks
	// use tag values of the form "<repoId>/<branch>".
	FireTag(ctx context.Context, tagValue string) (int, error)

	// Status computes the UI status of a schedule. Never stored.
	Status(ctx context.Context, s *models.Schedule) models.ScheduleStatus
}
