package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger, notify: notify}
}

func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return common.NewInvalidRequest("job id is required")
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("job %q: %w", job.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save job: %w", err)
	}
	s.notify(interfaces.KindJob, interfaces.OpCreated, job.ID)
	return nil
}

func (s *JobStorage) Update(ctx context.Context, job *models.Job) error {
	if err := s.db.Store().Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	s.notify(interfaces.KindJob, interfaces.OpUpdated, job.ID)
	return nil
}

func (s *JobStorage) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("job %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) List(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")

	if opts != nil {
		if opts.ConfigID != "" {
			query = query.And("ConfigID").Eq(opts.ConfigID)
		}
		if opts.ScheduleID != "" {
			query = query.And("ScheduleID").Eq(opts.ScheduleID)
		}
		if opts.Owner != "" {
			query = query.And("Owner").Eq(opts.Owner)
		}
		if opts.FinalOnly {
			query = query.And("Final").Eq(true)
		}
		if opts.ActiveOnly {
			query = query.And("Final").Eq(false)
		}
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	// Job ids are timestamp-derived; sorting by ID descending lists the most
	// recent jobs first.
	query = query.SortBy("ID").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) ListActive(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Final").Eq(false).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
