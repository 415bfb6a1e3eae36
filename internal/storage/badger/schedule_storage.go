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

// ScheduleStorage implements the ScheduleStorage interface for Badger
type ScheduleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewScheduleStorage creates a new ScheduleStorage instance
func NewScheduleStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.ScheduleStorage {
	return &ScheduleStorage{db: db, logger: logger, notify: notify}
}

func (s *ScheduleStorage) Create(ctx context.Context, sched *models.Schedule) error {
	if sched.ID == "" {
		return common.NewInvalidRequest("schedule id is required")
	}
	if err := s.db.Store().Insert(sched.ID, sched); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("schedule %q: %w", sched.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	s.notify(interfaces.KindSchedule, interfaces.OpCreated, sched.ID)
	return nil
}

func (s *ScheduleStorage) Update(ctx context.Context, sched *models.Schedule) error {
	if err := s.db.Store().Upsert(sched.ID, sched); err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	s.notify(interfaces.KindSchedule, interfaces.OpUpdated, sched.ID)
	return nil
}

func (s *ScheduleStorage) Get(ctx context.Context, id string) (*models.Schedule, error) {
	var sched models.Schedule
	if err := s.db.Store().Get(id, &sched); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("schedule %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &sched, nil
}

func (s *ScheduleStorage) List(ctx context.Context) ([]*models.Schedule, error) {
	var scheds []models.Schedule
	if err := s.db.Store().Find(&scheds, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	result := make([]*models.Schedule, len(scheds))
	for i := range scheds {
		result[i] = &scheds[i]
	}
	return result, nil
}

func (s *ScheduleStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Schedule{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("schedule %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	s.notify(interfaces.KindSchedule, interfaces.OpDeleted, id)
	return nil
}
