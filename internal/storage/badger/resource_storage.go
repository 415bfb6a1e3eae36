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

// ResourceStorage implements the ResourceStorage interface for Badger
type ResourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewResourceStorage creates a new ResourceStorage instance
func NewResourceStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.ResourceStorage {
	return &ResourceStorage{db: db, logger: logger, notify: notify}
}

func (s *ResourceStorage) Create(ctx context.Context, res *models.Resource) error {
	if res.ID == "" {
		return common.NewInvalidRequest("resource id is required")
	}
	if err := s.db.Store().Insert(res.ID, res); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("resource %q: %w", res.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save resource: %w", err)
	}
	s.notify(interfaces.KindResource, interfaces.OpCreated, res.ID)
	return nil
}

func (s *ResourceStorage) Update(ctx context.Context, res *models.Resource) error {
	if err := s.db.Store().Upsert(res.ID, res); err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	s.notify(interfaces.KindResource, interfaces.OpUpdated, res.ID)
	return nil
}

func (s *ResourceStorage) Get(ctx context.Context, id string) (*models.Resource, error) {
	var res models.Resource
	if err := s.db.Store().Get(id, &res); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("resource %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}
	return &res, nil
}

func (s *ResourceStorage) GetByToken(ctx context.Context, tokenID string) (*models.Resource, error) {
	var resources []models.Resource
	if err := s.db.Store().Find(&resources, badgerhold.Where("TokenID").Eq(tokenID)); err != nil {
		return nil, fmt.Errorf("failed to look up resource by token: %w", err)
	}
	if len(resources) == 0 {
		return nil, fmt.Errorf("resource for token %q: %w", tokenID, common.ErrNotFound)
	}
	return &resources[0], nil
}

func (s *ResourceStorage) List(ctx context.Context) ([]*models.Resource, error) {
	var resources []models.Resource
	if err := s.db.Store().Find(&resources, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	result := make([]*models.Resource, len(resources))
	for i := range resources {
		result[i] = &resources[i]
	}
	return result, nil
}

func (s *ResourceStorage) ListByType(ctx context.Context, typeID string) ([]*models.Resource, error) {
	var resources []models.Resource
	if err := s.db.Store().Find(&resources, badgerhold.Where("Type").Eq(typeID).SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list resources by type: %w", err)
	}
	result := make([]*models.Resource, len(resources))
	for i := range resources {
		result[i] = &resources[i]
	}
	return result, nil
}

func (s *ResourceStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Resource{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("resource %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	s.notify(interfaces.KindResource, interfaces.OpDeleted, id)
	return nil
}
