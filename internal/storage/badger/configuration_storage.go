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

// ConfigurationStorage implements the ConfigurationStorage interface for Badger
type ConfigurationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewConfigurationStorage creates a new ConfigurationStorage instance
func NewConfigurationStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.ConfigurationStorage {
	return &ConfigurationStorage{db: db, logger: logger, notify: notify}
}

func (s *ConfigurationStorage) Create(ctx context.Context, cfg *models.Configuration) error {
	if cfg.ID == "" {
		return common.NewInvalidRequest("configuration id is required")
	}
	if err := s.db.Store().Insert(cfg.ID, cfg); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("configuration %q: %w", cfg.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	s.notify(interfaces.KindConfiguration, interfaces.OpCreated, cfg.ID)
	return nil
}

func (s *ConfigurationStorage) Update(ctx context.Context, cfg *models.Configuration) error {
	if err := s.db.Store().Upsert(cfg.ID, cfg); err != nil {
		return fmt.Errorf("failed to update configuration: %w", err)
	}
	s.notify(interfaces.KindConfiguration, interfaces.OpUpdated, cfg.ID)
	return nil
}

func (s *ConfigurationStorage) Get(ctx context.Context, id string) (*models.Configuration, error) {
	var cfg models.Configuration
	if err := s.db.Store().Get(id, &cfg); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("configuration %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get configuration: %w", err)
	}
	return &cfg, nil
}

func (s *ConfigurationStorage) List(ctx context.Context) ([]*models.Configuration, error) {
	var cfgs []models.Configuration
	if err := s.db.Store().Find(&cfgs, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list configurations: %w", err)
	}
	result := make([]*models.Configuration, len(cfgs))
	for i := range cfgs {
		result[i] = &cfgs[i]
	}
	return result, nil
}

func (s *ConfigurationStorage) ListByTag(ctx context.Context, key, value string) ([]*models.Configuration, error) {
	// BadgerHold cannot index into map fields; filter in memory. The
	// configuration store is small.
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var matched []*models.Configuration
	for _, cfg := range all {
		if cfg.HasTag(key, value) {
			matched = append(matched, cfg)
		}
	}
	return matched, nil
}

func (s *ConfigurationStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Configuration{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("configuration %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete configuration: %w", err)
	}
	s.notify(interfaces.KindConfiguration, interfaces.OpDeleted, id)
	return nil
}
