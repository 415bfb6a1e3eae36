package badger

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db            *BadgerDB
	productDef    interfaces.ProductDefStorage
	framework     interfaces.FrameworkStorage
	taskDef       interfaces.TaskDefStorage
	resType       interfaces.ResTypeStorage
	resource      interfaces.ResourceStorage
	configuration interfaces.ConfigurationStorage
	job           interfaces.JobStorage
	schedule      interfaces.ScheduleStorage
	token         interfaces.TokenStorage
	user          interfaces.UserStorage
	password      interfaces.PasswordStorage
	project       interfaces.ProjectStorage
	logger        arbor.ILogger

	obsMu     sync.RWMutex
	observers []interfaces.StoreObserver
}

// NewManager creates a new Badger storage manager and seeds the reserved
// resource types.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		logger: logger,
	}
	manager.productDef = NewProductDefStorage(db, logger, manager.notify)
	manager.framework = NewFrameworkStorage(db, logger, manager.notify)
	manager.taskDef = NewTaskDefStorage(db, logger, manager.notify)
	manager.resType = NewResTypeStorage(db, logger, manager.notify)
	manager.resource = NewResourceStorage(db, logger, manager.notify)
	manager.configuration = NewConfigurationStorage(db, logger, manager.notify)
	manager.job = NewJobStorage(db, logger, manager.notify)
	manager.schedule = NewScheduleStorage(db, logger, manager.notify)
	manager.token = NewTokenStorage(db, logger, manager.notify)
	manager.user = NewUserStorage(db, logger, manager.notify)
	manager.password = NewPasswordStorage(db, logger)
	manager.project = NewProjectStorage(db, logger, manager.notify)

	if err := manager.seedReservedTypes(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// seedReservedTypes makes sure the task runner and repository types exist.
func (m *Manager) seedReservedTypes(ctx context.Context) error {
	for _, rt := range models.ReservedResTypes() {
		if _, err := m.resType.Get(ctx, rt.ID); err == nil {
			continue
		}
		if err := m.resType.Create(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ProductDefStorage() interfaces.ProductDefStorage { return m.productDef }

func (m *Manager) FrameworkStorage() interfaces.FrameworkStorage { return m.framework }

func (m *Manager) TaskDefStorage() interfaces.TaskDefStorage { return m.taskDef }

func (m *Manager) ResTypeStorage() interfaces.ResTypeStorage { return m.resType }

func (m *Manager) ResourceStorage() interfaces.ResourceStorage { return m.resource }

func (m *Manager) ConfigurationStorage() interfaces.ConfigurationStorage { return m.configuration }

func (m *Manager) JobStorage() interfaces.JobStorage { return m.job }

func (m *Manager) ScheduleStorage() interfaces.ScheduleStorage { return m.schedule }

func (m *Manager) TokenStorage() interfaces.TokenStorage { return m.token }

func (m *Manager) UserStorage() interfaces.UserStorage { return m.user }

func (m *Manager) PasswordStorage() interfaces.PasswordStorage { return m.password }

func (m *Manager) ProjectStorage() interfaces.ProjectStorage { return m.project }

// Observe registers an observer invoked after every successful mutation.
func (m *Manager) Observe(observer interfaces.StoreObserver) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, observer)
}

// notify fans a mutation out to the registered observers, in registration
// order. Called by the per-entity storages after a successful write.
func (m *Manager) notify(kind interfaces.RecordKind, op interfaces.StoreOp, id string) {
	m.obsMu.RLock()
	observers := m.observers
	m.obsMu.RUnlock()
	for _, observer := range observers {
		observer(kind, op, id)
	}
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
