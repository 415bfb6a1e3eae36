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

// notifyFunc is how storages report successful mutations to the manager.
type notifyFunc func(kind interfaces.RecordKind, op interfaces.StoreOp, id string)

// versionKey addresses a pinned definition version.
func versionKey(id, version string) string {
	return id + "@" + version
}

// ProductDefStorage implements the ProductDefStorage interface for Badger
type ProductDefStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewProductDefStorage creates a new ProductDefStorage instance
func NewProductDefStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.ProductDefStorage {
	return &ProductDefStorage{db: db, logger: logger, notify: notify}
}

func (s *ProductDefStorage) Create(ctx context.Context, def *models.ProductDef) error {
	if def.ID == "" {
		return common.NewInvalidRequest("product definition id is required")
	}
	if err := s.db.Store().Insert(def.ID, def); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("product definition %q: %w", def.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save product definition: %w", err)
	}
	s.notify(interfaces.KindProductDef, interfaces.OpCreated, def.ID)
	return nil
}

func (s *ProductDefStorage) Update(ctx context.Context, def *models.ProductDef) error {
	if err := s.db.Store().Upsert(def.ID, def); err != nil {
		return fmt.Errorf("failed to update product definition: %w", err)
	}
	s.notify(interfaces.KindProductDef, interfaces.OpUpdated, def.ID)
	return nil
}

func (s *ProductDefStorage) Get(ctx context.Context, id string) (*models.ProductDef, error) {
	var def models.ProductDef
	if err := s.db.Store().Get(id, &def); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("product definition %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get product definition: %w", err)
	}
	return &def, nil
}

func (s *ProductDefStorage) List(ctx context.Context) ([]*models.ProductDef, error) {
	var defs []models.ProductDef
	if err := s.db.Store().Find(&defs, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list product definitions: %w", err)
	}
	result := make([]*models.ProductDef, len(defs))
	for i := range defs {
		result[i] = &defs[i]
	}
	return result, nil
}

func (s *ProductDefStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.ProductDef{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("product definition %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete product definition: %w", err)
	}
	s.notify(interfaces.KindProductDef, interfaces.OpDeleted, id)
	return nil
}

// FrameworkStorage implements the FrameworkStorage interface for Badger.
// The current record lives under the framework id; every content version is
// additionally stored under "id@version" so jobs can pin it.
type FrameworkStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewFrameworkStorage creates a new FrameworkStorage instance
func NewFrameworkStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.FrameworkStorage {
	return &FrameworkStorage{db: db, logger: logger, notify: notify}
}

func (s *FrameworkStorage) Create(ctx context.Context, fw *models.Framework) error {
	if fw.ID == "" {
		return common.NewInvalidRequest("framework id is required")
	}
	if err := s.db.Store().Insert(fw.ID, fw); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("framework %q: %w", fw.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save framework: %w", err)
	}
	if err := s.db.Store().Upsert(versionKey(fw.ID, fw.Version), fw); err != nil {
		return fmt.Errorf("failed to save framework version: %w", err)
	}
	s.notify(interfaces.KindFramework, interfaces.OpCreated, fw.ID)
	return nil
}

func (s *FrameworkStorage) Update(ctx context.Context, fw *models.Framework) error {
	if err := s.db.Store().Upsert(fw.ID, fw); err != nil {
		return fmt.Errorf("failed to update framework: %w", err)
	}
	if err := s.db.Store().Upsert(versionKey(fw.ID, fw.Version), fw); err != nil {
		return fmt.Errorf("failed to save framework version: %w", err)
	}
	s.notify(interfaces.KindFramework, interfaces.OpUpdated, fw.ID)
	return nil
}

func (s *FrameworkStorage) Get(ctx context.Context, id string) (*models.Framework, error) {
	var fw models.Framework
	if err := s.db.Store().Get(id, &fw); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("framework %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get framework: %w", err)
	}
	return &fw, nil
}

func (s *FrameworkStorage) GetVersion(ctx context.Context, id, version string) (*models.Framework, error) {
	var fw models.Framework
	if err := s.db.Store().Get(versionKey(id, version), &fw); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("framework %q version %q: %w", id, version, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get framework version: %w", err)
	}
	return &fw, nil
}

func (s *FrameworkStorage) List(ctx context.Context) ([]*models.Framework, error) {
	var fws []models.Framework
	if err := s.db.Store().Find(&fws, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list frameworks: %w", err)
	}
	// Version copies share the type; keep only the current record per id.
	seen := make(map[string]*models.Framework, len(fws))
	var order []string
	for i := range fws {
		fw := &fws[i]
		current, ok := seen[fw.ID]
		if !ok {
			seen[fw.ID] = fw
			order = append(order, fw.ID)
		} else if fw.UpdatedAt.After(current.UpdatedAt) {
			seen[fw.ID] = fw
		}
	}
	result := make([]*models.Framework, 0, len(order))
	for _, id := range order {
		result = append(result, seen[id])
	}
	return result, nil
}

func (s *FrameworkStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Framework{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("framework %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete framework: %w", err)
	}
	// Pinned versions stay; running jobs still resolve them.
	s.notify(interfaces.KindFramework, interfaces.OpDeleted, id)
	return nil
}

// TaskDefStorage implements the TaskDefStorage interface for Badger
type TaskDefStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewTaskDefStorage creates a new TaskDefStorage instance
func NewTaskDefStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.TaskDefStorage {
	return &TaskDefStorage{db: db, logger: logger, notify: notify}
}

func (s *TaskDefStorage) Create(ctx context.Context, def *models.TaskDef) error {
	if def.ID == "" {
		return common.NewInvalidRequest("task definition id is required")
	}
	if err := s.db.Store().Insert(def.ID, def); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("task definition %q: %w", def.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save task definition: %w", err)
	}
	if err := s.db.Store().Upsert(versionKey(def.ID, def.Version), def); err != nil {
		return fmt.Errorf("failed to save task definition version: %w", err)
	}
	s.notify(interfaces.KindTaskDef, interfaces.OpCreated, def.ID)
	return nil
}

func (s *TaskDefStorage) Update(ctx context.Context, def *models.TaskDef) error {
	if err := s.db.Store().Upsert(def.ID, def); err != nil {
		return fmt.Errorf("failed to update task definition: %w", err)
	}
	if err := s.db.Store().Upsert(versionKey(def.ID, def.Version), def); err != nil {
		return fmt.Errorf("failed to save task definition version: %w", err)
	}
	s.notify(interfaces.KindTaskDef, interfaces.OpUpdated, def.ID)
	return nil
}

func (s *TaskDefStorage) Get(ctx context.Context, id string) (*models.TaskDef, error) {
	var def models.TaskDef
	if err := s.db.Store().Get(id, &def); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task definition %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task definition: %w", err)
	}
	return &def, nil
}

func (s *TaskDefStorage) GetVersion(ctx context.Context, id, version string) (*models.TaskDef, error) {
	var def models.TaskDef
	if err := s.db.Store().Get(versionKey(id, version), &def); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("task definition %q version %q: %w", id, version, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get task definition version: %w", err)
	}
	return &def, nil
}

func (s *TaskDefStorage) List(ctx context.Context) ([]*models.TaskDef, error) {
	var defs []models.TaskDef
	if err := s.db.Store().Find(&defs, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list task definitions: %w", err)
	}
	seen := make(map[string]*models.TaskDef, len(defs))
	var order []string
	for i := range defs {
		def := &defs[i]
		current, ok := seen[def.ID]
		if !ok {
			seen[def.ID] = def
			order = append(order, def.ID)
		} else if def.UpdatedAt.After(current.UpdatedAt) {
			seen[def.ID] = def
		}
	}
	result := make([]*models.TaskDef, 0, len(order))
	for _, id := range order {
		result = append(result, seen[id])
	}
	return result, nil
}

func (s *TaskDefStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.TaskDef{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("task definition %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete task definition: %w", err)
	}
	s.notify(interfaces.KindTaskDef, interfaces.OpDeleted, id)
	return nil
}

// ResTypeStorage implements the ResTypeStorage interface for Badger
type ResTypeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
	notify notifyFunc
}

// NewResTypeStorage creates a new ResTypeStorage instance
func NewResTypeStorage(db *BadgerDB, logger arbor.ILogger, notify notifyFunc) interfaces.ResTypeStorage {
	return &ResTypeStorage{db: db, logger: logger, notify: notify}
}

func (s *ResTypeStorage) Create(ctx context.Context, rt *models.ResType) error {
	if rt.ID == "" {
		return common.NewInvalidRequest("resource type id is required")
	}
	if err := s.db.Store().Insert(rt.ID, rt); err != nil {
		if err == badgerhold.ErrKeyExists {
			return fmt.Errorf("resource type %q: %w", rt.ID, common.ErrDuplicate)
		}
		return fmt.Errorf("failed to save resource type: %w", err)
	}
	s.notify(interfaces.KindResType, interfaces.OpCreated, rt.ID)
	return nil
}

func (s *ResTypeStorage) Update(ctx context.Context, rt *models.ResType) error {
	if err := s.db.Store().Upsert(rt.ID, rt); err != nil {
		return fmt.Errorf("failed to update resource type: %w", err)
	}
	s.notify(interfaces.KindResType, interfaces.OpUpdated, rt.ID)
	return nil
}

func (s *ResTypeStorage) Get(ctx context.Context, id string) (*models.ResType, error) {
	var rt models.ResType
	if err := s.db.Store().Get(id, &rt); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("resource type %q: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get resource type: %w", err)
	}
	return &rt, nil
}

func (s *ResTypeStorage) List(ctx context.Context) ([]*models.ResType, error) {
	var types []models.ResType
	if err := s.db.Store().Find(&types, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list resource types: %w", err)
	}
	result := make([]*models.ResType, len(types))
	for i := range types {
		result[i] = &types[i]
	}
	return result, nil
}

func (s *ResTypeStorage) Delete(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.ResType{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("resource type %q: %w", id, common.ErrNotFound)
		}
		return fmt.Errorf("failed to delete resource type: %w", err)
	}
	s.notify(interfaces.KindResType, interfaces.OpDeleted, id)
	return nil
}
