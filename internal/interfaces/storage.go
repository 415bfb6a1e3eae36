package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// RecordKind identifies a record store for observer notifications.
type RecordKind string

const (
	KindProductDef    RecordKind = "productdef"
	KindFramework     RecordKind = "framework"
	KindTaskDef       RecordKind = "taskdef"
	KindResType       RecordKind = "restype"
	KindResource      RecordKind = "resource"
	KindConfiguration RecordKind = "configuration"
	KindJob           RecordKind = "job"
	KindSchedule      RecordKind = "schedule"
	KindToken         RecordKind = "token"
	KindUser          RecordKind = "user"
	KindProject       RecordKind = "project"
)

// StoreOp is the kind of mutation an observer is notified about.
type StoreOp string

const (
	OpCreated StoreOp = "created"
	OpUpdated StoreOp = "updated"
	OpDeleted StoreOp = "deleted"
)

// StoreObserver receives a notification after each successful store mutation,
// in mutation order. Observers must not block.
type StoreObserver func(kind RecordKind, op StoreOp, id string)

// ProductDefStorage persists product definitions.
type ProductDefStorage interface {
	Create(ctx context.Context, def *models.ProductDef) error
	Update(ctx context.Context, def *models.ProductDef) error
	Get(ctx context.Context, id string) (*models.ProductDef, error)
	List(ctx context.Context) ([]*models.ProductDef, error)
	Delete(ctx context.Context, id string) error
}

// FrameworkStorage persists frameworks. Every edit also stores the framework
// under its content version key so jobs can pin the version they used.
type FrameworkStorage interface {
	Create(ctx context.Context, fw *models.Framework) error
	Update(ctx context.Context, fw *models.Framework) error
	Get(ctx context.Context, id string) (*models.Framework, error)
	GetVersion(ctx context.Context, id, version string) (*models.Framework, error)
	List(ctx context.Context) ([]*models.Framework, error)
	Delete(ctx context.Context, id string) error
}

// TaskDefStorage persists task definitions with the same versioning scheme
// as frameworks.
type TaskDefStorage interface {
	Create(ctx context.Context, def *models.TaskDef) error
	Update(ctx context.Context, def *models.TaskDef) error
	Get(ctx context.Context, id string) (*models.TaskDef, error)
	GetVersion(ctx context.Context, id, version string) (*models.TaskDef, error)
	List(ctx context.Context) ([]*models.TaskDef, error)
	Delete(ctx context.Context, id string) error
}

// ResTypeStorage persists resource type metadata.
type ResTypeStorage interface {
	Create(ctx context.Context, rt *models.ResType) error
	Update(ctx context.Context, rt *models.ResType) error
	Get(ctx context.Context, id string) (*models.ResType, error)
	List(ctx context.Context) ([]*models.ResType, error)
	Delete(ctx context.Context, id string) error
}

// ResourceStorage persists resources, including task runners.
type ResourceStorage interface {
	Create(ctx context.Context, res *models.Resource) error
	Update(ctx context.Context, res *models.Resource) error
	Get(ctx context.Context, id string) (*models.Resource, error)
	GetByToken(ctx context.Context, tokenID string) (*models.Resource, error)
	List(ctx context.Context) ([]*models.Resource, error)
	ListByType(ctx context.Context, typeID string) ([]*models.Resource, error)
	Delete(ctx context.Context, id string) error
}

// ConfigurationStorage persists job configurations.
type ConfigurationStorage interface {
	Create(ctx context.Context, cfg *models.Configuration) error
	Update(ctx context.Context, cfg *models.Configuration) error
	Get(ctx context.Context, id string) (*models.Configuration, error)
	List(ctx context.Context) ([]*models.Configuration, error)
	ListByTag(ctx context.Context, key, value string) ([]*models.Configuration, error)
	Delete(ctx context.Context, id string) error
}

// JobListOptions filter and page job listings.
type JobListOptions struct {
	ConfigID   string
	ScheduleID string
	Owner      string
	FinalOnly  bool
	ActiveOnly bool
	Limit      int
	Offset     int
}

// JobStorage persists jobs. Jobs are never deleted; ids sort by creation
// time, newest last.
type JobStorage interface {
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, opts *JobListOptions) ([]*models.Job, error)
	ListActive(ctx context.Context) ([]*models.Job, error)
}

// ScheduleStorage persists schedules.
type ScheduleStorage interface {
	Create(ctx context.Context, s *models.Schedule) error
	Update(ctx context.Context, s *models.Schedule) error
	Get(ctx context.Context, id string) (*models.Schedule, error)
	List(ctx context.Context) ([]*models.Schedule, error)
	Delete(ctx context.Context, id string) error
}

// TokenStorage persists API tokens.
type TokenStorage interface {
	Create(ctx context.Context, t *models.Token) error
	Update(ctx context.Context, t *models.Token) error
	Get(ctx context.Context, id string) (*models.Token, error)
	List(ctx context.Context) ([]*models.Token, error)
	Delete(ctx context.Context, id string) error
}

// UserStorage persists user accounts.
type UserStorage interface {
	Create(ctx context.Context, u *models.User) error
	Update(ctx context.Context, u *models.User) error
	Get(ctx context.Context, name string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Delete(ctx context.Context, name string) error
}

// PasswordStorage keeps password hashes separate from user records.
type PasswordStorage interface {
	Set(ctx context.Context, name, hash string) error
	Get(ctx context.Context, name string) (string, error)
	Delete(ctx context.Context, name string) error
}

// ProjectStorage holds the singleton project record.
type ProjectStorage interface {
	Get(ctx context.Context) (*models.Project, error)
	Save(ctx context.Context, p *models.Project) error
}

// StorageManager provides access to all storage interfaces
type StorageManager interface {
	ProductDefStorage() ProductDefStorage
	FrameworkStorage() FrameworkStorage
	TaskDefStorage() TaskDefStorage
	ResTypeStorage() ResTypeStorage
	ResourceStorage() ResourceStorage
	ConfigurationStorage() ConfigurationStorage
	JobStorage() JobStorage
	ScheduleStorage() ScheduleStorage
	TokenStorage() TokenStorage
	UserStorage() UserStorage
	PasswordStorage() PasswordStorage
	ProjectStorage() ProjectStorage

	// Observe registers an observer invoked after every successful
	// mutation, in mutation order.
	Observe(observer StoreObserver)

	Close() error
}
