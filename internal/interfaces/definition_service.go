package interfaces

import (
	"context"

	"github.com/ternarybob/conductor/internal/models"
)

// DefinitionService provides versioned CRUD over the definition graph and
// resolves parameter inheritance and resource claims.
type DefinitionService interface {
	// Product definitions. Immutable once referenced by a framework.
	CreateProductDef(ctx context.Context, def *models.ProductDef) error
	GetProductDef(ctx context.Context, id string) (*models.ProductDef, error)
	ListProductDefs(ctx context.Context) ([]*models.ProductDef, error)
	DeleteProductDef(ctx context.Context, id string) error

	// Frameworks. Every edit stores a new content-addressed version.
	CreateFramework(ctx context.Context, fw *models.Framework) error
	UpdateFramework(ctx context.Context, fw *models.Framework) error
	GetFramework(ctx context.Context, id string) (*models.Framework, error)
	ListFrameworks(ctx context.Context) ([]*models.Framework, error)
	DeleteFramework(ctx context.Context, id string) error

	// Task definitions.
	CreateTaskDef(ctx context.Context, def *models.TaskDef) error
	UpdateTaskDef(ctx context.Context, def *models.TaskDef) error
	GetTaskDef(ctx context.Context, id string) (*models.TaskDef, error)
	ListTaskDefs(ctx context.Context) ([]*models.TaskDef, error)
	DeleteTaskDef(ctx context.Context, id string) error

	// Resource types. The reserved sf.tr and sf.repo types always exist.
	CreateResType(ctx context.Context, rt *models.ResType) error
	GetResType(ctx context.Context, id string) (*models.ResType, error)
	ListResTypes(ctx context.Context) ([]*models.ResType, error)
	DeleteResType(ctx context.Context, id string) error

	// ResourceClaim returns the merged claim for a task definition, always
	// including the implicit SF_TR spec.
	ResourceClaim(ctx context.Context, taskDefID string) (models.ResourceClaim, error)

	// EffectiveParams resolves parameter inheritance for a task definition,
	// walking child, framework, then project defaults.
	EffectiveParams(ctx context.Context, taskDefID string) (map[string]string, error)

	// IsFinal reports whether a parameter may not be overridden at or below
	// the given task definition.
	IsFinal(ctx context.Context, taskDefID, name string) (bool, error)

	// AnyExtract reports whether any framework has extraction enabled.
	AnyExtract(ctx context.Context) (bool, error)
}
