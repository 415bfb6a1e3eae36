package definitions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Service implements DefinitionService on top of the record stores.
type Service struct {
	store  interfaces.StorageManager
	logger arbor.ILogger
}

// NewService creates a new definition graph service
func NewService(store interfaces.StorageManager, logger arbor.ILogger) interfaces.DefinitionService {
	return &Service{store: store, logger: logger}
}

// --- Product definitions ---

func (s *Service) CreateProductDef(ctx context.Context, def *models.ProductDef) error {
	if def.ID == "" {
		return common.NewInvalidRequest("product definition id is required")
	}
	if !def.Type.IsValid() {
		return common.NewInvalidRequest("unknown product type %q", def.Type)
	}
	def.CreatedAt = time.Now()
	if err := s.store.ProductDefStorage().Create(ctx, def); err != nil {
		return err
	}
	s.logger.Info().Str("product", def.ID).Str("type", string(def.Type)).Msg("Product definition created")
	return nil
}

func (s *Service) GetProductDef(ctx context.Context, id string) (*models.ProductDef, error) {
	return s.store.ProductDefStorage().Get(ctx, id)
}

func (s *Service) ListProductDefs(ctx context.Context) ([]*models.ProductDef, error) {
	return s.store.ProductDefStorage().List(ctx)
}

func (s *Service) DeleteProductDef(ctx context.Context, id string) error {
	frameworks, err := s.store.FrameworkStorage().List(ctx)
	if err != nil {
		return err
	}
	for _, fw := range frameworks {
		if models.HasCap(fw.Inputs, id) || models.HasCap(fw.Outputs, id) {
			return fmt.Errorf("product %q is used by framework %q: %w", id, fw.ID, common.ErrReference)
		}
	}
	return s.store.ProductDefStorage().Delete(ctx, id)
}

// --- Frameworks ---

func (s *Service) CreateFramework(ctx context.Context, fw *models.Framework) error {
	if err := s.validateFramework(ctx, fw); err != nil {
		return err
	}
	now := time.Now()
	fw.CreatedAt = now
	fw.UpdatedAt = now
	fw.Version = fw.ContentKey()
	if err := s.store.FrameworkStorage().Create(ctx, fw); err != nil {
		return err
	}
	s.logger.Info().Str("framework", fw.ID).Str("version", fw.Version).Msg("Framework created")
	return nil
}

func (s *Service) UpdateFramework(ctx context.Context, fw *models.Framework) error {
	existing, err := s.store.FrameworkStorage().Get(ctx, fw.ID)
	if err != nil {
		return err
	}
	if err := s.validateFramework(ctx, fw); err != nil {
		return err
	}
	fw.CreatedAt = existing.CreatedAt
	fw.UpdatedAt = time.Now()
	fw.Version = fw.ContentKey()
	if err := s.store.FrameworkStorage().Update(ctx, fw); err != nil {
		return err
	}
	s.logger.Info().Str("framework", fw.ID).Str("version", fw.Version).Msg("Framework updated")
	return nil
}

func (s *Service) GetFramework(ctx context.Context, id string) (*models.Framework, error) {
	return s.store.FrameworkStorage().Get(ctx, id)
}

func (s *Service) ListFrameworks(ctx context.Context) ([]*models.Framework, error) {
	return s.store.FrameworkStorage().List(ctx)
}

func (s *Service) DeleteFramework(ctx context.Context, id string) error {
	defs, err := s.store.TaskDefStorage().List(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if def.FrameworkID == id {
			return fmt.Errorf("framework %q is used by task definition %q: %w", id, def.ID, common.ErrReference)
		}
	}
	return s.store.FrameworkStorage().Delete(ctx, id)
}

func (s *Service) validateFramework(ctx context.Context, fw *models.Framework) error {
	if fw.ID == "" {
		return common.NewInvalidRequest("framework id is required")
	}
	if fw.Wrapper == "" {
		fw.Wrapper = fw.ID
	}
	for _, name := range fw.Inputs {
		if _, err := s.store.ProductDefStorage().Get(ctx, name); err != nil {
			return fmt.Errorf("input product %q: %w", name, common.ErrReference)
		}
	}
	for _, name := range fw.Outputs {
		def, err := s.store.ProductDefStorage().Get(ctx, name)
		if err != nil {
			return fmt.Errorf("output product %q: %w", name, common.ErrReference)
		}
		if !def.Combined && s.outputClaimedElsewhere(ctx, fw.ID, name) {
			return fmt.Errorf("product %q is not combined and already has a producer: %w", name, common.ErrReference)
		}
	}
	for name := range fw.Params {
		if strings.HasPrefix(name, models.ReservedPrefix) && !systemParam(name) {
			return common.NewInvalidRequest("parameter name %q uses the reserved prefix", name)
		}
	}
	return s.validateClaim(ctx, fw.Claim)
}

// outputClaimedElsewhere reports whether another framework already declares
// the product as an output. Only relevant for non-combined products.
func (s *Service) outputClaimedElsewhere(ctx context.Context, frameworkID, product string) bool {
	frameworks, err := s.store.FrameworkStorage().List(ctx)
	if err != nil {
		return false
	}
	for _, other := range frameworks {
		if other.ID == frameworkID {
			continue
		}
		for _, out := range other.Outputs {
			if out == product {
				return true
			}
		}
	}
	return false
}

// --- Task definitions ---

func (s *Service) CreateTaskDef(ctx context.Context, def *models.TaskDef) error {
	if err := s.validateTaskDef(ctx, def); err != nil {
		return err
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	def.Version = def.ContentKey()
	if err := s.store.TaskDefStorage().Create(ctx, def); err != nil {
		return err
	}
	s.logger.Info().Str("taskdef", def.ID).Str("framework", def.FrameworkID).Msg("Task definition created")
	return nil
}

func (s *Service) UpdateTaskDef(ctx context.Context, def *models.TaskDef) error {
	existing, err := s.store.TaskDefStorage().Get(ctx, def.ID)
	if err != nil {
		return err
	}
	if err := s.validateTaskDef(ctx, def); err != nil {
		return err
	}
	def.CreatedAt = existing.CreatedAt
	def.UpdatedAt = time.Now()
	def.Version = def.ContentKey()
	return s.store.TaskDefStorage().Update(ctx, def)
}

func (s *Service) GetTaskDef(ctx context.Context, id string) (*models.TaskDef, error) {
	return s.store.TaskDefStorage().Get(ctx, id)
}

func (s *Service) ListTaskDefs(ctx context.Context) ([]*models.TaskDef, error) {
	return s.store.TaskDefStorage().List(ctx)
}

func (s *Service) DeleteTaskDef(ctx context.Context, id string) error {
	return s.store.TaskDefStorage().Delete(ctx, id)
}

func (s *Service) validateTaskDef(ctx context.Context, def *models.TaskDef) error {
	if def.ID == "" {
		return common.NewInvalidRequest("task definition id is required")
	}
	fw, err := s.store.FrameworkStorage().Get(ctx, def.FrameworkID)
	if err != nil {
		return fmt.Errorf("framework %q: %w", def.FrameworkID, common.ErrReference)
	}
	project, err := s.store.ProjectStorage().Get(ctx)
	if err != nil {
		return err
	}
	for name := range def.Params {
		if finalAbove(name, fw, project) {
			return fmt.Errorf("parameter %q: %w", name, common.ErrFinalOverride)
		}
	}
	return s.validateClaim(ctx, def.Claim)
}

// --- Resource types ---

func (s *Service) CreateResType(ctx context.Context, rt *models.ResType) error {
	if rt.ID == "" {
		return common.NewInvalidRequest("resource type id is required")
	}
	if rt.Reserved() {
		return common.NewInvalidRequest("resource type ids may not use the %q prefix", models.ReservedPrefix)
	}
	rt.CreatedAt = time.Now()
	return s.store.ResTypeStorage().Create(ctx, rt)
}

func (s *Service) GetResType(ctx context.Context, id string) (*models.ResType, error) {
	return s.store.ResTypeStorage().Get(ctx, id)
}

func (s *Service) ListResTypes(ctx context.Context) ([]*models.ResType, error) {
	return s.store.ResTypeStorage().List(ctx)
}

func (s *Service) DeleteResType(ctx context.Context, id string) error {
	if strings.HasPrefix(id, models.ReservedPrefix) {
		return common.NewInvalidRequest("resource type %q is reserved", id)
	}
	resources, err := s.store.ResourceStorage().ListByType(ctx, id)
	if err != nil {
		return err
	}
	if len(resources) > 0 {
		return fmt.Errorf("resource type %q has %d resource(s): %w", id, len(resources), common.ErrReference)
	}
	return s.store.ResTypeStorage().Delete(ctx, id)
}

// --- Claims and parameter inheritance ---

// ResourceClaim merges the framework's claim with the task definition's and
// adds the implicit task runner spec. The runner must advertise the framework
// id as a capability; the job target is added at instantiation time.
func (s *Service) ResourceClaim(ctx context.Context, taskDefID string) (models.ResourceClaim, error) {
	def, err := s.store.TaskDefStorage().Get(ctx, taskDefID)
	if err != nil {
		return nil, err
	}
	fw, err := s.store.FrameworkStorage().Get(ctx, def.FrameworkID)
	if err != nil {
		return nil, fmt.Errorf("framework %q: %w", def.FrameworkID, common.ErrReference)
	}
	return fw.Claim.Merge(def.Claim).WithTaskRunner([]string{fw.ID}), nil
}

func (s *Service) EffectiveParams(ctx context.Context, taskDefID string) (map[string]string, error) {
	def, err := s.store.TaskDefStorage().Get(ctx, taskDefID)
	if err != nil {
		return nil, err
	}
	fw, err := s.store.FrameworkStorage().Get(ctx, def.FrameworkID)
	if err != nil {
		return nil, fmt.Errorf("framework %q: %w", def.FrameworkID, common.ErrReference)
	}
	project, err := s.store.ProjectStorage().Get(ctx)
	if err != nil {
		return nil, err
	}
	return EffectiveParams(def, fw, project), nil
}

func (s *Service) IsFinal(ctx context.Context, taskDefID, name string) (bool, error) {
	def, err := s.store.TaskDefStorage().Get(ctx, taskDefID)
	if err != nil {
		return false, err
	}
	fw, err := s.store.FrameworkStorage().Get(ctx, def.FrameworkID)
	if err != nil {
		return false, fmt.Errorf("framework %q: %w", def.FrameworkID, common.ErrReference)
	}
	project, err := s.store.ProjectStorage().Get(ctx)
	if err != nil {
		return false, err
	}
	if finalAbove(name, fw, project) {
		return true, nil
	}
	return def.Params[name].Final, nil
}

func (s *Service) AnyExtract(ctx context.Context) (bool, error) {
	frameworks, err := s.store.FrameworkStorage().List(ctx)
	if err != nil {
		return false, err
	}
	for _, fw := range frameworks {
		if fw.Extractor {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) validateClaim(ctx context.Context, claim models.ResourceClaim) error {
	for ref, spec := range claim {
		if ref == "" {
			return common.NewInvalidRequest("claim reference label is required")
		}
		if ref == models.TaskRunnerReference {
			if spec.Type != models.TaskRunnerType {
				return common.NewInvalidRequest("claim %q must use the task runner type", ref)
			}
			continue
		}
		if strings.HasPrefix(spec.Type, models.ReservedPrefix) && spec.Type != models.RepoType {
			return common.NewInvalidRequest("claim %q uses the reserved type %q", ref, spec.Type)
		}
		if _, err := s.store.ResTypeStorage().Get(ctx, spec.Type); err != nil {
			return fmt.Errorf("claim %q resource type %q: %w", ref, spec.Type, common.ErrReference)
		}
	}
	return nil
}

// EffectiveParams resolves the parameter map for a task definition: project
// defaults first, overlaid by the framework, overlaid by the definition
// itself.
func EffectiveParams(def *models.TaskDef, fw *models.Framework, project *models.Project) map[string]string {
	params := make(map[string]string)
	if project != nil {
		for name, p := range project.Defaults {
			params[name] = p.Value
		}
	}
	for name, p := range fw.Params {
		params[name] = p.Value
	}
	for name, p := range def.Params {
		params[name] = p.Value
	}
	return params
}

// ParamFinal reports whether a parameter may not be overridden below the
// task definition level.
func ParamFinal(name string, def *models.TaskDef, fw *models.Framework, project *models.Project) bool {
	if finalAbove(name, fw, project) {
		return true
	}
	return def != nil && def.Params[name].Final
}

// finalAbove reports whether the parameter is final at the framework or
// project level, or reserved for the system.
func finalAbove(name string, fw *models.Framework, project *models.Project) bool {
	if strings.HasPrefix(name, models.ReservedPrefix) {
		return true
	}
	if fw.Params[name].Final {
		return true
	}
	return project != nil && project.Defaults[name].Final
}

// systemParam reports whether a reserved-prefix parameter name is one the
// system itself sets on frameworks.
func systemParam(name string) bool {
	switch name {
	case "sf.wrapper", "sf.extractor", "sf.timeout", "sf.summary":
		return true
	}
	return false
}
