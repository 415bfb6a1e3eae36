package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Service implements BrokerService. A single mutex serialises the match and
// reserve step so concurrent agent syncs see a consistent resource pool.
type Service struct {
	store  interfaces.StorageManager
	logger arbor.ILogger
	agents common.AgentsConfig

	mu sync.Mutex
}

// NewService creates a new resource broker
func NewService(store interfaces.StorageManager, agents common.AgentsConfig, logger arbor.ILogger) interfaces.BrokerService {
	return &Service{store: store, agents: agents, logger: logger}
}

func (s *Service) thresholds() (warn, lost time.Duration) {
	return time.Duration(s.agents.WarnTimeoutSeconds()) * time.Second,
		time.Duration(s.agents.LostTimeoutSeconds()) * time.Second
}

// Reserve matches the claim against free resources with runner forced as the
// SF_TR binding, then flips the winners' reserved-by to the run id. A nil
// assignment with a nil error means no match; the caller answers with a wait.
func (s *Service) Reserve(ctx context.Context, claim models.ResourceClaim, runner *models.Resource, runID, jobID string) (map[string]*models.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rest := make(models.ResourceClaim, len(claim))
	for ref, spec := range claim {
		rest[ref] = spec
	}

	trSpec, needsRunner := rest[models.TaskRunnerReference]
	if needsRunner {
		if runner == nil || !runner.IsRunner() {
			return nil, nil
		}
		// The forced runner must be free like any other resource; a
		// suspended or reserved runner (including a manual user
		// reservation) never receives work.
		if runner.Suspended || runner.Reserved() {
			return nil, nil
		}
		if !models.HasAllCaps(runner.Capabilities, trSpec.Capabilities) {
			return nil, nil
		}
		delete(rest, models.TaskRunnerReference)
	}

	pool, err := s.availableTo(ctx, jobID, runner)
	if err != nil {
		return nil, err
	}

	assignment, _ := matchClaim(rest, pool)
	if assignment == nil {
		return nil, nil
	}
	if needsRunner {
		assignment[models.TaskRunnerReference] = runner
	}

	perJob, err := s.perJobExclusiveTypes(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for ref, res := range assignment {
		res.ReservedBy = runID
		res.UserReserved = false
		if perJob[res.Type] {
			res.ReservedForJob = jobID
		}
		res.ChangedAt = now
		if err := s.store.ResourceStorage().Update(ctx, res); err != nil {
			return nil, fmt.Errorf("failed to reserve %q for %q: %w", res.ID, ref, err)
		}
	}

	s.logger.Debug().
		Str("run_id", runID).
		Int("resources", len(assignment)).
		Msg("Claim reserved")

	return assignment, nil
}

// Release clears every reservation held by the run. Already-released runs are
// a no-op. Per-job-exclusive resources stay bound to their job until
// ReleaseJob.
func (s *Service) Release(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources, err := s.store.ResourceStorage().List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, res := range resources {
		if res.ReservedBy != runID || res.UserReserved {
			continue
		}
		res.ReservedBy = ""
		res.ChangedAt = now
		if err := s.store.ResourceStorage().Update(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// ReleaseJob drops the per-job-exclusive reservations of a finished job.
func (s *Service) ReleaseJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources, err := s.store.ResourceStorage().List(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, res := range resources {
		if res.ReservedForJob != jobID {
			continue
		}
		res.ReservedForJob = ""
		res.ReservedBy = ""
		res.ChangedAt = now
		if err := s.store.ResourceStorage().Update(ctx, res); err != nil {
			return err
		}
	}
	return nil
}

// WhyNot explains why a claim cannot be satisfied right now. The pool grows
// level by level; reasons from each failing level are collected until a level
// admits a match.
func (s *Service) WhyNot(ctx context.Context, claim models.ResourceClaim) ([]interfaces.WaitReason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resources, err := s.store.ResourceStorage().List(ctx)
	if err != nil {
		return nil, err
	}

	warn, lost := s.thresholds()
	now := time.Now()

	var reasons []interfaces.WaitReason
	for _, level := range models.StatusLevels() {
		var pool []*models.Resource
		for _, res := range resources {
			if res.StatusLevel(now, warn, lost) <= level {
				pool = append(pool, res)
			}
		}
		assignment, levelReasons := matchClaim(claim, pool)
		if assignment != nil {
			break
		}
		for _, r := range levelReasons {
			r.Level = level
			r.LevelName = level.String()
			reasons = append(reasons, r)
		}
	}
	return reasons, nil
}

// availableTo returns the resources a reservation for jobID may use: free
// resources plus those already held exclusively by the same job. The runner
// is excluded; it is bound separately.
func (s *Service) availableTo(ctx context.Context, jobID string, runner *models.Resource) ([]*models.Resource, error) {
	resources, err := s.store.ResourceStorage().List(ctx)
	if err != nil {
		return nil, err
	}
	warn, lost := s.thresholds()
	now := time.Now()

	var pool []*models.Resource
	for _, res := range resources {
		if runner != nil && res.ID == runner.ID {
			continue
		}
		held := jobID != "" && res.ReservedForJob == jobID && res.ReservedBy == "" && !res.Suspended
		if held || res.StatusLevel(now, warn, lost) == models.LevelFree {
			pool = append(pool, res)
		}
	}
	return pool, nil
}

func (s *Service) perJobExclusiveTypes(ctx context.Context) (map[string]bool, error) {
	types, err := s.store.ResTypeStorage().List(ctx)
	if err != nil {
		return nil, err
	}
	perJob := make(map[string]bool, len(types))
	for _, rt := range types {
		perJob[rt.ID] = rt.PerJobExclusive
	}
	return perJob, nil
}

// --- Resource administration ---

func (s *Service) CreateResource(ctx context.Context, res *models.Resource) error {
	if res.ID == "" {
		return common.NewInvalidRequest("resource id is required")
	}
	if _, err := s.store.ResTypeStorage().Get(ctx, res.Type); err != nil {
		return fmt.Errorf("resource type %q: %w", res.Type, common.ErrReference)
	}
	res.Capabilities = models.NormalizeCaps(res.Capabilities)
	now := time.Now()
	res.CreatedAt = now
	res.ChangedAt = now
	return s.store.ResourceStorage().Create(ctx, res)
}

func (s *Service) UpdateResource(ctx context.Context, res *models.Resource) error {
	res.Capabilities = models.NormalizeCaps(res.Capabilities)
	res.ChangedAt = time.Now()
	return s.store.ResourceStorage().Update(ctx, res)
}

func (s *Service) GetResource(ctx context.Context, id string) (*models.Resource, error) {
	return s.store.ResourceStorage().Get(ctx, id)
}

func (s *Service) ListResources(ctx context.Context) ([]*models.Resource, error) {
	return s.store.ResourceStorage().List(ctx)
}

func (s *Service) DeleteResource(ctx context.Context, id string) error {
	res, err := s.store.ResourceStorage().Get(ctx, id)
	if err != nil {
		return err
	}
	if res.ReservedBy != "" && !res.UserReserved {
		return common.NewPresentable("resource %q is in use by run %s", id, res.ReservedBy)
	}
	return s.store.ResourceStorage().Delete(ctx, id)
}

func (s *Service) Suspend(ctx context.Context, id, user string) error {
	return s.flagResource(ctx, id, user, func(res *models.Resource) error {
		res.Suspended = true
		return nil
	})
}

func (s *Service) Resume(ctx context.Context, id, user string) error {
	return s.flagResource(ctx, id, user, func(res *models.Resource) error {
		res.Suspended = false
		return nil
	})
}

func (s *Service) ReserveManual(ctx context.Context, id, user string) error {
	return s.flagResource(ctx, id, user, func(res *models.Resource) error {
		if res.Reserved() {
			return common.NewPresentable("resource %q is already reserved", id)
		}
		res.ReservedBy = user
		res.UserReserved = true
		return nil
	})
}

func (s *Service) ReleaseManual(ctx context.Context, id, user string) error {
	return s.flagResource(ctx, id, user, func(res *models.Resource) error {
		if !res.UserReserved {
			return common.NewPresentable("resource %q is not reserved by a user", id)
		}
		res.ReservedBy = ""
		res.UserReserved = false
		return nil
	})
}

func (s *Service) SetExitOnIdle(ctx context.Context, id string, exit bool) error {
	return s.flagResource(ctx, id, "", func(res *models.Resource) error {
		if !res.IsRunner() {
			return common.NewInvalidRequest("resource %q is not a task runner", id)
		}
		res.ExitOnIdle = exit
		return nil
	})
}

func (s *Service) flagResource(ctx context.Context, id, user string, apply func(*models.Resource) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.store.ResourceStorage().Get(ctx, id)
	if err != nil {
		return err
	}
	if err := apply(res); err != nil {
		return err
	}
	res.ChangedAt = time.Now()
	if user != "" {
		res.ChangedBy = user
	}
	return s.store.ResourceStorage().Update(ctx, res)
}
