package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"github.com/ternarybob/conductor/internal/services/definitions"
)

// Service implements LifecycleService: it instantiates configurations into
// jobs and drives every task through its run state machine. A single engine
// mutex serialises job mutations so assignment is linearisable across agents.
type Service struct {
	store  interfaces.StorageManager
	broker interfaces.BrokerService
	events interfaces.EventService
	config *common.Config
	logger arbor.ILogger

	mu sync.Mutex
}

// NewService creates a new job lifecycle engine
func NewService(store interfaces.StorageManager, broker interfaces.BrokerService, events interfaces.EventService, config *common.Config, logger arbor.ILogger) interfaces.LifecycleService {
	return &Service{
		store:  store,
		broker: broker,
		events: events,
		config: config,
		logger: logger,
	}
}

func (s *Service) CreateJob(ctx context.Context, configID, owner, scheduleID string) (*models.Job, error) {
	cfg, err := s.store.ConfigurationStorage().Get(ctx, configID)
	if err != nil {
		return nil, err
	}
	return s.CreateJobFromConfig(ctx, cfg, owner, scheduleID)
}

func (s *Service) CreateJobFromConfig(ctx context.Context, cfg *models.Configuration, owner, scheduleID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	project, err := s.store.ProjectStorage().Get(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	job := &models.Job{
		ID:         common.NewJobID(),
		CreatedAt:  now,
		Owner:      owner,
		Target:     cfg.Target,
		ConfigID:   cfg.ID,
		ScheduleID: scheduleID,
		Comment:    cfg.Comment,
		Params:     cfg.Params,
		Runners:    cfg.Runners,
		Products:   make(map[string]*models.Product),
	}

	for i, ct := range cfg.Tasks {
		task, err := s.instantiateTask(ctx, &ct, cfg, project, i)
		if err != nil {
			return nil, err
		}
		if job.Task(task.Name) != nil {
			return nil, common.NewInvalidRequest("duplicate task name %q", task.Name)
		}
		job.Tasks = append(job.Tasks, task)
	}

	if err := s.initProducts(ctx, job, cfg); err != nil {
		return nil, err
	}

	// A job without tasks has nothing to wait for.
	if len(job.Tasks) == 0 {
		job.Final = true
		job.Result = models.ResultOK
		job.StoppedAt = now
	}

	if err := s.store.JobStorage().Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("config", cfg.ID).
		Int("tasks", len(job.Tasks)).
		Msg("Job created")

	s.publish(ctx, interfaces.EventJobCreated, map[string]string{"job_id": job.ID})
	if job.Final {
		s.publish(ctx, interfaces.EventJobFinalized, map[string]string{"job_id": job.ID, "result": string(job.Result)})
	}
	return job, nil
}

// instantiateTask snapshots the task definition and framework into a job
// task, resolving parameter inheritance and the merged resource claim.
func (s *Service) instantiateTask(ctx context.Context, ct *models.ConfigTask, cfg *models.Configuration, project *models.Project, sequence int) (*models.Task, error) {
	def, err := s.store.TaskDefStorage().Get(ctx, ct.TaskDefID)
	if err != nil {
		return nil, fmt.Errorf("task %q definition %q: %w", ct.Name, ct.TaskDefID, common.ErrReference)
	}
	fw, err := s.store.FrameworkStorage().Get(ctx, def.FrameworkID)
	if err != nil {
		return nil, fmt.Errorf("task %q framework %q: %w", ct.Name, def.FrameworkID, common.ErrReference)
	}

	params := definitions.EffectiveParams(def, fw, project)
	for name, value := range cfg.Params {
		if definitions.ParamFinal(name, def, fw, project) {
			return nil, fmt.Errorf("job parameter %q: %w", name, common.ErrFinalOverride)
		}
		params[name] = value
	}
	for name, value := range ct.Params {
		if definitions.ParamFinal(name, def, fw, project) {
			return nil, fmt.Errorf("task %q parameter %q: %w", ct.Name, name, common.ErrFinalOverride)
		}
		params[name] = value
	}

	runnerCaps := []string{fw.ID}
	if cfg.Target != "" {
		runnerCaps = append(runnerCaps, cfg.Target)
	}

	name := ct.Name
	if name == "" {
		name = def.ID
	}

	return &models.Task{
		Name:             name,
		TaskDefID:        def.ID,
		DefVersion:       def.Version,
		FrameworkID:      fw.ID,
		FrameworkVersion: fw.Version,
		Priority:         project.ClampPriority(ct.Priority),
		Sequence:         sequence,
		Params:           params,
		Claim:            fw.Claim.Merge(def.Claim).WithTaskRunner(runnerCaps),
		Wrapper:          fw.Wrapper,
		Extractor:        fw.Extractor,
		Inputs:           fw.Inputs,
		Outputs:          fw.Outputs,
		Runners:          ct.Runners,
	}, nil
}

// initProducts creates one product record per product name consumed or
// produced by the job's tasks. External inputs become done when the
// configuration supplies a locator; token inputs are trivially done.
func (s *Service) initProducts(ctx context.Context, job *models.Job, cfg *models.Configuration) error {
	produced := make(map[string]bool)
	for _, t := range job.Tasks {
		for _, name := range t.Outputs {
			produced[name] = true
		}
	}

	addProduct := func(name string) error {
		if job.Products[name] != nil {
			return nil
		}
		def, err := s.store.ProductDefStorage().Get(ctx, name)
		if err != nil {
			return fmt.Errorf("product %q: %w", name, common.ErrReference)
		}
		product := &models.Product{
			Name:  name,
			Type:  def.Type,
			State: models.ProductWaiting,
			Local: def.Local,
		}
		job.Products[name] = product

		if produced[name] {
			return nil
		}

		// External input.
		input := cfg.Input(name)
		switch {
		case def.Type == models.ProductToken:
			product.StoreLocator(models.TokenLocator, "")
			product.State = models.ProductDone
		case input != nil && input.Locator != "":
			product.StoreLocator(input.Locator, "")
			product.State = models.ProductDone
		case def.Local:
			if input == nil || input.LocalAt == "" {
				return common.NewInvalidRequest("local input product %q has no agent binding", name)
			}
			product.LocalAt = input.LocalAt
		default:
			return common.NewInvalidRequest("input product %q has no locator", name)
		}
		return nil
	}

	for _, t := range job.Tasks {
		for _, name := range t.Inputs {
			if err := addProduct(name); err != nil {
				return err
			}
		}
		for _, name := range t.Outputs {
			if err := addProduct(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateConfig checks a configuration without mutating anything. The
// scheduler calls this before firing.
func (s *Service) ValidateConfig(ctx context.Context, cfg *models.Configuration) error {
	project, err := s.store.ProjectStorage().Get(ctx)
	if err != nil {
		return err
	}
	job := &models.Job{Products: make(map[string]*models.Product)}
	for i, ct := range cfg.Tasks {
		task, err := s.instantiateTask(ctx, &ct, cfg, project, i)
		if err != nil {
			return err
		}
		job.Tasks = append(job.Tasks, task)
	}
	return s.initProducts(ctx, job, cfg)
}

func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.store.JobStorage().Get(ctx, id)
}

func (s *Service) ListJobs(ctx context.Context, opts *interfaces.JobListOptions) ([]*models.Job, error) {
	return s.store.JobStorage().List(ctx, opts)
}

func (s *Service) SetComment(ctx context.Context, jobID, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Comment = comment
	return s.store.JobStorage().Update(ctx, job)
}

func (s *Service) SetRunners(ctx context.Context, jobID string, runners []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	job.Runners = models.NormalizeCaps(runners)
	return s.store.JobStorage().Update(ctx, job)
}

func (s *Service) SetAlert(ctx context.Context, jobID, taskName string, alert bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return err
	}
	task := job.Task(taskName)
	if task == nil {
		return common.NewInvalidRequest("job %s has no task %q", jobID, taskName)
	}
	run := task.LatestRun()
	if run == nil {
		return common.NewPresentable("task %q has not run yet", taskName)
	}
	run.Alert = alert
	if err := s.store.JobStorage().Update(ctx, job); err != nil {
		return err
	}
	s.publishTask(ctx, job.ID, taskName)
	return nil
}

func (s *Service) publish(ctx context.Context, event interfaces.EventType, payload map[string]string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{Type: event, Payload: payload})
}

func (s *Service) publishTask(ctx context.Context, jobID, taskName string) {
	s.publish(ctx, interfaces.EventTaskUpdated, map[string]string{"job_id": jobID, "task": taskName})
}
