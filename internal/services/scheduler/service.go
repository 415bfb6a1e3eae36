package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Service drives schedule records. A cron entry evaluates every schedule once
// a minute; Trigger and FireTag wake the evaluation loop immediately. Each
// pass also reconciles lost runners so abandoned runs do not linger.
type Service struct {
	store     interfaces.StorageManager
	lifecycle interfaces.LifecycleService
	events    interfaces.EventService
	cron      *cron.Cron
	logger    arbor.ILogger

	trigger chan struct{}
	done    chan struct{}

	mu      sync.Mutex // Protects running
	evalMu  sync.Mutex // One evaluation pass at a time
	running bool
}

// NewService creates a new scheduler service
func NewService(store interfaces.StorageManager, lifecycle interfaces.LifecycleService, events interfaces.EventService, logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		store:     store,
		lifecycle: lifecycle,
		events:    events,
		cron:      cron.New(),
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// Start begins the evaluation loop.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc("*/1 * * * *", s.wake); err != nil {
		return fmt.Errorf("failed to add cron entry: %w", err)
	}

	s.done = make(chan struct{})
	go s.loop(s.done)
	s.cron.Start()
	s.running = true

	s.logger.Info().Msg("Scheduler started")

	// First pass picks up anything due while the process was down.
	s.wake()
	return nil
}

// Stop halts the evaluation loop.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cron.Stop()
	close(s.done)
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if the evaluation loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) wake() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Service) loop(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-s.trigger:
			s.Evaluate(context.Background())
		}
	}
}

// Evaluate runs one scheduling pass. Exposed so a trigger path that needs the
// pass to have happened before returning can call it directly.
func (s *Service) Evaluate(ctx context.Context) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	if err := s.lifecycle.ReconcileRunners(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Runner reconciliation failed")
	}

	schedules, err := s.store.ScheduleStorage().List(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list schedules")
		return
	}

	now := time.Now()
	for _, sched := range schedules {
		if !sched.Due(now) {
			continue
		}
		if err := s.evaluateOne(ctx, sched, now); err != nil {
			s.logger.Error().Err(err).Str("schedule", sched.ID).Msg("Schedule evaluation failed")
		}
	}
}

// evaluateOne fires a due schedule and advances it per its repeat kind. A
// schedule whose configurations fail validation is left untouched for the
// next pass.
func (s *Service) evaluateOne(ctx context.Context, sched *models.Schedule, now time.Time) error {
	switch sched.Repeat {
	case models.RepeatOnce:
		jobs, err := s.fire(ctx, sched, now)
		if err != nil {
			return err
		}
		sched.LastJobs = jobs
		sched.LastStart = now
		sched.Done = true

	case models.RepeatDaily:
		jobs, err := s.fire(ctx, sched, now)
		if err != nil {
			return err
		}
		sched.LastJobs = jobs
		sched.LastStart = now
		sched.StartTime = nextDaily(sched.StartTime, now)

	case models.RepeatWeekly:
		jobs, err := s.fire(ctx, sched, now)
		if err != nil {
			return err
		}
		sched.LastJobs = jobs
		sched.LastStart = now
		sched.StartTime = sched.NextWeekday(nextDaily(sched.StartTime, now))

	case models.RepeatContinuously:
		if !s.allFinal(ctx, sched.LastJobs) {
			// Backpressure; the previous batch is still running.
			return nil
		}
		jobs, err := s.fire(ctx, sched, now)
		if err != nil {
			return err
		}
		sched.LastJobs = jobs
		sched.LastStart = now
		delay := sched.MinDelayMinutes
		if delay <= 0 {
			delay = models.DefaultMinDelayMinutes
		}
		// The delay counts from the next whole minute.
		next := now.Truncate(time.Minute)
		if next.Before(now) {
			next = next.Add(time.Minute)
		}
		sched.StartTime = next.Add(time.Duration(delay) * time.Minute)

	case models.RepeatTriggered:
		jobs, err := s.fire(ctx, sched, now)
		if err != nil {
			return err
		}
		sched.LastJobs = jobs
		sched.LastStart = now
		sched.TriggerFired = false

	default:
		return common.NewInvalidRequest("unknown repeat kind %q", sched.Repeat)
	}

	if err := s.store.ScheduleStorage().Update(ctx, sched); err != nil {
		return err
	}
	s.publish(ctx, sched.ID)
	return nil
}

// fire creates one job per matching valid configuration and returns the new
// job ids. An error is returned only when nothing could be created.
func (s *Service) fire(ctx context.Context, sched *models.Schedule, now time.Time) ([]string, error) {
	configs, err := s.matchingConfigs(ctx, sched)
	if err != nil {
		return nil, err
	}

	var jobs []string
	var firstErr error
	for _, cfg := range configs {
		if err := s.lifecycle.ValidateConfig(ctx, cfg); err != nil {
			s.logger.Warn().Err(err).
				Str("schedule", sched.ID).
				Str("config", cfg.ID).
				Msg("Configuration failed validation, not instantiated")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		job, err := s.lifecycle.CreateJob(ctx, cfg.ID, sched.Owner, sched.ID)
		if err != nil {
			s.logger.Error().Err(err).
				Str("schedule", sched.ID).
				Str("config", cfg.ID).
				Msg("Job creation failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		jobs = append(jobs, job.ID)
		s.logger.Info().
			Str("schedule", sched.ID).
			Str("config", cfg.ID).
			Str("job", job.ID).
			Msg("Schedule fired")
	}

	if len(jobs) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return jobs, nil
}

func (s *Service) matchingConfigs(ctx context.Context, sched *models.Schedule) ([]*models.Configuration, error) {
	if sched.ConfigID != "" {
		cfg, err := s.store.ConfigurationStorage().Get(ctx, sched.ConfigID)
		if err != nil {
			return nil, err
		}
		return []*models.Configuration{cfg}, nil
	}
	return s.store.ConfigurationStorage().ListByTag(ctx, sched.TagKey, sched.TagValue)
}

func (s *Service) allFinal(ctx context.Context, jobIDs []string) bool {
	for _, id := range jobIDs {
		job, err := s.store.JobStorage().Get(ctx, id)
		if err != nil {
			continue // A job that no longer exists does not hold anything back
		}
		if !job.Final {
			return false
		}
	}
	return true
}

// nextDaily advances start by whole days until it lies after now. A zero
// start anchors to now.
func nextDaily(start, now time.Time) time.Time {
	if start.IsZero() {
		start = now.Truncate(time.Minute)
	}
	for !start.After(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// CreateSchedule validates and persists a new schedule.
func (s *Service) CreateSchedule(ctx context.Context, sched *models.Schedule) error {
	if err := validateSchedule(sched); err != nil {
		return err
	}
	if sched.ID == "" {
		sched.ID = common.NewScheduleID()
	}
	sched.CreatedAt = time.Now()
	if err := s.store.ScheduleStorage().Create(ctx, sched); err != nil {
		return err
	}
	s.publish(ctx, sched.ID)
	s.wake()
	return nil
}

// UpdateSchedule validates and stores schedule edits.
func (s *Service) UpdateSchedule(ctx context.Context, sched *models.Schedule) error {
	if err := validateSchedule(sched); err != nil {
		return err
	}
	if err := s.store.ScheduleStorage().Update(ctx, sched); err != nil {
		return err
	}
	s.publish(ctx, sched.ID)
	s.wake()
	return nil
}

func (s *Service) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	return s.store.ScheduleStorage().Get(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	return s.store.ScheduleStorage().List(ctx)
}

func (s *Service) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.store.ScheduleStorage().Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, id)
	return nil
}

// Trigger fires a triggered schedule by id and wakes the loop.
func (s *Service) Trigger(ctx context.Context, id string) error {
	sched, err := s.store.ScheduleStorage().Get(ctx, id)
	if err != nil {
		return err
	}
	if sched.Repeat != models.RepeatTriggered {
		return common.NewInvalidRequest("schedule %q is not externally triggered", id)
	}
	sched.TriggerFired = true
	if err := s.store.ScheduleStorage().Update(ctx, sched); err != nil {
		return err
	}
	s.publish(ctx, sched.ID)
	s.wake()
	return nil
}

// FireTag arms every triggered schedule whose tag value matches. Webhooks use
// tag values of the form "<repoId>/<branch>".
func (s *Service) FireTag(ctx context.Context, tagValue string) (int, error) {
	schedules, err := s.store.ScheduleStorage().List(ctx)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, sched := range schedules {
		if sched.Repeat != models.RepeatTriggered || sched.Suspended || sched.TagValue != tagValue {
			continue
		}
		sched.TriggerFired = true
		if err := s.store.ScheduleStorage().Update(ctx, sched); err != nil {
			return fired, err
		}
		s.publish(ctx, sched.ID)
		fired++
	}
	if fired > 0 {
		s.wake()
	}
	return fired, nil
}

// Status computes the UI status of a schedule. Never stored.
func (s *Service) Status(ctx context.Context, sched *models.Schedule) models.ScheduleStatus {
	if sched.Done {
		return models.ScheduleDone
	}
	if sched.Suspended {
		return models.ScheduleSuspended
	}

	configs, err := s.matchingConfigs(ctx, sched)
	if err != nil {
		return models.ScheduleError
	}
	if sched.ConfigID == "" && len(configs) == 0 {
		return models.ScheduleWarning
	}
	for _, cfg := range configs {
		if s.lifecycle.ValidateConfig(ctx, cfg) != nil {
			return models.ScheduleError
		}
	}
	if sched.Repeat == models.RepeatContinuously && !s.allFinal(ctx, sched.LastJobs) {
		return models.ScheduleRunning
	}
	return models.ScheduleOK
}

func validateSchedule(sched *models.Schedule) error {
	if !sched.Repeat.IsValid() {
		return common.NewInvalidRequest("unknown repeat kind %q", sched.Repeat)
	}
	if sched.ConfigID == "" && sched.TagKey == "" {
		return common.NewInvalidRequest("a schedule needs a configuration id or a tag selector")
	}
	if sched.ConfigID != "" && sched.TagKey != "" {
		return common.NewInvalidRequest("configuration id and tag selector are mutually exclusive")
	}
	if sched.Repeat == models.RepeatWeekly && sched.Days == 0 {
		return common.NewInvalidRequest("a weekly schedule needs at least one enabled day")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, scheduleID string) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventScheduleUpdated,
		Payload: map[string]string{"schedule": scheduleID},
	})
}
