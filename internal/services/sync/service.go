package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
	"golang.org/x/time/rate"
)

// Service implements the agent sync protocol. Syncs for one agent are
// serialised by a per-agent mutex; syncs across agents run in parallel up to
// the broker's matching lock. A per-agent rate limiter shields the controller
// from hot-looping agents.
type Service struct {
	store     interfaces.StorageManager
	auth      interfaces.AuthService
	lifecycle interfaces.LifecycleService
	events    interfaces.EventService
	config    *common.Config
	logger    arbor.ILogger

	mu       gosync.Mutex
	agents   map[string]*gosync.Mutex
	limiters map[string]*rate.Limiter
}

// NewService creates a new agent sync service
func NewService(store interfaces.StorageManager, auth interfaces.AuthService, lifecycle interfaces.LifecycleService, events interfaces.EventService, config *common.Config, logger arbor.ILogger) interfaces.SyncService {
	return &Service{
		store:     store,
		auth:      auth,
		lifecycle: lifecycle,
		events:    events,
		config:    config,
		logger:    logger,
		agents:    make(map[string]*gosync.Mutex),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Sync handles one poll from an agent.
func (s *Service) Sync(ctx context.Context, tokenID, secret string, req *interfaces.SyncRequest) (*interfaces.SyncResponse, error) {
	token, err := s.auth.VerifyToken(ctx, tokenID, secret)
	if err != nil {
		return nil, err
	}
	if token.Role != models.TokenRoleResource {
		return nil, &common.AccessDeniedError{Message: "not a resource token"}
	}

	runner, err := s.store.ResourceStorage().GetByToken(ctx, token.ID)
	if err != nil {
		return nil, &common.AccessDeniedError{Message: "token is not bound to a resource"}
	}
	if !runner.IsRunner() {
		return nil, common.NewInvalidRequest("resource %q is not a task runner", runner.ID)
	}

	lock, limiter := s.agentState(runner.ID)
	lock.Lock()
	defer lock.Unlock()

	if !limiter.Allow() {
		return s.wait(s.config.Agents.SyncDelaySeconds), nil
	}

	// Reload under the agent lock; a parallel sync may have changed the
	// record between lookup and lock.
	runner, err = s.store.ResourceStorage().Get(ctx, runner.ID)
	if err != nil {
		return nil, err
	}

	// Persist the reported metadata before any lifecycle call. Assignment,
	// abandonment and cancellation each update the resource record on their
	// own; writing the stale copy afterwards would undo their changes.
	runner.LastSync = time.Now()
	if req.RunnerVersion != "" {
		runner.RunnerVersion = req.RunnerVersion
	}
	if req.Capabilities != nil {
		runner.Capabilities = models.NormalizeCaps(req.Capabilities)
	}
	// Targets are matched as capabilities.
	if req.Target != "" && !models.HasCap(runner.Capabilities, req.Target) {
		runner.Capabilities = models.UnionCaps(runner.Capabilities, []string{req.Target})
	}
	if req.ExitOnIdle {
		runner.ExitOnIdle = true
	}
	if err := s.store.ResourceStorage().Update(ctx, runner); err != nil {
		return nil, err
	}

	response, err := s.reconcile(ctx, runner, req)
	if err != nil {
		return nil, err
	}
	s.publishSync(ctx, runner.ID, response.Action)
	return response, nil
}

// reconcile compares the agent's reported state with the controller's and
// produces the single action of this sync.
func (s *Service) reconcile(ctx context.Context, runner *models.Resource, req *interfaces.SyncRequest) (*interfaces.SyncResponse, error) {
	believed := runner.RunningRunID

	switch {
	case req.RunID == "" && believed != "":
		// The agent dropped a run we assigned to it.
		if jobID := s.jobHoldingRun(ctx, believed); jobID != "" {
			if err := s.lifecycle.AbandonRun(ctx, jobID, believed); err != nil {
				return nil, err
			}
			fresh, err := s.store.ResourceStorage().Get(ctx, runner.ID)
			if err != nil {
				return nil, err
			}
			*runner = *fresh
		} else {
			runner.RunningRunID = ""
			if err := s.store.ResourceStorage().Update(ctx, runner); err != nil {
				return nil, err
			}
		}

	case req.RunID != "" && believed != req.RunID:
		// The run the agent reports is not authoritative.
		return &interfaces.SyncResponse{Action: interfaces.SyncAbort}, nil

	case req.RunID != "" && believed == req.RunID:
		if s.runAborting(ctx, req.JobID, req.RunID) {
			if err := s.lifecycle.CancelRun(ctx, req.JobID, req.RunID); err != nil {
				return nil, err
			}
			return &interfaces.SyncResponse{Action: interfaces.SyncAbort}, nil
		}
		// Agreement; the agent keeps working.
		return s.wait(s.config.Agents.SyncDelaySeconds), nil
	}

	if req.ShadowID != "" && req.ShadowID != runner.ShadowRunID {
		return &interfaces.SyncResponse{Action: interfaces.SyncAbort}, nil
	}

	if runner.ExitOnIdle {
		runner.ExitOnIdle = false
		if err := s.store.ResourceStorage().Update(ctx, runner); err != nil {
			return nil, err
		}
		s.logger.Info().Str("runner", runner.ID).Msg("Idle runner told to exit")
		return &interfaces.SyncResponse{Action: interfaces.SyncExit}, nil
	}

	if runner.Suspended {
		return s.wait(s.config.Agents.SyncDelaySeconds), nil
	}

	// Extraction bound to this agent goes first.
	shadow, err := s.lifecycle.AssignShadow(ctx, runner)
	if err != nil {
		return nil, err
	}
	if shadow != nil {
		return &interfaces.SyncResponse{Action: interfaces.SyncShadow, Shadow: shadow}, nil
	}

	assignment, err := s.lifecycle.AssignNext(ctx, runner)
	if err != nil {
		return nil, err
	}
	if assignment != nil {
		return &interfaces.SyncResponse{Action: interfaces.SyncAssign, Assignment: assignment}, nil
	}

	if s.workPending(ctx) {
		return s.wait(s.config.Agents.EagerDelaySeconds), nil
	}
	return s.wait(s.config.Agents.SyncDelaySeconds), nil
}

func (s *Service) wait(seconds int) *interfaces.SyncResponse {
	if seconds <= 0 {
		seconds = 1
	}
	return &interfaces.SyncResponse{Action: interfaces.SyncWait, WaitSeconds: seconds}
}

// workPending reports whether any active job still has a ready task, so idle
// agents that just missed an assignment poll back sooner.
func (s *Service) workPending(ctx context.Context) bool {
	jobs, err := s.store.JobStorage().ListActive(ctx)
	if err != nil {
		return false
	}
	for _, job := range jobs {
		if len(job.ReadyTasks()) > 0 {
			return true
		}
	}
	return false
}

func (s *Service) runAborting(ctx context.Context, jobID, runID string) bool {
	if jobID == "" {
		return false
	}
	job, err := s.store.JobStorage().Get(ctx, jobID)
	if err != nil {
		return false
	}
	_, run := job.TaskHoldingRun(runID)
	return run != nil && run.Aborting
}

func (s *Service) jobHoldingRun(ctx context.Context, runID string) string {
	jobs, err := s.store.JobStorage().ListActive(ctx)
	if err != nil {
		return ""
	}
	for _, job := range jobs {
		if task, _ := job.TaskHoldingRun(runID); task != nil {
			return job.ID
		}
	}
	return ""
}

func (s *Service) agentState(runnerID string) (*gosync.Mutex, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.agents[runnerID]
	if !ok {
		lock = &gosync.Mutex{}
		s.agents[runnerID] = lock
	}
	limiter, ok := s.limiters[runnerID]
	if !ok {
		// One sync per second sustained, short bursts allowed.
		limiter = rate.NewLimiter(rate.Every(time.Second), 10)
		s.limiters[runnerID] = limiter
	}
	return lock, limiter
}

func (s *Service) publishSync(ctx context.Context, runnerID string, action interfaces.SyncAction) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventRunnerSynced,
		Payload: map[string]string{"runner": runnerID, "action": string(action)},
	})
}
