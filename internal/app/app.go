package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/handlers"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/services/auth"
	"github.com/ternarybob/conductor/internal/services/broker"
	"github.com/ternarybob/conductor/internal/services/definitions"
	"github.com/ternarybob/conductor/internal/services/events"
	"github.com/ternarybob/conductor/internal/services/lifecycle"
	"github.com/ternarybob/conductor/internal/services/scheduler"
	syncsvc "github.com/ternarybob/conductor/internal/services/sync"
	"github.com/ternarybob/conductor/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Services
	EventService      interfaces.EventService
	DefinitionService interfaces.DefinitionService
	BrokerService     interfaces.BrokerService
	LifecycleService  interfaces.LifecycleService
	AuthService       interfaces.AuthService
	SyncService       interfaces.SyncService
	SchedulerService  interfaces.SchedulerService

	// HTTP handlers
	DefinitionHandler    *handlers.DefinitionHandler
	ResourceHandler      *handlers.ResourceHandler
	ConfigurationHandler *handlers.ConfigurationHandler
	JobHandler           *handlers.JobHandler
	ScheduleHandler      *handlers.ScheduleHandler
	AgentHandler         *handlers.AgentHandler
	WebhookHandler       *handlers.WebhookHandler
	StatusHandler        *handlers.StatusHandler
	WSHandler            *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Bridge store mutations onto the event bus so the websocket stream sees
	// every change, including ones made outside the service layer.
	app.StorageManager.Observe(app.publishStoreEvent)

	if err := app.SchedulerService.Start(); err != nil {
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	logger.Info().
		Str("project", cfg.Project.Name).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	manager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices wires the service layer bottom-up.
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)
	a.DefinitionService = definitions.NewService(a.StorageManager, a.Logger)
	a.BrokerService = broker.NewService(a.StorageManager, a.Config.Agents, a.Logger)
	a.LifecycleService = lifecycle.NewService(a.StorageManager, a.BrokerService, a.EventService, a.Config, a.Logger)
	a.AuthService = auth.NewService(a.StorageManager, a.Logger)
	a.SyncService = syncsvc.NewService(a.StorageManager, a.AuthService, a.LifecycleService, a.EventService, a.Config, a.Logger)
	a.SchedulerService = scheduler.NewService(a.StorageManager, a.LifecycleService, a.EventService, a.Logger)
	return nil
}

// initHandlers wires the HTTP layer on top of the services.
func (a *App) initHandlers() {
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger)
	a.DefinitionHandler = handlers.NewDefinitionHandler(a.DefinitionService, a.Logger)
	a.ResourceHandler = handlers.NewResourceHandler(a.BrokerService, a.AuthService, a.Logger)
	a.ConfigurationHandler = handlers.NewConfigurationHandler(a.StorageManager, a.LifecycleService, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.LifecycleService, a.BrokerService, a.Logger)
	a.ScheduleHandler = handlers.NewScheduleHandler(a.SchedulerService, a.Logger)
	a.AgentHandler = handlers.NewAgentHandler(a.SyncService, a.LifecycleService, a.AuthService, a.StorageManager, a.Logger)
	a.WebhookHandler = handlers.NewWebhookHandler(a.StorageManager, a.SchedulerService, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.StorageManager, a.Config, a.Logger)
}

// publishStoreEvent translates store mutations into bus events.
func (a *App) publishStoreEvent(kind interfaces.RecordKind, op interfaces.StoreOp, id string) {
	var eventType interfaces.EventType
	switch kind {
	case interfaces.KindResource:
		eventType = interfaces.EventResourceUpdated
	case interfaces.KindSchedule:
		eventType = interfaces.EventScheduleUpdated
	case interfaces.KindProductDef, interfaces.KindFramework, interfaces.KindTaskDef, interfaces.KindResType:
		eventType = interfaces.EventProductUpdated
	default:
		return
	}
	_ = a.EventService.Publish(context.Background(), interfaces.Event{
		Type: eventType,
		Payload: map[string]string{
			"kind": string(kind),
			"op":   string(op),
			"id":   id,
		},
	})
}

// Close shuts down background services and the storage layer.
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}
	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Event service close failed")
		}
	}
	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
	}
	a.Logger.Info().Msg("Application shut down")
	return nil
}
