package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket event stream
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Definitions
	mux.HandleFunc("/api/products", s.app.DefinitionHandler.Products)
	mux.HandleFunc("/api/products/", s.app.DefinitionHandler.Product)
	mux.HandleFunc("/api/frameworks", s.app.DefinitionHandler.Frameworks)
	mux.HandleFunc("/api/frameworks/", s.app.DefinitionHandler.Framework)
	mux.HandleFunc("/api/taskdefs", s.app.DefinitionHandler.TaskDefs)
	mux.HandleFunc("/api/taskdefs/", s.app.DefinitionHandler.TaskDef)
	mux.HandleFunc("/api/restypes", s.app.DefinitionHandler.ResTypes)
	mux.HandleFunc("/api/restypes/", s.app.DefinitionHandler.ResType)

	// API routes - Resources (runners, repositories and custom types)
	mux.HandleFunc("/api/resources", s.app.ResourceHandler.Resources)
	mux.HandleFunc("/api/resources/", s.app.ResourceHandler.Resource)

	// API routes - Configurations
	mux.HandleFunc("/api/configurations", s.app.ConfigurationHandler.Configurations)
	mux.HandleFunc("/api/configurations/", s.app.ConfigurationHandler.Configuration)

	// API routes - Jobs and tasks
	mux.HandleFunc("/api/jobs", s.app.JobHandler.Jobs)
	mux.HandleFunc("/api/jobs/", s.app.JobHandler.Job)

	// API routes - Schedules
	mux.HandleFunc("/api/schedules", s.app.ScheduleHandler.Schedules)
	mux.HandleFunc("/api/schedules/", s.app.ScheduleHandler.Schedule)

	// Agent protocol; authenticated per request by token headers
	mux.HandleFunc("/api/agent/sync", s.app.AgentHandler.Sync)
	mux.HandleFunc("/api/agent/done", s.app.AgentHandler.TaskDone)
	mux.HandleFunc("/api/agent/shadow", s.app.AgentHandler.ShadowDone)

	// Repository push notifications; authenticated by HMAC signature
	mux.HandleFunc("/webhook/push", s.app.WebhookHandler.Push)

	// API routes - Status
	mux.HandleFunc("/api/status", s.app.StatusHandler.Status)
	mux.HandleFunc("/api/health", s.app.StatusHandler.Health)
	mux.HandleFunc("/api/version", s.app.StatusHandler.Version)

	// Catch-all for unknown API paths
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not found", http.StatusNotFound)
	})

	return mux
}
