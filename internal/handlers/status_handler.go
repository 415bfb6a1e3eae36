package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// StatusHandler serves the aggregate factory status for UIs: job queue depth
// and runner fleet health.
type StatusHandler struct {
	store   interfaces.StorageManager
	config  *common.Config
	logger  arbor.ILogger
	started time.Time
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(store interfaces.StorageManager, config *common.Config, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{store: store, config: config, logger: logger, started: time.Now()}
}

// Status handles GET /api/status.
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	jobs, err := h.store.JobStorage().ListActive(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	tasksWaiting, tasksRunning := 0, 0
	for _, job := range jobs {
		waiting, running, _ := job.TaskCounts()
		tasksWaiting += waiting
		tasksRunning += running
	}

	resources, err := h.store.ResourceStorage().List(r.Context())
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	now := time.Now()
	warn := time.Duration(h.config.Agents.WarnTimeoutSeconds()) * time.Second
	lost := time.Duration(h.config.Agents.LostTimeoutSeconds()) * time.Second
	runners := map[models.ConnectionStatus]int{}
	totalRunners := 0
	for _, res := range resources {
		if !res.IsRunner() {
			continue
		}
		totalRunners++
		runners[res.ConnectionStatus(now, warn, lost)]++
	}

	_ = WriteJSON(w, http.StatusOK, map[string]interface{}{
		"project":        h.config.Project.Name,
		"version":        common.GetVersion(),
		"uptime_seconds": int(time.Since(h.started).Seconds()),
		"jobs_active":    len(jobs),
		"tasks_waiting":  tasksWaiting,
		"tasks_running":  tasksRunning,
		"runners": map[string]int{
			"total":     totalRunners,
			"connected": runners[models.ConnectionConnected],
			"warning":   runners[models.ConnectionWarning],
			"lost":      runners[models.ConnectionLost],
			"new":       runners[models.ConnectionNew],
		},
	})
}

// Health handles GET /api/health.
func (h *StatusHandler) Health(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version handles GET /api/version.
func (h *StatusHandler) Version(w http.ResponseWriter, r *http.Request) {
	_ = WriteJSON(w, http.StatusOK, map[string]string{"version": common.GetVersion()})
}
