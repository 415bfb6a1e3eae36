package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// ScheduleHandler serves schedule CRUD and manual triggering.
type ScheduleHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(scheduler interfaces.SchedulerService, logger arbor.ILogger) *ScheduleHandler {
	return &ScheduleHandler{scheduler: scheduler, logger: logger}
}

// Schedules handles /api/schedules (GET list, POST create).
func (h *ScheduleHandler) Schedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		schedules, err := h.scheduler.ListSchedules(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		// The status is computed at read time, never stored.
		out := make([]map[string]interface{}, 0, len(schedules))
		for _, sched := range schedules {
			out = append(out, map[string]interface{}{
				"schedule": sched,
				"status":   h.scheduler.Status(r.Context(), sched),
			})
		}
		_ = WriteJSON(w, http.StatusOK, out)
	case http.MethodPost:
		var sched models.Schedule
		if err := DecodeJSON(r, &sched); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if sched.Owner == "" {
			sched.Owner = UserFromContext(r.Context())
		}
		if err := h.scheduler.CreateSchedule(r.Context(), &sched); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, sched)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Schedule handles /api/schedules/{id} plus the /trigger subpath.
func (h *ScheduleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/schedules/")

	if id, ok := strings.CutSuffix(tail, "/trigger"); ok {
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		if err := h.scheduler.Trigger(r.Context(), id); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "schedule triggered")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sched, err := h.scheduler.GetSchedule(r.Context(), tail)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, map[string]interface{}{
			"schedule": sched,
			"status":   h.scheduler.Status(r.Context(), sched),
		})
	case http.MethodPut:
		var sched models.Schedule
		if err := DecodeJSON(r, &sched); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		sched.ID = tail
		if err := h.scheduler.UpdateSchedule(r.Context(), &sched); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, sched)
	case http.MethodDelete:
		if err := h.scheduler.DeleteSchedule(r.Context(), tail); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "schedule deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
