package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// JobHandler serves job listing, inspection and the operator actions on
// tasks: abort, retry, alert.
type JobHandler struct {
	lifecycle interfaces.LifecycleService
	broker    interfaces.BrokerService
	logger    arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(lifecycle interfaces.LifecycleService, broker interfaces.BrokerService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{lifecycle: lifecycle, broker: broker, logger: logger}
}

// Jobs handles /api/jobs (GET list, POST ad hoc submission).
func (h *JobHandler) Jobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		opts, err := listOptions(r)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		jobs, err := h.lifecycle.ListJobs(r.Context(), opts)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, jobs)
	case http.MethodPost:
		// An ad hoc submission carries the full configuration inline.
		var cfg models.Configuration
		if err := DecodeJSON(r, &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		job, err := h.lifecycle.CreateJobFromConfig(r.Context(), &cfg, UserFromContext(r.Context()), "")
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, job)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Job handles /api/jobs/{id} and its edit and task action subpaths.
func (h *JobHandler) Job(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/jobs/")
	id, rest, nested := strings.Cut(tail, "/")

	if !nested {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		job, err := h.lifecycle.GetJob(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, job)
		return
	}

	if taskPath, ok := strings.CutPrefix(rest, "tasks/"); ok {
		h.taskAction(w, r, id, taskPath)
		return
	}

	switch rest {
	case "comment":
		h.setComment(w, r, id)
	case "runners":
		h.setRunners(w, r, id)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

func (h *JobHandler) taskAction(w http.ResponseWriter, r *http.Request, jobID, taskPath string) {
	taskName, action, found := strings.Cut(taskPath, "/")
	if !found {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if action == "why" {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		h.whyWaiting(w, r, jobID, taskName)
		return
	}

	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var err error
	switch action {
	case "abort":
		err = h.lifecycle.AbortTask(r.Context(), jobID, taskName, UserFromContext(r.Context()))
	case "retry":
		err = h.lifecycle.RetryTask(r.Context(), jobID, taskName)
	case "alert":
		var body struct {
			Alert bool `json:"alert"`
		}
		if err := DecodeJSON(r, &body); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		err = h.lifecycle.SetAlert(r.Context(), jobID, taskName, body.Alert)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteSuccess(w, action+" applied")
}

// whyWaiting explains why a waiting task has not been assigned.
func (h *JobHandler) whyWaiting(w http.ResponseWriter, r *http.Request, jobID, taskName string) {
	job, err := h.lifecycle.GetJob(r.Context(), jobID)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	task := job.Task(taskName)
	if task == nil {
		WriteError(w, r, h.logger, common.NewInvalidRequest("job %q has no task %q", jobID, taskName))
		return
	}
	reasons, err := h.broker.WhyNot(r.Context(), task.Claim)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	lines := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		lines = append(lines, reason.String())
	}
	_ = WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reasons": reasons,
		"summary": lines,
	})
}

func (h *JobHandler) setComment(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Comment string `json:"comment"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.lifecycle.SetComment(r.Context(), jobID, body.Comment); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteSuccess(w, "comment updated")
}

func (h *JobHandler) setRunners(w http.ResponseWriter, r *http.Request, jobID string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var body struct {
		Runners []string `json:"runners"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.lifecycle.SetRunners(r.Context(), jobID, body.Runners); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteSuccess(w, "runner restriction updated")
}

// listOptions parses the list query parameters. An unparseable or negative
// limit or offset is dropped and reported as an arguments-corrected error so
// the caller redirects to the cleaned URL.
func listOptions(r *http.Request) (*interfaces.JobListOptions, error) {
	q := r.URL.Query()
	opts := &interfaces.JobListOptions{
		ConfigID:   q.Get("config"),
		ScheduleID: q.Get("schedule"),
		Owner:      q.Get("owner"),
		FinalOnly:  q.Get("final") == "true",
		ActiveOnly: q.Get("active") == "true",
	}
	corrected := false
	for _, key := range []string{"limit", "offset"} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			q.Del(key)
			corrected = true
			continue
		}
		switch key {
		case "limit":
			opts.Limit = value
		case "offset":
			opts.Offset = value
		}
	}
	if corrected {
		url := r.URL.Path
		if encoded := q.Encode(); encoded != "" {
			url += "?" + encoded
		}
		return nil, &common.ArgsCorrectedError{CorrectedURL: url}
	}
	return opts, nil
}
