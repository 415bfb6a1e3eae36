package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// Agent credential headers. The secret is shown once at token creation and
// presented on every call.
const (
	HeaderToken  = "X-Conductor-Token"
	HeaderSecret = "X-Conductor-Secret"
)

// AgentHandler serves the agent-facing endpoints: sync, task result reports
// and extraction shadow reports.
type AgentHandler struct {
	sync      interfaces.SyncService
	lifecycle interfaces.LifecycleService
	auth      interfaces.AuthService
	store     interfaces.StorageManager
	logger    arbor.ILogger
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(sync interfaces.SyncService, lifecycle interfaces.LifecycleService, auth interfaces.AuthService, store interfaces.StorageManager, logger arbor.ILogger) *AgentHandler {
	return &AgentHandler{sync: sync, lifecycle: lifecycle, auth: auth, store: store, logger: logger}
}

// Sync handles POST /api/agent/sync.
func (h *AgentHandler) Sync(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	var req interfaces.SyncRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	resp, err := h.sync.Sync(r.Context(), r.Header.Get(HeaderToken), r.Header.Get(HeaderSecret), &req)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, resp)
}

// TaskDone handles POST /api/agent/done. The reporting runner is derived from
// the token, never from the body.
func (h *AgentHandler) TaskDone(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	runner, err := h.authenticateRunner(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var body struct {
		JobID    string            `json:"job_id" validate:"required"`
		TaskName string            `json:"task_name" validate:"required"`
		Result   string            `json:"result" validate:"required"`
		Summary  string            `json:"summary,omitempty"`
		Outputs  map[string]string `json:"outputs,omitempty"`
		Data     map[string]string `json:"data,omitempty"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	result, ok := models.ParseResult(body.Result)
	if !ok {
		WriteError(w, r, h.logger, common.NewInvalidRequest("unknown result %q", body.Result))
		return
	}

	err = h.lifecycle.TaskDone(r.Context(), &interfaces.TaskReport{
		JobID:    body.JobID,
		TaskName: body.TaskName,
		RunnerID: runner.ID,
		Result:   result,
		Summary:  body.Summary,
		Outputs:  body.Outputs,
		Data:     body.Data,
	})
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteSuccess(w, "result recorded")
}

// ShadowDone handles POST /api/agent/shadow.
func (h *AgentHandler) ShadowDone(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	runner, err := h.authenticateRunner(r)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}

	var body struct {
		ShadowID string            `json:"shadow_id" validate:"required"`
		Result   string            `json:"result" validate:"required"`
		Data     map[string]string `json:"data,omitempty"`
	}
	if err := DecodeJSON(r, &body); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	result, ok := models.ParseResult(body.Result)
	if !ok {
		WriteError(w, r, h.logger, common.NewInvalidRequest("unknown result %q", body.Result))
		return
	}

	if err := h.lifecycle.ShadowDone(r.Context(), body.ShadowID, runner.ID, result, body.Data); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteSuccess(w, "extraction recorded")
}

func (h *AgentHandler) authenticateRunner(r *http.Request) (*models.Resource, error) {
	token, err := h.auth.VerifyToken(r.Context(), r.Header.Get(HeaderToken), r.Header.Get(HeaderSecret))
	if err != nil {
		return nil, err
	}
	if token.Role != models.TokenRoleResource {
		return nil, &common.AccessDeniedError{Message: "not a resource token"}
	}
	runner, err := h.store.ResourceStorage().GetByToken(r.Context(), token.ID)
	if err != nil {
		return nil, &common.AccessDeniedError{Message: "token is not bound to a resource"}
	}
	return runner, nil
}
