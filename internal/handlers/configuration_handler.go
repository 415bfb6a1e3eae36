package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// ConfigurationHandler serves stored job configurations and job submission
// from them.
type ConfigurationHandler struct {
	store     interfaces.StorageManager
	lifecycle interfaces.LifecycleService
	logger    arbor.ILogger
}

// NewConfigurationHandler creates a new configuration handler
func NewConfigurationHandler(store interfaces.StorageManager, lifecycle interfaces.LifecycleService, logger arbor.ILogger) *ConfigurationHandler {
	return &ConfigurationHandler{store: store, lifecycle: lifecycle, logger: logger}
}

// Configurations handles /api/configurations (GET list, POST create).
func (h *ConfigurationHandler) Configurations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		configs, err := h.store.ConfigurationStorage().List(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, configs)
	case http.MethodPost:
		var cfg models.Configuration
		if err := DecodeJSON(r, &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if cfg.Owner == "" {
			cfg.Owner = UserFromContext(r.Context())
		}
		cfg.CreatedAt = time.Now()
		cfg.UpdatedAt = cfg.CreatedAt
		if err := h.lifecycle.ValidateConfig(r.Context(), &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.store.ConfigurationStorage().Create(r.Context(), &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, cfg)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Configuration handles /api/configurations/{id} plus /validate and /start.
func (h *ConfigurationHandler) Configuration(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/configurations/")

	if id, ok := strings.CutSuffix(tail, "/validate"); ok {
		h.validateConfig(w, r, id)
		return
	}
	if id, ok := strings.CutSuffix(tail, "/start"); ok {
		h.startJob(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		cfg, err := h.store.ConfigurationStorage().Get(r.Context(), tail)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, cfg)
	case http.MethodPut:
		var cfg models.Configuration
		if err := DecodeJSON(r, &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		cfg.ID = tail
		cfg.UpdatedAt = time.Now()
		if err := h.lifecycle.ValidateConfig(r.Context(), &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.store.ConfigurationStorage().Update(r.Context(), &cfg); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, cfg)
	case http.MethodDelete:
		if err := h.store.ConfigurationStorage().Delete(r.Context(), tail); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "configuration deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ConfigurationHandler) validateConfig(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	cfg, err := h.store.ConfigurationStorage().Get(r.Context(), id)
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	if err := h.lifecycle.ValidateConfig(r.Context(), cfg); err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteSuccess(w, "configuration is valid")
}

func (h *ConfigurationHandler) startJob(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	job, err := h.lifecycle.CreateJob(r.Context(), id, UserFromContext(r.Context()), "")
	if err != nil {
		WriteError(w, r, h.logger, err)
		return
	}
	_ = WriteJSON(w, http.StatusCreated, job)
}
