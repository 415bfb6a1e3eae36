package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

// DefinitionHandler serves the definition graph API: product definitions,
// frameworks, task definitions and resource types.
type DefinitionHandler struct {
	defs   interfaces.DefinitionService
	logger arbor.ILogger
}

// NewDefinitionHandler creates a new definition handler
func NewDefinitionHandler(defs interfaces.DefinitionService, logger arbor.ILogger) *DefinitionHandler {
	return &DefinitionHandler{defs: defs, logger: logger}
}

// Products handles /api/products (GET list, POST create).
func (h *DefinitionHandler) Products(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		defs, err := h.defs.ListProductDefs(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, defs)
	case http.MethodPost:
		var def models.ProductDef
		if err := DecodeJSON(r, &def); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.defs.CreateProductDef(r.Context(), &def); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, def)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Product handles /api/products/{id} (GET, DELETE).
func (h *DefinitionHandler) Product(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/api/products/")
	switch r.Method {
	case http.MethodGet:
		def, err := h.defs.GetProductDef(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, def)
	case http.MethodDelete:
		if err := h.defs.DeleteProductDef(r.Context(), id); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "product definition deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Frameworks handles /api/frameworks (GET list, POST create).
func (h *DefinitionHandler) Frameworks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		fws, err := h.defs.ListFrameworks(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, fws)
	case http.MethodPost:
		var fw models.Framework
		if err := DecodeJSON(r, &fw); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.defs.CreateFramework(r.Context(), &fw); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, fw)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Framework handles /api/frameworks/{id} (GET, PUT, DELETE).
func (h *DefinitionHandler) Framework(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/api/frameworks/")
	switch r.Method {
	case http.MethodGet:
		fw, err := h.defs.GetFramework(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, fw)
	case http.MethodPut:
		var fw models.Framework
		if err := DecodeJSON(r, &fw); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		fw.ID = id
		if err := h.defs.UpdateFramework(r.Context(), &fw); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, fw)
	case http.MethodDelete:
		if err := h.defs.DeleteFramework(r.Context(), id); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "framework deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// TaskDefs handles /api/taskdefs (GET list, POST create).
func (h *DefinitionHandler) TaskDefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		defs, err := h.defs.ListTaskDefs(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, defs)
	case http.MethodPost:
		var def models.TaskDef
		if err := DecodeJSON(r, &def); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.defs.CreateTaskDef(r.Context(), &def); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, def)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// TaskDef handles /api/taskdefs/{id} plus the /claim and /params subpaths.
func (h *DefinitionHandler) TaskDef(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/taskdefs/")

	if id, ok := strings.CutSuffix(tail, "/claim"); ok {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		claim, err := h.defs.ResourceClaim(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, claim)
		return
	}
	if id, ok := strings.CutSuffix(tail, "/params"); ok {
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		params, err := h.defs.EffectiveParams(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, params)
		return
	}

	switch r.Method {
	case http.MethodGet:
		def, err := h.defs.GetTaskDef(r.Context(), tail)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, def)
	case http.MethodPut:
		var def models.TaskDef
		if err := DecodeJSON(r, &def); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		def.ID = tail
		if err := h.defs.UpdateTaskDef(r.Context(), &def); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, def)
	case http.MethodDelete:
		if err := h.defs.DeleteTaskDef(r.Context(), tail); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "task definition deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ResTypes handles /api/restypes (GET list, POST create).
func (h *DefinitionHandler) ResTypes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		types, err := h.defs.ListResTypes(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, types)
	case http.MethodPost:
		var rt models.ResType
		if err := DecodeJSON(r, &rt); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.defs.CreateResType(r.Context(), &rt); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, rt)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ResType handles /api/restypes/{id} (GET, DELETE).
func (h *DefinitionHandler) ResType(w http.ResponseWriter, r *http.Request) {
	id := pathTail(r.URL.Path, "/api/restypes/")
	switch r.Method {
	case http.MethodGet:
		rt, err := h.defs.GetResType(r.Context(), id)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, rt)
	case http.MethodDelete:
		if err := h.defs.DeleteResType(r.Context(), id); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "resource type deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// pathTail strips a route prefix from the request path.
func pathTail(path, prefix string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, prefix), "/")
}
