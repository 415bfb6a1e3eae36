package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/interfaces"
	"github.com/ternarybob/conductor/internal/models"
)

type userKey struct{}

// WithUser stores the authenticated user name on the request context.
func WithUser(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, userKey{}, name)
}

// UserFromContext returns the authenticated user name, if any.
func UserFromContext(ctx context.Context) string {
	name, _ := ctx.Value(userKey{}).(string)
	return name
}

// ResourceHandler serves resource administration: CRUD, manual reservation,
// suspension and agent token minting.
type ResourceHandler struct {
	broker interfaces.BrokerService
	auth   interfaces.AuthService
	logger arbor.ILogger
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(broker interfaces.BrokerService, auth interfaces.AuthService, logger arbor.ILogger) *ResourceHandler {
	return &ResourceHandler{broker: broker, auth: auth, logger: logger}
}

// Resources handles /api/resources (GET list, POST create).
func (h *ResourceHandler) Resources(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resources, err := h.broker.ListResources(r.Context())
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, resources)
	case http.MethodPost:
		var res models.Resource
		if err := DecodeJSON(r, &res); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		if err := h.broker.CreateResource(r.Context(), &res); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusCreated, res)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Resource handles /api/resources/{id} and its action subpaths.
func (h *ResourceHandler) Resource(w http.ResponseWriter, r *http.Request) {
	tail := pathTail(r.URL.Path, "/api/resources/")
	if id, action, found := strings.Cut(tail, "/"); found {
		h.action(w, r, id, action)
		return
	}

	switch r.Method {
	case http.MethodGet:
		res, err := h.broker.GetResource(r.Context(), tail)
		if err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, res)
	case http.MethodPut:
		var res models.Resource
		if err := DecodeJSON(r, &res); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		res.ID = tail
		if err := h.broker.UpdateResource(r.Context(), &res); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteJSON(w, http.StatusOK, res)
	case http.MethodDelete:
		if err := h.broker.DeleteResource(r.Context(), tail); err != nil {
			WriteError(w, r, h.logger, err)
			return
		}
		_ = WriteSuccess(w, "resource deleted")
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ResourceHandler) action(w http.ResponseWriter, r *http.Request, id, action string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	user := UserFromContext(r.Context())

	var err error
	switch action {
	case "suspend":
		err = h.broker.Suspend(r.Context(), id, user)
	case "resume":
		err = h.broker.Resume(r.Context(), id, user)
	case "reserve":
		err = h.broker.ReserveManual(r.Context(), id, user)
	case "release":
		err = h.broker.ReleaseManual(r.Context(), id, user)
	case "exit":
		err = h.broker.SetExitOnIdle(r.Context(), id, true)
	case "token":
		tokenID, secret, terr := h.auth.CreateResourceToken(r.Context(), id)
		if terr != nil {
			WriteError(w, r, h.logger, terr)
			return
		}
		// The plain secret is shown exactly once.
		_ = WriteJSON(w, http.StatusCreated, map[string]string{
			"token_id": tokenID,
			"secret":   secret,
		})
		return
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
