package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/conductor/internal/common"
)

var validate = validator.New()

// RequireMethod validates that the request uses the given method and writes a
// 405 otherwise.
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a standard success JSON response.
func WriteSuccess(w http.ResponseWriter, message string) error {
	return WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": message,
	})
}

// DecodeJSON decodes and validates a request body into v.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return common.NewInvalidRequest("invalid JSON body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		return common.NewInvalidRequest("invalid request: %v", err)
	}
	return nil
}

// WriteError maps the request error taxonomy onto HTTP responses:
// InvalidRequest (and the store sentinels) -> 400, not found -> 404,
// duplicate -> 409, AccessDenied -> 403, PresentableError -> 200 with an
// error banner payload, ArgsCorrected and Redirect -> 303, anything else ->
// 500 with a stack trace in the server log.
func WriteError(w http.ResponseWriter, r *http.Request, logger arbor.ILogger, err error) {
	var invalid *common.InvalidRequestError
	var denied *common.AccessDeniedError
	var presentable *common.PresentableError
	var corrected *common.ArgsCorrectedError
	var redirect *common.RedirectError

	switch {
	case errors.Is(err, common.ErrNotFound):
		writeErrorBody(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrDuplicate):
		writeErrorBody(w, http.StatusConflict, err.Error())
	case errors.As(err, &invalid),
		errors.Is(err, common.ErrReference),
		errors.Is(err, common.ErrFinalOverride),
		errors.Is(err, common.ErrMismatch):
		writeErrorBody(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &denied):
		writeErrorBody(w, http.StatusForbidden, err.Error())
	case errors.As(err, &presentable):
		// The failure is meaningful to the end user; the client shows it as
		// a banner in place of the normal content.
		_ = WriteJSON(w, http.StatusOK, map[string]string{
			"status": "error",
			"banner": presentable.Message,
		})
	case errors.As(err, &corrected):
		http.Redirect(w, r, corrected.CorrectedURL, http.StatusSeeOther)
	case errors.As(err, &redirect):
		http.Redirect(w, r, redirect.URL, http.StatusSeeOther)
	default:
		logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("stack", string(debug.Stack())).
			Msg("Internal error")
		writeErrorBody(w, http.StatusInternalServerError, "internal error")
	}
}

func writeErrorBody(w http.ResponseWriter, statusCode int, message string) {
	_ = WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}
