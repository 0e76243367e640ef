package httpapi

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"licensed/internal/metrics"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

// errorResponse is the body of every non-2xx JSON reply.
type errorResponse struct {
	Status    int    `json:"-"`
	Message   string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *errorResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.Status)
	return nil
}

func newError(r *http.Request, status int, code, msg string) *errorResponse {
	return &errorResponse{
		Status:    status,
		Message:   msg,
		Code:      code,
		RequestID: middleware.GetReqID(r.Context()),
	}
}

func errInvalidRequest(r *http.Request, msg string) *errorResponse {
	return newError(r, http.StatusBadRequest, "INVALID_REQUEST", msg)
}

var errorKinds = map[string]struct {
	status  int
	message string
}{
	"not_found":          {http.StatusNotFound, "License not found"},
	"expired":            {http.StatusForbidden, "License is expired"},
	"revoked":            {http.StatusForbidden, "License is revoked"},
	"already_activated":  {http.StatusConflict, "Machine is already activated for this license"},
	"slots_exhausted":    {http.StatusConflict, "No activation slots left on this license"},
	"not_activated":      {http.StatusConflict, "Machine is not activated for this license"},
	"invalid_machine_id": {http.StatusBadRequest, "machineId is invalid"},
}

// renderError maps lifecycle error kinds onto responses. Anything the
// engine did not classify is logged and reported as a 500.
func (a *API) renderError(w http.ResponseWriter, r *http.Request, err error) {
	outcome := metrics.Outcome(err)
	kind, ok := errorKinds[outcome]
	if !ok {
		a.log.ErrorContext(r.Context(), "request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		_ = render.Render(w, r, newError(r, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"))
		return
	}
	_ = render.Render(w, r, newError(r, kind.status, strings.ToUpper(outcome), kind.message))
}

// validationMessage joins field errors the way the dashboard displays them.
func validationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}
