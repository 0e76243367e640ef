package httpapi

import (
	"errors"
	"net/http"

	"licensed/internal/license"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

type dataResponse struct {
	Data any `json:"data"`
}

type activateRequest struct {
	MachineID   string `json:"machineId" validate:"required,max=128"`
	ActivatedBy string `json:"activatedBy" validate:"omitempty,max=128"`
}

func (*activateRequest) Bind(*http.Request) error { return nil }

type deactivateRequest struct {
	MachineID string `json:"machineId" validate:"required"`
}

func (*deactivateRequest) Bind(*http.Request) error { return nil }

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

func (a *API) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := a.engine.ListLicenses()
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	render.JSON(w, r, dataResponse{Data: list})
}

func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	lic, err := a.engine.GetLicense(chi.URLParam(r, "key"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	render.JSON(w, r, dataResponse{Data: lic})
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := a.engine.Status(chi.URLParam(r, "key"))
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	render.JSON(w, r, dataResponse{Data: rep})
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if !a.bind(w, r, &req) {
		return
	}
	lic, err := a.engine.Activate(chi.URLParam(r, "key"), req.MachineID, req.ActivatedBy)
	a.metrics.ObserveOperation("activate", err)
	a.renderMutation(w, r, lic, err)
}

func (a *API) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	var req deactivateRequest
	if !a.bind(w, r, &req) {
		return
	}
	lic, err := a.engine.Deactivate(chi.URLParam(r, "key"), req.MachineID)
	a.metrics.ObserveOperation("deactivate", err)
	a.renderMutation(w, r, lic, err)
}

func (a *API) renderMutation(w http.ResponseWriter, r *http.Request, lic license.License, err error) {
	if err != nil {
		a.renderError(w, r, err)
		return
	}
	render.JSON(w, r, dataResponse{Data: lic})
}

// bind decodes and validates a JSON body, rendering a 400 on failure.
func (a *API) bind(w http.ResponseWriter, r *http.Request, v render.Binder) bool {
	if err := render.DecodeJSON(r.Body, v); err != nil {
		_ = render.Render(w, r, errInvalidRequest(r, "request body must be a JSON object"))
		return false
	}
	if err := v.Bind(r); err != nil {
		_ = render.Render(w, r, errInvalidRequest(r, err.Error()))
		return false
	}
	if err := a.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			_ = render.Render(w, r, errInvalidRequest(r, validationMessage(verrs)))
			return false
		}
		_ = render.Render(w, r, errInvalidRequest(r, err.Error()))
		return false
	}
	return true
}
