package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"policyhub-backend/application/commands/bus"
	"policyhub-backend/application/mediator"
	querybus "policyhub-backend/application/queries/bus"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
)

const maxBodyBytes = 1 << 20

// base carries what every resource handler needs
type base struct {
	mediator mediator.IMediator
	errs     *apperrors.ErrorHandler
	logger   *zap.Logger
}

func (h base) tenant(r *http.Request) string {
	tenant, _ := common.GetTenantID(r.Context())
	return tenant
}

// decode parses a JSON body, rejecting unknown fields
func (h base) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := common.ParseJSONBody(r, v, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, apperrors.NewValidationError("Invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h base) send(w http.ResponseWriter, r *http.Request, status int, cmd bus.Command) {
	result, err := h.mediator.Send(r.Context(), cmd)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, status, result)
}

func (h base) ask(w http.ResponseWriter, r *http.Request, q querybus.Query) {
	result, err := h.mediator.Query(r.Context(), q)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, result)
}

func queryBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return b
}
