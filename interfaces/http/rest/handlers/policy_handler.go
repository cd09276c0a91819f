package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"policyhub-backend/application/commands"
	"policyhub-backend/application/mediator"
	"policyhub-backend/application/queries"
	"policyhub-backend/pkg/clock"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
)

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	base
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(m mediator.IMediator, errs *apperrors.ErrorHandler, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{base{mediator: m, errs: errs, logger: logger}}
}

// Routes mounts the policy endpoints
func (h *PolicyHandler) Routes(r chi.Router) {
	r.Post("/", h.IssuePolicy)
	r.Get("/", h.ListPolicies)
	r.Route("/{policyID}", func(r chi.Router) {
		r.Get("/", h.GetPolicy)
		r.Delete("/", h.DeletePolicy)
		r.Post("/renewals", h.RenewPolicy)
		r.Post("/adjustments", h.AdjustPolicy)
		r.Post("/cancellation", h.CancelPolicy)
		r.Get("/transactions", h.ListTransactions)
		r.Post("/transactions/{transactionID}/correction", h.CorrectTransaction)
		r.Get("/history", h.GetHistory)
	})
}

// IssuePolicy handles POST /policies
func (h *PolicyHandler) IssuePolicy(w http.ResponseWriter, r *http.Request) {
	var cmd commands.IssuePolicyCommand
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TenantID = h.tenant(r)
	h.send(w, r, http.StatusCreated, cmd)
}

// RenewPolicy handles POST /policies/{policyID}/renewals
func (h *PolicyHandler) RenewPolicy(w http.ResponseWriter, r *http.Request) {
	var cmd commands.RenewPolicyCommand
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TenantID = h.tenant(r)
	cmd.PolicyID = chi.URLParam(r, "policyID")
	h.send(w, r, http.StatusCreated, cmd)
}

// AdjustPolicy handles POST /policies/{policyID}/adjustments
func (h *PolicyHandler) AdjustPolicy(w http.ResponseWriter, r *http.Request) {
	var cmd commands.AdjustPolicyCommand
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TenantID = h.tenant(r)
	cmd.PolicyID = chi.URLParam(r, "policyID")
	h.send(w, r, http.StatusCreated, cmd)
}

// CancelPolicy handles POST /policies/{policyID}/cancellation
func (h *PolicyHandler) CancelPolicy(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CancelPolicyCommand
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TenantID = h.tenant(r)
	cmd.PolicyID = chi.URLParam(r, "policyID")
	h.send(w, r, http.StatusCreated, cmd)
}

// CorrectTransaction handles POST /policies/{policyID}/transactions/{transactionID}/correction
func (h *PolicyHandler) CorrectTransaction(w http.ResponseWriter, r *http.Request) {
	var cmd commands.CorrectPolicyTransactionCommand
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TenantID = h.tenant(r)
	cmd.PolicyID = chi.URLParam(r, "policyID")
	cmd.TransactionID = chi.URLParam(r, "transactionID")
	h.send(w, r, http.StatusOK, cmd)
}

// DeletePolicy handles DELETE /policies/{policyID}
func (h *PolicyHandler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	cmd := commands.DeletePolicyCommand{
		TenantID: h.tenant(r),
		PolicyID: chi.URLParam(r, "policyID"),
		Reason:   r.URL.Query().Get("reason"),
	}
	h.send(w, r, http.StatusOK, cmd)
}

// GetPolicy handles GET /policies/{policyID}
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetPolicyQuery{TenantID: h.tenant(r), PolicyID: chi.URLParam(r, "policyID")})
}

// ListPolicies handles GET /policies?page=&page_size=&include_deleted=
func (h *PolicyHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	page := common.ExtractPaginationParams(r)
	h.ask(w, r, queries.ListPoliciesQuery{
		TenantID:       h.tenant(r),
		IncludeDeleted: queryBool(r, "include_deleted"),
		Page:           page.Page,
		PageSize:       page.PageSize,
	})
}

// ListTransactions handles GET /policies/{policyID}/transactions?at=&basis=&time_zone=
func (h *PolicyHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	var at time.Time
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := clock.ParseRFC3339(raw)
		if err != nil {
			h.errs.Handle(w, r, apperrors.NewValidationError("at must be an RFC 3339 timestamp").WithDetail("field", "at"))
			return
		}
		at = parsed
	}
	h.ask(w, r, queries.ListPolicyTransactionsQuery{
		TenantID: h.tenant(r),
		PolicyID: chi.URLParam(r, "policyID"),
		At:       at,
		Basis:    r.URL.Query().Get("basis"),
		TimeZone: r.URL.Query().Get("time_zone"),
	})
}

// GetHistory handles GET /policies/{policyID}/history
func (h *PolicyHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetPolicyHistoryQuery{TenantID: h.tenant(r), PolicyID: chi.URLParam(r, "policyID")})
}
