package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"policyhub-backend/application/projections"
	"policyhub-backend/domain/core/valueobjects"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
)

// Projections is the part of the projector the admin endpoints drive
type Projections interface {
	Rebuild(ctx context.Context, stream valueobjects.StreamID) error
	RebuildAll(ctx context.Context, tenant valueobjects.TenantID, aggregateType valueobjects.AggregateType) (int, error)
	Stats() []projections.ProjectionStats
}

// Outbox runs a single outbox pass
type Outbox interface {
	RunOnce(ctx context.Context) (projections.OutboxStats, error)
}

// AdminHandler exposes projection maintenance for the caller's tenant
type AdminHandler struct {
	projections Projections
	outbox      Outbox
	errs        *apperrors.ErrorHandler
	logger      *zap.Logger
}

// NewAdminHandler creates a new admin handler; outbox may be nil
func NewAdminHandler(p Projections, outbox Outbox, errs *apperrors.ErrorHandler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{projections: p, outbox: outbox, errs: errs, logger: logger}
}

// Routes mounts the admin endpoints
func (h *AdminHandler) Routes(r chi.Router) {
	r.Get("/projections", h.Stats)
	r.Post("/projections/rebuild", h.Rebuild)
	r.Post("/outbox/run", h.RunOutbox)
}

type rebuildRequest struct {
	AggregateType string `json:"aggregate_type"`
	AggregateID   string `json:"aggregate_id,omitempty"`
}

type rebuildResponse struct {
	AggregateType string `json:"aggregate_type"`
	Rebuilt       int    `json:"rebuilt"`
}

// Rebuild handles POST /admin/projections/rebuild. Without an aggregate id
// every stream of the type is rebuilt.
func (h *AdminHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req rebuildRequest
	if err := common.ParseJSONBody(r, &req, maxBodyBytes); err != nil {
		h.errs.Handle(w, r, apperrors.NewValidationError("Invalid request body: "+err.Error()))
		return
	}
	aggregateType := valueobjects.AggregateType(req.AggregateType)
	if err := aggregateType.Validate(); err != nil {
		h.errs.Handle(w, r, apperrors.NewValidationError(err.Error()).WithDetail("field", "aggregate_type"))
		return
	}
	tenant, _ := common.GetTenantID(r.Context())

	if req.AggregateID != "" {
		stream := valueobjects.NewStreamID(valueobjects.TenantID(tenant), aggregateType, valueobjects.AggregateID(req.AggregateID))
		if err := h.projections.Rebuild(r.Context(), stream); err != nil {
			h.errs.Handle(w, r, err)
			return
		}
		common.RespondJSON(w, http.StatusOK, rebuildResponse{AggregateType: req.AggregateType, Rebuilt: 1})
		return
	}

	n, err := h.projections.RebuildAll(r.Context(), valueobjects.TenantID(tenant), aggregateType)
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	h.logger.Info("Rebuilt projections",
		zap.String("tenant", tenant),
		zap.String("aggregateType", req.AggregateType),
		zap.Int("streams", n),
	)
	common.RespondJSON(w, http.StatusOK, rebuildResponse{AggregateType: req.AggregateType, Rebuilt: n})
}

// Stats handles GET /admin/projections
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	common.RespondJSON(w, http.StatusOK, h.projections.Stats())
}

// RunOutbox handles POST /admin/outbox/run
func (h *AdminHandler) RunOutbox(w http.ResponseWriter, r *http.Request) {
	if h.outbox == nil {
		h.errs.Handle(w, r, apperrors.NewUnavailableError("outbox"))
		return
	}
	stats, err := h.outbox.RunOnce(r.Context())
	if err != nil {
		h.errs.Handle(w, r, err)
		return
	}
	common.RespondJSON(w, http.StatusOK, stats)
}
