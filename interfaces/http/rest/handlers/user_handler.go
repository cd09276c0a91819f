package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"policyhub-backend/application/commands"
	"policyhub-backend/application/mediator"
	"policyhub-backend/application/queries"
	apperrors "policyhub-backend/pkg/errors"
)

// UserHandler handles user-related HTTP requests
type UserHandler struct {
	base
}

// NewUserHandler creates a new user handler
func NewUserHandler(m mediator.IMediator, errs *apperrors.ErrorHandler, logger *zap.Logger) *UserHandler {
	return &UserHandler{base{mediator: m, errs: errs, logger: logger}}
}

// Routes mounts the user endpoints
func (h *UserHandler) Routes(r chi.Router) {
	r.Post("/", h.RegisterUser)
	r.Get("/", h.ListUsers)
	r.Route("/{userID}", func(r chi.Router) {
		r.Get("/", h.GetUser)
		r.Delete("/", h.DeleteUser)
		r.Post("/activate", h.ActivateUser)
		r.Post("/block", h.BlockUser)
		r.Post("/unblock", h.UnblockUser)
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// RegisterUser handles POST /users
func (h *UserHandler) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var cmd commands.RegisterUserCommand
	if !h.decode(w, r, &cmd) {
		return
	}
	cmd.TenantID = h.tenant(r)
	h.send(w, r, http.StatusCreated, cmd)
}

// ActivateUser handles POST /users/{userID}/activate
func (h *UserHandler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, http.StatusOK, commands.ActivateUserCommand{TenantID: h.tenant(r), UserID: chi.URLParam(r, "userID")})
}

// BlockUser handles POST /users/{userID}/block
func (h *UserHandler) BlockUser(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.send(w, r, http.StatusOK, commands.BlockUserCommand{
		TenantID: h.tenant(r),
		UserID:   chi.URLParam(r, "userID"),
		Reason:   req.Reason,
	})
}

// UnblockUser handles POST /users/{userID}/unblock
func (h *UserHandler) UnblockUser(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, http.StatusOK, commands.UnblockUserCommand{TenantID: h.tenant(r), UserID: chi.URLParam(r, "userID")})
}

// DeleteUser handles DELETE /users/{userID}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	h.send(w, r, http.StatusOK, commands.DeleteUserCommand{
		TenantID: h.tenant(r),
		UserID:   chi.URLParam(r, "userID"),
		Reason:   r.URL.Query().Get("reason"),
	})
}

// GetUser handles GET /users/{userID}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.GetUserQuery{TenantID: h.tenant(r), UserID: chi.URLParam(r, "userID")})
}

// ListUsers handles GET /users?include_deleted=
func (h *UserHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.ask(w, r, queries.ListUsersQuery{TenantID: h.tenant(r), IncludeDeleted: queryBool(r, "include_deleted")})
}
