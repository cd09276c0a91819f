package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"policyhub-backend/pkg/auth"
	"policyhub-backend/pkg/common"
	apperrors "policyhub-backend/pkg/errors"
)

// Development headers used when token validation is disabled
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
	HeaderRoles    = "X-User-Roles"
)

// Authenticate validates the bearer token and puts the tenant, user and
// roles it carries on the request context. Every tenant-scoped handler
// reads the tenant from there, never from the request body.
func Authenticate(validator *auth.JWTValidator, errs *apperrors.ErrorHandler, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				errs.Handle(w, r, apperrors.NewUnauthorizedError("Missing authorization header"))
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.Warn("Invalid token",
					zap.Error(err),
					zap.String("path", r.URL.Path),
				)
				message := "Invalid token"
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					message = "Token has expired"
				case errors.Is(err, auth.ErrInvalidSignature):
					message = "Invalid token signature"
				}
				errs.Handle(w, r, apperrors.NewUnauthorizedError(message))
				return
			}

			ctx := common.WithTenantID(r.Context(), claims.TenantID)
			ctx = common.WithUserID(ctx, claims.Subject)
			ctx = common.WithUserRoles(ctx, claims.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TrustHeaders takes the tenant and user from plain headers. Only for
// development and for deployments where a gateway authorizer has already
// validated the caller.
func TrustHeaders(errs *apperrors.ErrorHandler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := r.Header.Get(HeaderTenantID)
			if tenant == "" {
				errs.Handle(w, r, apperrors.NewUnauthorizedError("Missing tenant header"))
				return
			}
			ctx := common.WithTenantID(r.Context(), tenant)
			if user := r.Header.Get(HeaderUserID); user != "" {
				ctx = common.WithUserID(ctx, user)
			}
			if roles := r.Header.Get(HeaderRoles); roles != "" {
				ctx = common.WithUserRoles(ctx, strings.Split(roles, ","))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers that carry none of roles
func RequireRole(errs *apperrors.ErrorHandler, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, role := range roles {
				if common.HasRole(r.Context(), role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			errs.Handle(w, r, apperrors.NewForbiddenError("Insufficient permissions"))
		})
	}
}

// RateLimit applies limiter per tenant
func RateLimit(limiter auth.RateLimiter, errs *apperrors.ErrorHandler, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant, _ := common.GetTenantID(r.Context())
			allowed, err := limiter.Allow(r.Context(), "tenant:"+tenant)
			if err != nil {
				// a broken limiter must not take the API down with it
				logger.Error("Rate limiter error", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				errs.HandleStatus(w, r, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractToken extracts the JWT token from the Authorization header
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return authHeader
}
