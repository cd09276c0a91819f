package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"policyhub-backend/pkg/common"
)

// HeaderCorrelationID carries the correlation id across services
const HeaderCorrelationID = "X-Correlation-ID"

// RequestRecorder receives one observation per served request
type RequestRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// RequestContext copies the request and correlation ids onto the context
// so events raised by the request carry them
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := middleware.GetReqID(ctx)
		if requestID != "" {
			ctx = common.WithRequestID(ctx, requestID)
			w.Header().Set("X-Request-ID", requestID)
		}
		if correlationID := r.Header.Get(HeaderCorrelationID); correlationID != "" {
			ctx = common.WithCorrelationID(ctx, correlationID)
		}
		ctx = common.WithStartTime(ctx, time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a logging middleware. recorder may be nil.
func Logger(logger *zap.Logger, recorder RequestRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			if recorder != nil {
				recorder.RecordHTTPRequest(r.Method, route, ww.Status(), duration)
			}

			logger.Info("HTTP Request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", duration),
				zap.String("requestID", middleware.GetReqID(r.Context())),
				zap.String("remoteAddr", r.RemoteAddr),
			)
		})
	}
}
