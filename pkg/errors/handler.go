package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ErrorTypeRateLimited is only produced at the HTTP edge
const ErrorTypeRateLimited ErrorType = "RATE_LIMITED"

// ErrorResponse is the body of every failed REST reply
type ErrorResponse struct {
	Error         bool                   `json:"error"`
	Type          string                 `json:"type"`
	Message       string                 `json:"message"`
	Code          string                 `json:"code,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Retryable     bool                   `json:"retryable,omitempty"`
	RequestID     string                 `json:"request_id,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
}

// kindPolicy says how one error type reaches a caller
type kindPolicy struct {
	status int
	// retryAfter is sent as Retry-After in seconds; zero sends nothing
	retryAfter int
	// internal kinds hide their message outside debug mode
	internal bool
}

var kindPolicies = map[ErrorType]kindPolicy{
	ErrorTypeValidation:          {status: http.StatusBadRequest},
	ErrorTypeNotFound:            {status: http.StatusNotFound},
	ErrorTypeUnauthorized:        {status: http.StatusUnauthorized},
	ErrorTypeForbidden:           {status: http.StatusForbidden},
	ErrorTypeConflict:            {status: http.StatusConflict},
	ErrorTypeInvariant:           {status: http.StatusUnprocessableEntity},
	ErrorTypeConcurrencyConflict: {status: http.StatusConflict, retryAfter: 1},
	ErrorTypeLockTimeout:         {status: http.StatusLocked, retryAfter: 1},
	ErrorTypeRetriesExhausted:    {status: http.StatusServiceUnavailable, retryAfter: 2},
	ErrorTypeRateLimited:         {status: http.StatusTooManyRequests, retryAfter: 60},
	ErrorTypeTimeout:             {status: http.StatusGatewayTimeout},
	ErrorTypeUnavailable:         {status: http.StatusServiceUnavailable, retryAfter: 5},
	ErrorTypeProjection:          {status: http.StatusInternalServerError, internal: true},
	ErrorTypeDatabase:            {status: http.StatusInternalServerError, internal: true},
	ErrorTypeExternal:            {status: http.StatusBadGateway, internal: true},
	ErrorTypeInternal:            {status: http.StatusInternalServerError, internal: true},
}

// StatusFor returns the HTTP status an error is reported with
func StatusFor(err error) int {
	appErr := GetAppError(err)
	if appErr == nil {
		return http.StatusInternalServerError
	}
	if p, ok := kindPolicies[appErr.Type]; ok {
		return p.status
	}
	if appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders errors as JSON replies and logs them by severity:
// business answers at info, contention at warn, everything else at error.
type ErrorHandler struct {
	logger *zap.Logger
	debug  bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, debug bool) *ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorHandler{logger: logger, debug: debug}
}

// Handle writes err to w
func (h *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	appErr := GetAppError(err)
	if appErr == nil {
		appErr = NewInternalError("An internal error occurred").WithCause(err)
	}
	policy, known := kindPolicies[appErr.Type]
	status := StatusFor(appErr)
	if !known {
		policy = kindPolicy{status: status, internal: status >= http.StatusInternalServerError}
	}

	response := h.responseFor(r, appErr)
	if policy.internal && !h.debug {
		response.Message = "An internal error occurred"
		response.Details = nil
	}
	if h.debug {
		if appErr.Cause != nil {
			response.withDetail("cause", appErr.Cause.Error())
		}
		if appErr.StackTrace != "" {
			response.withDetail("stack_trace", appErr.StackTrace)
		}
	}

	h.log(r, appErr, status)
	h.write(w, status, policy.retryAfter, response)
}

// HandleStatus reports a failure decided at the HTTP edge, such as a rate limit
func (h *ErrorHandler) HandleStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	errType := typeForStatus(status)
	h.logger.Warn("Request rejected",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("error_type", string(errType)),
		zap.String("message", message),
	)
	response := ErrorResponse{
		Error:         true,
		Type:          string(errType),
		Message:       message,
		RequestID:     r.Header.Get("X-Request-ID"),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
	}
	h.write(w, status, kindPolicies[errType].retryAfter, response)
}

func (h *ErrorHandler) responseFor(r *http.Request, appErr *AppError) ErrorResponse {
	var details map[string]interface{}
	if len(appErr.Details) > 0 {
		details = make(map[string]interface{}, len(appErr.Details))
		for k, v := range appErr.Details {
			details[k] = v
		}
	}
	return ErrorResponse{
		Error:         true,
		Type:          string(appErr.Type),
		Message:       appErr.Message,
		Code:          appErr.Code,
		Details:       details,
		Retryable:     appErr.Retryable || appErr.Type == ErrorTypeRetriesExhausted,
		RequestID:     r.Header.Get("X-Request-ID"),
		CorrelationID: r.Header.Get("X-Correlation-ID"),
	}
}

func (resp *ErrorResponse) withDetail(key string, value interface{}) {
	if resp.Details == nil {
		resp.Details = make(map[string]interface{})
	}
	resp.Details[key] = value
}

func (h *ErrorHandler) log(r *http.Request, appErr *AppError, status int) {
	fields := []zap.Field{
		zap.String("error_type", string(appErr.Type)),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.String("request_id", r.Header.Get("X-Request-ID")),
	}
	if appErr.Code != "" {
		fields = append(fields, zap.String("error_code", appErr.Code))
	}
	if appErr.Cause != nil {
		fields = append(fields, zap.Error(appErr.Cause))
	}
	if len(appErr.Details) > 0 {
		fields = append(fields, zap.Any("details", appErr.Details))
	}

	switch appErr.Type {
	case ErrorTypeConcurrencyConflict, ErrorTypeLockTimeout, ErrorTypeRetriesExhausted:
		h.logger.Warn(appErr.Message, fields...)
	default:
		if IsExpected(appErr) {
			h.logger.Info(appErr.Message, fields...)
		} else {
			h.logger.Error(appErr.Message, fields...)
		}
	}
}

func (h *ErrorHandler) write(w http.ResponseWriter, status, retryAfter int, response ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("Failed to encode error response", zap.Error(err))
	}
}

func typeForStatus(status int) ErrorType {
	switch status {
	case http.StatusBadRequest:
		return ErrorTypeValidation
	case http.StatusUnauthorized:
		return ErrorTypeUnauthorized
	case http.StatusForbidden:
		return ErrorTypeForbidden
	case http.StatusNotFound:
		return ErrorTypeNotFound
	case http.StatusConflict:
		return ErrorTypeConflict
	case http.StatusLocked:
		return ErrorTypeLockTimeout
	case http.StatusUnprocessableEntity:
		return ErrorTypeInvariant
	case http.StatusTooManyRequests:
		return ErrorTypeRateLimited
	case http.StatusServiceUnavailable:
		return ErrorTypeUnavailable
	case http.StatusGatewayTimeout:
		return ErrorTypeTimeout
	default:
		return ErrorTypeInternal
	}
}

// Middleware turns a panic in next into an INTERNAL reply
func (h *ErrorHandler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.Handle(w, r, NewInternalError(fmt.Sprintf("panic: %v", rec)))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
