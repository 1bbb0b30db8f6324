package errorx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RetryAfterSeconds is advertised on retryable 503 responses.
const RetryAfterSeconds = 2

// Translator localizes API error messages.
type Translator interface {
	Translate(msgID string, lang string, templateData map[string]any) string
	Language(r *http.Request) string
}

// ErrorHandler provides unified error handling capabilities
type ErrorHandler struct {
	logger     *zap.Logger
	translator Translator
	devMode    bool
}

// NewErrorHandler creates a new error handler. translator may be nil.
func NewErrorHandler(logger *zap.Logger, translator Translator, devMode bool) *ErrorHandler {
	return &ErrorHandler{
		logger:     logger,
		translator: translator,
		devMode:    devMode,
	}
}

// HandleError converts any error to APIError and writes the HTTP response
func (h *ErrorHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}

	apiErr := ConvertToAPIError(err)
	apiErr.TraceID = ExtractTraceID(c)
	apiErr.Timestamp = time.Now().UTC().Format(time.RFC3339)

	if h.translator != nil {
		key := fmt.Sprintf("error.%s.message", apiErr.Code)
		if msg := h.translator.Translate(key, h.translator.Language(c.Request), nil); msg != key {
			apiErr.Message = msg
		}
	}
	if h.devMode {
		apiErr = apiErr.WithDetail("cause", err.Error())
	}

	h.logError(c, apiErr, err)

	if apiErr.HTTPStatus == http.StatusServiceUnavailable && apiErr.Retryable {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	c.AbortWithStatusJSON(apiErr.HTTPStatus, gin.H{
		"error": apiErr,
	})
}

// ConvertToAPIError maps sentinel errors onto their API representation
func ConvertToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Clone()
	}

	switch {
	case errors.Is(err, ErrInvalidPosition):
		return ErrInvalidPositionAPI.Clone()
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionNotFoundAPI.Clone()
	case errors.Is(err, ErrCapacity):
		return ErrEngineCapacity.Clone()
	case errors.Is(err, ErrDestroyed):
		return ErrServiceUnavailable.Clone()
	case errors.Is(err, ErrInitialization):
		return ErrEngineInitialization.Clone()
	case errors.Is(err, ErrCommunication), errors.Is(err, ErrTimeout):
		return ErrEngineCommunication.Clone()
	}
	return ErrInternalServer.Clone()
}

// logError logs the error with appropriate context and stack trace
func (h *ErrorHandler) logError(c *gin.Context, apiErr *APIError, originalErr error) {
	fields := []zap.Field{
		zap.String("trace_id", apiErr.TraceID),
		zap.String("error_code", apiErr.Code),
		zap.String("category", string(apiErr.Category)),
		zap.Int("http_status", apiErr.HTTPStatus),
		zap.String("path", c.Request.URL.Path),
		zap.String("method", c.Request.Method),
		zap.String("client_ip", c.ClientIP()),
		zap.Error(originalErr),
	}

	if len(apiErr.Details) > 0 {
		detailsJSON, _ := json.Marshal(apiErr.Details)
		fields = append(fields, zap.String("details", string(detailsJSON)))
	}

	switch apiErr.Severity {
	case SeverityInfo:
		h.logger.Info(apiErr.Message, fields...)
	case SeverityWarning:
		h.logger.Warn(apiErr.Message, fields...)
	case SeverityCritical:
		buf := make([]byte, 1024*4)
		n := runtime.Stack(buf, false)
		fields = append(fields, zap.String("stack_trace", string(buf[:n])))
		h.logger.Error(apiErr.Message, fields...)
	default:
		h.logger.Error(apiErr.Message, fields...)
	}
}

// ErrorMiddleware renders the last error attached to the gin context
func (h *ErrorHandler) ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			h.HandleError(c, c.Errors.Last().Err)
		}
	}
}

// ExtractTraceID extracts trace ID from context or request
func ExtractTraceID(c *gin.Context) string {
	if traceID := c.GetString("trace_id"); traceID != "" {
		return traceID
	}
	if traceID := c.GetHeader("X-Trace-Id"); traceID != "" {
		c.Set("trace_id", traceID)
		return traceID
	}

	traceID := uuid.New().String()
	c.Set("trace_id", traceID)
	return traceID
}
