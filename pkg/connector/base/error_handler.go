package base

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/machconn/pkg/connector/core"
	"github.com/ajitpratap0/machconn/pkg/errors"
	"github.com/ajitpratap0/machconn/pkg/metrics"
	"go.uber.org/zap"
)

// ErrorHandler categorizes asynchronous connector failures, records them and
// forwards them to the error hook
type ErrorHandler struct {
	logger  *zap.Logger
	metrics *metrics.Collector

	hookMu sync.RWMutex
	hook   core.ErrorHook

	errorCounts map[string]int64
	errorMutex  sync.RWMutex
	totalErrors int64
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger, collector *metrics.Collector) *ErrorHandler {
	return &ErrorHandler{
		logger:      logger,
		metrics:     collector,
		errorCounts: make(map[string]int64),
	}
}

// SetHook replaces the error hook; nil only logs
func (eh *ErrorHandler) SetHook(hook core.ErrorHook) {
	eh.hookMu.Lock()
	eh.hook = hook
	eh.hookMu.Unlock()
}

// Handle records cause and notifies the hook. Hooks run on the failing
// goroutine.
func (eh *ErrorHandler) Handle(message string, cause error) {
	atomic.AddInt64(&eh.totalErrors, 1)

	category := eh.categorizeError(cause)
	eh.incrementErrorCount(category)
	if eh.metrics != nil {
		eh.metrics.Error(category)
	}

	fields := []zap.Field{
		zap.Error(cause),
		zap.String("error_type", category),
	}
	if q, ok := errors.QNameOf(cause); ok {
		fields = append(fields, zap.String("qname", q))
	}
	eh.logger.Warn(message, fields...)

	eh.hookMu.RLock()
	hook := eh.hook
	eh.hookMu.RUnlock()
	if hook != nil {
		hook(message, cause)
	}
}

// ShouldRetry determines if an error should be retried
func (eh *ErrorHandler) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	if errors.IsType(err, errors.ErrorTypeConstruction) ||
		errors.IsType(err, errors.ErrorTypeConfig) ||
		errors.IsType(err, errors.ErrorTypeAuthentication) ||
		errors.IsType(err, errors.ErrorTypeValidation) {
		return false
	}

	errStr := strings.ToLower(err.Error())

	nonRetryable := []string{
		"invalid credentials",
		"unauthorized",
		"forbidden",
		"bad request",
		"invalid configuration",
		"unsupported",
	}
	for _, pattern := range nonRetryable {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}

	if errors.IsRetryable(err) {
		return true
	}

	retryable := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no route to host",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"i/o error",
	}
	for _, pattern := range retryable {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// GetErrorStats returns error statistics
func (eh *ErrorHandler) GetErrorStats() map[string]interface{} {
	eh.errorMutex.RLock()
	defer eh.errorMutex.RUnlock()

	errorCounts := make(map[string]int64, len(eh.errorCounts))
	for k, v := range eh.errorCounts {
		errorCounts[k] = v
	}
	return map[string]interface{}{
		"total_errors":   atomic.LoadInt64(&eh.totalErrors),
		"errors_by_type": errorCounts,
	}
}

// categorizeError determines the error category
func (eh *ErrorHandler) categorizeError(err error) string {
	if err == nil {
		return "none"
	}

	switch {
	case errors.IsType(err, errors.ErrorTypeTranslation):
		return "translation"
	case errors.IsType(err, errors.ErrorTypeModelAccess):
		return "model_access"
	case errors.IsType(err, errors.ErrorTypeConnection):
		return "connection"
	case errors.IsType(err, errors.ErrorTypeTimeout):
		return "timeout"
	case errors.IsType(err, errors.ErrorTypeAuthentication):
		return "authentication"
	case errors.IsType(err, errors.ErrorTypeConfig):
		return "configuration"
	case errors.IsType(err, errors.ErrorTypeCapability):
		return "capability"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return "timeout"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "unauthorized"):
		return "authentication"
	case strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal"):
		return "parsing"
	case errors.IsType(err, errors.ErrorTypeIO):
		return "io"
	default:
		return "unknown"
	}
}

func (eh *ErrorHandler) incrementErrorCount(errorType string) {
	eh.errorMutex.Lock()
	defer eh.errorMutex.Unlock()
	eh.errorCounts[errorType]++
}
