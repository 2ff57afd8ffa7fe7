// internal/common/errors/handler.go
package errors

import (
	"encoding/json"
	"net/http"
)

// HTTPHandler maps StandardErrors to HTTP responses with standardized bodies.
// Full error detail is logged; responses for internal failures stay generic.
type HTTPHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewHTTPHandler(logger Logger) *HTTPHandler {
	return &HTTPHandler{logger: logger}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError normalizes err, logs it and writes the mapped HTTP response.
func (h *HTTPHandler) WriteError(w http.ResponseWriter, err error) {
	stdErr := AsStandard(err)
	status := StatusFor(stdErr.Code)

	fields := map[string]interface{}{
		"errorCode": string(stdErr.Code),
		"details":   stdErr.Details,
		"retryable": stdErr.Retryable,
		"status":    status,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(stdErr.Message, fields)
	} else {
		h.logger.Warn(stdErr.Message, fields)
	}

	body := errorBody{Error: string(stdErr.Code), Message: stdErr.Message}
	if stdErr.Code == ErrCodeInternalError {
		// Never leak implementation detail to external callers.
		body.Message = "Internal server error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// StatusFor maps an error code to its HTTP status.
func StatusFor(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case ErrCodeWebhookAuthFailed:
		return http.StatusUnauthorized
	case ErrCodeEmailConflict:
		return http.StatusConflict
	case ErrCodeMemberNotFound:
		return http.StatusNotFound
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeStorageError:
		// Retryable: the upstream processor re-delivers on 5xx.
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
