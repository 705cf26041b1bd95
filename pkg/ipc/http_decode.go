package ipc

import (
	"encoding/json"
	stdliberrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/airtai/fastagency-sub000/pkg/errors"
)

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) (int, error) {
	if r == nil || r.Body == nil {
		return http.StatusBadRequest, fmt.Errorf("request body required")
	}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if stdliberrors.Is(err, io.EOF) {
			return http.StatusBadRequest, fmt.Errorf("request body required")
		}
		var maxErr *http.MaxBytesError
		if stdliberrors.As(err, &maxErr) {
			return http.StatusRequestEntityTooLarge, fmt.Errorf("request body too large (max %d bytes)", maxBytes)
		}
		return http.StatusBadRequest, err
	}
	return 0, nil
}

// respondJSON sends a JSON response with appropriate headers.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError sends a structured JSON error response.
func respondError(w http.ResponseWriter, status int, err error) {
	response := struct {
		Error     string `json:"error"`
		Status    int    `json:"status"`
		Code      string `json:"code,omitempty"`
		Message   string `json:"message"`
		Retryable bool   `json:"retryable,omitempty"`
		Timestamp string `json:"timestamp"`
	}{
		Status:    status,
		Message:   http.StatusText(status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var appErr *apperrors.Error
	if stdliberrors.As(err, &appErr) {
		response.Code = string(appErr.Code)
		if appErr.Message != "" {
			response.Message = appErr.Message
		}
		response.Retryable = appErr.Retryable
	} else if err != nil {
		response.Message = err.Error()
	}
	response.Error = response.Message

	respondJSON(w, status, response)
}

var errRateLimited = apperrors.New(apperrors.ErrCodeInvalidInput, "rate limit exceeded").WithRetryable(true)

var (
	errChatNotFound  = apperrors.New(apperrors.ErrCodeInvalidInput, "chat not found")
	errChatForbidden = apperrors.New(apperrors.ErrCodeAuthorization, "chat belongs to another user")
)

// statusFromError maps relay errors onto HTTP statuses. Only a failed broker
// connection is the upstream's fault.
func statusFromError(err error) int {
	if stdliberrors.Is(err, errRateLimited) {
		return http.StatusTooManyRequests
	}
	if stdliberrors.Is(err, errChatNotFound) {
		return http.StatusNotFound
	}
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeAuthorization:
		return http.StatusForbidden
	case apperrors.ErrCodeBrokerConnect:
		return http.StatusBadGateway
	case apperrors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case apperrors.ErrCodeStorageRead, apperrors.ErrCodeStorageWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
