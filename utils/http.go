package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes carried in ErrorResponse.Error
const (
	CodeBadRequest      = "bad_request"
	CodeConfiguration   = "configuration_error"
	CodeUnauthorized    = "unauthorized"
	CodeForbidden       = "forbidden"
	CodePolicyViolation = "policy_violation"
	CodeNotFound        = "not_found"
	CodeConflict        = "conflict"
	CodeRateLimited     = "rate_limit_exceeded"
	CodeBadGateway      = "bad_gateway"
	CodeInternal        = "internal_error"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SuccessResponse wraps every 2xx JSON payload as {"data": ...}
type SuccessResponse struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return nil
	}
	return json.NewEncoder(w).Encode(data)
}

// WriteOK writes a 200 OK response with optional data
func WriteOK(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, SuccessResponse{Data: data})
}

// WriteAttachment sets the headers for a file download. The caller streams the body.
func WriteAttachment(w http.ResponseWriter, contentType, filename string) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, status int, code, message, fallback string, details map[string]interface{}) error {
	if message == "" {
		message = fallback
	}
	return WriteJSON(w, status, ErrorResponse{
		Error:   code,
		Message: message,
		Details: details,
	})
}

// WriteBadRequest writes a 400 Bad Request response with error details
func WriteBadRequest(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusBadRequest, CodeBadRequest, message, "Bad request", details)
}

// WriteConfigurationError writes a 400 for a policy or provider config that cannot be used
func WriteConfigurationError(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusBadRequest, CodeConfiguration, message, "Invalid configuration", details)
}

// WriteUnauthorized writes a 401 Unauthorized response
func WriteUnauthorized(w http.ResponseWriter, message string) error {
	return writeError(w, http.StatusUnauthorized, CodeUnauthorized, message, "Authentication required", nil)
}

// WriteForbidden writes a 403 Forbidden response
func WriteForbidden(w http.ResponseWriter, message string) error {
	return writeError(w, http.StatusForbidden, CodeForbidden, message, "Access forbidden", nil)
}

// WritePolicyViolation writes a 403 for a request a policy rule blocked
func WritePolicyViolation(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusForbidden, CodePolicyViolation, message, "Request blocked by policy", details)
}

// WriteNotFound writes a 404 Not Found response
func WriteNotFound(w http.ResponseWriter, message string) error {
	return writeError(w, http.StatusNotFound, CodeNotFound, message, "Resource not found", nil)
}

// WriteConflict writes a 409 Conflict response
func WriteConflict(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusConflict, CodeConflict, message, "Conflict", details)
}

// WriteTooManyRequests writes a 429 Too Many Requests response
func WriteTooManyRequests(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusTooManyRequests, CodeRateLimited, message, "Rate limit exceeded", details)
}

// WriteBadGateway writes a 502 when the model provider failed
func WriteBadGateway(w http.ResponseWriter, message string, details map[string]interface{}) error {
	return writeError(w, http.StatusBadGateway, CodeBadGateway, message, "Upstream provider error", details)
}

// WriteInternalServerError writes a 500 Internal Server Error response
func WriteInternalServerError(w http.ResponseWriter, message string) error {
	return writeError(w, http.StatusInternalServerError, CodeInternal, message, "Internal server error", nil)
}
