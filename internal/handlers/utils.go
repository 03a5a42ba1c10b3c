package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/prodapi/userserver/internal/validation"
)

// ErrorResponse is the error payload for non-validation failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ValidationErrorResponse is the payload for schema validation failures.
type ValidationErrorResponse struct {
	Error   string                  `json:"error"`
	Details []validation.FieldError `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, label, message string) {
	writeJSON(w, status, ErrorResponse{Error: label, Message: message})
}

func writeValidationError(w http.ResponseWriter, details []validation.FieldError) {
	writeJSON(w, http.StatusBadRequest, ValidationErrorResponse{
		Error:   "Validation failed",
		Details: details,
	})
}

// Healthz reports process liveness.
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
