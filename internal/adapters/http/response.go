package http

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, contracts.ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: requestIDFromContext(ctx),
	})
}

// writeMappedError answers with the status and message for err's sentinel.
// Unmapped errors become a 500 carrying fallback, e.g. "Failed to create order".
func writeMappedError(ctx context.Context, w http.ResponseWriter, operation, fallback string, err error) {
	status, code, msg := mapDomainError(err)
	if status == http.StatusInternalServerError {
		msg = fallback
	}
	logOperationFailure(ctx, operation, status, code, msg, err)
	writeError(ctx, w, status, code, msg)
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	code := "VALIDATION_ERROR"
	msg := detail(err, domain.ErrInvalidInput)
	logOperationFailure(ctx, operation, http.StatusBadRequest, code, msg, err)
	writeError(ctx, w, http.StatusBadRequest, code, msg)
}
