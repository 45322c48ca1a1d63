package http

import (
	"context"
	"net/http"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
)

func (h *Handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req contracts.AdminLoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "admin_login", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeMappedError(r.Context(), w, "admin_login", "Failed to log in", err)
		return
	}
	session, err := h.service.AdminLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		writeMappedError(r.Context(), w, "admin_login", "Failed to log in", err)
		return
	}
	writeJSON(w, http.StatusOK, contracts.AdminLoginResponse{
		Success:   true,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failures := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		logOperationFailure(r.Context(), "readyz", http.StatusServiceUnavailable, "NOT_READY", "dependency check failed", nil)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready", "checks": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
