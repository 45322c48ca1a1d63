package http

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
)

// payfastNotify receives PayFast ITN callbacks. The raw body is passed on
// untouched because the signature covers the fields in posting order.
func (h *Handler) payfastNotify(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid notification body")
		return
	}
	if _, err := h.service.HandlePaymentNotification(r.Context(), body, clientIP(r)); err != nil {
		writeMappedError(r.Context(), w, "payfast_notify", "Internal server error", err)
		return
	}
	writeJSON(w, http.StatusOK, contracts.SuccessResponse{Success: true})
}

// payfastReturn sends the shopper back to the storefront after checkout.
func (h *Handler) payfastReturn(w http.ResponseWriter, r *http.Request) {
	orderID := r.URL.Query().Get("m_payment_id")
	if orderID == "" {
		orderID = r.URL.Query().Get("orderId")
	}
	if orderID == "" && r.Method == http.MethodPost {
		if raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes)); err == nil {
			if form, err := url.ParseQuery(string(raw)); err == nil {
				orderID = form.Get("m_payment_id")
			}
		}
	}
	http.Redirect(w, r, h.service.PaymentReturnURL(orderID), http.StatusFound)
}

func parseIntDefault(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
