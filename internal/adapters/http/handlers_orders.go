package http

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req contracts.CreateOrderRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_order", err)
		return
	}
	if err := validateRequest(req); err != nil {
		writeMappedError(r.Context(), w, "create_order", "Failed to create order", err)
		return
	}

	order, err := h.service.CreateOrder(r.Context(), toNewOrderInput(req))
	if err != nil {
		writeMappedError(r.Context(), w, "create_order", "Failed to create order", err)
		return
	}
	writeJSON(w, http.StatusOK, contracts.CreateOrderResponse{
		Success: true,
		Order: contracts.CreatedOrderDTO{
			ID:          order.ID,
			OrderNumber: order.OrderNumber,
			Total:       order.Total,
		},
	})
}

func toNewOrderInput(req contracts.CreateOrderRequest) domain.NewOrderInput {
	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Size:      item.Size,
			Quantity:  item.Quantity,
			Price:     item.Price,
			Image:     item.Image,
		})
	}
	in := domain.NewOrderInput{
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
		Items:         items,
		Subtotal:      req.Subtotal,
		Shipping:      req.Shipping,
		Total:         req.Total,
	}
	if req.CustomerAddress != nil {
		in.CustomerAddress = domain.Address{
			Street:     req.CustomerAddress.Street,
			City:       req.CustomerAddress.City,
			Province:   req.CustomerAddress.Province,
			PostalCode: req.CustomerAddress.PostalCode,
		}
	}
	return in
}

// getOrder accepts an order id, an order number or a customer email in {id}.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMappedError(r.Context(), w, "get_order", "Failed to fetch order", err)
		return
	}
	writeJSON(w, http.StatusOK, contracts.OrderResponse{Order: order})
}

func (h *Handler) startCheckout(w http.ResponseWriter, r *http.Request) {
	_, form, err := h.service.StartCheckout(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeMappedError(r.Context(), w, "start_checkout", "Failed to start checkout", err)
		return
	}
	fields := make([]contracts.CheckoutFieldDTO, 0, len(form.Fields))
	for _, f := range form.Fields {
		fields = append(fields, contracts.CheckoutFieldDTO{Name: f.Name, Value: f.Value})
	}
	writeJSON(w, http.StatusOK, contracts.CheckoutResponse{
		Success:    true,
		ProcessURL: form.ProcessURL,
		Fields:     fields,
	})
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ports.OrderQuery{
		CustomerEmail: strings.TrimSpace(q.Get("email")),
		Limit:         parseIntDefault(q.Get("limit"), 0),
		Offset:        parseIntDefault(q.Get("offset"), 0),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			writeMappedError(r.Context(), w, "list_orders", "Failed to fetch orders", err)
			return
		}
		query.Status = status
	}

	page, err := h.service.ListOrders(r.Context(), query)
	if err != nil {
		writeMappedError(r.Context(), w, "list_orders", "Failed to fetch orders", err)
		return
	}
	writeJSON(w, http.StatusOK, contracts.ListOrdersResponse{
		Success: true,
		Orders:  page.Orders,
		Total:   page.Total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	})
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req contracts.UpdateStatusRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeValidationError(r.Context(), w, "update_order_status", err)
		return
	}
	order, err := h.service.UpdateOrderStatus(r.Context(), actorFromContext(r.Context()), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		writeMappedError(r.Context(), w, "update_order_status", "Failed to update order", err)
		return
	}
	writeJSON(w, http.StatusOK, contracts.OrderResponse{Success: true, Order: order})
}
