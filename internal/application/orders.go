package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/metrics"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

func (s *Service) CreateOrder(ctx context.Context, input domain.NewOrderInput) (domain.Order, error) {
	if err := domain.ValidateNewOrder(input); err != nil {
		return domain.Order{}, err
	}
	subtotal, total := domain.ComputeTotals(input.Items, input.Shipping)
	if err := domain.CheckClientTotals(input, subtotal, total); err != nil {
		return domain.Order{}, err
	}

	now := s.nowFn()
	sequence, err := s.orders.NextOrderSequence(ctx, now)
	if err != nil {
		return domain.Order{}, wrapStore("reserve order number", err)
	}
	order := domain.NewOrder(s.idFn(), domain.FormatOrderNumber(now, sequence), input, now)
	if err := s.orders.Create(ctx, order); err != nil {
		return domain.Order{}, wrapStore("create order", err)
	}
	metrics.OrdersCreated.Inc()

	s.logger.InfoContext(ctx, "order created",
		"operation", "create_order",
		"outcome", "success",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total", order.Total,
	)
	s.publishEvent(contracts.EventOrderCreated, order.ID, contracts.OrderCreatedPayload{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerEmail: order.CustomerEmail,
		ItemCount:     len(order.Items),
		Total:         order.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	})
	return order, nil
}

// GetOrder resolves query as a customer email (latest order wins), an order id
// or an order number.
func (s *Service) GetOrder(ctx context.Context, query string) (domain.Order, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Order{}, fmt.Errorf("%w: order reference is required", domain.ErrInvalidInput)
	}
	if domain.IsEmailQuery(query) {
		return s.orders.LatestByEmail(ctx, query)
	}
	return s.orders.FindByReference(ctx, query)
}

// ListOrders returns orders newest first together with the unpaginated count.
// MaxListLimit caps a single admin page.
const MaxListLimit = 500

// OrderPage is one page of an admin listing. Limit is the limit actually
// applied, zero meaning unbounded.
type OrderPage struct {
	Orders []domain.Order
	Total  int
	Limit  int
	Offset int
}

func (s *Service) ListOrders(ctx context.Context, query ports.OrderQuery) (OrderPage, error) {
	if query.Limit < 0 || query.Offset < 0 {
		return OrderPage{}, fmt.Errorf("%w: limit and offset must not be negative", domain.ErrInvalidInput)
	}
	if query.Limit > MaxListLimit {
		query.Limit = MaxListLimit
	}
	orders, total, err := s.orders.List(ctx, query)
	if err != nil {
		return OrderPage{}, wrapStore("list orders", err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return OrderPage{Orders: orders, Total: total, Limit: query.Limit, Offset: query.Offset}, nil
}

func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, orderID, rawStatus string) (domain.Order, error) {
	if strings.TrimSpace(rawStatus) == "" {
		return domain.Order{}, fmt.Errorf("%w: status is required", domain.ErrInvalidInput)
	}
	status, err := domain.ParseOrderStatus(rawStatus)
	if err != nil {
		return domain.Order{}, err
	}

	var previous domain.OrderStatus
	now := s.nowFn()
	order, err := s.orders.Update(ctx, orderID, func(o *domain.Order) error {
		previous = o.Status
		o.ApplyStatus(status, now)
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	metrics.OrderStatusUpdates.WithLabelValues(string(status)).Inc()

	s.logger.InfoContext(ctx, "order status updated",
		"operation", "update_order_status",
		"outcome", "success",
		"order_id", order.ID,
		"previous_status", previous,
		"status", status,
		"actor", actor.Subject,
		"request_id", actor.RequestID,
	)
	s.publishEvent(contracts.EventOrderStatusChanged, order.ID, contracts.OrderStatusChangedPayload{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previous),
		Status:         string(status),
		ChangedBy:      actor.Subject,
		ChangedAt:      formatTime(order.UpdatedAt),
	})
	if s.messages != nil {
		msg, err := s.messages.StatusUpdate(order)
		if err != nil {
			s.logger.ErrorContext(ctx, "render status update email failed", "operation", "update_order_status", "order_id", order.ID, "error", err)
		} else {
			s.sendEmail(msg)
		}
	}
	return order, nil
}

// StartCheckout builds the hosted payment form for an order still awaiting payment.
func (s *Service) StartCheckout(ctx context.Context, orderRef string) (domain.Order, ports.CheckoutForm, error) {
	if s.payments == nil {
		return domain.Order{}, ports.CheckoutForm{}, fmt.Errorf("checkout: payment gateway not configured")
	}
	order, err := s.orders.FindByReference(ctx, strings.TrimSpace(orderRef))
	if err != nil {
		return domain.Order{}, ports.CheckoutForm{}, err
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus == domain.PaymentStatusCompleted {
		return domain.Order{}, ports.CheckoutForm{}, fmt.Errorf("%w: order %s is %s", domain.ErrConflict, order.OrderNumber, order.Status)
	}
	return order, s.payments.Checkout(order), nil
}
