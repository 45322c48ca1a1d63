package application

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/metrics"
	"github.com/alecsomers1980/aloe-signs-website/internal/notify"
)

const (
	paymentComplete  = "COMPLETE"
	paymentFailed    = "FAILED"
	paymentCancelled = "CANCELLED"
)

type PaymentOutcome struct {
	Order     domain.Order
	Duplicate bool
	// Applied is false for statuses that leave the order untouched (PENDING).
	Applied bool
}

// HandlePaymentNotification authenticates a PayFast ITN and applies it to the order.
func (s *Service) HandlePaymentNotification(ctx context.Context, body []byte, remoteIP string) (PaymentOutcome, error) {
	if s.payments == nil {
		return PaymentOutcome{}, errors.New("payment gateway not configured")
	}
	n, err := s.payments.VerifyNotification(ctx, body, remoteIP)
	if err != nil {
		s.rejectNotification(ctx, "verify", err)
		return PaymentOutcome{}, err
	}
	if n.OrderID == "" {
		s.rejectNotification(ctx, "lookup", domain.ErrNotFound)
		return PaymentOutcome{}, fmt.Errorf("%w: notification has no m_payment_id", domain.ErrNotFound)
	}
	order, err := s.orders.GetByID(ctx, n.OrderID)
	if err != nil {
		s.rejectNotification(ctx, "lookup", err)
		return PaymentOutcome{}, err
	}
	if n.HasAmount && !domain.AmountsEqual(n.AmountGross, order.Total) {
		err := fmt.Errorf("%w: amount_gross %.2f does not match order total %.2f", domain.ErrPaymentRejected, n.AmountGross, order.Total)
		s.rejectNotification(ctx, "amount", err)
		return PaymentOutcome{}, err
	}

	var (
		status        domain.OrderStatus
		paymentStatus domain.PaymentStatus
		event         string
	)
	switch n.PaymentStatus {
	case paymentComplete:
		status, paymentStatus, event = domain.OrderStatusPaid, domain.PaymentStatusCompleted, contracts.EventOrderPaid
	case paymentFailed, paymentCancelled:
		status, paymentStatus, event = domain.OrderStatusCancelled, domain.PaymentStatusFailed, contracts.EventOrderPaymentFailed
	default:
		metrics.PaymentNotifications.WithLabelValues("ignored").Inc()
		s.logger.InfoContext(ctx, "payment notification left order unchanged",
			"operation", "handle_payment_notification",
			"outcome", "ignored",
			"order_id", order.ID,
			"payment_status", n.PaymentStatus,
		)
		return PaymentOutcome{Order: order}, nil
	}

	// A cache hit is only trusted when the stored order agrees.
	if s.notificationSeen(ctx, n.DedupKey) && order.PaymentApplied(n.PaymentID, paymentStatus) {
		return s.duplicateNotification(ctx, order, n.DedupKey), nil
	}

	now := s.nowFn()
	updated, err := s.orders.Update(ctx, order.ID, func(o *domain.Order) error {
		if o.PaymentApplied(n.PaymentID, paymentStatus) {
			return domain.ErrDuplicate
		}
		o.ApplyPayment(status, paymentStatus, n.PaymentID, n.Fields, now)
		return nil
	})
	if errors.Is(err, domain.ErrDuplicate) {
		s.rememberNotification(ctx, n.DedupKey)
		return s.duplicateNotification(ctx, order, n.DedupKey), nil
	}
	if err != nil {
		return PaymentOutcome{}, wrapStore("apply payment", err)
	}
	s.rememberNotification(ctx, n.DedupKey)
	metrics.PaymentNotifications.WithLabelValues(strings.ToLower(n.PaymentStatus)).Inc()
	s.logger.InfoContext(ctx, "payment notification applied",
		"operation", "handle_payment_notification",
		"outcome", "success",
		"order_id", updated.ID,
		"order_number", updated.OrderNumber,
		"payment_status", n.PaymentStatus,
		"payment_id", n.PaymentID,
	)

	s.publishEvent(event, updated.ID, contracts.OrderPaymentPayload{
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		PaymentID:     n.PaymentID,
		PaymentStatus: string(paymentStatus),
		AmountGross:   n.AmountGross,
		Total:         updated.Total,
		OccurredAt:    formatTime(now),
	})
	if n.PaymentStatus == paymentComplete {
		s.sendPaidEmails(ctx, updated)
	}
	return PaymentOutcome{Order: updated, Applied: true}, nil
}

func (s *Service) sendPaidEmails(ctx context.Context, order domain.Order) {
	if s.messages == nil {
		return
	}
	if msg, err := s.messages.OrderConfirmation(order); err != nil {
		s.logger.ErrorContext(ctx, "render confirmation email failed", "operation", "handle_payment_notification", "order_id", order.ID, "error", err)
	} else {
		s.sendEmail(msg)
	}
	msg, ok, err := s.messages.AdminNewOrder(order)
	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "render admin email failed", "operation", "handle_payment_notification", "order_id", order.ID, "error", err)
	case ok:
		s.sendEmail(msg)
	}
}

func (s *Service) rejectNotification(ctx context.Context, stage string, err error) {
	outcome := "rejected"
	if errors.Is(err, domain.ErrNotFound) {
		outcome = "unknown_order"
	}
	metrics.PaymentNotifications.WithLabelValues(outcome).Inc()
	s.logger.WarnContext(ctx, "payment notification rejected",
		"operation", "handle_payment_notification",
		"outcome", outcome,
		"stage", stage,
		"error", err,
	)
}

func (s *Service) notificationSeen(ctx context.Context, key string) bool {
	if s.dedup == nil || key == "" {
		return false
	}
	seen, err := s.dedup.Seen(ctx, key)
	if err != nil {
		s.logger.WarnContext(ctx, "notification dedup unavailable, checking the order instead",
			"operation", "handle_payment_notification",
			"dedup_key", key,
			"error", err,
		)
		return false
	}
	return seen
}

func (s *Service) rememberNotification(ctx context.Context, key string) {
	if s.dedup == nil || key == "" {
		return
	}
	if err := s.dedup.Remember(ctx, key, s.cfg.NotificationDedupTTL); err != nil {
		s.logger.WarnContext(ctx, "remember notification failed", "operation", "handle_payment_notification", "dedup_key", key, "error", err)
	}
}

func (s *Service) duplicateNotification(ctx context.Context, order domain.Order, key string) PaymentOutcome {
	metrics.PaymentNotifications.WithLabelValues("duplicate").Inc()
	s.logger.InfoContext(ctx, "duplicate payment notification acknowledged",
		"operation", "handle_payment_notification",
		"outcome", "duplicate",
		"order_id", order.ID,
		"dedup_key", key,
	)
	return PaymentOutcome{Order: order, Duplicate: true}
}

// PaymentReturnURL is where the browser lands after leaving PayFast.
func (s *Service) PaymentReturnURL(orderID string) string {
	site := s.siteURL()
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return site + "/shop"
	}
	return site + "/order/confirmation?orderId=" + url.QueryEscape(orderID)
}

func (s *Service) siteURL() string {
	if s.messages != nil {
		return s.messages.SiteURL()
	}
	return notify.DefaultSiteURL
}
