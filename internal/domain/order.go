package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type OrderStatus string

type PaymentStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCancelled  OrderStatus = "cancelled"

	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// OrderStatuses lists every status an administrator may set, in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusPaid,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCancelled,
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	Province   string `json:"province"`
	PostalCode string `json:"postalCode"`
}

type OrderItem struct {
	ProductID string  `json:"productId,omitempty"`
	Name      string  `json:"name"`
	Size      string  `json:"size,omitempty"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Image     string  `json:"image,omitempty"`
}

// LineTotal is price multiplied by quantity, rounded to cents.
func (i OrderItem) LineTotal() float64 {
	return RoundCents(i.Price * float64(i.Quantity))
}

type Order struct {
	ID              string            `json:"id"`
	OrderNumber     string            `json:"orderNumber"`
	CustomerName    string            `json:"customerName"`
	CustomerEmail   string            `json:"customerEmail"`
	CustomerPhone   string            `json:"customerPhone"`
	CustomerAddress Address           `json:"customerAddress"`
	Items           []OrderItem       `json:"items"`
	Subtotal        float64           `json:"subtotal"`
	Shipping        float64           `json:"shipping"`
	Total           float64           `json:"total"`
	Status          OrderStatus       `json:"status"`
	PaymentStatus   PaymentStatus     `json:"paymentStatus"`
	PaymentID       string            `json:"paymentId,omitempty"`
	PaymentData     map[string]string `json:"paymentData,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// NewOrderInput carries the checkout fields submitted by the storefront.
// Subtotal and Total are optional client-side figures used only as a cross-check.
type NewOrderInput struct {
	CustomerName    string
	CustomerEmail   string
	CustomerPhone   string
	CustomerAddress Address
	Items           []OrderItem
	Subtotal        *float64
	Shipping        float64
	Total           *float64
}

func ValidateNewOrder(in NewOrderInput) error {
	if strings.TrimSpace(in.CustomerName) == "" ||
		strings.TrimSpace(in.CustomerEmail) == "" ||
		strings.TrimSpace(in.CustomerPhone) == "" ||
		strings.TrimSpace(in.CustomerAddress.Street) == "" ||
		strings.TrimSpace(in.CustomerAddress.City) == "" ||
		strings.TrimSpace(in.CustomerAddress.PostalCode) == "" ||
		len(in.Items) == 0 {
		return fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if !strings.Contains(in.CustomerEmail, "@") {
		return fmt.Errorf("%w: customerEmail must be an email address", ErrInvalidInput)
	}
	if in.Shipping < 0 {
		return fmt.Errorf("%w: shipping must not be negative", ErrInvalidInput)
	}
	for idx, item := range in.Items {
		if strings.TrimSpace(item.Name) == "" {
			return fmt.Errorf("%w: items[%d].name is required", ErrInvalidInput, idx)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrInvalidInput, idx)
		}
		if item.Price < 0 {
			return fmt.Errorf("%w: items[%d].price must not be negative", ErrInvalidInput, idx)
		}
	}
	return nil
}

func ComputeTotals(items []OrderItem, shipping float64) (subtotal, total float64) {
	for _, item := range items {
		subtotal += item.LineTotal()
	}
	subtotal = RoundCents(subtotal)
	total = RoundCents(subtotal + shipping)
	return subtotal, total
}

// CheckClientTotals rejects client figures that drift from the computed ones by more than a cent.
func CheckClientTotals(in NewOrderInput, subtotal, total float64) error {
	if in.Subtotal != nil && !AmountsEqual(*in.Subtotal, subtotal) {
		return fmt.Errorf("%w: subtotal %.2f, expected %.2f", ErrTotalsMismatch, *in.Subtotal, subtotal)
	}
	if in.Total != nil && !AmountsEqual(*in.Total, total) {
		return fmt.Errorf("%w: total %.2f, expected %.2f", ErrTotalsMismatch, *in.Total, total)
	}
	return nil
}

func NewOrder(id, orderNumber string, in NewOrderInput, now time.Time) Order {
	items := make([]OrderItem, len(in.Items))
	copy(items, in.Items)
	subtotal, total := ComputeTotals(items, in.Shipping)
	now = now.UTC()
	return Order{
		ID:              id,
		OrderNumber:     orderNumber,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		CustomerEmail:   strings.TrimSpace(in.CustomerEmail),
		CustomerPhone:   strings.TrimSpace(in.CustomerPhone),
		CustomerAddress: in.CustomerAddress,
		Items:           items,
		Subtotal:        subtotal,
		Shipping:        RoundCents(in.Shipping),
		Total:           total,
		Status:          OrderStatusPending,
		PaymentStatus:   PaymentStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func FormatOrderNumber(day time.Time, sequence int) string {
	return fmt.Sprintf("ORD-%s-%06d", day.UTC().Format("20060102"), sequence)
}

// ParseOrderStatus matches raw exactly against the lifecycle statuses.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	candidate := OrderStatus(raw)
	for _, s := range OrderStatuses {
		if s == candidate {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
}

func (o *Order) ApplyStatus(status OrderStatus, now time.Time) {
	o.Status = status
	o.touch(now)
}

// ApplyPayment records the outcome of a payment notification. Empty paymentID
// or data keep whatever was recorded before.
func (o *Order) ApplyPayment(status OrderStatus, paymentStatus PaymentStatus, paymentID string, data map[string]string, now time.Time) {
	o.Status = status
	o.PaymentStatus = paymentStatus
	if paymentID != "" {
		o.PaymentID = paymentID
	}
	if len(data) > 0 {
		o.PaymentData = make(map[string]string, len(data))
		for k, v := range data {
			o.PaymentData[k] = v
		}
	}
	o.touch(now)
}

// PaymentApplied reports whether this payment outcome is already on the order.
// Notifications without a payment id cannot be matched and never count.
func (o *Order) PaymentApplied(paymentID string, paymentStatus PaymentStatus) bool {
	return paymentID != "" && o.PaymentID == paymentID && o.PaymentStatus == paymentStatus
}

func (o *Order) touch(now time.Time) {
	now = now.UTC()
	if now.Before(o.CreatedAt) {
		now = o.CreatedAt
	}
	o.UpdatedAt = now
}

// IsEmailQuery reports whether a lookup string should be treated as a customer email.
func IsEmailQuery(q string) bool {
	return strings.Contains(q, "@")
}

func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) < 0.01+1e-9
}
