package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
)

func sampleOrder() domain.Order {
	created := time.Date(2026, 3, 1, 22, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:            "3f1c2a9e-0000-4000-8000-000000000001",
		OrderNumber:   "ORD-20260301-000001",
		CustomerName:  "Thandi Mokoena",
		CustomerEmail: "thandi@example.co.za",
		CustomerPhone: "082 555 0101",
		CustomerAddress: domain.Address{
			Street:     "12 Jan Smuts Ave",
			City:       "Johannesburg",
			Province:   "Gauteng",
			PostalCode: "2196",
		},
		Items: []domain.OrderItem{
			{Name: "Correx Board", Size: "A1", Quantity: 2, Price: 650},
			{Name: "Vinyl Banner", Quantity: 1, Price: 1299.5},
		},
		Subtotal:      2599.5,
		Shipping:      0,
		Total:         2599.5,
		Status:        domain.OrderStatusPaid,
		PaymentStatus: domain.PaymentStatusCompleted,
		CreatedAt:     created,
		UpdatedAt:     created.Add(time.Hour),
	}
}

func newTestComposer(t *testing.T, cfg Config) *Composer {
	t.Helper()
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("SAST", 2*60*60)
	}
	c, err := NewComposer(cfg)
	if err != nil {
		t.Fatalf("new composer: %v", err)
	}
	c.nowFn = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	return c
}

func TestFormatPrice(t *testing.T) {
	t.Parallel()

	cases := map[float64]string{
		0:          "0.00",
		5:          "5.00",
		999.999:    "1 000.00",
		1234.5:     "1 234.50",
		1234567.89: "1 234 567.89",
		-42.1:      "-42.10",
	}
	for in, want := range cases {
		if got := FormatPrice(in); got != want {
			t.Fatalf("FormatPrice(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestOrderConfirmation(t *testing.T) {
	t.Parallel()

	c := newTestComposer(t, Config{SiteURL: "https://aloesigns.co.za/"})
	msg, err := c.OrderConfirmation(sampleOrder())
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.To != "thandi@example.co.za" || msg.Subject != "Order Confirmation - ORD-20260301-000001" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if msg.FromName != "Aloe Signs" || msg.Kind != KindConfirmation {
		t.Fatalf("unexpected sender %q / kind %q", msg.FromName, msg.Kind)
	}
	for _, want := range []string{
		"ALOE SIGNS - ORDER CONFIRMATION\n\nHi Thandi Mokoena,",
		"Order Date: 2026/03/02",
		"ORDER ITEMS:\nCorrex Board (A1) x 2 - R1 300.00\nVinyl Banner x 1 - R1 299.50\n\nSubtotal: R2 599.50",
		"Shipping: FREE",
		"Total: R2 599.50",
		"12 Jan Smuts Ave\nJohannesburg, Gauteng\n2196",
		"TRACK YOUR ORDER:\nhttps://aloesigns.co.za/order/track?q=ORD-20260301-000001",
		"Email: team@aloesigns.co.za\nPhone: 011 693 2600",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if !strings.HasSuffix(msg.Body, "© 2026 Aloe Signs. All rights reserved.") {
		t.Fatalf("unexpected footer:\n%s", msg.Body)
	}
}

func TestConfirmationShowsPaidShipping(t *testing.T) {
	t.Parallel()

	order := sampleOrder()
	order.Shipping = 150
	order.Total = 2749.5
	msg, err := newTestComposer(t, Config{}).OrderConfirmation(order)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(msg.Body, "Shipping: R150.00") {
		t.Fatalf("expected priced shipping:\n%s", msg.Body)
	}
	if !strings.Contains(msg.Body, DefaultSiteURL+"/order/track?q=ORD-20260301-000001") {
		t.Fatalf("expected default site url:\n%s", msg.Body)
	}
}

func TestStatusUpdate(t *testing.T) {
	t.Parallel()

	order := sampleOrder()
	order.Status = domain.OrderStatusShipped
	msg, err := newTestComposer(t, Config{}).StatusUpdate(order)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Order Update - ORD-20260301-000001" || msg.Kind != KindStatusUpdate {
		t.Fatalf("unexpected message %+v", msg)
	}
	for _, want := range []string{
		"ALOE SIGNS - ORDER STATUS UPDATE",
		"Current Status: SHIPPED",
		"Updated: 2026/03/02",
		"VIEW ORDER DETAILS:\nhttp://localhost:3000/order/track?q=ORD-20260301-000001",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestAdminNewOrder(t *testing.T) {
	t.Parallel()

	if _, ok, err := newTestComposer(t, Config{}).AdminNewOrder(sampleOrder()); ok || err != nil {
		t.Fatalf("admin email without an address should be skipped, got ok=%v err=%v", ok, err)
	}

	c := newTestComposer(t, Config{SiteURL: "https://aloesigns.co.za", AdminEmail: "orders@aloesigns.co.za"})
	msg, ok, err := c.AdminNewOrder(sampleOrder())
	if err != nil || !ok {
		t.Fatalf("render: ok=%v err=%v", ok, err)
	}
	if msg.To != "orders@aloesigns.co.za" || msg.FromName != "Aloe Signs Website" {
		t.Fatalf("unexpected envelope %+v", msg)
	}
	if msg.Subject != "New Order Received - ORD-20260301-000001" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	for _, want := range []string{
		"NEW ORDER RECEIVED - Order #ORD-20260301-000001",
		"Address: 12 Jan Smuts Ave, Johannesburg, Gauteng 2196",
		"PAYMENT STATUS: completed\nORDER STATUS: paid\nORDER DATE: 2026/03/02, 00:30:00",
		"VIEW IN ADMIN PANEL:\nhttps://aloesigns.co.za/admin/orders/3f1c2a9e-0000-4000-8000-000000000001",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Fatalf("body missing %q:\n%s", want, msg.Body)
		}
	}
	if strings.Contains(msg.Body, "All rights reserved") {
		t.Fatalf("admin email should not carry the customer footer")
	}
}
