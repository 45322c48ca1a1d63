package application

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/cache"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/jsonfile"
	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/notify"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

type stubMailer struct {
	mu      sync.Mutex
	enabled bool
	sent    []ports.EmailMessage
	err     error
}

func (m *stubMailer) Enabled() bool { return m.enabled }

func (m *stubMailer) Send(_ context.Context, msg ports.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMailer) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sent))
	for _, msg := range m.sent {
		out = append(out, msg.Subject)
	}
	return out
}

type publishedEvent struct {
	eventType    string
	partitionKey string
	envelope     contracts.EventEnvelope
}

type stubPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *stubPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	var env contracts.EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{eventType: eventType, partitionKey: partitionKey, envelope: env})
	return nil
}

func (p *stubPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.eventType)
	}
	return out
}

type stubGateway struct {
	notification ports.PaymentNotification
	err          error
}

func (g *stubGateway) VerifyNotification(context.Context, []byte, string) (ports.PaymentNotification, error) {
	return g.notification, g.err
}

func (g *stubGateway) Checkout(order domain.Order) ports.CheckoutForm {
	return ports.CheckoutForm{
		ProcessURL: "https://sandbox.payfast.co.za/eng/process",
		Fields:     []ports.FormField{{Name: "m_payment_id", Value: order.ID}},
	}
}

type stubHasher struct{}

func (stubHasher) Hash(password string) (string, error) { return "hashed:" + password, nil }

func (stubHasher) Compare(hash, password string) error {
	if hash != "hashed:"+password {
		return errors.New("mismatch")
	}
	return nil
}

type stubTokens struct{}

func (stubTokens) Sign(claims ports.AdminClaims) (string, error) {
	return claims.Role + "|" + claims.Subject, nil
}

func (stubTokens) Parse(token string) (ports.AdminClaims, error) {
	role, subject, ok := strings.Cut(token, "|")
	if !ok {
		return ports.AdminClaims{}, errors.New("malformed token")
	}
	return ports.AdminClaims{Role: role, Subject: subject}, nil
}

type fixture struct {
	svc       *Service
	repo      *jsonfile.Repository
	mailer    *stubMailer
	publisher *stubPublisher
	gateway   *stubGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	messages, err := notify.NewComposer(notify.Config{
		SiteURL:    "https://aloesigns.co.za",
		AdminEmail: "orders@aloesigns.co.za",
		Location:   time.UTC,
	})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	f := &fixture{
		repo:      jsonfile.NewRepository(filepath.Join(t.TempDir(), "orders.json")),
		mailer:    &stubMailer{enabled: true},
		publisher: &stubPublisher{},
		gateway:   &stubGateway{},
	}
	f.svc = NewService(Dependencies{
		Config:    Config{AdminUsername: "admin", AdminPasswordHash: "hashed:s3cret"},
		Orders:    f.repo,
		Publisher: f.publisher,
		Mailer:    f.mailer,
		Dedup:     cache.NewMemoryDedup(),
		Payments:  f.gateway,
		Hasher:    stubHasher{},
		Tokens:    stubTokens{},
		Messages:  messages,
		Logger:    slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	f.svc.nowFn = func() time.Time { return now }
	return f
}

func validInput() domain.NewOrderInput {
	return domain.NewOrderInput{
		CustomerName:  "Thandi Mokoena",
		CustomerEmail: "Thandi@Example.co.za",
		CustomerPhone: "082 555 0101",
		CustomerAddress: domain.Address{
			Street: "12 Jan Smuts Ave", City: "Johannesburg", Province: "Gauteng", PostalCode: "2196",
		},
		Items: []domain.OrderItem{
			{ProductID: "correx-a1", Name: "Correx Board", Size: "A1", Quantity: 2, Price: 374.99},
			{ProductID: "vinyl", Name: "Vinyl Sticker", Quantity: 3, Price: 40},
		},
	}
}

func TestCreateOrderAssignsNumberAndTotals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateOrder(ctx, validInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.OrderNumber != "ORD-20260301-000001" {
		t.Fatalf("unexpected order number %q", first.OrderNumber)
	}
	if !domain.AmountsEqual(first.Subtotal, 869.98) || !domain.AmountsEqual(first.Total, 869.98) {
		t.Fatalf("unexpected totals %v/%v", first.Subtotal, first.Total)
	}
	if first.Status != domain.OrderStatusPending || first.PaymentStatus != domain.PaymentStatusPending {
		t.Fatalf("new order should be pending, got %s/%s", first.Status, first.PaymentStatus)
	}
	second, err := f.svc.CreateOrder(ctx, validInput())
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.OrderNumber != "ORD-20260301-000002" || second.ID == first.ID {
		t.Fatalf("expected distinct sequential order, got %s %s", second.ID, second.OrderNumber)
	}

	types := f.publisher.types()
	if len(types) != 2 || types[0] != contracts.EventOrderCreated {
		t.Fatalf("expected two order.created events, got %v", types)
	}
	env := f.publisher.events[0].envelope
	if env.PartitionKey != first.ID || env.SourceService != "aloe-signs-orders" || env.SchemaVersion != contracts.SchemaVersion {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(f.mailer.subjects()) != 0 {
		t.Fatalf("no email should be sent before payment")
	}
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	missing := validInput()
	missing.CustomerAddress.City = ""
	if _, err := f.svc.CreateOrder(context.Background(), missing); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	drifted := validInput()
	wrong := 10.0
	drifted.Total = &wrong
	if _, err := f.svc.CreateOrder(context.Background(), drifted); !errors.Is(err, domain.ErrTotalsMismatch) {
		t.Fatalf("expected ErrTotalsMismatch, got %v", err)
	}
}

func TestGetOrderByReference(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	older, _ := f.svc.CreateOrder(ctx, validInput())
	f.svc.nowFn = func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC) }
	newer, _ := f.svc.CreateOrder(ctx, validInput())

	for _, query := range []string{older.ID, older.OrderNumber} {
		got, err := f.svc.GetOrder(ctx, query)
		if err != nil || got.ID != older.ID {
			t.Fatalf("GetOrder(%q) = %s, %v", query, got.ID, err)
		}
	}
	got, err := f.svc.GetOrder(ctx, "thandi@example.co.za")
	if err != nil || got.ID != newer.ID {
		t.Fatalf("email lookup should return the latest order, got %s, %v", got.ID, err)
	}
	if _, err := f.svc.GetOrder(ctx, "ORD-19990101-000001"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.GetOrder(ctx, "  "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank query, got %v", err)
	}
}

func TestListOrdersEmptyStore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	page, err := f.svc.ListOrders(context.Background(), ports.OrderQuery{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Orders == nil || len(page.Orders) != 0 || page.Total != 0 {
		t.Fatalf("expected empty non-nil list, got %v (%d)", page.Orders, page.Total)
	}
	if page, _ = f.svc.ListOrders(context.Background(), ports.OrderQuery{Limit: 5000, Offset: 3}); page.Limit != MaxListLimit || page.Offset != 3 {
		t.Fatalf("expected limit capped at %d, got %+v", MaxListLimit, page)
	}
	if _, err := f.svc.ListOrders(context.Background(), ports.OrderQuery{Offset: -1}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative offset, got %v", err)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())
	actor := Actor{Subject: "admin", Role: RoleAdmin}

	if _, err := f.svc.UpdateOrderStatus(ctx, actor, order.ID, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing status, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, actor, order.ID, "lost"); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := f.svc.UpdateOrderStatus(ctx, actor, "missing", "shipped"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	updated, err := f.svc.UpdateOrderStatus(ctx, actor, order.ID, "Shipped")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected status %s", updated.Status)
	}
	stored, _ := f.repo.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusShipped {
		t.Fatalf("status was not persisted")
	}
	if subjects := f.mailer.subjects(); len(subjects) != 1 || subjects[0] != "Order Update - "+order.OrderNumber {
		t.Fatalf("expected one status update email, got %v", subjects)
	}

	last := f.publisher.events[len(f.publisher.events)-1]
	var payload contracts.OrderStatusChangedPayload
	if err := json.Unmarshal(last.envelope.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if last.eventType != contracts.EventOrderStatusChanged || payload.PreviousStatus != "pending" || payload.Status != "shipped" || payload.ChangedBy != "admin" {
		t.Fatalf("unexpected status event %s %+v", last.eventType, payload)
	}
}

func TestUpdateOrderStatusSurvivesEmailFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.mailer.err = errors.New("smtp down")
	order, _ := f.svc.CreateOrder(context.Background(), validInput())
	if _, err := f.svc.UpdateOrderStatus(context.Background(), Actor{Subject: "admin"}, order.ID, "processing"); err != nil {
		t.Fatalf("email failure must not fail the update: %v", err)
	}
}

func completeNotification(order domain.Order) ports.PaymentNotification {
	return ports.PaymentNotification{
		OrderID:       order.ID,
		PaymentID:     "1089250",
		PaymentStatus: "COMPLETE",
		AmountGross:   order.Total,
		HasAmount:     true,
		Fields: map[string]string{
			"m_payment_id":   order.ID,
			"pf_payment_id":  "1089250",
			"payment_status": "COMPLETE",
		},
		DedupKey: "1089250:COMPLETE",
	}
}

func TestHandlePaymentNotificationComplete(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())
	f.gateway.notification = completeNotification(order)

	outcome, err := f.svc.HandlePaymentNotification(ctx, []byte("raw"), "127.0.0.1")
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !outcome.Applied || outcome.Duplicate {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	stored, _ := f.repo.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusPaid || stored.PaymentStatus != domain.PaymentStatusCompleted || stored.PaymentID != "1089250" {
		t.Fatalf("unexpected stored order %s/%s/%s", stored.Status, stored.PaymentStatus, stored.PaymentID)
	}
	if stored.PaymentData["pf_payment_id"] != "1089250" {
		t.Fatalf("payment data not recorded: %v", stored.PaymentData)
	}
	subjects := f.mailer.subjects()
	want := []string{"Order Confirmation - " + order.OrderNumber, "New Order Received - " + order.OrderNumber}
	if strings.Join(subjects, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected emails %v", subjects)
	}
	types := f.publisher.types()
	if types[len(types)-1] != contracts.EventOrderPaid {
		t.Fatalf("expected order.paid, got %v", types)
	}

	again, err := f.svc.HandlePaymentNotification(ctx, []byte("raw"), "127.0.0.1")
	if err != nil || !again.Duplicate {
		t.Fatalf("redelivery should be acknowledged as duplicate, got %+v %v", again, err)
	}
	if len(f.mailer.subjects()) != 2 {
		t.Fatalf("duplicate notification must not resend emails")
	}
}

type flakyOrders struct {
	ports.OrderRepository
	failUpdates int
}

func (r *flakyOrders) Update(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	if r.failUpdates > 0 {
		r.failUpdates--
		return domain.Order{}, errors.New("connection reset by peer")
	}
	return r.OrderRepository.Update(ctx, orderID, mutate)
}

func TestRedeliveryAfterFailedUpdateIsApplied(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())
	f.svc.orders = &flakyOrders{OrderRepository: f.repo, failUpdates: 1}
	f.gateway.notification = completeNotification(order)

	if _, err := f.svc.HandlePaymentNotification(ctx, nil, ""); err == nil {
		t.Fatalf("expected the first delivery to fail")
	}
	outcome, err := f.svc.HandlePaymentNotification(ctx, nil, "")
	if err != nil || !outcome.Applied || outcome.Duplicate {
		t.Fatalf("redelivery should be applied, got %+v %v", outcome, err)
	}
	if stored, _ := f.repo.GetByID(ctx, order.ID); stored.Status != domain.OrderStatusPaid {
		t.Fatalf("order should be paid after redelivery, got %s", stored.Status)
	}
}

func TestStaleDedupKeyDoesNotSwallowRedelivery(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())
	// Left behind by a process that stopped before writing the order.
	if err := f.svc.dedup.Remember(ctx, "1089250:COMPLETE", time.Hour); err != nil {
		t.Fatalf("remember: %v", err)
	}
	f.gateway.notification = completeNotification(order)

	outcome, err := f.svc.HandlePaymentNotification(ctx, nil, "")
	if err != nil || !outcome.Applied {
		t.Fatalf("pending order must still be updated, got %+v %v", outcome, err)
	}
	if stored, _ := f.repo.GetByID(ctx, order.ID); stored.PaymentStatus != domain.PaymentStatusCompleted {
		t.Fatalf("payment status not recorded: %s", stored.PaymentStatus)
	}
}

func TestDuplicateDetectedFromOrderWithoutCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.svc.dedup = nil
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())
	f.gateway.notification = completeNotification(order)

	if _, err := f.svc.HandlePaymentNotification(ctx, nil, ""); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	again, err := f.svc.HandlePaymentNotification(ctx, nil, "")
	if err != nil || !again.Duplicate || again.Applied {
		t.Fatalf("redelivery should be a duplicate, got %+v %v", again, err)
	}
	if len(f.mailer.subjects()) != 2 {
		t.Fatalf("duplicate must not resend emails, got %v", f.mailer.subjects())
	}
}

func TestHandlePaymentNotificationFailedAndPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())

	pending := completeNotification(order)
	pending.PaymentStatus, pending.DedupKey = "PENDING", "1089250:PENDING"
	f.gateway.notification = pending
	outcome, err := f.svc.HandlePaymentNotification(ctx, nil, "")
	if err != nil || outcome.Applied {
		t.Fatalf("pending notification should leave order unchanged, got %+v %v", outcome, err)
	}
	if stored, _ := f.repo.GetByID(ctx, order.ID); stored.Status != domain.OrderStatusPending {
		t.Fatalf("pending notification changed status to %s", stored.Status)
	}

	failed := completeNotification(order)
	failed.PaymentStatus, failed.DedupKey = "CANCELLED", "1089250:CANCELLED"
	f.gateway.notification = failed
	if _, err := f.svc.HandlePaymentNotification(ctx, nil, ""); err != nil {
		t.Fatalf("handle cancelled: %v", err)
	}
	stored, _ := f.repo.GetByID(ctx, order.ID)
	if stored.Status != domain.OrderStatusCancelled || stored.PaymentStatus != domain.PaymentStatusFailed {
		t.Fatalf("unexpected stored order %s/%s", stored.Status, stored.PaymentStatus)
	}
	if len(f.mailer.subjects()) != 0 {
		t.Fatalf("failed payments must not email the customer")
	}
	types := f.publisher.types()
	if types[len(types)-1] != contracts.EventOrderPaymentFailed {
		t.Fatalf("expected order.payment_failed, got %v", types)
	}
}

func TestHandlePaymentNotificationRejections(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())

	f.gateway.err = domain.ErrInvalidSignature
	if _, err := f.svc.HandlePaymentNotification(ctx, nil, ""); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	f.gateway.err = nil

	unknown := completeNotification(order)
	unknown.OrderID = "missing"
	f.gateway.notification = unknown
	if _, err := f.svc.HandlePaymentNotification(ctx, nil, ""); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	short := completeNotification(order)
	short.AmountGross = 1
	f.gateway.notification = short
	if _, err := f.svc.HandlePaymentNotification(ctx, nil, ""); !errors.Is(err, domain.ErrPaymentRejected) {
		t.Fatalf("expected amount mismatch to be rejected, got %v", err)
	}
	if stored, _ := f.repo.GetByID(ctx, order.ID); stored.Status != domain.OrderStatusPending {
		t.Fatalf("rejected notification changed the order")
	}
}

func TestPaymentReturnURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if got := f.svc.PaymentReturnURL("order-1"); got != "https://aloesigns.co.za/order/confirmation?orderId=order-1" {
		t.Fatalf("unexpected return url %q", got)
	}
	if got := f.svc.PaymentReturnURL(""); got != "https://aloesigns.co.za/shop" {
		t.Fatalf("unexpected fallback url %q", got)
	}
}

func TestStartCheckout(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	order, _ := f.svc.CreateOrder(ctx, validInput())

	_, form, err := f.svc.StartCheckout(ctx, order.OrderNumber)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(form.Fields) != 1 || form.Fields[0].Value != order.ID {
		t.Fatalf("unexpected form %+v", form)
	}

	if _, err := f.svc.UpdateOrderStatus(ctx, Actor{}, order.ID, "paid"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, _, err := f.svc.StartCheckout(ctx, order.ID); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for paid order, got %v", err)
	}
}

func TestAdminLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	session, err := f.svc.AdminLogin(ctx, "admin", "s3cret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !session.ExpiresAt.Equal(time.Date(2026, 3, 1, 21, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", session.ExpiresAt)
	}
	actor, err := f.svc.AuthenticateAdmin(session.Token)
	if err != nil || actor.Role != RoleAdmin || actor.Subject != "admin" {
		t.Fatalf("unexpected actor %+v %v", actor, err)
	}

	for _, creds := range [][2]string{{"admin", "wrong"}, {"root", "s3cret"}} {
		if _, err := f.svc.AdminLogin(ctx, creds[0], creds[1]); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for %v, got %v", creds, err)
		}
	}
	if _, err := f.svc.AuthenticateAdmin("customer|thandi"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected non-admin role to be rejected, got %v", err)
	}
}
