package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/cache"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/jsonfile"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/security"
	"github.com/alecsomers1980/aloe-signs-website/internal/application"
	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/domain"
	"github.com/alecsomers1980/aloe-signs-website/internal/notify"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

const createBody = `{
	"customerName": "Thandi Mokoena",
	"customerEmail": "thandi@example.co.za",
	"customerPhone": "082 555 0101",
	"customerAddress": {"street": "12 Jan Smuts Ave", "city": "Johannesburg", "province": "Gauteng", "postalCode": "2196"},
	"items": [{"productId": "correx-a1", "name": "Correx Board", "size": "A1", "quantity": 2, "price": 374.99}],
	"subtotal": 749.98,
	"shipping": 0,
	"total": 749.98
}`

type stubGateway struct {
	notification ports.PaymentNotification
	err          error
	remoteIP     string
}

func (g *stubGateway) VerifyNotification(_ context.Context, _ []byte, remoteIP string) (ports.PaymentNotification, error) {
	g.remoteIP = remoteIP
	return g.notification, g.err
}

func (g *stubGateway) Checkout(order domain.Order) ports.CheckoutForm {
	return ports.CheckoutForm{
		ProcessURL: "https://sandbox.payfast.co.za/eng/process",
		Fields: []ports.FormField{
			{Name: "m_payment_id", Value: order.ID},
			{Name: "signature", Value: "0123456789abcdef0123456789abcdef"},
		},
	}
}

type testServer struct {
	handler http.Handler
	gateway *stubGateway
	token   string
}

func newTestServer(t *testing.T, cfg RouterConfig) *testServer {
	t.Helper()
	gateway := &stubGateway{}
	s := newTestServerWithGateway(t, cfg, gateway)
	s.gateway = gateway
	return s
}

func newTestServerWithGateway(t *testing.T, cfg RouterConfig, payments ports.PaymentGateway) *testServer {
	t.Helper()
	hasher := security.NewBcryptHasher(4)
	hash, err := hasher.Hash("s3cret")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	signer, err := security.NewJWTSigner(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	messages, err := notify.NewComposer(notify.Config{SiteURL: "https://aloesigns.co.za", Location: time.UTC})
	if err != nil {
		t.Fatalf("composer: %v", err)
	}
	svc := application.NewService(application.Dependencies{
		Config:   application.Config{AdminUsername: "admin", AdminPasswordHash: hash},
		Orders:   jsonfile.NewRepository(filepath.Join(t.TempDir(), "orders.json")),
		Dedup:    cache.NewMemoryDedup(),
		Payments: payments,
		Hasher:   hasher,
		Tokens:   signer,
		Messages: messages,
		Logger:   slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	})
	token, err := signer.Sign(ports.AdminClaims{Subject: "admin", Role: application.RoleAdmin, ExpiresAt: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	checks := map[string]ReadinessCheck{"store": func(context.Context) error { return nil }}
	return &testServer{handler: NewRouter(NewHandler(svc, checks), cfg), token: token}
}

func (s *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) admin() map[string]string {
	return map[string]string{"Authorization": "Bearer " + s.token}
}

func (s *testServer) createOrder(t *testing.T) contracts.CreatedOrderDTO {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/orders/create", createBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
	}
	var resp contracts.CreateOrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success flag")
	}
	return resp.Order
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) contracts.ErrorResponse {
	t.Helper()
	var resp contracts.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (%s)", err, rec.Body.String())
	}
	return resp
}

func TestCreateAndGetOrder(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	created := s.createOrder(t)
	if !strings.HasPrefix(created.OrderNumber, "ORD-") || !domain.AmountsEqual(created.Total, 749.98) {
		t.Fatalf("unexpected created order %+v", created)
	}

	for _, ref := range []string{created.ID, created.OrderNumber, "thandi@example.co.za"} {
		rec := s.do(t, http.MethodGet, "/api/orders/"+ref, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: %d %s", ref, rec.Code, rec.Body.String())
		}
		var resp contracts.OrderResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.Order.ID != created.ID || resp.Order.CustomerAddress.City != "Johannesburg" {
			t.Fatalf("unexpected order for %s: %+v", ref, resp.Order)
		}
	}

	rec := s.do(t, http.MethodGet, "/api/orders/ORD-19990101-000001", "", nil)
	if rec.Code != http.StatusNotFound || decodeError(t, rec).Error != "Order not found" {
		t.Fatalf("expected 404 Order not found, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestCreateOrderValidation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	missing := strings.Replace(createBody, `"customerPhone": "082 555 0101",`, "", 1)
	rec := s.do(t, http.MethodPost, "/api/orders/create", missing, map[string]string{"X-Request-Id": "req-1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.Error != "Missing required fields" || resp.Code != "VALIDATION_ERROR" || resp.RequestID != "req-1" {
		t.Fatalf("unexpected error body %+v", resp)
	}

	badQty := strings.Replace(createBody, `"quantity": 2`, `"quantity": 0`, 1)
	rec = s.do(t, http.MethodPost, "/api/orders/create", badQty, nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != "Items[0].quantity must be greater than 0" {
		t.Fatalf("unexpected quantity error %d %s", rec.Code, rec.Body.String())
	}

	drift := strings.Replace(createBody, `"total": 749.98`, `"total": 10`, 1)
	rec = s.do(t, http.MethodPost, "/api/orders/create", drift, nil)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != "TOTALS_MISMATCH" {
		t.Fatalf("expected totals mismatch, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/api/orders/create", "{", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	rec := s.do(t, http.MethodGet, "/api/admin/orders", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/api/admin/orders", "", map[string]string{"Authorization": "Bearer nope"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAdminLoginAndListOrders(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	rec := s.do(t, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"wrong"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/admin/login", `{"username":"admin","password":"s3cret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body.String())
	}
	var login contracts.AdminLoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &login); err != nil || login.Token == "" {
		t.Fatalf("unexpected login response %s (%v)", rec.Body.String(), err)
	}

	rec = s.do(t, http.MethodGet, "/api/admin/orders", "", map[string]string{"Authorization": "Bearer " + login.Token})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"orders":[]`) {
		t.Fatalf("expected empty order list, got %d %s", rec.Code, rec.Body.String())
	}

	s.createOrder(t)
	s.createOrder(t)
	rec = s.do(t, http.MethodGet, "/api/admin/orders?status=pending&limit=1", "", s.admin())
	var list contracts.ListOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if !list.Success || len(list.Orders) != 1 || list.Total != 2 || list.Limit != 1 {
		t.Fatalf("unexpected list %+v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/admin/orders?limit=1000", "", s.admin())
	list = contracts.ListOrdersResponse{}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode capped list: %v", err)
	}
	if !list.Success || list.Limit != 500 || len(list.Orders) != 2 {
		t.Fatalf("expected the effective limit 500 to be reported, got %+v", list)
	}

	rec = s.do(t, http.MethodGet, "/api/admin/orders?status=lost", "", s.admin())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status filter, got %d", rec.Code)
	}
}

func TestUpdateOrderStatusRoute(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	created := s.createOrder(t)
	path := "/api/admin/orders/" + created.ID

	cases := []struct {
		body    string
		path    string
		status  int
		message string
	}{
		{body: `{}`, path: path, status: http.StatusBadRequest, message: "Status is required"},
		{body: `{"status":"lost"}`, path: path, status: http.StatusBadRequest, message: "Invalid status"},
		{body: `{"status":"PAID"}`, path: path, status: http.StatusBadRequest, message: "Invalid status"},
		{body: `{"status":"shipped"}`, path: "/api/admin/orders/missing", status: http.StatusNotFound, message: "Order not found"},
	}
	for _, tc := range cases {
		rec := s.do(t, http.MethodPatch, tc.path, tc.body, s.admin())
		if rec.Code != tc.status || decodeError(t, rec).Error != tc.message {
			t.Fatalf("PATCH %s %s: got %d %s", tc.path, tc.body, rec.Code, rec.Body.String())
		}
	}

	rec := s.do(t, http.MethodPatch, path, `{"status":"processing"}`, s.admin())
	if rec.Code != http.StatusOK {
		t.Fatalf("update: %d %s", rec.Code, rec.Body.String())
	}
	var resp contracts.OrderResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || resp.Order.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected update response %+v", resp)
	}
}

func TestPayfastNotifyRoute(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	created := s.createOrder(t)

	s.gateway.err = domain.ErrInvalidSignature
	rec := s.do(t, http.MethodPost, "/api/payfast/notify", "m_payment_id=x", map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Error != "Invalid signature" {
		t.Fatalf("expected invalid signature, got %d %s", rec.Code, rec.Body.String())
	}

	s.gateway.err = nil
	s.gateway.notification = ports.PaymentNotification{
		OrderID:       created.ID,
		PaymentID:     "1089250",
		PaymentStatus: "COMPLETE",
		Fields:        map[string]string{"pf_payment_id": "1089250"},
		DedupKey:      "1089250:COMPLETE",
	}
	rec = s.do(t, http.MethodPost, "/api/payfast/notify", "m_payment_id="+created.ID, map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"success":true}` {
		t.Fatalf("expected success, got %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/api/orders/"+created.ID, "", nil)
	if !strings.Contains(rec.Body.String(), `"status":"paid"`) || !strings.Contains(rec.Body.String(), `"paymentStatus":"completed"`) {
		t.Fatalf("order was not marked paid: %s", rec.Body.String())
	}

	s.gateway.notification.OrderID = "missing"
	s.gateway.notification.DedupKey = "other:COMPLETE"
	rec = s.do(t, http.MethodPost, "/api/payfast/notify", "m_payment_id=missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown order, got %d", rec.Code)
	}
}

func TestPayfastReturnRedirects(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	rec := s.do(t, http.MethodGet, "/api/payfast/return?m_payment_id=order-1", "", nil)
	if rec.Code != http.StatusFound || rec.Header().Get("Location") != "https://aloesigns.co.za/order/confirmation?orderId=order-1" {
		t.Fatalf("unexpected redirect %d %q", rec.Code, rec.Header().Get("Location"))
	}
	rec = s.do(t, http.MethodPost, "/api/payfast/return", "m_payment_id=order-2", map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	if rec.Header().Get("Location") != "https://aloesigns.co.za/order/confirmation?orderId=order-2" {
		t.Fatalf("unexpected POST redirect %q", rec.Header().Get("Location"))
	}
	rec = s.do(t, http.MethodGet, "/api/payfast/return", "", nil)
	if rec.Header().Get("Location") != "https://aloesigns.co.za/shop" {
		t.Fatalf("unexpected fallback redirect %q", rec.Header().Get("Location"))
	}
}

func TestCheckoutRoute(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	created := s.createOrder(t)
	rec := s.do(t, http.MethodPost, "/api/orders/"+created.OrderNumber+"/checkout", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout: %d %s", rec.Code, rec.Body.String())
	}
	var resp contracts.CheckoutResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ProcessURL == "" || len(resp.Fields) != 2 || resp.Fields[0].Value != created.ID {
		t.Fatalf("unexpected checkout response %+v", resp)
	}

	s.do(t, http.MethodPatch, "/api/admin/orders/"+created.ID, `{"status":"cancelled"}`, s.admin())
	rec = s.do(t, http.MethodPost, "/api/orders/"+created.ID+"/checkout", "", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for cancelled order, got %d", rec.Code)
	}
}

func TestPublicWritesAreRateLimited(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{RateLimitRequests: 1, RateLimitWindow: time.Minute})
	s.createOrder(t)
	rec := s.do(t, http.MethodPost, "/api/orders/create", createBody, nil)
	if rec.Code != http.StatusTooManyRequests || decodeError(t, rec).Code != "RATE_LIMITED" {
		t.Fatalf("expected 429, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("reads must not be limited, got %d", rec.Code)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, RouterConfig{})
	if rec := s.do(t, http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz: %d", rec.Code)
	}
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected generated request id header")
	}
	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Fatalf("metrics endpoint missing http counters: %d", rec.Code)
	}
}

func TestReadyzReportsFailingCheck(t *testing.T) {
	t.Parallel()

	handler := NewRouter(NewHandler(nil, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}), RouterConfig{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "connection refused") {
		t.Fatalf("expected 503 with failing check, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := requestIDMiddleware(recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || decodeError(t, rec).Code != "INTERNAL_ERROR" {
		t.Fatalf("expected recovered 500, got %d %s", rec.Code, rec.Body.String())
	}
}
