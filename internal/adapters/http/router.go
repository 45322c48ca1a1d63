package http

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alecsomers1980/aloe-signs-website/internal/application"
)

// ReadinessCheck reports whether a backing dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Handler is the HTTP adapter over the order service.
type Handler struct {
	service *application.Service
	checks  map[string]ReadinessCheck
}

func NewHandler(service *application.Service, checks map[string]ReadinessCheck) *Handler {
	return &Handler{service: service, checks: checks}
}

type RouterConfig struct {
	AllowedOrigins []string
	// RateLimitRequests per RateLimitWindow and client IP on public write endpoints; 0 disables limiting.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// TrustedProxies may set X-Forwarded-For; requests from anyone else are
	// identified by their socket address.
	TrustedProxies []netip.Prefix
}

func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(clientIPMiddleware(cfg.TrustedProxies))
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	publicWrites := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimitRequests > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		publicWrites = httprate.Limit(cfg.RateLimitRequests, window,
			httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return clientIP(r), nil }),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				logOperationFailure(r.Context(), "rate_limit", http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests", nil)
				writeError(r.Context(), w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			}),
		)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(publicWrites)
			r.Post("/orders/create", handler.createOrder)
			r.Post("/orders/{id}/checkout", handler.startCheckout)
			r.Post("/admin/login", handler.adminLogin)
		})
		r.Get("/orders/{id}", handler.getOrder)

		r.Post("/payfast/notify", handler.payfastNotify)
		r.Get("/payfast/return", handler.payfastReturn)
		r.Post("/payfast/return", handler.payfastReturn)

		r.Group(func(r chi.Router) {
			r.Use(handler.adminAuthMiddleware)
			r.Get("/admin/orders", handler.listOrders)
			r.Patch("/admin/orders/{id}", handler.updateOrderStatus)
		})
	})

	return r
}
