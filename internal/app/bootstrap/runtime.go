package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"

	cacheadapter "github.com/alecsomers1980/aloe-signs-website/internal/adapters/cache"
	eventadapter "github.com/alecsomers1980/aloe-signs-website/internal/adapters/events"
	grpcadapter "github.com/alecsomers1980/aloe-signs-website/internal/adapters/grpc"
	httpadapter "github.com/alecsomers1980/aloe-signs-website/internal/adapters/http"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/mail"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/payfast"
	"github.com/alecsomers1980/aloe-signs-website/internal/adapters/security"
	"github.com/alecsomers1980/aloe-signs-website/internal/application"
	"github.com/alecsomers1980/aloe-signs-website/internal/logging"
	"github.com/alecsomers1980/aloe-signs-website/internal/notify"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

type closer struct {
	name string
	fn   func() error
}

type Runtime struct {
	cfg        Config
	logger     *slog.Logger
	service    *application.Service
	supervisor *suture.Supervisor
	health     *grpcadapter.HealthServer
	dispatcher *eventadapter.Dispatcher
	closers    []closer
}

// NewRuntime wires storage, side-effect adapters, the order service and both
// servers. Nothing listens until Run is called.
func NewRuntime(ctx context.Context, configPath string) (*Runtime, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.Setup(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, cfg.ServiceName)
	logger.Info("bootstrapping orders service", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort, "store", cfg.StoreDriver)

	r := &Runtime{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			r.Close()
		}
	}()

	orders, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, closer{name: "store", fn: orders.Close})

	checks := map[string]httpadapter.ReadinessCheck{
		"store": func(ctx context.Context) error {
			_, _, err := orders.List(ctx, ports.OrderQuery{Limit: 1})
			return err
		},
	}

	var dedup ports.NotificationDedup = cacheadapter.NewMemoryDedup()
	if cfg.RedisURL != "" {
		client, err := cacheadapter.Connect(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, using in-process notification dedup", "error", err)
		} else {
			dedup = cacheadapter.NewRedisDedup(client)
			r.closers = append(r.closers, closer{name: "redis", fn: client.Close})
			checks["redis"] = redisCheck(client)
		}
	}

	var publisher ports.EventPublisher = eventadapter.NewLoggingPublisher(logger)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := eventadapter.NewKafkaPublisher(cfg.KafkaBrokers, nil)
		if err != nil {
			return nil, fmt.Errorf("init kafka publisher: %w", err)
		}
		publisher = kafkaPublisher
		r.closers = append(r.closers, closer{name: "kafka", fn: kafkaPublisher.Close})
		logger.Info("publishing order events to kafka", "brokers", cfg.KafkaBrokers)
	}

	mailer := mail.NewSMTPMailer(logger, mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		User:     cfg.SMTPUser,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
		Timeout:  cfg.SMTPTimeout,
	})
	if !mailer.Enabled() {
		logger.Warn("SMTP credentials not configured, emails will be skipped")
	}

	dispatcher := eventadapter.NewDispatcher(logger, eventadapter.DispatcherConfig{
		QueueSize:    cfg.JobQueueSize,
		Workers:      cfg.JobWorkers,
		MaxAttempts:  cfg.JobMaxAttempts,
		DrainTimeout: cfg.ShutdownTimeout,
	})

	var validator *payfast.Validator
	if cfg.PayFastValidate || cfg.PayFastCheckSource {
		validator = payfast.NewValidator(payfast.ValidatorConfig{Sandbox: cfg.PayFastSandbox}, nil, nil)
		if cfg.PayFastValidate {
			checks["payfast"] = validator.Ready
		}
	}
	gateway := payfast.NewGateway(logger, payfast.GatewayConfig{
		Merchant: payfast.MerchantConfig{
			MerchantID:  cfg.PayFastMerchantID,
			MerchantKey: cfg.PayFastMerchantKey,
			Passphrase:  cfg.PayFastPassphrase,
			Sandbox:     cfg.PayFastSandbox,
		},
		URLs: payfast.CheckoutURLs{
			ReturnURL: cfg.ReturnURL(),
			CancelURL: cfg.CancelURL(),
			NotifyURL: cfg.NotifyURL(),
		},
		ValidateWithServer: cfg.PayFastValidate,
		CheckSource:        cfg.PayFastCheckSource,
	}, validator)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("unknown timezone, using default", "timezone", cfg.Timezone, "error", err)
		loc = nil
	}
	composer, err := notify.NewComposer(notify.Config{
		SiteURL:      cfg.SiteURL,
		AdminEmail:   cfg.AdminEmail,
		ContactEmail: cfg.ContactEmail,
		ContactPhone: cfg.ContactPhone,
		Location:     loc,
	})
	if err != nil {
		return nil, fmt.Errorf("init email templates: %w", err)
	}

	signer, err := newTokenSigner(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH not set, admin login is disabled")
	}

	svc := application.NewService(application.Dependencies{
		Config: application.Config{
			ServiceName:          cfg.ServiceName,
			NotificationDedupTTL: cfg.DedupTTL,
			AdminUsername:        cfg.AdminUsername,
			AdminPasswordHash:    cfg.AdminPasswordHash,
			AdminTokenTTL:        cfg.AdminTokenTTL,
		},
		Orders:    orders,
		Publisher: publisher,
		Mailer:    mailer,
		Jobs:      dispatcher,
		Dedup:     dedup,
		Payments:  gateway,
		Hasher:    security.NewBcryptHasher(cfg.BcryptCost),
		Tokens:    signer,
		Messages:  composer,
		Logger:    logger,
	})

	trustedProxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}
	handler := httpadapter.NewHandler(svc, checks)
	router := httpadapter.NewRouter(handler, httpadapter.RouterConfig{
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		TrustedProxies:    trustedProxies,
	})
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	health := grpcadapter.NewHealthServer(logger, fmt.Sprintf(":%d", cfg.GRPCPort), cfg.ServiceName)

	root := newSupervisor(cfg.ServiceName, logger, cfg.ShutdownTimeout)
	root.Add(newHTTPServerService(logger, httpServer, cfg.ShutdownTimeout))
	root.Add(health)

	r.service = svc
	r.supervisor = root
	r.health = health
	r.dispatcher = dispatcher
	ok = true
	return r, nil
}

func newTokenSigner(cfg Config, logger *slog.Logger) (*security.JWTSigner, error) {
	if cfg.JWTSecret != "" {
		signer, err := security.NewJWTSigner(cfg.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("init jwt signer: %w", err)
		}
		return signer, nil
	}
	logger.Warn("JWT_SECRET not set, using an ephemeral signing key; admin sessions end on restart")
	signer, err := security.NewEphemeralJWTSigner()
	if err != nil {
		return nil, fmt.Errorf("init ephemeral jwt signer: %w", err)
	}
	return signer, nil
}

func redisCheck(client *redis.Client) httpadapter.ReadinessCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func (r *Runtime) Config() Config { return r.cfg }

func (r *Runtime) Service() *application.Service { return r.service }

// Run serves until SIGINT/SIGTERM or ctx cancellation. Servers stop first so
// in-flight requests can still enqueue emails and events, then the job queue
// drains and storage, cache and publisher connections are released.
func (r *Runtime) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.dispatcher.Start()
	r.logger.Info("starting supervisor tree")
	errCh := r.supervisor.ServeBackground(ctx)

	var err error
	select {
	case <-ctx.Done():
		r.logger.Info("shutdown signal received")
		r.health.SetServing(false)
		err = <-errCh
	case err = <-errCh:
	}

	var runErr error
	if err != nil && ctx.Err() == nil {
		r.logger.Error("supervisor stopped", "error", err)
		runErr = err
	}
	if unstopped, err := r.supervisor.UnstoppedServiceReport(); err == nil {
		for _, svc := range unstopped {
			r.logger.Warn("service failed to stop", "service", svc.Name)
		}
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), r.dispatcher.DrainTimeout())
	if err := r.dispatcher.Shutdown(drainCtx); err != nil {
		r.logger.Warn("job queue not drained before deadline", "error", err)
	}
	cancel()

	r.Close()
	r.logger.Info("orders service stopped")
	return runErr
}

// Close releases storage, cache and publisher connections. Run calls it on exit.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			r.logger.Warn("close failed", "resource", c.name, "error", err)
		}
	}
	r.closers = nil
}
