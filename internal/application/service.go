package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/alecsomers1980/aloe-signs-website/internal/contracts"
	"github.com/alecsomers1980/aloe-signs-website/internal/metrics"
	"github.com/alecsomers1980/aloe-signs-website/internal/notify"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

type Config struct {
	ServiceName string
	// NotificationDedupTTL is how long a processed payment notification is remembered.
	NotificationDedupTTL time.Duration
	AdminUsername        string
	// AdminPasswordHash is a bcrypt hash; an empty hash disables admin login.
	AdminPasswordHash string
	AdminTokenTTL     time.Duration
}

type Actor struct {
	Subject   string
	Role      string
	RequestID string
}

type Service struct {
	cfg       Config
	orders    ports.OrderRepository
	publisher ports.EventPublisher
	mailer    ports.Mailer
	jobs      ports.JobQueue
	dedup     ports.NotificationDedup
	payments  ports.PaymentGateway
	hasher    ports.PasswordHasher
	tokens    ports.TokenSigner
	messages  *notify.Composer
	logger    *slog.Logger
	nowFn     func() time.Time
	idFn      func() string
}

type Dependencies struct {
	Config    Config
	Orders    ports.OrderRepository
	Publisher ports.EventPublisher
	Mailer    ports.Mailer
	Jobs      ports.JobQueue
	Dedup     ports.NotificationDedup
	Payments  ports.PaymentGateway
	Hasher    ports.PasswordHasher
	Tokens    ports.TokenSigner
	Messages  *notify.Composer
	Logger    *slog.Logger
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.ServiceName == "" {
		cfg.ServiceName = "aloe-signs-orders"
	}
	if cfg.NotificationDedupTTL <= 0 {
		cfg.NotificationDedupTTL = 72 * time.Hour
	}
	if cfg.AdminUsername == "" {
		cfg.AdminUsername = "admin"
	}
	if cfg.AdminTokenTTL <= 0 {
		cfg.AdminTokenTTL = 12 * time.Hour
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		orders:    deps.Orders,
		publisher: deps.Publisher,
		mailer:    deps.Mailer,
		jobs:      deps.Jobs,
		dedup:     deps.Dedup,
		payments:  deps.Payments,
		hasher:    deps.Hasher,
		tokens:    deps.Tokens,
		messages:  deps.Messages,
		logger:    logger.With("module", "orders", "layer", "application"),
		nowFn:     time.Now,
		idFn:      uuid.NewString,
	}
}

// publishEvent wraps data in the shared envelope and hands publication to the job queue.
func (s *Service) publishEvent(eventType, partitionKey string, data any) {
	if s.publisher == nil {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("encode event payload failed", "operation", "publish_event", "outcome", "failure", "event_type", eventType, "error", err)
		return
	}
	envelope := contracts.EventEnvelope{
		EventID:       s.idFn(),
		EventType:     eventType,
		OccurredAt:    s.nowFn().UTC(),
		SourceService: s.cfg.ServiceName,
		PartitionKey:  partitionKey,
		SchemaVersion: contracts.SchemaVersion,
		Data:          raw,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		s.logger.Error("encode event envelope failed", "operation", "publish_event", "outcome", "failure", "event_type", eventType, "error", err)
		return
	}
	s.enqueue(ports.Job{
		Name: "publish " + eventType,
		Run: func(ctx context.Context) error {
			return s.publisher.Publish(ctx, eventType, payload, partitionKey)
		},
	})
}

func (s *Service) sendEmail(msg ports.EmailMessage) {
	if s.mailer == nil {
		return
	}
	if !s.mailer.Enabled() {
		s.logger.Warn("email credentials not configured, email not sent",
			"operation", "send_email",
			"outcome", "skipped",
			"kind", msg.Kind,
		)
		metrics.EmailsSent.WithLabelValues(msg.Kind, "skipped").Inc()
		return
	}
	s.enqueue(ports.Job{
		Name: "email " + msg.Kind,
		Run: func(ctx context.Context) error {
			err := s.mailer.Send(ctx, msg)
			metrics.RecordEmail(msg.Kind, err)
			return err
		},
	})
}

// enqueue runs the job inline when no queue is configured.
func (s *Service) enqueue(job ports.Job) {
	if s.jobs != nil {
		s.jobs.Enqueue(job)
		return
	}
	if err := job.Run(context.Background()); err != nil {
		s.logger.Error("side-effect job failed", "operation", "run_job", "outcome", "failure", "job", job.Name, "error", err)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func wrapStore(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
