package ports

import (
	"context"
	"time"
)

type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// Mailer delivers a single plain-text email.
type Mailer interface {
	Send(ctx context.Context, msg EmailMessage) error
	Enabled() bool
}

type EmailMessage struct {
	Kind string
	// FromName is the display name; the sender address comes from mailer config.
	FromName string
	To       string
	Subject  string
	Body     string
}

// Job is a unit of deferred side-effect work (email, event publication).
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// JobQueue accepts side-effect jobs without blocking the caller.
type JobQueue interface {
	Enqueue(job Job) bool
}

// NotificationDedup caches applied payment notifications so redeliveries can
// be acknowledged without a store write. The order record stays authoritative.
type NotificationDedup interface {
	// Seen reports whether key was remembered and has not expired.
	Seen(ctx context.Context, key string) (bool, error)
	// Remember records key for ttl. Call it only after the notification was applied.
	Remember(ctx context.Context, key string, ttl time.Duration) error
}
