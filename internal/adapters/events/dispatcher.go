package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alecsomers1980/aloe-signs-website/internal/metrics"
	"github.com/alecsomers1980/aloe-signs-website/internal/ports"
)

type DispatcherConfig struct {
	QueueSize    int
	Workers      int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	DrainTimeout time.Duration
}

// Dispatcher runs side-effect jobs (emails, event publication) off the request
// path. Jobs are retried with exponential backoff. A job that cannot run, because
// retries ran out, the queue was full or shutdown cut it short, is dead-lettered
// to the log.
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *slog.Logger
	jobs   chan ports.Job

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	workers   sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

var _ ports.JobQueue = (*Dispatcher)(nil)

func NewDispatcher(logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:       cfg,
		logger:    logger,
		jobs:      make(chan ports.Job, cfg.QueueSize),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

func (d *Dispatcher) Enqueue(job ports.Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.deadLetter(job, 0, errQueueClosed)
		return false
	}
	select {
	case d.jobs <- job:
		return true
	default:
		d.deadLetter(job, 0, errQueueFull)
		return false
	}
}

var (
	errQueueClosed = errors.New("queue closed")
	errQueueFull   = errors.New("queue full")
)

// Start launches the workers. Job contexts are independent of any request or
// server context and are only cancelled when Shutdown runs out of time.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.workers.Add(1)
			go func() {
				defer d.workers.Done()
				for job := range d.jobs {
					if err := d.runCtx.Err(); err != nil {
						d.deadLetter(job, 0, err)
						continue
					}
					d.run(d.runCtx, job)
				}
			}()
		}
	})
}

// Shutdown stops intake and waits for queued and retrying jobs. Call it after
// the servers that enqueue jobs have stopped. When ctx expires first, running
// jobs are cancelled and whatever is left is dead-lettered.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.Start()

	done := make(chan struct{})
	go func() {
		d.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancelRun()
		return nil
	case <-ctx.Done():
		d.cancelRun()
		<-done
		return ctx.Err()
	}
}

// DrainTimeout is how long Shutdown should be given.
func (d *Dispatcher) DrainTimeout() time.Duration { return d.cfg.DrainTimeout }

func (d *Dispatcher) run(ctx context.Context, job ports.Job) {
	backoff := d.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := d.safeRun(ctx, job)
		if err == nil {
			return
		}
		if attempt >= d.cfg.MaxAttempts || ctx.Err() != nil {
			d.deadLetter(job, attempt, err)
			return
		}
		d.logger.Warn("side-effect job failed, retrying",
			"module", "events.dispatcher",
			"layer", "adapter",
			"operation", "run",
			"outcome", "retry",
			"job", job.Name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			d.deadLetter(job, attempt, ctx.Err())
			return
		case <-timer.C:
		}
		backoff *= 2
		if backoff > d.cfg.MaxBackoff {
			backoff = d.cfg.MaxBackoff
		}
	}
}

func (d *Dispatcher) deadLetter(job ports.Job, attempts int, err error) {
	metrics.JobsDropped.Inc()
	d.logger.Error("side-effect job dead-lettered",
		"module", "events.dispatcher",
		"layer", "adapter",
		"operation", "run",
		"outcome", "dead_letter",
		"job", job.Name,
		"attempts", attempts,
		"error", err,
	)
}

func (d *Dispatcher) safeRun(ctx context.Context, job ports.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.New("job panicked")
			d.logger.Error("side-effect job panicked", "job", job.Name, "panic", rec)
		}
	}()
	return job.Run(ctx)
}
