// Package notify delivers notifications asynchronously through a bounded
// worker pool. Delivery is fire-and-forget: failures are logged and counted,
// never surfaced to the caller that enqueued the message.
package notify

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/solsticehq/centra/errs"
	"github.com/solsticehq/centra/internal/observability"
	"github.com/solsticehq/centra/internal/schema"
	"github.com/solsticehq/centra/internal/sources/messaging"
	"github.com/solsticehq/centra/internal/telemetry"
	"github.com/solsticehq/centra/lib/async"
)

const (
	defaultWorkers     = 4
	defaultQueue       = 256
	defaultRate        = 50
	defaultBurst       = 10
	defaultSendTimeout = 5 * time.Second
	defaultDeadLetters = 128
)

// Config sizes the dispatcher.
type Config struct {
	Workers       int
	Queue         int
	RatePerSecond float64
	Burst         int
	SendTimeout   time.Duration
	// DeadLetters bounds the undeliverable-notification queue.
	DeadLetters int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.Queue <= 0 {
		c.Queue = defaultQueue
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = defaultRate
	}
	if c.Burst <= 0 {
		c.Burst = defaultBurst
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.DeadLetters <= 0 {
		c.DeadLetters = defaultDeadLetters
	}
	return c
}

// Dispatcher owns the worker pool and throttle in front of the messaging
// source.
type Dispatcher struct {
	sender  messaging.Service
	pool    *async.Pool
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	timeout time.Duration
	dlq     *DeadLetterQueue
	clock   func() time.Time
}

// NewDispatcher builds a running dispatcher.
func NewDispatcher(sender messaging.Service, cfg Config, metrics *telemetry.Metrics) (*Dispatcher, error) {
	if sender == nil {
		return nil, errs.New("notify", errs.CodeConfig, errs.WithMessage("messaging sender required"))
	}
	cfg = cfg.withDefaults()
	pool, err := async.NewPool(cfg.Workers, cfg.Queue)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		sender:  sender,
		pool:    pool,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		metrics: metrics,
		timeout: cfg.SendTimeout,
		dlq:     NewDeadLetterQueue(cfg.DeadLetters),
		clock:   time.Now,
	}, nil
}

// Dispatch validates and enqueues a notification. A full queue drops the
// message; the caller learns about enqueue problems only, never delivery
// ones.
func (d *Dispatcher) Dispatch(note schema.Notification) error {
	if err := note.Validate(); err != nil {
		return err
	}
	err := d.pool.Submit(context.Background(), func(ctx context.Context) error {
		d.deliver(ctx, note)
		return nil
	})
	if err != nil {
		d.metrics.RecordNotification(context.Background(), telemetry.ResultDropped)
		d.dlq.Offer(DeadLetter{Note: note, Reason: err.Error(), FailedAt: d.clock()})
		observability.Log().Error("notification dropped at enqueue",
			observability.String("customer", note.CustomerID),
			observability.String("channel", string(note.Channel)),
			observability.Err(err))
		return err
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, note schema.Notification) {
	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.limiter.Wait(sendCtx); err != nil {
		d.metrics.RecordNotification(ctx, telemetry.ResultDropped)
		d.dlq.Offer(DeadLetter{Note: note, Reason: err.Error(), FailedAt: d.clock()})
		observability.Log().Error("notification dropped at throttle",
			observability.String("customer", note.CustomerID),
			observability.Err(err))
		return
	}
	if err := d.sender.Send(sendCtx, note); err != nil {
		d.metrics.RecordNotification(ctx, telemetry.ResultError)
		d.dlq.Offer(DeadLetter{Note: note, Reason: err.Error(), FailedAt: d.clock()})
		observability.Log().Error("notification delivery failed",
			observability.String("customer", note.CustomerID),
			observability.String("channel", string(note.Channel)),
			observability.Err(err))
		return
	}
	d.metrics.RecordNotification(ctx, telemetry.ResultSuccess)
}

// DeadLetters exposes the undeliverable-notification queue.
func (d *Dispatcher) DeadLetters() *DeadLetterQueue { return d.dlq }

// Shutdown drains in-flight deliveries until ctx expires.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	return d.pool.Shutdown(ctx)
}
