package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-portal-api/internal/models"
)

// Sender delivers a single notification over one channel.
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// DeliveryObserver receives delivery outcomes for instrumentation.
type DeliveryObserver interface {
	ObserveDelivery(channel models.NotificationChannel, delivered bool)
}

// DispatcherConfig configures the delivery worker pool.
type DispatcherConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
	Observer   DeliveryObserver
}

type queuedNotification struct {
	notification models.Notification
	attempt      int
}

// Dispatcher drains workflow notifications and delivers them through the
// registered channel senders. Dispatch is fire-and-forget: a delivery failure
// is retried, then logged and dropped. It never propagates to the workflow
// caller, so a committed state transition stays committed.
type Dispatcher struct {
	senders    map[models.NotificationChannel]Sender
	workers    int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	observer   DeliveryObserver

	queue   chan queuedNotification
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewDispatcher builds a dispatcher with the provided channel senders.
func NewDispatcher(senders map[models.NotificationChannel]Sender, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 8
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Dispatcher{
		senders:    senders,
		workers:    cfg.Workers,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		observer:   cfg.Observer,
		queue:      make(chan queuedNotification, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.started = true
	d.logger.Sugar().Infow("notification dispatcher started", "workers", d.workers)
}

// Stop cancels workers and waits for them to exit.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
	d.logger.Sugar().Infow("notification dispatcher stopped")
}

// Dispatch enqueues notifications for delivery. Notifications that cannot be
// queued are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, notifications ...models.Notification) {
	d.mu.Lock()
	started := d.started
	dctx := d.ctx
	d.mu.Unlock()

	for _, n := range notifications {
		if n.Recipient == "" {
			continue
		}
		if n.EmittedAt.IsZero() {
			n.EmittedAt = time.Now().UTC()
		}
		if !started {
			d.logger.Sugar().Warnw("dispatcher not started, dropping notification",
				"channel", n.Channel, "reference", n.Reference)
			continue
		}
		select {
		case d.queue <- queuedNotification{notification: n}:
		case <-dctx.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case item := <-d.queue:
			d.deliver(item)
		}
	}
}

func (d *Dispatcher) deliver(item queuedNotification) {
	n := item.notification
	sender, ok := d.senders[n.Channel]
	if !ok {
		d.logger.Sugar().Warnw("no sender registered for channel",
			"channel", n.Channel, "reference", n.Reference)
		d.observe(n.Channel, false)
		return
	}

	err := sender.Send(d.ctx, n)
	if err == nil {
		d.observe(n.Channel, true)
		return
	}

	item.attempt++
	if item.attempt > d.maxRetries {
		d.logger.Sugar().Warnw("notification delivery failed, dropping",
			"channel", n.Channel, "recipient", n.Recipient,
			"reference", n.Reference, "attempts", item.attempt, "error", err)
		d.observe(n.Channel, false)
		return
	}

	d.logger.Sugar().Warnw("notification delivery failed, retrying",
		"channel", n.Channel, "reference", n.Reference,
		"attempt", item.attempt, "error", err)

	go func(qn queuedNotification) {
		timer := time.NewTimer(d.retryDelay)
		defer timer.Stop()
		select {
		case <-d.ctx.Done():
		case <-timer.C:
			select {
			case d.queue <- qn:
			case <-d.ctx.Done():
			}
		}
	}(item)
}

func (d *Dispatcher) observe(channel models.NotificationChannel, delivered bool) {
	if d.observer != nil {
		d.observer.ObserveDelivery(channel, delivered)
	}
}
