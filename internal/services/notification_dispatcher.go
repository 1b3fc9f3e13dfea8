package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultNotificationWorkers   = 4
	defaultNotificationQueueSize = 256
	defaultNotificationTimeout   = 10 * time.Second
	notificationMeterName        = "github.com/lacehouse/store-api/notifications"
)

// NotificationChannel delivers one event through a transport (in-app inbox, Pub/Sub fan-out).
type NotificationChannel interface {
	Name() string
	Deliver(ctx context.Context, event NotificationEvent) error
}

// NotificationDispatcherDeps configures the asynchronous dispatcher.
type NotificationDispatcherDeps struct {
	Channels  []NotificationChannel
	Workers   int
	QueueSize int
	Timeout   time.Duration
	Meter     metric.Meter
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// AsyncNotificationDispatcher fans events out to every channel from a bounded queue drained
// by a fixed worker pool.
type AsyncNotificationDispatcher struct {
	channels []NotificationChannel
	timeout  time.Duration
	logger   func(context.Context, string, map[string]any)

	mu     sync.RWMutex
	closed bool
	queue  chan queuedNotification
	wg     sync.WaitGroup

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

type queuedNotification struct {
	ctx   context.Context
	event NotificationEvent
}

var _ NotificationDispatcher = (*AsyncNotificationDispatcher)(nil)

// NewNotificationDispatcher starts the worker pool. Callers must Close it on shutdown.
func NewNotificationDispatcher(deps NotificationDispatcherDeps) (*AsyncNotificationDispatcher, error) {
	if len(deps.Channels) == 0 {
		return nil, errors.New("notification dispatcher: at least one channel is required")
	}
	for i, ch := range deps.Channels {
		if ch == nil {
			return nil, fmt.Errorf("notification dispatcher: channel %d is nil", i)
		}
	}
	workers := deps.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	queueSize := deps.QueueSize
	if queueSize <= 0 {
		queueSize = defaultNotificationQueueSize
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultNotificationTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(notificationMeterName)
	}
	delivered, err := meter.Int64Counter("notifications.delivered",
		metric.WithDescription("Notification deliveries by channel and outcome"))
	if err != nil {
		return nil, fmt.Errorf("notification dispatcher: create delivered counter: %w", err)
	}
	dropped, err := meter.Int64Counter("notifications.dropped",
		metric.WithDescription("Notifications dropped because the dispatch queue was full or closed"))
	if err != nil {
		return nil, fmt.Errorf("notification dispatcher: create dropped counter: %w", err)
	}

	d := &AsyncNotificationDispatcher{
		channels:  append([]NotificationChannel(nil), deps.Channels...),
		timeout:   timeout,
		logger:    logger,
		queue:     make(chan queuedNotification, queueSize),
		delivered: delivered,
		dropped:   dropped,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d, nil
}

// Dispatch enqueues event without waiting. A full or closed queue drops the event.
func (d *AsyncNotificationDispatcher) Dispatch(ctx context.Context, event NotificationEvent) {
	if d == nil || len(event.Recipients) == 0 {
		return
	}
	// Delivery outlives the request that triggered it.
	item := queuedNotification{ctx: context.WithoutCancel(ctx), event: event}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.drop(ctx, event, "closed")
		return
	}
	select {
	case d.queue <- item:
	default:
		d.drop(ctx, event, "queue_full")
	}
}

// Close stops accepting events and waits for queued ones to be delivered or for ctx to end.
func (d *AsyncNotificationDispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *AsyncNotificationDispatcher) work() {
	defer d.wg.Done()
	for item := range d.queue {
		d.deliver(item.ctx, item.event)
	}
}

func (d *AsyncNotificationDispatcher) deliver(ctx context.Context, event NotificationEvent) {
	for _, ch := range d.channels {
		d.deliverOne(ctx, ch, event)
	}
}

func (d *AsyncNotificationDispatcher) deliverOne(ctx context.Context, ch NotificationChannel, event NotificationEvent) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	outcome := "ok"
	err := safeDeliver(ctx, ch, event)
	if err != nil {
		outcome = "error"
		d.logger(ctx, "notification.dispatch.failed", map[string]any{
			"channel":    ch.Name(),
			"type":       string(event.Type),
			"recipients": strings.Join(event.Recipients, ","),
			"error":      err.Error(),
		})
	}
	d.delivered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", ch.Name()),
		attribute.String("type", string(event.Type)),
		attribute.String("outcome", outcome),
	))
}

func (d *AsyncNotificationDispatcher) drop(ctx context.Context, event NotificationEvent, reason string) {
	d.logger(ctx, "notification.dispatch.dropped", map[string]any{
		"type":   string(event.Type),
		"reason": reason,
	})
	d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// safeDeliver keeps a panicking channel from taking down the worker.
func safeDeliver(ctx context.Context, ch NotificationChannel, event NotificationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()
	return ch.Deliver(ctx, event)
}
