package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const (
	defaultBufferSize     = 256
	defaultPublishTimeout = 5 * time.Second
)

// Delivery outcomes reported to Config.OnResult.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Config tunes a Dispatcher. Zero values use defaults.
type Config struct {
	BufferSize     int
	PublishTimeout time.Duration
	// OnResult, when set, is called once per notification with its kind and
	// one of the Outcome values.
	OnResult func(kind models.NotificationKind, outcome string)
}

// Dispatcher queues notifications in memory and publishes them from a single
// background goroutine. Notify never blocks: when the buffer is full the
// notification is dropped and logged.
type Dispatcher struct {
	pub      Publisher
	timeout  time.Duration
	onResult func(models.NotificationKind, string)

	queue chan models.Notification
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewDispatcher starts a dispatcher that publishes through pub.
func NewDispatcher(pub Publisher, cfg Config) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	d := &Dispatcher{
		pub:      pub,
		timeout:  cfg.PublishTimeout,
		onResult: cfg.OnResult,
		queue:    make(chan models.Notification, cfg.BufferSize),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

// Notify enqueues n for delivery.
func (d *Dispatcher) Notify(_ context.Context, n models.Notification) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		log.Printf("[notify] dispatcher closed; dropping %s for %s", n.Kind, n.Recipient)
		d.report(n.Kind, OutcomeDropped)
		return
	}

	select {
	case d.queue <- n:
	default:
		log.Printf("[notify] queue full; dropping %s for %s", n.Kind, n.Recipient)
		d.report(n.Kind, OutcomeDropped)
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for n := range d.queue {
		d.publish(n)
	}
}

func (d *Dispatcher) publish(n models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := safePublish(ctx, d.pub, n); err != nil {
		log.Printf("[notify] failed to publish %s (id=%s): %v", n.Kind, n.ID, err)
		d.report(n.Kind, OutcomeFailed)
		return
	}
	d.report(n.Kind, OutcomeSent)
}

func safePublish(ctx context.Context, pub Publisher, n models.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return pub.Publish(ctx, n)
}

func (d *Dispatcher) report(kind models.NotificationKind, outcome string) {
	if d.onResult != nil {
		d.onResult(kind, outcome)
	}
}

// Close stops accepting notifications and waits for queued ones to be
// published, or for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
