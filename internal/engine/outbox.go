package engine

import (
	"context"
	"sync"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

type outboxKey struct{}

// Outbox holds notifications raised during an operation until the caller
// has persisted its result.
type Outbox struct {
	mu      sync.Mutex
	pending []models.Notification
}

// WithOutbox returns a context whose engine notifications are collected in
// box instead of being sent.
func WithOutbox(ctx context.Context, box *Outbox) context.Context {
	return context.WithValue(ctx, outboxKey{}, box)
}

// outboxFrom returns the outbox carried by ctx, or a new one with owned set.
func outboxFrom(ctx context.Context) (box *Outbox, owned bool) {
	if box, ok := ctx.Value(outboxKey{}).(*Outbox); ok {
		return box, false
	}
	return &Outbox{}, true
}

// Len reports the number of held notifications.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending)
}

// Pending returns a copy of the held notifications.
func (o *Outbox) Pending() []models.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.Notification(nil), o.pending...)
}

// Discard drops every held notification.
func (o *Outbox) Discard() {
	o.truncate(0)
}

func (o *Outbox) add(n models.Notification) {
	o.mu.Lock()
	o.pending = append(o.pending, n)
	o.mu.Unlock()
}

func (o *Outbox) truncate(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if n < len(o.pending) {
		o.pending = o.pending[:n]
	}
}

func (o *Outbox) drain() []models.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.pending
	o.pending = nil
	return out
}
