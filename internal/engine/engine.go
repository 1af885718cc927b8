// Package engine implements the subscription, credit and perk rules that
// operate on a single user record. Every operation takes a user by value and
// returns an updated copy; the caller owns persistence and must serialize
// writes per user.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// Options configures an Engine.
type Options struct {
	Bundles  BundleCatalog
	Perks    PerkCatalog
	Notifier Notifier

	// Clock returns the current time. Defaults to time.Now in UTC.
	Clock func() time.Time

	// CreditRate is applied to new subscriptions. Defaults to models.DefaultCreditRate.
	CreditRate float64

	// AdminEmail receives admin alerts. Defaults to "platform.admin@onesub.com".
	AdminEmail string

	// Observe, when set, is called once per ApplyAndRecompute with the
	// operation name, outcome and duration.
	Observe func(op string, err error, d time.Duration)
}

// Engine sequences lifecycle, credit and perk rules over one user record.
type Engine struct {
	bundles    BundleCatalog
	perks      PerkCatalog
	notifier   Notifier
	clock      func() time.Time
	creditRate float64
	adminEmail string
	observe    func(op string, err error, d time.Duration)
}

const defaultAdminEmail = "platform.admin@onesub.com"

// New constructs an Engine. Both catalogs are required.
func New(opts Options) (*Engine, error) {
	if opts.Bundles == nil {
		return nil, errors.New("engine: bundle catalog cannot be nil")
	}
	if opts.Perks == nil {
		return nil, errors.New("engine: perk catalog cannot be nil")
	}
	if opts.CreditRate < 0 {
		return nil, fmt.Errorf("engine: credit rate must not be negative, got %v", opts.CreditRate)
	}

	e := &Engine{
		bundles:    opts.Bundles,
		perks:      opts.Perks,
		notifier:   opts.Notifier,
		clock:      opts.Clock,
		creditRate: opts.CreditRate,
		adminEmail: opts.AdminEmail,
		observe:    opts.Observe,
	}
	if e.clock == nil {
		e.clock = func() time.Time { return time.Now().UTC() }
	}
	if e.creditRate == 0 {
		e.creditRate = models.DefaultCreditRate
	}
	if e.adminEmail == "" {
		e.adminEmail = defaultAdminEmail
	}
	return e, nil
}

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// Bundles exposes the bundle catalog the engine reads from.
func (e *Engine) Bundles() BundleCatalog {
	return e.bundles
}

// Perks exposes the perk catalog the engine reads from.
func (e *Engine) Perks() PerkCatalog {
	return e.perks
}

// Operation mutates a user record through one of the engine entry points
// (Subscribe, Cancel, Redeem, ...).
type Operation struct {
	Name string
	Run  func(ctx context.Context, e *Engine, u models.User) (models.User, error)

	// SetsBalance marks operations that write an absolute credit balance.
	// The current period is accrued before they run so the written value
	// is the value stored.
	SetsBalance bool
}

// ApplyAndRecompute runs op and then recomputes every derived field in a fixed
// order: credit accrual for the current billing period, perk refresh, and the
// derived subscription status. The input record is never modified. On error
// the original record is returned unchanged.
//
// Notifications raised by op are held until the operation succeeds. When ctx
// carries an Outbox they are left in it for the caller to Flush after the
// record is persisted; otherwise they are sent before returning.
func (e *Engine) ApplyAndRecompute(ctx context.Context, u models.User, op Operation) (out models.User, err error) {
	start := time.Now()
	if e.observe != nil {
		defer func() { e.observe(op.Name, err, time.Since(start)) }()
	}

	box, owned := outboxFrom(ctx)
	if owned {
		ctx = WithOutbox(ctx, box)
	}
	mark := box.Len()
	defer func() {
		if err != nil {
			box.truncate(mark)
			return
		}
		if owned {
			e.Flush(ctx, box)
		}
	}()

	work := u.Clone()
	if op.SetsBalance {
		now := e.clock()
		work, _ = AccrueForPeriod(work, BillingPeriod(now), now)
	}

	updated, err := op.Run(ctx, e, work)
	if err != nil {
		return u, fmt.Errorf("%s: %w", op.Name, err)
	}

	updated, err = e.Recompute(ctx, updated)
	if err != nil {
		return u, fmt.Errorf("%s: recompute: %w", op.Name, err)
	}
	return updated, nil
}

// Recompute brings derived state up to date: accrual for the current billing
// period (a no-op when already accrued), then perk refresh against the full
// catalog, then the derived subscription status.
func (e *Engine) Recompute(ctx context.Context, u models.User) (models.User, error) {
	now := e.clock()
	u, _ = AccrueForPeriod(u, BillingPeriod(now), now)

	catalog, err := e.perks.ListPerks(ctx)
	if err != nil {
		return u, fmt.Errorf("list perks: %w", err)
	}
	u = RefreshAll(u, catalog, now)
	u.SubscriptionStatus = DeriveSubscriptionStatus(u)
	return u, nil
}

// Flush sends every notification held in box and empties it.
func (e *Engine) Flush(ctx context.Context, box *Outbox) {
	for _, n := range box.drain() {
		e.send(ctx, n)
	}
}

func (e *Engine) notify(ctx context.Context, kind models.NotificationKind, audience, recipient, userID string, data models.JSONB) {
	if e.notifier == nil || recipient == "" {
		return
	}
	n := models.Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Audience:  audience,
		Recipient: recipient,
		UserID:    userID,
		Data:      data,
		CreatedAt: e.clock(),
	}
	if box, ok := ctx.Value(outboxKey{}).(*Outbox); ok {
		box.add(n)
		return
	}
	e.send(ctx, n)
}

func (e *Engine) send(ctx context.Context, n models.Notification) {
	if e.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[engine] notifier panic swallowed (kind=%s): %v", n.Kind, r)
		}
	}()
	e.notifier.Notify(ctx, n)
}

// bundleName resolves a display name for notifications, falling back to the id.
func (e *Engine) bundleName(ctx context.Context, id string) string {
	b, err := e.bundles.GetBundle(ctx, id)
	if err != nil {
		return id
	}
	return b.Name
}
