package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

var testNow = time.Date(2025, time.March, 15, 10, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	bundles map[string]models.Bundle
	perks   []models.Perk
	listErr error
}

func (c *fakeCatalog) GetBundle(_ context.Context, id string) (models.Bundle, error) {
	b, ok := c.bundles[id]
	if !ok {
		return models.Bundle{}, fmt.Errorf("%w: %s", ErrBundleNotFound, id)
	}
	return b, nil
}

func (c *fakeCatalog) ListBundles(_ context.Context) ([]models.Bundle, error) {
	out := make([]models.Bundle, 0, len(c.bundles))
	for _, b := range c.bundles {
		out = append(out, b)
	}
	return out, nil
}

func (c *fakeCatalog) GetPerk(_ context.Context, id string) (models.Perk, error) {
	for _, p := range c.perks {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Perk{}, fmt.Errorf("%w: %s", ErrPerkNotFound, id)
}

func (c *fakeCatalog) ListPerks(_ context.Context) ([]models.Perk, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.perks, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) kinds() []models.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Kind)
	}
	return out
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCatalog() *fakeCatalog {
	multiplier := 0.9
	return &fakeCatalog{
		bundles: map[string]models.Bundle{
			"b-stream": {ID: "b-stream", Name: "Streaming Bundle", BundlePrice: 30, ProviderEmail: "partner@stream.example"},
			"b-work":   {ID: "b-work", Name: "Work Bundle", BundlePrice: 22, AnnualPriceMultiplier: &multiplier},
			"b-news":   {ID: "b-news", Name: "News Bundle", BundlePrice: 10},
		},
		perks: []models.Perk{
			{
				ID: "p-two-subs", Title: "Two subscriptions", ActiveStatus: true,
				UnlockCriteria: []models.UnlockCriterion{{Type: models.CriterionMinSubscriptionsLinked, Threshold: 2}},
				Delivery:       models.PerkDelivery{Method: models.DeliveryCode, Value: "TWO-SUBS"},
			},
			{
				ID: "p-stream", Title: "Streaming fan", ActiveStatus: true,
				UnlockCriteria: []models.UnlockCriterion{{Type: models.CriterionSpecificBundleSubscribed, BundleID: "b-stream"}},
				Delivery:       models.PerkDelivery{Method: models.DeliveryManualEmail, Instructions: "We will email you"},
			},
		},
	}
}

func newTestEngine(t *testing.T, catalog *fakeCatalog, clock *testClock, notifier Notifier) *Engine {
	t.Helper()
	e, err := New(Options{Bundles: catalog, Perks: catalog, Notifier: notifier, Clock: clock.Now})
	require.NoError(t, err)
	return e
}

func verifiedUser() models.User {
	return models.User{
		ID:               "u-1",
		Email:            "jane@example.com",
		Role:             models.RoleUser,
		IsVerified:       true,
		Status:           models.AccountActive,
		RegistrationDate: testNow.AddDate(0, 0, -10),
	}
}

func activeSub(bundleID string, monthly float64) models.ActiveSubscription {
	return models.ActiveSubscription{
		BundleID:                bundleID,
		Cycle:                   models.CycleMonthly,
		SubscribedDate:          testNow.AddDate(0, -1, 0),
		PricePaid:               monthly,
		Status:                  models.SubscriptionActive,
		NextBillingDate:         testNow.AddDate(0, 0, 10),
		LinkedDate:              testNow.AddDate(0, -1, 0),
		CreditRate:              models.DefaultCreditRate,
		MonthlyAmountForCredits: monthly,
	}
}

func TestNewRequiresCatalogs(t *testing.T) {
	catalog := newTestCatalog()

	_, err := New(Options{Perks: catalog})
	require.Error(t, err)

	_, err = New(Options{Bundles: catalog})
	require.Error(t, err)

	_, err = New(Options{Bundles: catalog, Perks: catalog, CreditRate: -1})
	require.Error(t, err)

	e, err := New(Options{Bundles: catalog, Perks: catalog})
	require.NoError(t, err)
	assert.Equal(t, models.DefaultCreditRate, e.creditRate)
	assert.Equal(t, "platform.admin@onesub.com", e.adminEmail)
}

func TestApplyAndRecomputeRunsDerivedStateInOrder(t *testing.T) {
	clock := &testClock{now: testNow}
	catalog := newTestCatalog()
	e := newTestEngine(t, catalog, clock, nil)

	u := verifiedUser()
	u.ActiveSubscriptions = []models.ActiveSubscription{activeSub("b-news", 10)}

	out, err := e.ApplyAndRecompute(context.Background(), u, SubscribeOp(SubscribeRequest{
		BundleID: "b-stream", Cycle: models.CycleMonthly, PricePaid: 30,
	}))
	require.NoError(t, err)

	// accrual for the current period covers both subscriptions
	assert.InDelta(t, 0.40, out.CreditsAvailable, 1e-9)
	assert.Equal(t, "2025-03", out.LastAccrualPeriod)

	// perk refresh saw the new subscription
	require.Len(t, out.UnlockedPerks, 2)
	assert.Equal(t, models.PerkUnlocked, out.UnlockedPerks[0].Status)
	assert.Equal(t, models.PerkUnlocked, out.UnlockedPerks[1].Status)
	assert.Equal(t, models.UserSubscriptionActive, out.SubscriptionStatus)

	// input record untouched
	assert.Len(t, u.ActiveSubscriptions, 1)
	assert.Empty(t, u.UnlockedPerks)
	assert.Zero(t, u.CreditsAvailable)
}

func TestApplyAndRecomputeDoesNotAccrueTwiceInOnePeriod(t *testing.T) {
	clock := &testClock{now: testNow}
	e := newTestEngine(t, newTestCatalog(), clock, nil)

	u := verifiedUser()
	u.ActiveSubscriptions = []models.ActiveSubscription{activeSub("b-stream", 30)}

	out, err := e.ApplyAndRecompute(context.Background(), u, RefreshOp())
	require.NoError(t, err)
	out, err = e.ApplyAndRecompute(context.Background(), out, RefreshOp())
	require.NoError(t, err)
	assert.InDelta(t, 0.30, out.CreditsAvailable, 1e-9)

	clock.Advance(31 * 24 * time.Hour)
	out, err = e.ApplyAndRecompute(context.Background(), out, RefreshOp())
	require.NoError(t, err)
	assert.InDelta(t, 0.60, out.CreditsAvailable, 1e-9)
	assert.Equal(t, "2025-04", out.LastAccrualPeriod)
}

func TestApplyAndRecomputeReturnsOriginalOnError(t *testing.T) {
	clock := &testClock{now: testNow}
	e := newTestEngine(t, newTestCatalog(), clock, nil)

	u := verifiedUser()
	u.CreditsAvailable = 5

	out, err := e.ApplyAndRecompute(context.Background(), u, RedeemOp(10))
	require.ErrorIs(t, err, ErrInsufficientCredits)
	assert.Contains(t, err.Error(), OpRedeem)
	assert.Equal(t, u, out)
}

func TestApplyAndRecomputeSurfacesCatalogFailure(t *testing.T) {
	clock := &testClock{now: testNow}
	catalog := newTestCatalog()
	catalog.listErr = errors.New("catalog offline")
	e := newTestEngine(t, catalog, clock, nil)

	u := verifiedUser()
	out, err := e.ApplyAndRecompute(context.Background(), u, RefreshOp())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog offline")
	assert.Equal(t, u, out)
}

func TestApplyAndRecomputeAdminAdjustWritesExactBalance(t *testing.T) {
	clock := &testClock{now: testNow}
	notifier := &recordingNotifier{}
	e := newTestEngine(t, newTestCatalog(), clock, notifier)

	u := verifiedUser()
	u.ActiveSubscriptions = []models.ActiveSubscription{activeSub("b-stream", 30)}
	u.LastAccrualPeriod = "2025-02"

	admin := models.User{ID: "admin-1", Role: models.RoleAdmin}
	out, err := e.ApplyAndRecompute(context.Background(), u, AdminAdjustOp(admin, 10))
	require.NoError(t, err)
	assert.InDelta(t, 10, out.CreditsAvailable, 1e-9)
	assert.Equal(t, "2025-03", out.LastAccrualPeriod)

	require.Len(t, notifier.sent, 1)
	assert.InDelta(t, 0.30, notifier.sent[0].Data["previous"], 1e-9)
	assert.InDelta(t, 10, notifier.sent[0].Data["available"], 1e-9)
}

func TestApplyAndRecomputeSendsNothingWhenRecomputeFails(t *testing.T) {
	clock := &testClock{now: testNow}
	catalog := newTestCatalog()
	catalog.listErr = errors.New("db down")
	notifier := &recordingNotifier{}
	e := newTestEngine(t, catalog, clock, notifier)

	_, err := e.ApplyAndRecompute(context.Background(), verifiedUser(), SubscribeOp(SubscribeRequest{
		BundleID: "b-stream", Cycle: models.CycleMonthly, PricePaid: 30,
	}))
	require.Error(t, err)
	assert.Empty(t, notifier.kinds())
}

func TestApplyAndRecomputeHoldsNotificationsInOutbox(t *testing.T) {
	clock := &testClock{now: testNow}
	notifier := &recordingNotifier{}
	e := newTestEngine(t, newTestCatalog(), clock, notifier)

	box := &Outbox{}
	ctx := WithOutbox(context.Background(), box)
	_, err := e.ApplyAndRecompute(ctx, verifiedUser(), SubscribeOp(SubscribeRequest{
		BundleID: "b-stream", Cycle: models.CycleMonthly, PricePaid: 30,
	}))
	require.NoError(t, err)
	assert.Empty(t, notifier.kinds())
	assert.Equal(t, 3, box.Len())

	// A failed operation leaves what was already held untouched.
	_, err = e.ApplyAndRecompute(ctx, verifiedUser(), CancelOp("b-missing"))
	require.Error(t, err)
	assert.Equal(t, 3, box.Len())

	e.Flush(context.Background(), box)
	assert.Equal(t, []models.NotificationKind{
		models.NotifySubscriptionConfirmed,
		models.NotifyAdminSubscription,
		models.NotifyProviderSubscription,
	}, notifier.kinds())
	assert.Zero(t, box.Len())
}

func TestApplyAndRecomputeObservesOperations(t *testing.T) {
	clock := &testClock{now: testNow}
	catalog := newTestCatalog()

	var seen []string
	var failures int
	e, err := New(Options{
		Bundles: catalog,
		Perks:   catalog,
		Clock:   clock.Now,
		Observe: func(op string, err error, _ time.Duration) {
			seen = append(seen, op)
			if err != nil {
				failures++
			}
		},
	})
	require.NoError(t, err)

	u := verifiedUser()
	_, _ = e.ApplyAndRecompute(context.Background(), u, RefreshOp())
	_, _ = e.ApplyAndRecompute(context.Background(), u, CancelOp("missing"))

	assert.Equal(t, []string{OpRefresh, OpCancel}, seen)
	assert.Equal(t, 1, failures)
}

type panickyNotifier struct{}

func (panickyNotifier) Notify(context.Context, models.Notification) { panic("smtp down") }

func TestNotifierPanicDoesNotFailOperation(t *testing.T) {
	clock := &testClock{now: testNow}
	e := newTestEngine(t, newTestCatalog(), clock, panickyNotifier{})

	out, err := e.Subscribe(context.Background(), verifiedUser(), SubscribeRequest{
		BundleID: "b-stream", Cycle: models.CycleMonthly, PricePaid: 30,
	})
	require.NoError(t, err)
	assert.Len(t, out.ActiveSubscriptions, 1)
}
