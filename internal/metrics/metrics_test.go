package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

func TestObserveOperationLabelsResults(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.ObserveOperation(engine.OpRedeem, nil, time.Millisecond)
	m.ObserveOperation(engine.OpRedeem, fmt.Errorf("redeem: %w", engine.ErrInsufficientCredits), time.Millisecond)
	m.ObserveOperation(engine.OpRedeem, errors.New("db down"), time.Millisecond)

	for _, result := range []string{"ok", "rejected", "error"} {
		if got := testutil.ToFloat64(m.operations.WithLabelValues(engine.OpRedeem, result)); got != 1 {
			t.Fatalf("expected one %s redeem, got %v", result, got)
		}
	}
}

func TestJobLifecycleGauge(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.JobStarted(models.JobCreditAccrual)
	m.JobStarted(models.JobCreditAccrual)
	if got := testutil.ToFloat64(m.jobsActive); got != 2 {
		t.Fatalf("expected 2 active jobs, got %v", got)
	}

	m.JobFinished(models.JobCreditAccrual, "completed", time.Second)
	m.JobFinished(models.JobCreditAccrual, "retried", time.Second)
	if got := testutil.ToFloat64(m.jobsActive); got != 0 {
		t.Fatalf("expected 0 active jobs, got %v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues(models.JobCreditAccrual, "completed")); got != 1 {
		t.Fatalf("expected 1 completed job, got %v", got)
	}
}

func TestCountersAndCache(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	m.JobsEnqueued(models.JobCreditAccrual, 3)
	m.JobsEnqueued(models.JobCreditAccrual, 0)
	m.ObserveNotification(models.NotifyPaymentReceipt, "sent")
	m.ObserveCacheLookup("perk", true)
	m.ObserveCacheLookup("perk", false)
	m.ObserveRequest("GET", "/api/me", 200, time.Millisecond)

	if got := testutil.ToFloat64(m.jobsEnqueued.WithLabelValues(models.JobCreditAccrual)); got != 3 {
		t.Fatalf("expected 3 enqueued, got %v", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues(string(models.NotifyPaymentReceipt), "sent")); got != 1 {
		t.Fatalf("expected 1 notification, got %v", got)
	}
	if got := testutil.ToFloat64(m.cacheLookups.WithLabelValues("perk", "hit")); got != 1 {
		t.Fatalf("expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("GET", "/api/me", "200")); got != 1 {
		t.Fatalf("expected 1 request, got %v", got)
	}
}

func TestMustNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.ObserveCacheLookup("bundle", true)
	if got := testutil.ToFloat64(second.cacheLookups.WithLabelValues("bundle", "hit")); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveOperation("x", nil, 0)
	m.JobStarted("x")
	m.JobFinished("x", "completed", 0)
	m.ObserveRequest("GET", "/", 200, 0)
}
