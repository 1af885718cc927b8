package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

type fakeQueue struct {
	mu        sync.Mutex
	pending   []*models.Job
	completed []int64
	failed    map[int64]string
	retried   map[int64]time.Time
	released  []int64
	keys      map[string]bool
}

func newFakeQueue(jobs ...*models.Job) *fakeQueue {
	return &fakeQueue{pending: jobs, failed: map[int64]string{}, retried: map[int64]time.Time{}, keys: map[string]bool{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, job *models.Job) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.DedupeKey != "" && q.keys[job.DedupeKey] {
		return false, nil
	}
	q.keys[job.DedupeKey] = true
	job.ID = int64(len(q.keys))
	q.pending = append(q.pending, job)
	return true, nil
}

func (q *fakeQueue) ClaimNextJob(_ context.Context, workerID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	job.Attempts++
	job.WorkerID = &workerID
	return job, nil
}

func (q *fakeQueue) MarkCompleted(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) MarkFailed(_ context.Context, id int64, msg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = msg
	return nil
}

func (q *fakeQueue) ScheduleRetry(_ context.Context, id int64, _ string, retryAfter time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retried[id] = retryAfter
	return nil
}

func (q *fakeQueue) ReleaseJob(_ context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.released = append(q.released, id)
	return nil
}

func (q *fakeQueue) GetStats(_ context.Context) (*models.JobStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return &models.JobStats{Pending: int64(len(q.pending)), Completed: int64(len(q.completed))}, nil
}

func (q *fakeQueue) completedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed)
}

func testJob(id int64, jobType string, attempts int) *models.Job {
	return &models.Job{ID: id, JobType: jobType, Attempts: attempts, MaxAttempts: 3, Payload: models.JSONB{}}
}

func TestProcessJobSuccess(t *testing.T) {
	q := newFakeQueue()
	var completed int
	w := New(Config{}, q, Handlers{"ok": func(context.Context, *models.Job) error { return nil }})
	w.SetInstrumentation(&Instrumentation{OnComplete: func(*models.Job, time.Duration) { completed++ }})

	w.processJob(context.Background(), testJob(1, "ok", 1))

	assert.Equal(t, []int64{1}, q.completed)
	assert.Equal(t, 1, completed)
	assert.Equal(t, int64(1), w.GetStats().JobsSucceeded)
}

func TestProcessJobRetriesWithBackoff(t *testing.T) {
	q := newFakeQueue()
	var retryDelay time.Duration
	w := New(Config{RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute}, q, Handlers{
		"flaky": func(context.Context, *models.Job) error { return errors.New("db timeout") },
	})
	w.SetInstrumentation(&Instrumentation{OnRetry: func(_ *models.Job, d time.Duration) { retryDelay = d }})

	before := time.Now()
	w.processJob(context.Background(), testJob(7, "flaky", 2))

	require.Contains(t, q.retried, int64(7))
	// second attempt: 1s × 2 with ±20% jitter
	assert.GreaterOrEqual(t, retryDelay, 1600*time.Millisecond)
	assert.LessOrEqual(t, retryDelay, 2400*time.Millisecond)
	assert.True(t, q.retried[7].After(before))
	assert.Empty(t, q.failed)
	assert.Equal(t, int64(1), w.GetStats().JobsRetried)
}

func TestRetryDelayIsCapped(t *testing.T) {
	w := New(Config{RetryBaseDelay: time.Second, RetryMaxDelay: 10 * time.Second}, newFakeQueue(), nil)
	for i := 0; i < 20; i++ {
		assert.LessOrEqual(t, w.retryDelay(30), 12*time.Second)
	}
}

func TestProcessJobFailsAfterMaxAttempts(t *testing.T) {
	q := newFakeQueue()
	var failed error
	w := New(Config{}, q, Handlers{"flaky": func(context.Context, *models.Job) error { return errors.New("boom") }})
	w.SetInstrumentation(&Instrumentation{OnFail: func(_ *models.Job, err error, _ time.Duration) { failed = err }})

	w.processJob(context.Background(), testJob(3, "flaky", 3))

	assert.Equal(t, "boom", q.failed[3])
	assert.Empty(t, q.retried)
	assert.EqualError(t, failed, "boom")
}

func TestProcessJobPermanentErrorsSkipRetry(t *testing.T) {
	q := newFakeQueue()
	w := New(Config{}, q, Handlers{"bad": func(context.Context, *models.Job) error {
		return Permanent(errors.New("bad payload"))
	}})

	w.processJob(context.Background(), testJob(4, "bad", 1))
	w.processJob(context.Background(), testJob(5, "unknown", 1))

	assert.Equal(t, "bad payload", q.failed[4])
	assert.Contains(t, q.failed[5], "no handler registered")
	assert.Empty(t, q.retried)
}

func TestProcessJobRecoversPanics(t *testing.T) {
	q := newFakeQueue()
	w := New(Config{}, q, Handlers{"panics": func(context.Context, *models.Job) error { panic("nil map") }})

	w.processJob(context.Background(), testJob(6, "panics", 1))

	assert.Contains(t, q.retried, int64(6))
}

func TestWorkerLoopDrainsQueueAndStops(t *testing.T) {
	q := newFakeQueue()
	w := New(Config{MaxConcurrent: 2, PollInterval: 5 * time.Millisecond}, q, Handlers{
		"ok": func(context.Context, *models.Job) error { return nil },
	})

	var enqueued int
	w.SetInstrumentation(&Instrumentation{OnEnqueue: func(*models.Job) { enqueued++ }})
	for i := 0; i < 5; i++ {
		ok, err := w.Enqueue(context.Background(), &models.Job{JobType: "ok", DedupeKey: fmt.Sprintf("k-%d", i), MaxAttempts: 3})
		require.NoError(t, err)
		require.True(t, ok)
	}
	dup, err := w.Enqueue(context.Background(), &models.Job{JobType: "ok", DedupeKey: "k-0"})
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, 5, enqueued)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.Eventually(t, func() bool { return q.completedCount() == 5 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop(context.Background()))
	require.NoError(t, w.Stop(context.Background()))

	stats, err := w.GetQueueStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats.Completed)
}

func TestStopReleasesRunningJobs(t *testing.T) {
	started := make(chan struct{})
	q := newFakeQueue(testJob(9, "slow", 0))
	w := New(Config{MaxConcurrent: 1, PollInterval: 5 * time.Millisecond}, q, Handlers{
		"slow": func(ctx context.Context, _ *models.Job) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	w.Start(context.Background())
	<-started
	require.NoError(t, w.Stop(context.Background()))

	assert.Equal(t, []int64{9}, q.released)
	assert.Empty(t, q.retried)
	assert.Empty(t, q.failed)
}

type fakeRunner struct {
	accrued  []string
	refreshd []string
	err      error
}

func (r *fakeRunner) Accrue(_ context.Context, userID, period string) (models.User, error) {
	r.accrued = append(r.accrued, userID+"@"+period)
	return models.User{ID: userID, CreditsAvailable: 0.3}, r.err
}

func (r *fakeRunner) Refresh(_ context.Context, userID string) (models.User, error) {
	r.refreshd = append(r.refreshd, userID)
	return models.User{ID: userID}, r.err
}

func TestAccountJobs(t *testing.T) {
	q := newFakeQueue()
	runner := &fakeRunner{}
	w := New(Config{}, q, nil)
	RegisterAccountJobs(w, runner)

	accrual := testJob(1, models.JobCreditAccrual, 1)
	accrual.Payload = models.JSONB{"user_id": "u-1", "period": "2025-03"}
	w.processJob(context.Background(), accrual)

	refresh := testJob(2, models.JobPerkRefresh, 1)
	refresh.Payload = models.JSONB{"user_id": "u-2"}
	w.processJob(context.Background(), refresh)

	assert.Equal(t, []string{"u-1@2025-03"}, runner.accrued)
	assert.Equal(t, []string{"u-2"}, runner.refreshd)
	assert.Equal(t, []int64{1, 2}, q.completed)

	w.processJob(context.Background(), testJob(3, models.JobCreditAccrual, 1))
	assert.Contains(t, q.failed[3], "needs user_id and period")

	runner.err = fmt.Errorf("%w: u-9", engine.ErrUserNotFound)
	gone := testJob(4, models.JobPerkRefresh, 1)
	gone.Payload = models.JSONB{"user_id": "u-9"}
	w.processJob(context.Background(), gone)
	assert.Contains(t, q.failed, int64(4))

	runner.err = errors.New("connection reset")
	flaky := testJob(5, models.JobPerkRefresh, 1)
	flaky.Payload = models.JSONB{"user_id": "u-5"}
	w.processJob(context.Background(), flaky)
	assert.Contains(t, q.retried, int64(5))
}
