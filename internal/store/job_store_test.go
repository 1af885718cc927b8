package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

func newMockJobStore(t *testing.T) (*JobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return &JobStore{db: db}, mock
}

func TestEnqueueInsertsAndDeduplicates(t *testing.T) {
	s, mock := newMockJobStore(t)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs(models.JobCreditAccrual, "credit_accrual:u-1:2025-03", sqlmock.AnyArg(), models.JobStatusPending, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(7), now, now))
	mock.ExpectQuery(`INSERT INTO jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}))

	job := &models.Job{
		JobType:   models.JobCreditAccrual,
		DedupeKey: "credit_accrual:u-1:2025-03",
		Payload:   models.JSONB{"user_id": "u-1", "period": "2025-03"},
	}
	inserted, err := s.Enqueue(context.Background(), job)
	if err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	if !inserted || job.ID != 7 {
		t.Fatalf("expected inserted job 7, got inserted=%v id=%d", inserted, job.ID)
	}

	dup := *job
	inserted, err = s.Enqueue(context.Background(), &dup)
	if err != nil {
		t.Fatalf("Enqueue duplicate returned error: %v", err)
	}
	if inserted {
		t.Fatal("expected duplicate to be skipped")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnqueueRejectsInvalidJob(t *testing.T) {
	s, _ := newMockJobStore(t)
	if _, err := s.Enqueue(context.Background(), &models.Job{}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestClaimNextJob(t *testing.T) {
	s, mock := newMockJobStore(t)
	now := time.Now()

	cols := []string{"id", "job_type", "dedupe_key", "payload", "status", "attempts", "max_attempts",
		"last_error", "retry_after", "worker_id", "created_at", "updated_at", "completed_at"}
	mock.ExpectQuery(`UPDATE jobs\s+SET status = 'processing'`).WithArgs("worker-1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(3), models.JobCreditAccrual, "k", []byte(`{"user_id":"u-1","period":"2025-03"}`),
			"processing", 1, 3, nil, nil, "worker-1", now, now, nil))
	mock.ExpectQuery(`UPDATE jobs\s+SET status = 'processing'`).WithArgs("worker-1").
		WillReturnRows(sqlmock.NewRows(cols))

	job, err := s.ClaimNextJob(context.Background(), "worker-1")
	if err != nil {
		t.Fatalf("ClaimNextJob returned error: %v", err)
	}
	if job == nil || job.Payload.String("user_id") != "u-1" || job.Status != models.JobStatusProcessing {
		t.Fatalf("unexpected job: %+v", job)
	}
	if job.WorkerID == nil || *job.WorkerID != "worker-1" {
		t.Fatalf("unexpected worker id: %v", job.WorkerID)
	}

	job, err = s.ClaimNextJob(context.Background(), "worker-1")
	if err != nil || job != nil {
		t.Fatalf("expected empty queue, got job=%v err=%v", job, err)
	}
}

func TestGetStats(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectQuery(`COUNT\(\*\) FILTER`).
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "completed", "failed", "total"}).
			AddRow(2, 1, 10, 1, 14))

	stats, err := s.GetStats(context.Background())
	if err != nil {
		t.Fatalf("GetStats returned error: %v", err)
	}
	if stats.Total != 14 || stats.Pending != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestScheduleRetryAndRelease(t *testing.T) {
	s, mock := newMockJobStore(t)
	retryAt := time.Now().Add(time.Minute)

	mock.ExpectExec(`SET status = 'pending',\s+last_error = \$2`).WithArgs(int64(3), "boom", retryAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`WHERE id = \$1 AND status = 'processing'`).WithArgs(int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.ScheduleRetry(context.Background(), 3, "boom", retryAt); err != nil {
		t.Fatalf("ScheduleRetry returned error: %v", err)
	}
	if err := s.ReleaseJob(context.Background(), 4); err != nil {
		t.Fatalf("ReleaseJob returned error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
