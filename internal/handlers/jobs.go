package handlers

import (
	"context"
	"net/http"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// JobStatsSource reports queue counts by status.
type JobStatsSource interface {
	GetStats(ctx context.Context) (*models.JobStats, error)
}

// AccrualTrigger enqueues accrual jobs for the current billing period.
type AccrualTrigger interface {
	EnqueueAccrual(ctx context.Context) (string, int, error)
}

// JobStats returns job queue statistics. Admin only.
func JobStats(source JobStatsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		p, ok := principal(w, r, "JobStats")
		if !ok {
			return
		}
		if !p.IsAdmin() {
			writeError(w, "JobStats", engine.ErrUnauthorized)
			return
		}

		stats, err := source.GetStats(r.Context())
		if err != nil {
			writeError(w, "JobStats", err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// RunAccrual enqueues accrual jobs now instead of waiting for the schedule.
// Admin only.
func RunAccrual(trigger AccrualTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		p, ok := principal(w, r, "RunAccrual")
		if !ok {
			return
		}
		if !p.IsAdmin() {
			writeError(w, "RunAccrual", engine.ErrUnauthorized)
			return
		}

		period, n, err := trigger.EnqueueAccrual(r.Context())
		if err != nil {
			writeError(w, "RunAccrual", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"period": period, "enqueued": n})
	}
}
