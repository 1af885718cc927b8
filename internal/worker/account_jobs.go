package worker

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// AccountRunner applies the engine operations behind account jobs.
// accounts.Service implements it.
type AccountRunner interface {
	Accrue(ctx context.Context, userID, period string) (models.User, error)
	Refresh(ctx context.Context, userID string) (models.User, error)
}

// RegisterAccountJobs registers the credit accrual and perk refresh handlers
func RegisterAccountJobs(w *Worker, runner AccountRunner) {
	w.RegisterHandler(models.JobCreditAccrual, creditAccrualHandler(runner))
	w.RegisterHandler(models.JobPerkRefresh, perkRefreshHandler(runner))

	log.Printf("[worker] Registered account job handlers: %s, %s", models.JobCreditAccrual, models.JobPerkRefresh)
}

func creditAccrualHandler(runner AccountRunner) Handler {
	return func(ctx context.Context, job *models.Job) error {
		userID := job.Payload.String("user_id")
		period := job.Payload.String("period")
		if userID == "" || period == "" {
			return Permanent(fmt.Errorf("credit_accrual payload needs user_id and period"))
		}

		u, err := runner.Accrue(ctx, userID, period)
		if err != nil {
			return classify(err)
		}
		log.Printf("[accrual] user %s accrued for %s, available %s", userID, period, engine.FormatCredits(u.CreditsAvailable))
		return nil
	}
}

func perkRefreshHandler(runner AccountRunner) Handler {
	return func(ctx context.Context, job *models.Job) error {
		userID := job.Payload.String("user_id")
		if userID == "" {
			return Permanent(fmt.Errorf("perk_refresh payload needs user_id"))
		}
		if _, err := runner.Refresh(ctx, userID); err != nil {
			return classify(err)
		}
		return nil
	}
}

// classify marks errors that will fail the same way on every attempt.
func classify(err error) error {
	if errors.Is(err, engine.ErrUserNotFound) || errors.Is(err, engine.ErrNotAuthenticated) {
		return Permanent(err)
	}
	return err
}
