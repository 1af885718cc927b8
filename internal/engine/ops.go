package engine

import (
	"context"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// Operation names, used for logging and metrics labels.
const (
	OpSubscribe   = "subscribe"
	OpCancel      = "cancel"
	OpPause       = "pause"
	OpResume      = "resume"
	OpRenew       = "renew"
	OpRedeem      = "redeem"
	OpAdminAdjust = "admin_adjust"
	OpClaim       = "claim"
	OpRefresh     = "refresh"
	OpAccrue      = "accrue"
)

func SubscribeOp(req SubscribeRequest) Operation {
	return Operation{Name: OpSubscribe, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Subscribe(ctx, u, req)
	}}
}

func CancelOp(bundleID string) Operation {
	return Operation{Name: OpCancel, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Cancel(ctx, u, bundleID)
	}}
}

func PauseOp(bundleID string, days int) Operation {
	return Operation{Name: OpPause, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Pause(ctx, u, bundleID, days)
	}}
}

func ResumeOp(bundleID string) Operation {
	return Operation{Name: OpResume, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Resume(ctx, u, bundleID)
	}}
}

func RenewOp(bundleID string, paymentSucceeded bool) Operation {
	return Operation{Name: OpRenew, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Renew(ctx, u, bundleID, paymentSucceeded)
	}}
}

func RedeemOp(amount float64) Operation {
	return Operation{Name: OpRedeem, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Redeem(ctx, u, amount)
	}}
}

// AdminAdjustOp runs against the target record; actor is the acting principal.
func AdminAdjustOp(actor models.User, newBalance float64) Operation {
	return Operation{Name: OpAdminAdjust, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.AdminAdjust(ctx, actor, u, newBalance)
	}, SetsBalance: true}
}

func ClaimOp(perkID string) Operation {
	return Operation{Name: OpClaim, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		return e.Claim(ctx, u, perkID)
	}}
}

// RefreshOp only recomputes derived state.
func RefreshOp() Operation {
	return Operation{Name: OpRefresh, Run: func(_ context.Context, _ *Engine, u models.User) (models.User, error) {
		return u, nil
	}}
}

// AccrualOp resumes pauses that have run out and then accrues period.
// Recompute afterwards is a no-op for the same period.
func AccrualOp(period string) Operation {
	return Operation{Name: OpAccrue, Run: func(ctx context.Context, e *Engine, u models.User) (models.User, error) {
		u, _, err := e.ResumeExpiredPauses(ctx, u)
		if err != nil {
			return u, err
		}
		u, _ = AccrueForPeriod(u, period, e.clock())
		return u, nil
	}}
}
