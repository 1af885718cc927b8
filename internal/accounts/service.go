// Package accounts runs engine operations against persisted user records.
// Writes for one user are serialized in-process and guarded in the database
// by a row lock plus version check.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/PortNumber53/onesub-engine/backend/internal/catalog"
	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
	"github.com/PortNumber53/onesub-engine/backend/internal/store"
)

// ErrInvalidPerk is returned when an admin submits a perk that fails
// catalog validation.
var ErrInvalidPerk = errors.New("invalid perk")

const (
	maxUpdateAttempts = 3
	enqueueParallel   = 8
	opVerify          = "verify"
)

// UserStore persists user records.
type UserStore interface {
	GetUser(ctx context.Context, id string) (models.User, error)
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	UpdateUser(ctx context.Context, id string, fn func(models.User) (models.User, error)) (models.User, error)
	ListUsersWithPerk(ctx context.Context, perkID string) ([]models.User, error)
	ListActiveUserIDs(ctx context.Context) ([]string, error)
	RemovePerkFromUsers(ctx context.Context, perkID string) (int64, error)
}

// JobQueue accepts background jobs. Enqueue reports false when a job with
// the same dedupe key already exists.
type JobQueue interface {
	Enqueue(ctx context.Context, job *models.Job) (bool, error)
}

// Config wires a Service.
type Config struct {
	Store  UserStore
	Engine *engine.Engine

	// Perks edits the perk catalog. Admin perk operations fail with
	// catalog.ErrReadOnly when nil.
	Perks catalog.PerkEditor

	// Jobs receives accrual and refresh jobs. Optional.
	Jobs JobQueue

	// OnEnqueue is called with the job type and the number of new jobs.
	OnEnqueue func(jobType string, n int)
}

// Service is the entry point for every user-record mutation.
type Service struct {
	store     UserStore
	engine    *engine.Engine
	perks     catalog.PerkEditor
	jobs      JobQueue
	onEnqueue func(jobType string, n int)
	locks     *keyedMutex
}

// New constructs a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("accounts: store cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("accounts: engine cannot be nil")
	}
	return &Service{
		store:     cfg.Store,
		engine:    cfg.Engine,
		perks:     cfg.Perks,
		jobs:      cfg.Jobs,
		onEnqueue: cfg.OnEnqueue,
		locks:     newKeyedMutex(),
	}, nil
}

// Apply runs op against the stored record for userID and persists the
// result. A concurrent write detected by the store is retried. Notifications
// raised by op are sent only once the write has committed.
func (s *Service) Apply(ctx context.Context, userID string, op engine.Operation) (models.User, error) {
	if userID == "" {
		return models.User{}, engine.ErrNotAuthenticated
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		box := &engine.Outbox{}
		opCtx := engine.WithOutbox(ctx, box)
		u, err := s.store.UpdateUser(ctx, userID, func(current models.User) (models.User, error) {
			return s.engine.ApplyAndRecompute(opCtx, current, op)
		})
		if err == nil {
			s.engine.Flush(ctx, box)
			return u, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return u, err
		}
		lastErr = err
		log.Printf("[accounts] %s for user %s hit a version conflict (attempt %d/%d)", op.Name, userID, attempt, maxUpdateAttempts)
	}
	return models.User{}, lastErr
}

func (s *Service) Subscribe(ctx context.Context, userID string, req engine.SubscribeRequest) (models.User, error) {
	return s.Apply(ctx, userID, engine.SubscribeOp(req))
}

func (s *Service) Cancel(ctx context.Context, userID, bundleID string) (models.User, error) {
	return s.Apply(ctx, userID, engine.CancelOp(bundleID))
}

func (s *Service) Pause(ctx context.Context, userID, bundleID string, days int) (models.User, error) {
	return s.Apply(ctx, userID, engine.PauseOp(bundleID, days))
}

func (s *Service) Resume(ctx context.Context, userID, bundleID string) (models.User, error) {
	return s.Apply(ctx, userID, engine.ResumeOp(bundleID))
}

func (s *Service) Renew(ctx context.Context, userID, bundleID string, paymentSucceeded bool) (models.User, error) {
	return s.Apply(ctx, userID, engine.RenewOp(bundleID, paymentSucceeded))
}

func (s *Service) Redeem(ctx context.Context, userID string, amount float64) (models.User, error) {
	return s.Apply(ctx, userID, engine.RedeemOp(amount))
}

func (s *Service) Claim(ctx context.Context, userID, perkID string) (models.User, error) {
	return s.Apply(ctx, userID, engine.ClaimOp(perkID))
}

// Refresh recomputes derived state without any other change.
func (s *Service) Refresh(ctx context.Context, userID string) (models.User, error) {
	return s.Apply(ctx, userID, engine.RefreshOp())
}

// Accrue resumes elapsed pauses and accrues credits for period. Repeated
// calls for the same period leave the balance untouched.
func (s *Service) Accrue(ctx context.Context, userID, period string) (models.User, error) {
	return s.Apply(ctx, userID, engine.AccrualOp(period))
}

// AdminAdjust sets targetID's available balance. The engine rejects
// non-admin actors.
func (s *Service) AdminAdjust(ctx context.Context, actor models.User, targetID string, newBalance float64) (models.User, error) {
	return s.Apply(ctx, targetID, engine.AdminAdjustOp(actor, newBalance))
}

// Me returns the stored record for userID.
func (s *Service) Me(ctx context.Context, userID string) (models.User, error) {
	if userID == "" {
		return models.User{}, engine.ErrNotAuthenticated
	}
	return s.store.GetUser(ctx, userID)
}

// Register returns the record for id, creating an unverified one when none
// exists. The boolean reports whether a record was created.
func (s *Service) Register(ctx context.Context, id, email string) (models.User, bool, error) {
	if id == "" {
		return models.User{}, false, engine.ErrNotAuthenticated
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	existing, err := s.store.GetUser(ctx, id)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, engine.ErrUserNotFound) {
		return models.User{}, false, err
	}

	u, err := s.store.CreateUser(ctx, models.User{
		ID:                 id,
		Email:              email,
		Role:               models.RoleUser,
		Status:             models.AccountActive,
		RegistrationDate:   s.engine.Now(),
		SubscriptionStatus: models.UserSubscriptionNone,
	})
	if err != nil {
		return models.User{}, false, err
	}
	log.Printf("[accounts] registered user %s", id)
	return u, true, nil
}

// Verify marks userID's email as verified. Admin only.
func (s *Service) Verify(ctx context.Context, actor models.User, userID string) (models.User, error) {
	if actor.Role != models.RoleAdmin {
		return models.User{}, engine.ErrUnauthorized
	}
	return s.Apply(ctx, userID, engine.Operation{
		Name: opVerify,
		Run: func(_ context.Context, _ *engine.Engine, u models.User) (models.User, error) {
			u.IsVerified = true
			return u, nil
		},
	})
}

// Progress reports how close userID is to unlocking perkID.
func (s *Service) Progress(ctx context.Context, userID, perkID string) (engine.PerkProgress, error) {
	u, err := s.Me(ctx, userID)
	if err != nil {
		return engine.PerkProgress{}, err
	}
	perk, err := s.engine.Perks().GetPerk(ctx, perkID)
	if err != nil {
		return engine.PerkProgress{}, err
	}
	return s.engine.Progress(ctx, u, perk), nil
}

// PerkStats counts unlocks and redemptions of perkID. Admin only.
func (s *Service) PerkStats(ctx context.Context, actor models.User, perkID string) (engine.PerkStats, error) {
	if actor.Role != models.RoleAdmin {
		return engine.PerkStats{}, engine.ErrUnauthorized
	}
	if _, err := s.engine.Perks().GetPerk(ctx, perkID); err != nil {
		return engine.PerkStats{}, err
	}
	users, err := s.store.ListUsersWithPerk(ctx, perkID)
	if err != nil {
		return engine.PerkStats{}, fmt.Errorf("list users with perk: %w", err)
	}
	return engine.RedemptionStats(users, perkID), nil
}

func (s *Service) editor(actor models.User) (catalog.PerkEditor, error) {
	if actor.Role != models.RoleAdmin {
		return nil, engine.ErrUnauthorized
	}
	if s.perks == nil {
		return nil, catalog.ErrReadOnly
	}
	return s.perks, nil
}

// AddPerk adds a perk to the catalog and schedules a perk refresh for every
// active user. Admin only.
func (s *Service) AddPerk(ctx context.Context, actor models.User, p models.Perk) (models.Perk, error) {
	ed, err := s.editor(actor)
	if err != nil {
		return models.Perk{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := catalog.ValidatePerk(p); err != nil {
		return models.Perk{}, fmt.Errorf("%w: %v", ErrInvalidPerk, err)
	}

	added, err := ed.AddPerk(ctx, p)
	if err != nil {
		return models.Perk{}, err
	}
	log.Printf("[accounts] admin %s added perk %s", actor.ID, added.ID)
	s.schedulePerkRefresh(ctx)
	return added, nil
}

// UpdatePerk replaces a catalog perk. Statuses already unlocked keep the
// delivery captured at unlock time. Admin only.
func (s *Service) UpdatePerk(ctx context.Context, actor models.User, p models.Perk) (models.Perk, error) {
	ed, err := s.editor(actor)
	if err != nil {
		return models.Perk{}, err
	}
	if err := catalog.ValidatePerk(p); err != nil {
		return models.Perk{}, fmt.Errorf("%w: %v", ErrInvalidPerk, err)
	}

	updated, err := ed.UpdatePerk(ctx, p)
	if err != nil {
		return models.Perk{}, err
	}
	log.Printf("[accounts] admin %s updated perk %s", actor.ID, updated.ID)
	s.schedulePerkRefresh(ctx)
	return updated, nil
}

// DeletePerk removes a perk from the catalog and from every stored user
// record. Admin only.
func (s *Service) DeletePerk(ctx context.Context, actor models.User, perkID string) (int64, error) {
	ed, err := s.editor(actor)
	if err != nil {
		return 0, err
	}
	if err := ed.DeletePerk(ctx, perkID); err != nil {
		return 0, err
	}
	n, err := s.store.RemovePerkFromUsers(ctx, perkID)
	if err != nil {
		return 0, fmt.Errorf("remove perk from users: %w", err)
	}
	log.Printf("[accounts] admin %s deleted perk %s (%d user records cleaned)", actor.ID, perkID, n)
	return n, nil
}

// EnqueueAccrual queues one credit_accrual job per active user for period.
// Jobs already queued for the same user and period are skipped.
func (s *Service) EnqueueAccrual(ctx context.Context, period string) (int, error) {
	return s.enqueueForActiveUsers(ctx, models.JobCreditAccrual, func(userID string) *models.Job {
		return &models.Job{
			JobType:   models.JobCreditAccrual,
			DedupeKey: fmt.Sprintf("%s:%s:%s", models.JobCreditAccrual, userID, period),
			Payload:   models.JSONB{"user_id": userID, "period": period},
		}
	})
}

// EnqueuePerkRefresh queues one perk_refresh job per active user.
func (s *Service) EnqueuePerkRefresh(ctx context.Context) (int, error) {
	batch := uuid.NewString()
	return s.enqueueForActiveUsers(ctx, models.JobPerkRefresh, func(userID string) *models.Job {
		return &models.Job{
			JobType:   models.JobPerkRefresh,
			DedupeKey: fmt.Sprintf("%s:%s:%s", models.JobPerkRefresh, batch, userID),
			Payload:   models.JSONB{"user_id": userID},
		}
	})
}

func (s *Service) schedulePerkRefresh(ctx context.Context) {
	if s.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if _, err := s.EnqueuePerkRefresh(ctx); err != nil {
		log.Printf("[accounts] failed to schedule perk refresh: %v", err)
	}
}

func (s *Service) enqueueForActiveUsers(ctx context.Context, jobType string, build func(userID string) *models.Job) (int, error) {
	if s.jobs == nil {
		return 0, errors.New("accounts: no job queue configured")
	}

	ids, err := s.store.ListActiveUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active users: %w", err)
	}

	inserted := make([]bool, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enqueueParallel)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			ok, err := s.jobs.Enqueue(gctx, build(id))
			if err != nil {
				return fmt.Errorf("enqueue %s for %s: %w", jobType, id, err)
			}
			inserted[i] = ok
			return nil
		})
	}
	err = g.Wait()

	n := 0
	for _, ok := range inserted {
		if ok {
			n++
		}
	}
	if s.onEnqueue != nil {
		s.onEnqueue(jobType, n)
	}
	if err != nil {
		return n, err
	}
	log.Printf("[accounts] enqueued %d %s jobs for %d active users", n, jobType, len(ids))
	return n, nil
}
