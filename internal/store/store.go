package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const defaultPageSize = 200

// ErrVersionConflict is returned when a user row changed between read and write.
var ErrVersionConflict = errors.New("user record was modified concurrently")

// Store provides database-backed access to user records.
type Store struct {
	db *sql.DB
}

// New creates a Store using the provided sql.DB connection.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

const userColumns = `id, email, full_name, role, is_verified, status, registration_date,
  subscription_status, total_credits_earned, credits_available, credits_redeemed,
  last_credit_update, last_accrual_period, active_subscriptions, unlocked_perks, version`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (models.User, error) {
	var (
		u          models.User
		fullName   sql.NullString
		lastUpdate sql.NullTime
		period     sql.NullString
		subsJSON   []byte
		perksJSON  []byte
	)
	if err := row.Scan(
		&u.ID, &u.Email, &fullName, &u.Role, &u.IsVerified, &u.Status, &u.RegistrationDate,
		&u.SubscriptionStatus, &u.TotalCreditsEarned, &u.CreditsAvailable, &u.CreditsRedeemed,
		&lastUpdate, &period, &subsJSON, &perksJSON, &u.Version,
	); err != nil {
		return models.User{}, err
	}

	u.FullName = fullName.String
	u.LastAccrualPeriod = period.String
	if lastUpdate.Valid {
		t := lastUpdate.Time
		u.LastCreditUpdateTimestamp = &t
	}
	if len(subsJSON) > 0 {
		if err := json.Unmarshal(subsJSON, &u.ActiveSubscriptions); err != nil {
			return models.User{}, fmt.Errorf("unmarshal active_subscriptions: %w", err)
		}
	}
	if len(perksJSON) > 0 {
		if err := json.Unmarshal(perksJSON, &u.UnlockedPerks); err != nil {
			return models.User{}, fmt.Errorf("unmarshal unlocked_perks: %w", err)
		}
	}
	return u, nil
}

func marshalList(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

// GetUser loads one user record.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%w: %s", engine.ErrUserNotFound, id)
		}
		return models.User{}, fmt.Errorf("store: get user: %w", err)
	}
	return u, nil
}

// ListUsers returns up to limit user records ordered by registration date.
func (s *Store) ListUsers(ctx context.Context, limit int) ([]models.User, error) {
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}

	query := `SELECT ` + userColumns + ` FROM users ORDER BY registration_date ASC, id ASC LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate users: %w", err)
	}
	return users, nil
}

// ListUsersWithPerk returns every user that has a status entry for perkID.
func (s *Store) ListUsersWithPerk(ctx context.Context, perkID string) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
WHERE unlocked_perks @> jsonb_build_array(jsonb_build_object('perk_id', $1::text))
ORDER BY id ASC`
	rows, err := s.db.QueryContext(ctx, query, perkID)
	if err != nil {
		return nil, fmt.Errorf("store: list users with perk: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListActiveUserIDs returns ids of users whose account is active, for
// periodic accrual.
func (s *Store) ListActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE status = 'active' ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateUser inserts a new user record with version 1.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	subs, err := marshalList(u.ActiveSubscriptions)
	if err != nil {
		return models.User{}, fmt.Errorf("store: marshal subscriptions: %w", err)
	}
	perks, err := marshalList(u.UnlockedPerks)
	if err != nil {
		return models.User{}, fmt.Errorf("store: marshal perks: %w", err)
	}
	if u.RegistrationDate.IsZero() {
		u.RegistrationDate = time.Now().UTC()
	}

	query := `INSERT INTO users (id, email, full_name, role, is_verified, status, registration_date,
  subscription_status, total_credits_earned, credits_available, credits_redeemed,
  last_credit_update, last_accrual_period, active_subscriptions, unlocked_perks, version)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, 1)`

	if _, err := s.db.ExecContext(ctx, query,
		u.ID, u.Email, u.FullName, u.Role, u.IsVerified, u.Status, u.RegistrationDate,
		u.SubscriptionStatus, u.TotalCreditsEarned, u.CreditsAvailable, u.CreditsRedeemed,
		u.LastCreditUpdateTimestamp, nullIfEmpty(u.LastAccrualPeriod), subs, perks,
	); err != nil {
		return models.User{}, fmt.Errorf("store: create user: %w", err)
	}
	u.Version = 1
	return u, nil
}

// UpdateUser loads the user row under SELECT ... FOR UPDATE, passes it to fn
// and writes fn's result back in the same transaction. The row version guards
// against writers that bypass the lock. fn's error aborts the transaction and
// is returned unwrapped.
func (s *Store) UpdateUser(ctx context.Context, id string, fn func(models.User) (models.User, error)) (models.User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, fmt.Errorf("store: begin update user tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	current, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, fmt.Errorf("%w: %s", engine.ErrUserNotFound, id)
		}
		return models.User{}, fmt.Errorf("store: lock user: %w", err)
	}

	updated, err := fn(current)
	if err != nil {
		return current, err
	}

	subs, err := marshalList(updated.ActiveSubscriptions)
	if err != nil {
		return current, fmt.Errorf("store: marshal subscriptions: %w", err)
	}
	perks, err := marshalList(updated.UnlockedPerks)
	if err != nil {
		return current, fmt.Errorf("store: marshal perks: %w", err)
	}

	query := `UPDATE users
SET subscription_status = $3,
    total_credits_earned = $4,
    credits_available = $5,
    credits_redeemed = $6,
    last_credit_update = $7,
    last_accrual_period = $8,
    active_subscriptions = $9,
    unlocked_perks = $10,
    is_verified = $11,
    status = $12,
    version = version + 1,
    updated_at = NOW()
WHERE id = $1 AND version = $2`

	res, err := tx.ExecContext(ctx, query,
		id, current.Version,
		updated.SubscriptionStatus, updated.TotalCreditsEarned, updated.CreditsAvailable, updated.CreditsRedeemed,
		updated.LastCreditUpdateTimestamp, nullIfEmpty(updated.LastAccrualPeriod), subs, perks,
		updated.IsVerified, updated.Status,
	)
	if err != nil {
		return current, fmt.Errorf("store: update user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return current, fmt.Errorf("store: update user %s: %w", id, ErrVersionConflict)
	}

	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("store: commit update user: %w", err)
	}
	updated.Version = current.Version + 1
	return updated, nil
}

// RemovePerkFromUsers drops the status entry for perkID from every user
// record. It returns the number of users changed.
func (s *Store) RemovePerkFromUsers(ctx context.Context, perkID string) (int64, error) {
	query := `UPDATE users
SET unlocked_perks = COALESCE(
      (SELECT jsonb_agg(e) FROM jsonb_array_elements(unlocked_perks) e WHERE e->>'perk_id' <> $1),
      '[]'::jsonb),
    version = version + 1,
    updated_at = NOW()
WHERE unlocked_perks @> jsonb_build_array(jsonb_build_object('perk_id', $1::text))`

	res, err := s.db.ExecContext(ctx, query, perkID)
	if err != nil {
		return 0, fmt.Errorf("store: remove perk from users: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func nullIfEmpty(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
