package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// CatalogStore provides database operations for the bundle and perk catalog.
// Listings are ordered by insertion position.
type CatalogStore struct {
	db *sql.DB
}

// NewCatalogStore creates a new CatalogStore instance
func NewCatalogStore(db *sql.DB) (*CatalogStore, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &CatalogStore{db: db}, nil
}

const bundleColumns = `id, name, description, bundle_price, annual_price_multiplier, provider_email, services`

func scanBundle(row rowScanner) (models.Bundle, error) {
	var (
		b            models.Bundle
		description  sql.NullString
		multiplier   sql.NullFloat64
		provider     sql.NullString
		servicesJSON []byte
	)
	if err := row.Scan(&b.ID, &b.Name, &description, &b.BundlePrice, &multiplier, &provider, &servicesJSON); err != nil {
		return models.Bundle{}, err
	}
	b.Description = description.String
	b.ProviderEmail = provider.String
	if multiplier.Valid {
		m := multiplier.Float64
		b.AnnualPriceMultiplier = &m
	}
	if len(servicesJSON) > 0 {
		if err := json.Unmarshal(servicesJSON, &b.Services); err != nil {
			return models.Bundle{}, fmt.Errorf("unmarshal services: %w", err)
		}
	}
	return b, nil
}

// GetBundle returns one bundle.
func (s *CatalogStore) GetBundle(ctx context.Context, id string) (models.Bundle, error) {
	b, err := scanBundle(s.db.QueryRowContext(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Bundle{}, fmt.Errorf("%w: %s", engine.ErrBundleNotFound, id)
		}
		return models.Bundle{}, fmt.Errorf("get bundle: %w", err)
	}
	return b, nil
}

// ListBundles returns all bundles.
func (s *CatalogStore) ListBundles(ctx context.Context) ([]models.Bundle, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bundleColumns+` FROM bundles ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer rows.Close()

	var bundles []models.Bundle
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bundle: %w", err)
		}
		bundles = append(bundles, b)
	}
	return bundles, rows.Err()
}

// UpsertBundle inserts or replaces a bundle, keeping its position.
func (s *CatalogStore) UpsertBundle(ctx context.Context, b models.Bundle) error {
	services, err := marshalList(b.Services)
	if err != nil {
		return fmt.Errorf("marshal services: %w", err)
	}

	query := `
		INSERT INTO bundles (id, name, description, bundle_price, annual_price_multiplier, provider_email, services)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    bundle_price = EXCLUDED.bundle_price,
		    annual_price_multiplier = EXCLUDED.annual_price_multiplier,
		    provider_email = EXCLUDED.provider_email,
		    services = EXCLUDED.services,
		    updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query,
		b.ID, b.Name, b.Description, b.BundlePrice, b.AnnualPriceMultiplier, b.ProviderEmail, services,
	); err != nil {
		return fmt.Errorf("upsert bundle: %w", err)
	}
	return nil
}

const perkColumns = `id, title, partner_id, description, category, unlock_criteria, delivery, expiry_date, active_status`

func scanPerk(row rowScanner) (models.Perk, error) {
	var (
		p            models.Perk
		description  sql.NullString
		category     sql.NullString
		criteriaJSON []byte
		deliveryJSON []byte
		expiry       sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Title, &p.PartnerID, &description, &category,
		&criteriaJSON, &deliveryJSON, &expiry, &p.ActiveStatus); err != nil {
		return models.Perk{}, err
	}
	p.Description = description.String
	p.Category = category.String
	if expiry.Valid {
		t := expiry.Time
		p.ExpiryDate = &t
	}
	if len(criteriaJSON) > 0 {
		if err := json.Unmarshal(criteriaJSON, &p.UnlockCriteria); err != nil {
			return models.Perk{}, fmt.Errorf("unmarshal unlock_criteria: %w", err)
		}
	}
	if len(deliveryJSON) > 0 {
		if err := json.Unmarshal(deliveryJSON, &p.Delivery); err != nil {
			return models.Perk{}, fmt.Errorf("unmarshal delivery: %w", err)
		}
	}
	return p, nil
}

// GetPerk returns one perk.
func (s *CatalogStore) GetPerk(ctx context.Context, id string) (models.Perk, error) {
	p, err := scanPerk(s.db.QueryRowContext(ctx, `SELECT `+perkColumns+` FROM perks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Perk{}, fmt.Errorf("%w: %s", engine.ErrPerkNotFound, id)
		}
		return models.Perk{}, fmt.Errorf("get perk: %w", err)
	}
	return p, nil
}

// ListPerks returns all perks, active or not.
func (s *CatalogStore) ListPerks(ctx context.Context) ([]models.Perk, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+perkColumns+` FROM perks ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("list perks: %w", err)
	}
	defer rows.Close()

	var perks []models.Perk
	for rows.Next() {
		p, err := scanPerk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan perk: %w", err)
		}
		perks = append(perks, p)
	}
	return perks, rows.Err()
}

func perkArgs(p models.Perk) ([]any, error) {
	criteria, err := marshalList(p.UnlockCriteria)
	if err != nil {
		return nil, fmt.Errorf("marshal unlock_criteria: %w", err)
	}
	delivery, err := json.Marshal(p.Delivery)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery: %w", err)
	}
	return []any{p.ID, p.Title, p.PartnerID, p.Description, p.Category, criteria, delivery, p.ExpiryDate, p.ActiveStatus}, nil
}

// AddPerk inserts a perk, generating an id when none is set.
func (s *CatalogStore) AddPerk(ctx context.Context, p models.Perk) (models.Perk, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	args, err := perkArgs(p)
	if err != nil {
		return models.Perk{}, err
	}

	query := `
		INSERT INTO perks (id, title, partner_id, description, category, unlock_criteria, delivery, expiry_date, active_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return models.Perk{}, fmt.Errorf("add perk: %w", err)
	}
	return p, nil
}

// UpdatePerk replaces an existing perk.
func (s *CatalogStore) UpdatePerk(ctx context.Context, p models.Perk) (models.Perk, error) {
	args, err := perkArgs(p)
	if err != nil {
		return models.Perk{}, err
	}

	query := `
		UPDATE perks
		SET title = $2,
		    partner_id = $3,
		    description = $4,
		    category = $5,
		    unlock_criteria = $6,
		    delivery = $7,
		    expiry_date = $8,
		    active_status = $9,
		    updated_at = NOW()
		WHERE id = $1
	`
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Perk{}, fmt.Errorf("update perk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Perk{}, fmt.Errorf("%w: %s", engine.ErrPerkNotFound, p.ID)
	}
	return p, nil
}

// UpsertPerk inserts or replaces a perk. Used when seeding.
func (s *CatalogStore) UpsertPerk(ctx context.Context, p models.Perk) error {
	args, err := perkArgs(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO perks (id, title, partner_id, description, category, unlock_criteria, delivery, expiry_date, active_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
		    partner_id = EXCLUDED.partner_id,
		    description = EXCLUDED.description,
		    category = EXCLUDED.category,
		    unlock_criteria = EXCLUDED.unlock_criteria,
		    delivery = EXCLUDED.delivery,
		    expiry_date = EXCLUDED.expiry_date,
		    active_status = EXCLUDED.active_status,
		    updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert perk: %w", err)
	}
	return nil
}

// DeletePerk removes a perk from the catalog. User statuses referencing it
// are cleaned up separately by Store.RemovePerkFromUsers.
func (s *CatalogStore) DeletePerk(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM perks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete perk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", engine.ErrPerkNotFound, id)
	}
	return nil
}
