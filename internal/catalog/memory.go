// Package catalog holds bundle and perk catalog implementations: an in-memory
// catalog seeded from YAML and a caching decorator for any backing catalog.
package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// Seed is the YAML document used to populate a catalog.
type Seed struct {
	Bundles []models.Bundle `yaml:"bundles"`
	Perks   []models.Perk   `yaml:"perks"`
}

// ParseSeed decodes and validates a YAML seed document.
func ParseSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil && err != io.EOF {
		return Seed{}, fmt.Errorf("catalog: decode seed: %w", err)
	}

	bundleIDs := make(map[string]bool, len(seed.Bundles))
	for _, b := range seed.Bundles {
		if strings.TrimSpace(b.ID) == "" {
			return Seed{}, fmt.Errorf("catalog: bundle %q has no id", b.Name)
		}
		if bundleIDs[b.ID] {
			return Seed{}, fmt.Errorf("catalog: duplicate bundle id %q", b.ID)
		}
		if b.BundlePrice < 0 {
			return Seed{}, fmt.Errorf("catalog: bundle %q has a negative price", b.ID)
		}
		bundleIDs[b.ID] = true
	}

	perkIDs := make(map[string]bool, len(seed.Perks))
	for _, p := range seed.Perks {
		if err := ValidatePerk(p); err != nil {
			return Seed{}, err
		}
		if perkIDs[p.ID] {
			return Seed{}, fmt.Errorf("catalog: duplicate perk id %q", p.ID)
		}
		perkIDs[p.ID] = true
	}
	return seed, nil
}

// LoadSeedFile reads a seed from path.
func LoadSeedFile(path string) (Seed, error) {
	f, err := os.Open(path)
	if err != nil {
		return Seed{}, fmt.Errorf("catalog: open seed: %w", err)
	}
	defer f.Close()
	return ParseSeed(f)
}

// ValidatePerk checks the fields a perk needs before it can be offered.
func ValidatePerk(p models.Perk) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("catalog: perk %q has no id", p.Title)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("catalog: perk %s has no title", p.ID)
	}
	switch p.Delivery.Method {
	case models.DeliveryLink, models.DeliveryCode, models.DeliveryManualEmail:
	default:
		return fmt.Errorf("catalog: perk %s has unknown delivery method %q", p.ID, p.Delivery.Method)
	}
	for _, c := range p.UnlockCriteria {
		switch c.Type {
		case models.CriterionSpecificBundleSubscribed:
			if c.BundleID == "" {
				return fmt.Errorf("catalog: perk %s: %s criterion needs a bundle id", p.ID, c.Type)
			}
		case models.CriterionMinSubscriptionsLinked, models.CriterionMinMonthlySpend, models.CriterionAccountAgeDays:
			if c.Threshold < 0 {
				return fmt.Errorf("catalog: perk %s: %s threshold must not be negative", p.ID, c.Type)
			}
		default:
			return fmt.Errorf("catalog: perk %s has unknown criterion type %q", p.ID, c.Type)
		}
	}
	return nil
}

// Memory is a mutex-guarded in-memory catalog. List results keep insertion
// order.
type Memory struct {
	mu      sync.RWMutex
	bundles []models.Bundle
	perks   []models.Perk
}

// NewMemory builds a catalog from a seed.
func NewMemory(seed Seed) *Memory {
	m := &Memory{}
	m.bundles = append(m.bundles, seed.Bundles...)
	m.perks = append(m.perks, seed.Perks...)
	return m
}

func (m *Memory) GetBundle(_ context.Context, id string) (models.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bundles {
		if b.ID == id {
			return b, nil
		}
	}
	return models.Bundle{}, fmt.Errorf("%w: %s", engine.ErrBundleNotFound, id)
}

func (m *Memory) ListBundles(_ context.Context) ([]models.Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Bundle(nil), m.bundles...), nil
}

func (m *Memory) GetPerk(_ context.Context, id string) (models.Perk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.perks {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Perk{}, fmt.Errorf("%w: %s", engine.ErrPerkNotFound, id)
}

func (m *Memory) ListPerks(_ context.Context) ([]models.Perk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Perk(nil), m.perks...), nil
}

// AddPerk appends a perk, assigning an id when none is set.
func (m *Memory) AddPerk(_ context.Context, p models.Perk) (models.Perk, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := ValidatePerk(p); err != nil {
		return models.Perk{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.perks {
		if existing.ID == p.ID {
			return models.Perk{}, fmt.Errorf("catalog: perk %s already exists", p.ID)
		}
	}
	m.perks = append(m.perks, p)
	return p, nil
}

// UpdatePerk replaces the perk with the same id, keeping its position.
func (m *Memory) UpdatePerk(_ context.Context, p models.Perk) (models.Perk, error) {
	if err := ValidatePerk(p); err != nil {
		return models.Perk{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.perks {
		if m.perks[i].ID == p.ID {
			m.perks[i] = p
			return p, nil
		}
	}
	return models.Perk{}, fmt.Errorf("%w: %s", engine.ErrPerkNotFound, p.ID)
}

// DeletePerk removes a perk from the catalog.
func (m *Memory) DeletePerk(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.perks {
		if m.perks[i].ID == id {
			m.perks = append(m.perks[:i], m.perks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", engine.ErrPerkNotFound, id)
}
