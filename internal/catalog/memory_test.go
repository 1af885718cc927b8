package catalog

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PortNumber53/onesub-engine/backend/internal/engine"
	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const seedYAML = `
bundles:
  - id: b-stream
    name: Streaming Bundle
    bundle_price: 30
    provider_email: partner@stream.example
    services:
      - id: s-video
        name: Video
        original_price: 18.99
      - id: s-music
        name: Music
        original_price: 14.99
  - id: b-work
    name: Work Bundle
    bundle_price: 22
    annual_price_multiplier: 0.9
perks:
  - id: p-two-subs
    title: Two subscriptions
    partner_id: partner-1
    active_status: true
    unlock_criteria:
      - type: MIN_SUBSCRIPTIONS_LINKED
        threshold: 2
        description: Link two subscriptions
    delivery:
      method: CODE
      value: TWO-SUBS
  - id: p-work
    title: Work perk
    partner_id: partner-2
    active_status: true
    unlock_criteria:
      - type: SPECIFIC_BUNDLE_SUBSCRIBED
        bundle_id: b-work
    delivery:
      method: LINK
      value: https://partner.example/claim
`

func TestParseSeed(t *testing.T) {
	seed, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)

	require.Len(t, seed.Bundles, 2)
	assert.Equal(t, "Streaming Bundle", seed.Bundles[0].Name)
	assert.InDelta(t, 33.98, seed.Bundles[0].OriginalTotal(), 1e-9)
	require.NotNil(t, seed.Bundles[1].AnnualPriceMultiplier)
	assert.InDelta(t, 237.60, seed.Bundles[1].AnnualPrice(), 1e-9)

	require.Len(t, seed.Perks, 2)
	assert.Equal(t, models.CriterionMinSubscriptionsLinked, seed.Perks[0].UnlockCriteria[0].Type)
	assert.Equal(t, 2.0, seed.Perks[0].UnlockCriteria[0].Threshold)
	assert.Equal(t, "b-work", seed.Perks[1].UnlockCriteria[0].BundleID)
}

func TestParseSeedRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"duplicate bundle": "bundles:\n  - id: a\n  - id: a\n",
		"missing perk id":  "perks:\n  - title: x\n    delivery: {method: LINK}\n",
		"unknown method":   "perks:\n  - id: p\n    title: x\n    delivery: {method: FAX}\n",
		"unknown criteria": "perks:\n  - id: p\n    title: x\n    delivery: {method: LINK}\n    unlock_criteria:\n      - type: REFERRALS\n",
		"unknown field":    "bundles:\n  - id: a\n    colour: red\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSeed(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseSeedEmptyDocument(t *testing.T) {
	seed, err := ParseSeed(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, seed.Bundles)
}

func TestMemoryLookups(t *testing.T) {
	seed, err := ParseSeed(strings.NewReader(seedYAML))
	require.NoError(t, err)
	m := NewMemory(seed)
	ctx := context.Background()

	b, err := m.GetBundle(ctx, "b-work")
	require.NoError(t, err)
	assert.Equal(t, "Work Bundle", b.Name)

	_, err = m.GetBundle(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrBundleNotFound)

	_, err = m.GetPerk(ctx, "nope")
	assert.ErrorIs(t, err, engine.ErrPerkNotFound)

	perks, err := m.ListPerks(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p-two-subs", perks[0].ID)
	assert.Equal(t, "p-work", perks[1].ID)
}

func TestMemoryPerkAdmin(t *testing.T) {
	m := NewMemory(Seed{})
	ctx := context.Background()

	added, err := m.AddPerk(ctx, models.Perk{
		Title:    "Coffee",
		Delivery: models.PerkDelivery{Method: models.DeliveryCode, Value: "COFFEE"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, added.ID)

	_, err = m.AddPerk(ctx, added)
	assert.Error(t, err)

	added.Title = "Better coffee"
	_, err = m.UpdatePerk(ctx, added)
	require.NoError(t, err)
	got, err := m.GetPerk(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, "Better coffee", got.Title)

	_, err = m.UpdatePerk(ctx, models.Perk{ID: "ghost", Title: "x", Delivery: models.PerkDelivery{Method: models.DeliveryLink}})
	assert.ErrorIs(t, err, engine.ErrPerkNotFound)

	require.NoError(t, m.DeletePerk(ctx, added.ID))
	assert.ErrorIs(t, m.DeletePerk(ctx, added.ID), engine.ErrPerkNotFound)

	perks, err := m.ListPerks(ctx)
	require.NoError(t, err)
	assert.Empty(t, perks)
}

func TestListReturnsCopies(t *testing.T) {
	m := NewMemory(Seed{Bundles: []models.Bundle{{ID: "a", Name: "A"}}})
	list, err := m.ListBundles(context.Background())
	require.NoError(t, err)
	list[0].Name = "changed"

	b, err := m.GetBundle(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", b.Name)
}
