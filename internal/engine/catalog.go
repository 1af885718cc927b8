package engine

import (
	"context"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

// BundleCatalog is the read-only bundle repository. GetBundle returns an error
// wrapping ErrBundleNotFound for unknown ids.
type BundleCatalog interface {
	GetBundle(ctx context.Context, id string) (models.Bundle, error)
	ListBundles(ctx context.Context) ([]models.Bundle, error)
}

// PerkCatalog is the read-only perk repository. GetPerk returns an error
// wrapping ErrPerkNotFound for unknown ids. ListPerks returns perks in a
// stable order.
type PerkCatalog interface {
	GetPerk(ctx context.Context, id string) (models.Perk, error)
	ListPerks(ctx context.Context) ([]models.Perk, error)
}

// Notifier receives fire-and-forget notifications. Implementations must not
// block the caller and must swallow their own delivery failures.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification)
}
