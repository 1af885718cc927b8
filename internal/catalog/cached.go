package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/PortNumber53/onesub-engine/backend/internal/models"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute
)

// Source is a backing catalog for bundles and perks.
type Source interface {
	GetBundle(ctx context.Context, id string) (models.Bundle, error)
	ListBundles(ctx context.Context) ([]models.Bundle, error)
	GetPerk(ctx context.Context, id string) (models.Perk, error)
	ListPerks(ctx context.Context) ([]models.Perk, error)
}

// PerkEditor is implemented by catalogs that support admin perk changes.
type PerkEditor interface {
	AddPerk(ctx context.Context, p models.Perk) (models.Perk, error)
	UpdatePerk(ctx context.Context, p models.Perk) (models.Perk, error)
	DeletePerk(ctx context.Context, id string) error
}

// ErrReadOnly is returned by admin operations on a source without PerkEditor.
var ErrReadOnly = errors.New("catalog: source is read-only")

// CacheConfig configures a Cached catalog. Zero values use defaults.
type CacheConfig struct {
	Size int
	TTL  time.Duration
	// OnLookup, when set, is told whether each single-entry lookup was served
	// from cache. kind is "bundle" or "perk".
	OnLookup func(kind string, hit bool)
}

type cached[T any] struct {
	value    T
	storedAt time.Time
}

// Cached decorates a Source with an LRU cache for single-entry lookups and a
// TTL cache for full listings. Concurrent misses on the same key share one
// call to the source. Perk edits made through the decorator invalidate the
// cache.
type Cached struct {
	src      Source
	ttl      time.Duration
	onLookup func(string, bool)
	now      func() time.Time

	bundles *lru.Cache[string, cached[models.Bundle]]
	perks   *lru.Cache[string, cached[models.Perk]]
	group   singleflight.Group

	mu         sync.Mutex
	bundleList *cached[[]models.Bundle]
	perkList   *cached[[]models.Perk]
	// perkGen counts invalidations. A fetch started under an older
	// generation does not write its result back.
	perkGen uint64
}

// NewCached wraps src.
func NewCached(src Source, cfg CacheConfig) (*Cached, error) {
	if src == nil {
		return nil, errors.New("catalog: source cannot be nil")
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	bundles, err := lru.New[string, cached[models.Bundle]](cfg.Size)
	if err != nil {
		return nil, err
	}
	perks, err := lru.New[string, cached[models.Perk]](cfg.Size)
	if err != nil {
		return nil, err
	}
	return &Cached{
		src:      src,
		ttl:      cfg.TTL,
		onLookup: cfg.OnLookup,
		now:      time.Now,
		bundles:  bundles,
		perks:    perks,
	}, nil
}

func (c *Cached) fresh(storedAt time.Time) bool {
	return c.now().Sub(storedAt) < c.ttl
}

func (c *Cached) record(kind string, hit bool) {
	if c.onLookup != nil {
		c.onLookup(kind, hit)
	}
}

func (c *Cached) GetBundle(ctx context.Context, id string) (models.Bundle, error) {
	if e, ok := c.bundles.Get(id); ok && c.fresh(e.storedAt) {
		c.record("bundle", true)
		return e.value, nil
	}
	c.record("bundle", false)

	v, err, _ := c.group.Do("bundle:"+id, func() (any, error) {
		b, err := c.src.GetBundle(ctx, id)
		if err != nil {
			return nil, err
		}
		c.bundles.Add(id, cached[models.Bundle]{value: b, storedAt: c.now()})
		return b, nil
	})
	if err != nil {
		return models.Bundle{}, err
	}
	return v.(models.Bundle), nil
}

func (c *Cached) GetPerk(ctx context.Context, id string) (models.Perk, error) {
	if e, ok := c.perks.Get(id); ok && c.fresh(e.storedAt) {
		c.record("perk", true)
		return e.value, nil
	}
	c.record("perk", false)

	gen := c.perkGeneration()
	v, err, _ := c.group.Do(fmt.Sprintf("perk:%d:%s", gen, id), func() (any, error) {
		p, err := c.src.GetPerk(ctx, id)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.perkGen == gen {
			c.perks.Add(id, cached[models.Perk]{value: p, storedAt: c.now()})
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return models.Perk{}, err
	}
	return v.(models.Perk), nil
}

func (c *Cached) ListBundles(ctx context.Context) ([]models.Bundle, error) {
	c.mu.Lock()
	if l := c.bundleList; l != nil && c.fresh(l.storedAt) {
		out := append([]models.Bundle(nil), l.value...)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do("bundles", func() (any, error) {
		list, err := c.src.ListBundles(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.bundleList = &cached[[]models.Bundle]{value: list, storedAt: c.now()}
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.Bundle(nil), v.([]models.Bundle)...), nil
}

func (c *Cached) ListPerks(ctx context.Context) ([]models.Perk, error) {
	c.mu.Lock()
	if l := c.perkList; l != nil && c.fresh(l.storedAt) {
		out := append([]models.Perk(nil), l.value...)
		c.mu.Unlock()
		return out, nil
	}
	gen := c.perkGen
	c.mu.Unlock()

	v, err, _ := c.group.Do(fmt.Sprintf("perks:%d", gen), func() (any, error) {
		list, err := c.src.ListPerks(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.perkGen == gen {
			c.perkList = &cached[[]models.Perk]{value: list, storedAt: c.now()}
		}
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.Perk(nil), v.([]models.Perk)...), nil
}

// InvalidatePerks drops every cached perk entry and listing. Fetches already
// in flight still return to their callers but are not cached.
func (c *Cached) InvalidatePerks() {
	c.mu.Lock()
	c.perkGen++
	c.perks.Purge()
	c.perkList = nil
	c.mu.Unlock()
}

func (c *Cached) perkGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perkGen
}

func (c *Cached) editor() (PerkEditor, error) {
	ed, ok := c.src.(PerkEditor)
	if !ok {
		return nil, ErrReadOnly
	}
	return ed, nil
}

func (c *Cached) AddPerk(ctx context.Context, p models.Perk) (models.Perk, error) {
	ed, err := c.editor()
	if err != nil {
		return models.Perk{}, err
	}
	defer c.InvalidatePerks()
	return ed.AddPerk(ctx, p)
}

func (c *Cached) UpdatePerk(ctx context.Context, p models.Perk) (models.Perk, error) {
	ed, err := c.editor()
	if err != nil {
		return models.Perk{}, err
	}
	defer c.InvalidatePerks()
	return ed.UpdatePerk(ctx, p)
}

func (c *Cached) DeletePerk(ctx context.Context, id string) error {
	ed, err := c.editor()
	if err != nil {
		return err
	}
	defer c.InvalidatePerks()
	return ed.DeletePerk(ctx, id)
}
