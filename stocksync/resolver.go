package stocksync

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
	"github.com/sirupsen/logrus"
)

// HandleSource tags where a resolved handle came from. The resolver tries
// the providers strictly in this order and logs the provenance of every
// self-heal, so "why did this sku resolve" is always answerable.
type HandleSource string

const (
	HandleSourceCatalog    HandleSource = "catalog"
	HandleSourceIndexCache HandleSource = "index-cache"
	HandleSourceLiveIndex  HandleSource = "live-index"
)

const wmsIndexCacheKey = "stocksync:wms-index"

type productIndex struct {
	BySku     map[string]string `json:"by_sku"`
	ByBarcode map[string]string `json:"by_barcode"`
}

// IndexCache persists the bulk product index between invocations of one sync
// cycle, so a monitor-resumed batch does not refetch the whole index.
type IndexCache interface {
	Get(ctx context.Context) (*productIndex, bool)
	Set(ctx context.Context, idx *productIndex)
	Drop(ctx context.Context)
}

// RedisIndexCache is the production IndexCache. Every method degrades to a
// miss/no-op when Redis is unavailable; the resolver then falls through to a
// live index fetch.
type RedisIndexCache struct {
	TTL time.Duration
}

func (c RedisIndexCache) Get(ctx context.Context) (*productIndex, bool) {
	var idx productIndex
	ok, err := config.GetRedisObject(wmsIndexCacheKey, &idx)
	if err != nil || !ok || idx.BySku == nil {
		return nil, false
	}
	return &idx, true
}

func (c RedisIndexCache) Set(ctx context.Context, idx *productIndex) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	_ = config.SetRedisObject(wmsIndexCacheKey, idx, ttl)
}

func (c RedisIndexCache) Drop(ctx context.Context) {
	_ = config.RemoveRedisKey(wmsIndexCacheKey)
}

// IdentifierResolver maps warehouse SKUs to the source system's opaque
// product handles. Handles already cached on the catalog entry are trusted;
// misses self-heal against a bulk product index fetched at most once per
// invocation (and reused across invocations via the IndexCache), never one
// network round trip per missing sku.
type IdentifierResolver struct {
	source  InventorySource
	catalog CatalogStore
	cache   IndexCache
	retry   RetryPolicy
	log     *logrus.Logger

	mu     sync.Mutex
	index  *productIndex
	loaded bool
}

func NewIdentifierResolver(source InventorySource, catalog CatalogStore, cache IndexCache, retry RetryPolicy, log *logrus.Logger) *IdentifierResolver {
	return &IdentifierResolver{
		source:  source,
		catalog: catalog,
		cache:   cache,
		retry:   retry,
		log:     log,
	}
}

// Invalidate drops the in-memory and cached index. Called at session start
// so a fresh cycle sees a fresh product universe.
func (r *IdentifierResolver) Invalidate(ctx context.Context) {
	r.mu.Lock()
	r.index = nil
	r.loaded = false
	r.mu.Unlock()
	if r.cache != nil {
		r.cache.Drop(ctx)
	}
}

// ResolveEntry resolves a catalog entry's own warehouse handle, persisting a
// self-healed handle back onto the entry. Persistence failures degrade to
// "use the handle for this cycle only" and never fail the resolution.
func (r *IdentifierResolver) ResolveEntry(ctx context.Context, entry *models.CatalogEntry) (string, HandleSource, error) {
	if strings.TrimSpace(entry.WarehouseHandle) != "" {
		return entry.WarehouseHandle, HandleSourceCatalog, nil
	}

	handle, source, err := r.lookup(ctx, entry.WarehouseSku)
	if err != nil {
		return "", source, err
	}

	if persistErr := r.catalog.SetWarehouseHandle(ctx, entry, handle); persistErr != nil {
		r.log.WithFields(r.logFields(ctx, logrus.Fields{
			"sku": entry.WarehouseSku,
		})).Warn("self-healed handle could not be persisted; using it for this cycle only: " + persistErr.Error())
		entry.WarehouseHandle = handle
	}
	r.log.WithFields(r.logFields(ctx, logrus.Fields{
		"sku":    entry.WarehouseSku,
		"source": string(source),
	})).Info("self-healed warehouse handle")
	return handle, source, nil
}

// logFields stamps resolver log lines with the session they ran under, when
// one is on the context.
func (r *IdentifierResolver) logFields(ctx context.Context, fields logrus.Fields) logrus.Fields {
	fields["module"] = "stocksync"
	if sessionId, ok := utils.GetSessionIdFromContext(ctx); ok {
		fields["session_id"] = sessionId
	}
	return fields
}

// ResolveSku resolves an arbitrary warehouse sku (bundle components have no
// catalog row of their own) through the same provider chain.
func (r *IdentifierResolver) ResolveSku(ctx context.Context, sku string) (string, HandleSource, error) {
	return r.lookup(ctx, sku)
}

func (r *IdentifierResolver) lookup(ctx context.Context, sku string) (string, HandleSource, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return "", "", errors.New("sku is empty")
	}

	idx, source, err := r.ensureIndex(ctx)
	if err != nil {
		return "", source, err
	}
	if handle, ok := idx.BySku[sku]; ok && handle != "" {
		return handle, source, nil
	}
	// Some products are keyed by barcode in the source system.
	if handle, ok := idx.ByBarcode[sku]; ok && handle != "" {
		return handle, source, nil
	}
	return "", source, ErrNotFound
}

func (r *IdentifierResolver) ensureIndex(ctx context.Context) (*productIndex, HandleSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded && r.index != nil {
		return r.index, HandleSourceIndexCache, nil
	}

	if r.cache != nil {
		if idx, ok := r.cache.Get(ctx); ok {
			r.index = idx
			r.loaded = true
			return idx, HandleSourceIndexCache, nil
		}
	}

	var products []SourceProduct
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		products, ferr = r.source.ListProducts(ctx)
		return ferr
	})
	if err != nil {
		return nil, HandleSourceLiveIndex, err
	}

	idx := &productIndex{
		BySku:     make(map[string]string, len(products)),
		ByBarcode: make(map[string]string, len(products)),
	}
	for _, p := range products {
		if p.Handle == "" {
			continue
		}
		if sku := strings.TrimSpace(p.Sku); sku != "" {
			idx.BySku[sku] = p.Handle
		}
		if barcode := strings.TrimSpace(p.Barcode); barcode != "" {
			idx.ByBarcode[barcode] = p.Handle
		}
	}

	r.index = idx
	r.loaded = true
	if r.cache != nil {
		r.cache.Set(ctx, idx)
	}
	return idx, HandleSourceLiveIndex, nil
}
