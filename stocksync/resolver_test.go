package stocksync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
)

func newTestResolver(source *fakeSource, catalog *memCatalogStore, cache IndexCache) *IdentifierResolver {
	return NewIdentifierResolver(source, catalog, cache, testRetry(), testLogger())
}

func TestResolveEntry_CatalogHandleSkipsSource(t *testing.T) {
	source := newFakeSource()
	catalog := &memCatalogStore{}
	resolver := newTestResolver(source, catalog, nil)

	entry := &models.CatalogEntry{ID: 1, WarehouseSku: "SKU-A", WarehouseHandle: "cached-handle"}
	handle, from, err := resolver.ResolveEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("ResolveEntry error: %v", err)
	}
	if handle != "cached-handle" || from != HandleSourceCatalog {
		t.Fatalf("expected cached-handle from catalog, got %s from %s", handle, from)
	}
	if source.listCalls != 0 {
		t.Fatalf("a cached handle must not hit the source, got %d list calls", source.listCalls)
	}
}

func TestResolveEntry_SelfHealsAndPersists(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-handle-a", 10)
	catalog := &memCatalogStore{}
	resolver := newTestResolver(source, catalog, nil)

	entry := &models.CatalogEntry{ID: 1, WarehouseSku: "SKU-A"}
	handle, from, err := resolver.ResolveEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("ResolveEntry error: %v", err)
	}
	if handle != "wms-handle-a" || from != HandleSourceLiveIndex {
		t.Fatalf("expected wms-handle-a from live-index, got %s from %s", handle, from)
	}
	if catalog.warehouseHandleWrites != 1 {
		t.Fatalf("expected the healed handle persisted once, got %d writes", catalog.warehouseHandleWrites)
	}
	if entry.WarehouseHandle != "wms-handle-a" {
		t.Fatalf("expected the entry updated in place, got %q", entry.WarehouseHandle)
	}
}

func TestResolveEntry_OneIndexFetchPerCycle(t *testing.T) {
	source := newFakeSource()
	for i := 0; i < 5; i++ {
		source.addProduct(fmt.Sprintf("SKU-%d", i), fmt.Sprintf("wms-%d", i), 10)
	}
	resolver := newTestResolver(source, &memCatalogStore{}, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		entry := &models.CatalogEntry{ID: uint(i + 1), WarehouseSku: fmt.Sprintf("SKU-%d", i)}
		if _, _, err := resolver.ResolveEntry(ctx, entry); err != nil {
			t.Fatalf("ResolveEntry(%d) error: %v", i, err)
		}
	}
	if source.listCalls != 1 {
		t.Fatalf("expected one bulk index fetch for 5 misses, got %d", source.listCalls)
	}
}

func TestResolveSku_FallsBackToBarcode(t *testing.T) {
	source := newFakeSource()
	source.products = append(source.products, SourceProduct{Sku: "IRRELEVANT", Barcode: "4006381333931", Handle: "wms-barcode"})
	resolver := newTestResolver(source, &memCatalogStore{}, nil)

	handle, _, err := resolver.ResolveSku(context.Background(), "4006381333931")
	if err != nil {
		t.Fatalf("ResolveSku error: %v", err)
	}
	if handle != "wms-barcode" {
		t.Fatalf("expected barcode match wms-barcode, got %s", handle)
	}
}

func TestResolveSku_UnknownSkuIsNotFound(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 10)
	resolver := newTestResolver(source, &memCatalogStore{}, nil)

	_, _, err := resolver.ResolveSku(context.Background(), "SKU-MISSING")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveEntry_PersistFailureDegradesToCycleOnly(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 10)
	catalog := &memCatalogStore{setHandleErr: models.ErrCatalogVersionConflict}
	resolver := newTestResolver(source, catalog, nil)

	entry := &models.CatalogEntry{ID: 1, WarehouseSku: "SKU-A"}
	handle, _, err := resolver.ResolveEntry(context.Background(), entry)
	if err != nil {
		t.Fatalf("a persistence conflict must not fail resolution: %v", err)
	}
	if handle != "wms-a" || entry.WarehouseHandle != "wms-a" {
		t.Fatalf("expected the handle usable for this cycle, got %s / %s", handle, entry.WarehouseHandle)
	}
}

func TestEnsureIndex_ReusesCachedIndexAcrossResolvers(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 10)
	cache := &memIndexCache{}

	first := newTestResolver(source, &memCatalogStore{}, cache)
	if _, _, err := first.ResolveSku(context.Background(), "SKU-A"); err != nil {
		t.Fatalf("first resolve error: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected the live index stored in the cache, got %d sets", cache.sets)
	}

	// A second resolver simulates a fresh invocation resuming the cycle.
	second := newTestResolver(source, &memCatalogStore{}, cache)
	handle, from, err := second.ResolveSku(context.Background(), "SKU-A")
	if err != nil {
		t.Fatalf("second resolve error: %v", err)
	}
	if from != HandleSourceIndexCache || handle != "wms-a" {
		t.Fatalf("expected an index-cache hit, got %s from %s", handle, from)
	}
	if source.listCalls != 1 {
		t.Fatalf("cached index must avoid a second live fetch, got %d list calls", source.listCalls)
	}
}

func TestInvalidate_ForcesFreshIndex(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 10)
	cache := &memIndexCache{}
	resolver := newTestResolver(source, &memCatalogStore{}, cache)

	ctx := context.Background()
	if _, _, err := resolver.ResolveSku(ctx, "SKU-A"); err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	resolver.Invalidate(ctx)
	if _, _, err := resolver.ResolveSku(ctx, "SKU-A"); err != nil {
		t.Fatalf("resolve after invalidate error: %v", err)
	}
	if source.listCalls != 2 {
		t.Fatalf("expected a fresh fetch after Invalidate, got %d list calls", source.listCalls)
	}
}
