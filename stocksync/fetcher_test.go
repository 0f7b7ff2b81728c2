package stocksync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestFetcher(source *fakeSource, inventory *memInventoryStore) *AvailabilityFetcher {
	resolver := newTestResolver(source, &memCatalogStore{}, nil)
	return NewAvailabilityFetcher(source, resolver, inventory, testRetry(), "main", testLogger())
}

func TestFetch_SumsIncludableBins(t *testing.T) {
	source := newFakeSource()
	source.products = []SourceProduct{{Sku: "SKU-A", Handle: "wms-a"}}
	expired := time.Now().Add(-time.Hour)
	future := time.Now().Add(24 * time.Hour)
	source.stock["wms-a"] = []BinStock{
		{Bin: "A1", Quantity: decimal.NewFromInt(5), Includable: true},
		{Bin: "A2", Quantity: decimal.NewFromInt(3), Includable: true, ExpiresAt: &future},
		{Bin: "DMG", Quantity: decimal.NewFromInt(7), Includable: false},
		{Bin: "EXP", Quantity: decimal.NewFromInt(9), Includable: true, ExpiresAt: &expired},
	}

	outcome, err := newTestFetcher(source, newMemInventoryStore()).Fetch(context.Background(), []string{"SKU-A"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	got := outcome.Available["SKU-A"]
	if !got.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected 8 countable units (5+3), got %s", got)
	}
}

func TestFetch_PartialFailureKeepsBatchAlive(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 4)
	source.addProduct("SKU-B", "wms-b", 6)
	source.stockErr["wms-b"] = errors.New("bin service unavailable")

	outcome, err := newTestFetcher(source, newMemInventoryStore()).Fetch(context.Background(), []string{"SKU-A", "SKU-B"})
	if err != nil {
		t.Fatalf("a partial failure must not fail the batch: %v", err)
	}
	if _, ok := outcome.Available["SKU-A"]; !ok {
		t.Fatalf("SKU-A should have fetched")
	}
	if _, ok := outcome.Failed["SKU-B"]; !ok {
		t.Fatalf("SKU-B should be recorded as failed")
	}
	if _, ok := outcome.Available["SKU-B"]; ok {
		t.Fatalf("a failed sku must not appear in Available")
	}
}

func TestFetch_UnresolvableSkuFails(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 4)

	outcome, err := newTestFetcher(source, newMemInventoryStore()).Fetch(context.Background(), []string{"SKU-A", "SKU-GHOST"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if ferr, ok := outcome.Failed["SKU-GHOST"]; !ok || !errors.Is(ferr, ErrNotFound) {
		t.Fatalf("expected SKU-GHOST failed with ErrNotFound, got %v", ferr)
	}
}

func TestFetch_TotalFailureEscalates(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 4)
	source.addProduct("SKU-B", "wms-b", 6)
	source.stockErr["wms-a"] = errors.New("down")
	source.stockErr["wms-b"] = errors.New("down")

	outcome, err := newTestFetcher(source, newMemInventoryStore()).Fetch(context.Background(), []string{"SKU-A", "SKU-B"})
	if !errors.Is(err, ErrTotalBatchFailure) {
		t.Fatalf("expected ErrTotalBatchFailure, got %v", err)
	}
	if len(outcome.Failed) != 2 {
		t.Fatalf("expected both skus in Failed, got %d", len(outcome.Failed))
	}
}

func TestFetch_ZeroStockIsAvailableNotFailed(t *testing.T) {
	source := newFakeSource()
	source.products = []SourceProduct{{Sku: "SKU-A", Handle: "wms-a"}}
	source.stock["wms-a"] = []BinStock{}

	outcome, err := newTestFetcher(source, newMemInventoryStore()).Fetch(context.Background(), []string{"SKU-A"})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	got, ok := outcome.Available["SKU-A"]
	if !ok || !got.IsZero() {
		t.Fatalf("expected an explicit zero availability, got %s (present=%v)", got, ok)
	}
	if len(outcome.Failed) != 0 {
		t.Fatalf("zero stock is not a failure")
	}
}

func TestFetch_PersistsInventoryRecords(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 12)
	inventory := newMemInventoryStore()

	if _, err := newTestFetcher(source, inventory).Fetch(context.Background(), []string{"SKU-A"}); err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	record, ok := inventory.records["SKU-A|main"]
	if !ok {
		t.Fatalf("expected an inventory record for SKU-A at main")
	}
	if !record.Quantity.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("expected recorded quantity 12, got %s", record.Quantity)
	}
}

func TestFetch_RetriesTransientStockErrors(t *testing.T) {
	source := newFakeSource()
	source.addProduct("SKU-A", "wms-a", 4)
	// Non-transient errors must not be retried.
	source.stockErr["wms-a"] = errors.New("permanent")

	fetcher := newTestFetcher(source, newMemInventoryStore())
	if _, err := fetcher.Fetch(context.Background(), []string{"SKU-A"}); !errors.Is(err, ErrTotalBatchFailure) {
		t.Fatalf("expected total failure for the single failing sku, got %v", err)
	}
	if source.stockCalls["wms-a"] != 1 {
		t.Fatalf("a permanent error must not be retried, got %d calls", source.stockCalls["wms-a"])
	}
}
