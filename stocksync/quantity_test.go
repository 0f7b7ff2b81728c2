package stocksync

import (
	"testing"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/shopspring/decimal"
)

func simpleEntry(sku string) *models.CatalogEntry {
	return &models.CatalogEntry{ID: 1, WarehouseSku: sku}
}

func bundleEntry(components ...models.CatalogComponent) *models.CatalogEntry {
	return &models.CatalogEntry{ID: 2, Components: components}
}

func avail(pairs map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(pairs))
	for sku, qty := range pairs {
		out[sku] = decimal.RequireFromString(qty)
	}
	return out
}

func TestResolveQuantity_SimpleEntry(t *testing.T) {
	cases := []struct {
		name     string
		onHand   string
		expected int
	}{
		{"whole units", "14", 14},
		{"fractional floors down", "9.9", 9},
		{"zero stays zero", "0", 0},
		{"negative clamps to zero", "-3", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ResolveQuantity(simpleEntry("SKU-A"), avail(map[string]string{"SKU-A": tc.onHand}))
			if got != tc.expected {
				t.Fatalf("ResolveQuantity(%s on hand) = %d, expected %d", tc.onHand, got, tc.expected)
			}
		})
	}
}

func TestResolveQuantity_SimpleEntryMissingFromAvailability(t *testing.T) {
	got := ResolveQuantity(simpleEntry("SKU-A"), avail(map[string]string{"SKU-B": "10"}))
	if got != 0 {
		t.Fatalf("expected 0 for sku absent from availability, got %d", got)
	}
}

func TestResolveQuantity_BundleMinOverComponents(t *testing.T) {
	// 7/2 = 3 buildable from the first leg, 10/3 = 3 from the second.
	entry := bundleEntry(
		models.CatalogComponent{WarehouseSku: "PART-1", RequiredQty: 2},
		models.CatalogComponent{WarehouseSku: "PART-2", RequiredQty: 3},
	)
	got := ResolveQuantity(entry, avail(map[string]string{"PART-1": "7", "PART-2": "10"}))
	if got != 3 {
		t.Fatalf("expected bundle quantity 3, got %d", got)
	}
}

func TestResolveQuantity_BundleLimitedByScarcestComponent(t *testing.T) {
	entry := bundleEntry(
		models.CatalogComponent{WarehouseSku: "PART-1", RequiredQty: 1},
		models.CatalogComponent{WarehouseSku: "PART-2", RequiredQty: 2},
	)
	got := ResolveQuantity(entry, avail(map[string]string{"PART-1": "100", "PART-2": "5"}))
	if got != 2 {
		t.Fatalf("expected bundle quantity 2 (5/2 floored), got %d", got)
	}
}

func TestResolveQuantity_BundleMissingComponentIsZero(t *testing.T) {
	entry := bundleEntry(
		models.CatalogComponent{WarehouseSku: "PART-1", RequiredQty: 1},
		models.CatalogComponent{WarehouseSku: "PART-2", RequiredQty: 1},
	)
	got := ResolveQuantity(entry, avail(map[string]string{"PART-1": "50"}))
	if got != 0 {
		t.Fatalf("expected 0 when a component has no availability, got %d", got)
	}
}

func TestResolveQuantity_BundleWithoutComponentsIsZero(t *testing.T) {
	got := ResolveQuantity(bundleEntry(), avail(map[string]string{"PART-1": "50"}))
	if got != 0 {
		t.Fatalf("expected 0 for a bundle without components, got %d", got)
	}
}

func TestResolveQuantity_BundleFractionalAvailability(t *testing.T) {
	entry := bundleEntry(models.CatalogComponent{WarehouseSku: "PART-1", RequiredQty: 2})
	got := ResolveQuantity(entry, avail(map[string]string{"PART-1": "7.5"}))
	if got != 3 {
		t.Fatalf("expected 3 (7.5/2 floored), got %d", got)
	}
}
