package stocksync

import (
	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/shopspring/decimal"
)

// ResolveQuantity derives the sellable quantity for one catalog entry from
// raw component availability.
//
// Simple entry: the entry's own on-hand quantity, floored to an int.
// Bundle entry: min over components of floor(available / required); any
// component missing from the availability map forces 0 (never oversell), and
// a bundle with zero components is 0.
//
// The result is never negative.
func ResolveQuantity(entry *models.CatalogEntry, availability map[string]decimal.Decimal) int {
	if entry.IsBundle() {
		return resolveBundleQuantity(entry, availability)
	}

	avail, ok := availability[entry.WarehouseSku]
	if !ok {
		return 0
	}
	return clampToInt(avail.Floor())
}

func resolveBundleQuantity(entry *models.CatalogEntry, availability map[string]decimal.Decimal) int {
	if len(entry.Components) == 0 {
		return 0
	}

	sellable := -1
	for _, component := range entry.Components {
		avail, ok := availability[component.WarehouseSku]
		if !ok || component.RequiredQty <= 0 {
			return 0
		}
		buildable := clampToInt(avail.Div(decimal.NewFromInt(int64(component.RequiredQty))).Floor())
		if sellable < 0 || buildable < sellable {
			sellable = buildable
		}
		if sellable == 0 {
			return 0
		}
	}
	if sellable < 0 {
		return 0
	}
	return sellable
}

func clampToInt(d decimal.Decimal) int {
	if d.IsNegative() {
		return 0
	}
	return int(d.IntPart())
}
