package stocksync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// FetchOutcome is one batch's raw availability. A sku appears in exactly one
// of the two maps: Available holds countable on-hand quantities (possibly
// zero), Failed holds fetch errors. The distinction matters downstream —
// zero stock is pushed as zero, a fetch failure is an item error.
type FetchOutcome struct {
	Available map[string]decimal.Decimal
	Failed    map[string]error
}

// AvailabilityFetcher retrieves bin-level stock for a set of warehouse SKUs
// and applies the countability filter. A unit counts only when its bin is
// explicitly includable and not expired; location matching is done by the
// source adapter.
type AvailabilityFetcher struct {
	source    InventorySource
	resolver  *IdentifierResolver
	inventory InventoryStore
	retry     RetryPolicy
	location  string
	log       *logrus.Logger
	now       func() time.Time
}

func NewAvailabilityFetcher(source InventorySource, resolver *IdentifierResolver, inventory InventoryStore, retry RetryPolicy, location string, log *logrus.Logger) *AvailabilityFetcher {
	return &AvailabilityFetcher{
		source:    source,
		resolver:  resolver,
		inventory: inventory,
		retry:     retry,
		location:  location,
		log:       log,
		now:       time.Now,
	}
}

// Fetch resolves each sku's handle and queries its bin-level stock. One
// sku's failure never aborts the batch; the sku is recorded in Failed and
// omitted from Available. When every sku fails, ErrTotalBatchFailure is
// returned alongside the outcome so the session can escalate.
func (f *AvailabilityFetcher) Fetch(ctx context.Context, skus []string) (FetchOutcome, error) {
	outcome := FetchOutcome{
		Available: make(map[string]decimal.Decimal, len(skus)),
		Failed:    make(map[string]error),
	}
	if len(skus) == 0 {
		return outcome, nil
	}

	now := f.now().UTC()
	records := make([]models.InventoryRecord, 0, len(skus))

	for _, sku := range skus {
		handle, _, err := f.resolver.ResolveSku(ctx, sku)
		if err != nil {
			outcome.Failed[sku] = err
			continue
		}

		var bins []BinStock
		err = f.retry.Do(ctx, func(ctx context.Context) error {
			var ferr error
			bins, ferr = f.source.GetStockByHandle(ctx, handle, f.location)
			return ferr
		})
		if err != nil {
			outcome.Failed[sku] = err
			continue
		}

		quantity := decimal.Zero
		breakdown := map[string]decimal.Decimal{}
		for _, bin := range bins {
			if !countable(bin, now) {
				continue
			}
			quantity = quantity.Add(bin.Quantity)
			breakdown[bin.Bin] = breakdown[bin.Bin].Add(bin.Quantity)
		}

		outcome.Available[sku] = quantity
		records = append(records, models.InventoryRecord{
			WarehouseSku:     sku,
			Location:         f.location,
			Quantity:         quantity,
			BinBreakdownJSON: models.EncodeBinBreakdown(breakdown),
			FetchedAt:        now,
		})
	}

	// The inventory table is a diagnostic cache; a persistence failure must
	// not turn a successful fetch into a batch failure.
	if len(records) > 0 {
		if err := f.inventory.Replace(ctx, records); err != nil {
			f.log.WithFields(logrus.Fields{
				"module":   "stocksync",
				"location": f.location,
			}).Warn("failed to persist inventory records: " + err.Error())
		}
	}

	if len(outcome.Failed) == len(skus) {
		return outcome, ErrTotalBatchFailure
	}
	return outcome, nil
}

func countable(bin BinStock, now time.Time) bool {
	if !bin.Includable {
		return false
	}
	if bin.ExpiresAt != nil && !bin.ExpiresAt.After(now) {
		return false
	}
	return true
}
