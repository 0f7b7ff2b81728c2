// seed-catalog loads a small demo catalog: plain entries, a bundle, and one
// entry listed on a single channel only. Intended for local development and
// staging; it skips any sku that already exists.
//
// Usage (from backend directory):
//   DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-catalog
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

func main() {
	ctx := utils.SetActorInContext(context.Background(), "seed-catalog")

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	entries := []models.NewCatalogEntry{
		{
			WarehouseSku: "TEE-BLK-M",
			ChannelSkus: map[string]string{
				models.ChannelStorefront:  "tee-black-m",
				models.ChannelMarketplace: "TEEBLKM-01",
				models.ChannelShipping:    "TEE-BLK-M",
			},
		},
		{
			WarehouseSku: "TEE-BLK-L",
			ChannelSkus: map[string]string{
				models.ChannelStorefront:  "tee-black-l",
				models.ChannelMarketplace: "TEEBLKL-01",
				models.ChannelShipping:    "TEE-BLK-L",
			},
		},
		{
			WarehouseSku: "MUG-LOGO",
			ChannelSkus: map[string]string{
				models.ChannelStorefront: "mug-logo",
			},
		},
		{
			// Gift set sold as one unit, stocked as components.
			ChannelSkus: map[string]string{
				models.ChannelStorefront:  "gift-set-tee-mug",
				models.ChannelMarketplace: "GIFTSET-01",
			},
			Components: []models.NewCatalogComponent{
				{WarehouseSku: "TEE-BLK-M", RequiredQty: 1},
				{WarehouseSku: "MUG-LOGO", RequiredQty: 2},
			},
		},
	}

	created := 0
	for i := range entries {
		input := &entries[i]
		if input.WarehouseSku != "" {
			var count int64
			utils.ErrorPanic(db.WithContext(ctx).Model(&models.CatalogEntry{}).
				Where("warehouse_sku = ?", input.WarehouseSku).
				Count(&count).Error)
			if count > 0 {
				fmt.Printf("skip %s (exists)\n", input.WarehouseSku)
				continue
			}
		}

		entry, err := models.CreateCatalogEntry(ctx, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create entry: %v\n", err)
			os.Exit(1)
		}
		created++
		if entry.IsBundle() {
			fmt.Printf("created bundle entry %d with %d components\n", entry.ID, len(entry.Components))
		} else {
			fmt.Printf("created entry %d (%s)\n", entry.ID, entry.WarehouseSku)
		}
	}

	total, err := models.CountActiveCatalogEntries(ctx)
	utils.ErrorPanic(err)
	fmt.Printf("done: %d created, %d active entries total\n", created, total)
}
