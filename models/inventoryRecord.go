package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InventoryRecord is the last countable stock level observed for one
// (warehouse sku, location) pair. Rows are replaced wholesale on every fetch
// pass; the bin breakdown sums to Quantity.
type InventoryRecord struct {
	ID               uint            `gorm:"primary_key" json:"id"`
	WarehouseSku     string          `gorm:"uniqueIndex:idx_inventory_sku_location,priority:1;size:128;not null" json:"warehouse_sku"`
	Location         string          `gorm:"uniqueIndex:idx_inventory_sku_location,priority:2;size:64;not null" json:"location"`
	Quantity         decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"quantity"`
	BinBreakdownJSON []byte          `gorm:"type:json" json:"bin_breakdown"`
	FetchedAt        time.Time       `gorm:"not null" json:"fetched_at"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *InventoryRecord) BinBreakdown() map[string]decimal.Decimal {
	if len(r.BinBreakdownJSON) == 0 {
		return map[string]decimal.Decimal{}
	}
	var m map[string]decimal.Decimal
	if err := json.Unmarshal(r.BinBreakdownJSON, &m); err != nil || m == nil {
		return map[string]decimal.Decimal{}
	}
	return m
}

func EncodeBinBreakdown(bins map[string]decimal.Decimal) []byte {
	if bins == nil {
		bins = map[string]decimal.Decimal{}
	}
	b, _ := json.Marshal(bins)
	return b
}

// ReplaceInventoryRecords upserts the freshly fetched levels for one batch.
// Existing rows for the same (sku, location) are overwritten, not versioned;
// the inventory table is a cache of the source of truth, not a ledger.
func ReplaceInventoryRecords(ctx context.Context, records []InventoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	db := config.GetDB().WithContext(ctx)
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "warehouse_sku"}, {Name: "location"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quantity", "bin_breakdown_json", "fetched_at", "updated_at",
		}),
	}).Create(&records).Error
}

// PurgeUnreferencedInventory removes rows whose sku is no longer reachable
// from the active catalog. Runs once at the start of a full sync cycle.
func PurgeUnreferencedInventory(ctx context.Context) (int64, error) {
	referenced, err := ReferencedWarehouseSkus(ctx)
	if err != nil {
		return 0, err
	}

	db := config.GetDB().WithContext(ctx)
	var res *gorm.DB
	if len(referenced) == 0 {
		res = db.Where("1 = 1").Delete(&InventoryRecord{})
	} else {
		res = db.Where("warehouse_sku NOT IN ?", referenced).Delete(&InventoryRecord{})
	}
	return res.RowsAffected, res.Error
}

func GetInventoryRecords(ctx context.Context, skus []string, location string) ([]InventoryRecord, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	var records []InventoryRecord
	err := config.GetDB().WithContext(ctx).
		Where("warehouse_sku IN ? AND location = ?", skus, location).
		Find(&records).Error
	return records, err
}
