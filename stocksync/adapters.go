package stocksync

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SourceProduct is one row of the warehouse system's product index.
type SourceProduct struct {
	Sku     string `json:"sku"`
	Barcode string `json:"barcode"`
	Handle  string `json:"handle"`
}

// BinStock is bin-level stock detail for one product handle at one location.
type BinStock struct {
	Bin        string          `json:"bin"`
	Quantity   decimal.Decimal `json:"quantity"`
	ExpiresAt  *time.Time      `json:"expires_at"`
	Includable bool            `json:"includable"`
}

// QuantityUpdate is one (handle, quantity) pair pushed to a channel. Sku is
// carried for reporting only; channels address products by handle.
type QuantityUpdate struct {
	Handle   string `json:"handle"`
	Sku      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// ItemOutcome is a channel's per-item verdict for one bulk update.
type ItemOutcome struct {
	Handle string `json:"handle"`
	OK     bool   `json:"ok"`
	Error  string `json:"error"`
}

// InventorySource is the warehouse-management system: the source of truth
// for on-hand stock. Authentication and paging live inside the adapter.
type InventorySource interface {
	ListProducts(ctx context.Context) ([]SourceProduct, error)
	GetStockByHandle(ctx context.Context, handle string, location string) ([]BinStock, error)
}

// ChannelAdapter is one downstream platform receiving quantity updates.
// BulkLimit is the platform's documented bulk-operation cap; 0 means the
// platform has no bulk path and every update goes through SetQuantity.
type ChannelAdapter interface {
	Name() string
	BulkLimit() int
	BulkSetQuantity(ctx context.Context, updates []QuantityUpdate) ([]ItemOutcome, error)
	SetQuantity(ctx context.Context, update QuantityUpdate) error
	ResolveHandle(ctx context.Context, channelSku string) (string, error)
}
