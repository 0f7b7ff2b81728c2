package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
)

// SyncItemError records one per-item failure so operators can see which SKUs
// failed and why without re-running the session. fetch_failed rows are how a
// failed component fetch stays distinguishable from genuine zero stock.
type SyncItemError struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	SessionId    uint      `gorm:"index;not null" json:"session_id"`
	BatchNumber  int       `gorm:"not null" json:"batch_number"`
	WarehouseSku string    `gorm:"index;size:128" json:"warehouse_sku"`
	Channel      string    `gorm:"size:32" json:"channel"`
	ErrorCode    string    `gorm:"size:64" json:"error_code"`
	Message      string    `gorm:"type:text" json:"message"`
	Retryable    bool      `gorm:"default:false" json:"retryable"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func RecordItemError(ctx context.Context, itemErr *SyncItemError) error {
	return config.GetDB().WithContext(ctx).Create(itemErr).Error
}

func ListItemErrors(ctx context.Context, sessionId uint) ([]SyncItemError, error) {
	var errs []SyncItemError
	err := config.GetDB().WithContext(ctx).
		Where("session_id = ?", sessionId).
		Order("id ASC").
		Find(&errs).Error
	return errs, err
}
